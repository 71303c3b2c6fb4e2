package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"qrattend/internal/apperr"
	"qrattend/internal/ratelimit"
)

// statusOf maps a failure kind to its HTTP status.
func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidLocationConfig, apperr.MissingRequiredFields, apperr.InvalidCoordinates:
		return http.StatusBadRequest
	case apperr.Unauthorized, apperr.AuthorizationFailed:
		return http.StatusForbidden
	case apperr.NotFound, apperr.InvalidSession:
		return http.StatusNotFound
	case apperr.AlreadyExpired, apperr.AlreadyEnded:
		return http.StatusConflict
	case apperr.SessionExpired:
		return http.StatusGone
	case apperr.FaceVerificationRequired, apperr.FaceMatchBelowThreshold,
		apperr.OutsideGeofence, apperr.LocationRequired:
		return http.StatusForbidden
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// codeOf returns the stable client-visible code of a kind, e.g. SESSION_EXPIRED.
func codeOf(kind apperr.Kind) string {
	return strings.ToUpper(string(kind))
}

func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	body := gin.H{"code": codeOf(kind)}

	e, ok := apperr.As(err)
	if !ok || kind == apperr.Internal {
		body["error"] = "internal error"
		c.AbortWithStatusJSON(status, body)
		return
	}

	body["error"] = e.Message
	switch kind {
	case apperr.RateLimited:
		secs := ratelimit.RetryAfterSeconds(e.RetryAfter)
		c.Header("Retry-After", strconv.Itoa(secs))
		body["retry_after_seconds"] = secs
	case apperr.OutsideGeofence:
		body["distance_meters"] = e.Distance
		body["radius_meters"] = e.Radius
	case apperr.FaceMatchBelowThreshold:
		body["face_distance"] = e.Distance
		body["threshold"] = e.Threshold
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, apperr.New(apperr.MissingRequiredFields, msg))
}
