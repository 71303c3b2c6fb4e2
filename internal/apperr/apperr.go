// Package apperr defines the typed failure kinds returned by session and admission operations.
package apperr

import (
	"errors"
	"time"
)

// Kind identifies one terminal failure outcome.
type Kind string

const (
	InvalidLocationConfig    Kind = "invalid_location_config"
	MissingRequiredFields    Kind = "missing_required_fields"
	InvalidCoordinates       Kind = "invalid_coordinates"
	Unauthorized             Kind = "unauthorized"
	AuthorizationFailed      Kind = "authorization_failed"
	NotFound                 Kind = "not_found"
	AlreadyExpired           Kind = "already_expired"
	AlreadyEnded             Kind = "already_ended"
	InvalidSession           Kind = "invalid_session"
	SessionExpired           Kind = "session_expired"
	FaceVerificationRequired Kind = "face_verification_required"
	FaceMatchBelowThreshold  Kind = "face_match_below_threshold"
	OutsideGeofence          Kind = "outside_geofence"
	LocationRequired         Kind = "location_required"
	RateLimited              Kind = "rate_limited"
	Internal                 Kind = "internal"
)

// Class groups kinds by how callers and operators should treat them.
type Class string

const (
	ClassConfig        Class = "config"
	ClassAuthorization Class = "authorization"
	ClassState         Class = "state"
	ClassGate          Class = "gate"
	ClassThrottle      Class = "throttle"
	ClassPersistence   Class = "persistence"
)

// ClassOf returns the class a kind belongs to. Unknown kinds are persistence failures.
func ClassOf(k Kind) Class {
	switch k {
	case InvalidLocationConfig, MissingRequiredFields, InvalidCoordinates:
		return ClassConfig
	case Unauthorized, AuthorizationFailed:
		return ClassAuthorization
	case NotFound, AlreadyExpired, AlreadyEnded, InvalidSession, SessionExpired:
		return ClassState
	case FaceVerificationRequired, FaceMatchBelowThreshold, OutsideGeofence, LocationRequired:
		return ClassGate
	case RateLimited:
		return ClassThrottle
	default:
		return ClassPersistence
	}
}

// Error is a typed failure with optional actionable detail.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	RetryAfter time.Duration // RateLimited
	Distance   float64       // OutsideGeofence, meters
	Radius     float64       // OutsideGeofence, meters
	Threshold  float64       // FaceMatchBelowThreshold
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns an error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// KindOf reports the kind of err. Errors that are not *Error are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As extracts the *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
