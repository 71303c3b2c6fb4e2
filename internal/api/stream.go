package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/apperr"
	"qrattend/internal/auth"
	"qrattend/internal/events"
)

// stream serves one scope as Server-Sent Events. The bearer token is the capability for
// the requested identity.
func (s *Server) stream(c *gin.Context) {
	if s.deps.Hub == nil {
		writeError(c, apperr.New(apperr.Internal, "realtime disabled"))
		return
	}
	role, id := events.RoleFaculty, c.Query("faculty_id")
	if id == "" {
		role, id = events.RoleStudent, c.Query("student_id")
	}

	sub, err := s.deps.Hub.Subscribe(auth.TokenFromRequest(c), role, id)
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(string(events.RoomJoined), gin.H{"room": sub.Scope(), "at": s.deps.Clock.Now().UTC()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.deps.Heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			c.SSEvent(string(ev.Type), ev)
			c.Writer.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
