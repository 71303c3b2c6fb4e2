package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCloneIsDeep(t *testing.T) {
	ended := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{
		ID:       "s1",
		Location: &Location{Latitude: 1, Longitude: 2, RadiusMeters: 50},
		EndedAt:  &ended,
	}
	c := s.Clone()
	c.Location.RadiusMeters = 500
	*c.EndedAt = ended.Add(time.Hour)

	assert.Equal(t, 50.0, s.Location.RadiusMeters)
	assert.Equal(t, ended, *s.EndedAt)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestExpiredAtIsStrict(t *testing.T) {
	exp := time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC)
	s := &Session{ExpiresAt: exp}
	assert.False(t, s.ExpiredAt(exp))
	assert.True(t, s.ExpiredAt(exp.Add(time.Nanosecond)))
}
