package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/model"
)

func TestRedisRelayDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(testVerifier, 4)
	relay := NewRedisRelay(client, "", hub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultChannel)[DefaultChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	sub, err := hub.Subscribe("faculty:F1", RoleFaculty, "F1")
	require.NoError(t, err)
	defer sub.Close()

	// A publish-only relay stands in for another process.
	other := NewRedisRelay(client, "", nil)
	require.NoError(t, other.Publish(ctx, Event{
		Type:  SessionEnded,
		Scope: FacultyScope("F1"),
		At:    time.Now().UTC(),
		Data:  Payload{Session: &model.Session{ID: "s1", FacultyID: "F1"}},
	}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, SessionEnded, ev.Type)
		require.NotNil(t, ev.Data.Session)
		assert.Equal(t, "s1", ev.Data.Session.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("relayed event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRedisRelayRunRequiresHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	assert.Error(t, NewRedisRelay(client, "", nil).Run(context.Background()))
}
