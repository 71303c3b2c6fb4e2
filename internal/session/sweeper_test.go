package session

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"qrattend/internal/clock"
	"qrattend/internal/metrics"
	"qrattend/internal/model"
)

func TestSweepOnceEvictsExpired(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	clk := clock.NewFake(t0)

	require.NoError(t, st.Put(ctx, &model.Session{ID: "old", ExpiresAt: t0.Add(-time.Second)}))
	require.NoError(t, st.Put(ctx, &model.Session{ID: "new", ExpiresAt: t0.Add(time.Minute)}))
	require.NoError(t, st.Put(ctx, &model.Session{ID: "edge", ExpiresAt: t0}))

	sw := NewSweeper(st, clk, time.Minute)
	assert.Equal(t, 1, sw.SweepOnce(ctx))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.LiveSessions))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 2, sw.SweepOnce(ctx))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.LiveSessions))
}

func TestSweeperRunStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	st := NewMemoryStore()
	require.NoError(t, st.Put(context.Background(), &model.Session{ID: "old", ExpiresAt: time.Now().Add(-time.Minute)}))

	sw := NewSweeper(st, clock.Real{}, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sw.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		n, _ := st.Count(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
