package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/hogarfamiliar/catastro-cli/internal/metrics"
)

type mockPinger struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (m *mockPinger) Ping(ctx context.Context) error {
	m.calls.Add(1)
	if m.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	p := &mockPinger{}
	checker := NewChecker(p, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	// Let it tick a few times then cancel.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
	assert.GreaterOrEqual(t, p.calls.Load(), int32(2))
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(&mockPinger{}, nil, 0)
	assert.Equal(t, time.Minute, checker.interval)
	assert.Equal(t, 5*time.Second, checker.timeout)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
	assert.False(t, checker.Healthy())
}

func TestChecker_PublishesHealth(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	p := &mockPinger{}
	checker := NewChecker(p, m, time.Second)
	log := checkerLogger()

	checker.check(context.Background(), log)
	assert.True(t, checker.Healthy())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendUp))

	p.down.Store(true)
	checker.check(context.Background(), log)
	assert.False(t, checker.Healthy())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendUp))

	p.down.Store(false)
	checker.check(context.Background(), log)
	assert.True(t, checker.Healthy())
}

func checkerLogger() *zap.Logger {
	return zap.NewNop()
}
