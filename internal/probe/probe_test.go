package probe

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmrelay/internal/core"
	"llmrelay/internal/health"
	"llmrelay/internal/providers"
	"llmrelay/internal/providers/providertest"
)

func register(t *testing.T, reg *providers.Registry, name string, priority int, enabled bool) *providertest.MockProvider {
	t.Helper()
	m := &providertest.MockProvider{Name: name}
	require.NoError(t, reg.Register(providers.ProviderConfig{
		Name:      name,
		Type:      "mock",
		Priority:  priority,
		Enabled:   enabled,
		RateLimit: 10,
	}, m))
	return m
}

type probeRecorder struct {
	healthyCount atomic.Int32
	downCount    atomic.Int32
}

func (r *probeRecorder) ObserveAttempt(string, string, time.Duration) {}
func (r *probeRecorder) ObserveDispatch(string, time.Duration)        {}
func (r *probeRecorder) ObserveFallback(string, string)               {}
func (r *probeRecorder) ObserveCircuitChange(string, bool)            {}
func (r *probeRecorder) ObserveTokens(string, string, int)            {}
func (r *probeRecorder) ObserveProbe(_ string, reachable bool) {
	if reachable {
		r.healthyCount.Add(1)
	} else {
		r.downCount.Add(1)
	}
}

func TestProber_CheckAll(t *testing.T) {
	reg := providers.NewRegistry()
	up := register(t, reg, "up", 1, true)
	down := register(t, reg, "down", 2, true)
	down.StatusFunc = func(context.Context) core.StatusReport {
		return core.StatusReport{Reachable: false, Detail: "connection refused"}
	}
	disabled := register(t, reg, "off", 3, false)

	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := &probeRecorder{}
	p := New(reg, WithClock(func() time.Time { return at }), WithRecorder(rec))

	reports := p.CheckAll(context.Background())
	require.Len(t, reports, 3)
	assert.Equal(t, "up", reports[0].Provider)
	assert.True(t, reports[0].Reachable)
	assert.Equal(t, "down", reports[1].Provider)
	assert.False(t, reports[1].Reachable)
	assert.Equal(t, "connection refused", reports[1].Detail)
	assert.Equal(t, at, reports[1].CheckedAt)

	assert.Equal(t, 1, up.StatusCalls())
	assert.Equal(t, 1, disabled.StatusCalls(), "disabled providers are still probed")
	assert.Equal(t, int32(2), rec.healthyCount.Load())
	assert.Equal(t, int32(1), rec.downCount.Load())

	last, ok := p.Last("down")
	require.True(t, ok)
	assert.False(t, last.Reachable)

	_, ok = p.Last("ghost")
	assert.False(t, ok)
}

func TestProber_DoesNotTouchHealth(t *testing.T) {
	reg := providers.NewRegistry()
	m := register(t, reg, "p1", 1, true)
	m.StatusFunc = func(context.Context) core.StatusReport { return core.StatusReport{Detail: "down"} }

	tracker := health.New()
	require.NoError(t, tracker.Register("p1", 10))

	p := New(reg)
	for i := 0; i < 10; i++ {
		p.CheckAll(context.Background())
	}

	s, ok := tracker.Snapshot("p1")
	require.True(t, ok)
	assert.True(t, s.Available)
	assert.Equal(t, uint64(0), s.ErrorCount)
	assert.Equal(t, 0, m.GenerateCalls())
}

func TestProber_TimeoutBoundsSlowProvider(t *testing.T) {
	reg := providers.NewRegistry()
	m := register(t, reg, "slow", 1, true)
	m.StatusFunc = func(ctx context.Context) core.StatusReport {
		<-ctx.Done()
		return core.StatusReport{Detail: ctx.Err().Error()}
	}

	p := New(reg, WithTimeout(20*time.Millisecond))
	start := time.Now()
	reports := p.CheckAll(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Reachable)
	assert.Equal(t, context.DeadlineExceeded.Error(), reports[0].Detail)
}

func TestProber_LogsTransitions(t *testing.T) {
	reg := providers.NewRegistry()
	m := register(t, reg, "flappy", 1, true)
	var reachable atomic.Bool
	reachable.Store(true)
	m.StatusFunc = func(context.Context) core.StatusReport {
		return core.StatusReport{Reachable: reachable.Load()}
	}

	var buf bytes.Buffer
	p := New(reg, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	p.CheckAll(context.Background())
	reachable.Store(false)
	p.CheckAll(context.Background())
	reachable.Store(true)
	p.CheckAll(context.Background())

	out := buf.String()
	assert.Contains(t, out, "provider probed")
	assert.Contains(t, out, "provider became unreachable")
	assert.Contains(t, out, "provider reachable again")
}

func TestProber_StartStop(t *testing.T) {
	reg := providers.NewRegistry()
	m := register(t, reg, "p1", 1, true)

	p := New(reg)
	require.NoError(t, p.Start("@every 1s"))
	require.NoError(t, p.Start("@every 1s"), "second start is a no-op")

	assert.Eventually(t, func() bool { return m.StatusCalls() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	require.NoError(t, p.Stop(ctx))
}

func TestProber_InvalidSchedule(t *testing.T) {
	p := New(providers.NewRegistry())
	err := p.Start("every now and then")
	assert.ErrorContains(t, err, "invalid probe schedule")
}
