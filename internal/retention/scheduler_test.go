package retention

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	accept  bool
}

func (p *recordingPruner) Prune(cutoff time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.accept
}

func (p *recordingPruner) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

// go test -v --run TestStartPrunesImmediately
func TestStartPrunesImmediately(t *testing.T) {
	pruner := &recordingPruner{accept: true}
	s := NewScheduler(pruner, 24*time.Hour, "@hourly", zap.NewNop())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Start())
	defer s.Stop()

	calls := pruner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, now.Add(-24*time.Hour), calls[0])
}

// go test -v --run TestScheduleFires
func TestScheduleFires(t *testing.T) {
	pruner := &recordingPruner{accept: true}
	s := NewScheduler(pruner, time.Hour, "@every 1s", zap.NewNop())

	require.NoError(t, s.Start())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(pruner.calls()) >= 2 }, 3*time.Second, 20*time.Millisecond)
}

// go test -v --run TestRetentionDisabled
func TestRetentionDisabled(t *testing.T) {
	pruner := &recordingPruner{}
	s := NewScheduler(pruner, 0, "", zap.NewNop())

	require.NoError(t, s.Start())
	s.Stop()
	assert.Empty(t, pruner.calls())
}

// go test -v --run TestInvalidSchedule
func TestInvalidSchedule(t *testing.T) {
	s := NewScheduler(&recordingPruner{}, time.Hour, "every tuesday", zap.NewNop())
	assert.Error(t, s.Start())
}
