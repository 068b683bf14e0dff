package acquisition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/source"
)

// scriptedSource serves canned variable values and lets tests toggle
// connectivity.
type scriptedSource struct {
	mu        sync.Mutex
	connected bool
	failNext  int
	vars      map[string]any
	session   *model.SessionDescriptor
}

func (s *scriptedSource) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return assert.AnError
	}
	s.connected = true
	return nil
}

func (s *scriptedSource) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *scriptedSource) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *scriptedSource) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	return v, ok
}

func (s *scriptedSource) SessionInfo() *model.SessionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func TestPollOnceDisconnected(t *testing.T) {
	loop := NewLoop(&scriptedSource{})
	assert.Nil(t, loop.PollOnce())
}

func TestPollOnceDefaultsMissingFields(t *testing.T) {
	src := &scriptedSource{
		connected: true,
		vars: map[string]any{
			source.VarSessionTime: 42.0,
			source.VarLap:         4,
			source.VarSpeed:       55.5,
			// everything else absent
		},
	}
	got := NewLoop(src).PollOnce()
	require.NotNil(t, got)
	assert.Equal(t, 42.0, got.SessionTime)
	assert.Equal(t, 4, got.Lap)
	assert.Equal(t, 55.5, got.Speed)
	assert.Equal(t, 0.0, got.FuelLevel)
	assert.Equal(t, model.FlagNone, got.Flag)
	assert.False(t, got.OnPitRoad)
	assert.False(t, got.RecordedAt.IsZero())
}

func TestLoopEmitsSamplesAndSession(t *testing.T) {
	src := &scriptedSource{
		connected: true,
		vars: map[string]any{
			source.VarSessionTime: 1.0,
			source.VarLap:         1,
			source.VarLapDist:     50.0,
		},
		session: &model.SessionDescriptor{ID: "sess-1", TrackName: "tt"},
	}

	var mu sync.Mutex
	var samples []*model.TelemetrySample
	var sessions []*model.SessionDescriptor

	loop := NewLoop(src,
		WithRate(100),
		WithSampleFunc(func(s *model.TelemetrySample, _ []model.DetectedEvent) {
			mu.Lock()
			samples = append(samples, s)
			mu.Unlock()
		}),
		WithSessionFunc(func(sess *model.SessionDescriptor) {
			mu.Lock()
			sessions = append(sessions, sess)
			mu.Unlock()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(samples) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, sessions)
	assert.Equal(t, "sess-1", sessions[0].ID)
	assert.NotEmpty(t, loop.Recent())
}

func TestLoopSurvivesSourceOutage(t *testing.T) {
	src := &scriptedSource{
		connected: true,
		vars:      map[string]any{source.VarLap: 1},
		session:   &model.SessionDescriptor{ID: "sess-2"},
	}

	var count int
	var mu sync.Mutex
	loop := NewLoop(src,
		WithRate(100),
		WithSampleFunc(func(*model.TelemetrySample, []model.DetectedEvent) {
			mu.Lock()
			count++
			mu.Unlock()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > 0
	}, 2*time.Second, 10*time.Millisecond)

	// outage: loop must keep ticking without crashing
	src.mu.Lock()
	src.failNext = 1000 // keep reconnect attempts failing
	src.mu.Unlock()
	src.Disconnect()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	during := count
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()
	assert.Equal(t, during, after, "no samples while disconnected")
}

func TestRingSnapshotOrder(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.add(&model.TelemetrySample{Lap: i})
	}
	got := r.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, 3, got[0].Lap)
	assert.Equal(t, 5, got[2].Lap)
}
