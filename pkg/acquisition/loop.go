// Package acquisition polls the telemetry source at a bounded rate and
// turns raw SDK variables into canonical samples.
package acquisition

import (
	"context"
	"sync"
	"time"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/events"
	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/source"
)

const (
	DefaultRate       = 10 // Hz
	defaultRingSize   = 600
	reconnectInterval = 5 * time.Second
)

// SampleFunc receives each acquired sample together with the events
// detected on it.
type SampleFunc func(sample *model.TelemetrySample, detected []model.DetectedEvent)

// SessionFunc is invoked whenever the source's session metadata was
// (re)read after a successful connect.
type SessionFunc func(sess *model.SessionDescriptor)

// Loop drives one telemetry source. It is never fatal: source outages
// put it into a reconnect-retry state until the context is canceled.
type Loop struct {
	src       source.Source
	rate      int
	onSample  SampleFunc
	onSession SessionFunc
	logger    *log.Logger
	recentMu  sync.Mutex
	recent    *ring

	sessionID string
	prev      *model.TelemetrySample
	connected bool
	lastRetry time.Time
}

type Option func(*Loop)

func WithRate(hz int) Option {
	return func(l *Loop) {
		if hz > 0 {
			l.rate = hz
		}
	}
}

func WithSampleFunc(fn SampleFunc) Option {
	return func(l *Loop) { l.onSample = fn }
}

func WithSessionFunc(fn SessionFunc) Option {
	return func(l *Loop) { l.onSession = fn }
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

func NewLoop(src source.Source, opts ...Option) *Loop {
	l := &Loop{
		src:    src,
		rate:   DefaultRate,
		logger: log.Default().Named("acquisition"),
		recent: newRing(defaultRingSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the poll loop until ctx is canceled. Each tick does
// poll, detect, deliver and sleeps the remainder of the tick interval.
func (l *Loop) Run(ctx context.Context) {
	interval := time.Second / time.Duration(l.rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("acquisition loop stopped")
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	if !l.src.IsConnected() {
		l.handleDisconnected()
		return
	}
	if !l.connected {
		// source was connected before the loop started or came back
		// without our own reconnect attempt
		l.connected = true
		l.refreshSession()
	}
	sample := l.PollOnce()
	if sample == nil {
		return
	}
	detected := events.Detect(l.prev, sample, l.sessionID)
	l.prev = sample
	l.recentMu.Lock()
	l.recent.add(sample)
	l.recentMu.Unlock()
	if l.onSample != nil {
		l.onSample(sample, detected)
	}
}

// PollOnce reads one sample from the source, or nil when the source is
// not connected. Individual missing variables never abort the sample.
func (l *Loop) PollOnce() *model.TelemetrySample {
	if !l.src.IsConnected() {
		return nil
	}
	return readSample(l.src)
}

// handleDisconnected attempts a reconnect on a fixed interval, separate
// from the transport client's own retry logic.
func (l *Loop) handleDisconnected() {
	if l.connected {
		l.connected = false
		l.prev = nil
		l.logger.Warn("telemetry source disconnected")
	}
	if time.Since(l.lastRetry) < reconnectInterval {
		return
	}
	l.lastRetry = time.Now()
	if err := l.src.Connect(); err != nil {
		l.logger.Debug("source reconnect failed", log.ErrorField(err))
		return
	}
	l.connected = true
	l.logger.Info("telemetry source connected")
	l.refreshSession()
}

// refreshSession re-reads the session metadata from the source.
func (l *Loop) refreshSession() {
	sess := l.src.SessionInfo()
	if sess == nil {
		return
	}
	if sess.ID != l.sessionID {
		l.prev = nil // new session, no events across the boundary
		l.sessionID = sess.ID
	}
	if l.onSession != nil {
		l.onSession(sess)
	}
}

// Recent returns the locally buffered samples in insertion order.
func (l *Loop) Recent() []*model.TelemetrySample {
	l.recentMu.Lock()
	defer l.recentMu.Unlock()
	return l.recent.snapshot()
}
