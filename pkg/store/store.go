// Package store persists telemetry samples and detected events with
// bounded retention, indexed for range queries by session and time.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

var (
	// ErrUnavailable is returned when the backing store is down or an
	// operation exceeded its timeout. Queries surface it explicitly;
	// writes are skipped silently by the callers (telemetry is a best
	// effort stream).
	ErrUnavailable = errors.New("store unavailable")
	ErrNotFound    = errors.New("not found")
)

// Record is one stored sample or event. For events, Kind is set and
// Payload holds the sample snapshot at detection time.
type Record struct {
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      model.EventKind `json:"kind,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is the single access path to the backing key/expiring-value
// store. Every write carries the configured retention TTL; expiry is
// enforced by the backing store, not by application sweeping. All
// operations are bounded by the store's operation timeout.
type Store interface {
	PutSession(ctx context.Context, sess *model.SessionDescriptor) error
	GetSession(ctx context.Context, id string) (*model.SessionDescriptor, error)
	Sessions(ctx context.Context) ([]*model.SessionDescriptor, error)

	PutSample(ctx context.Context, sessionID string, ts time.Time, payload json.RawMessage) error
	PutEvent(ctx context.Context, sessionID string, ts time.Time,
		kind model.EventKind, payload json.RawMessage) error

	// QuerySamples returns up to limit records with start <= ts <= end
	// in ascending time order.
	QuerySamples(ctx context.Context, sessionID string,
		start, end time.Time, limit int) ([]Record, error)
	// QueryEvents is QuerySamples for events, optionally filtered by
	// kind (empty = all kinds).
	QueryEvents(ctx context.Context, sessionID string,
		start, end time.Time, limit int, kind model.EventKind) ([]Record, error)

	Available() bool
	Close()
}
