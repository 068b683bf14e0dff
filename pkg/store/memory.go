package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

// MemoryStore is an in-process Store with the same key and TTL
// semantics as the NATS backed one. It backs tests and local runs
// without a NATS server; the server's degraded mode runs with no store
// at all, not with this one.
type MemoryStore struct {
	mu        sync.RWMutex
	retention time.Duration
	sessions  map[string]*model.SessionDescriptor
	samples   map[string]memEntry
	events    map[string]memEntry
}

type memEntry struct {
	rec     Record
	expires time.Time
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		retention: retention,
		sessions:  make(map[string]*model.SessionDescriptor),
		samples:   make(map[string]memEntry),
		events:    make(map[string]memEntry),
	}
}

func (s *MemoryStore) Available() bool { return true }
func (s *MemoryStore) Close()          {}

func (s *MemoryStore) PutSession(_ context.Context, sess *model.SessionDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sess
	s.sessions[sess.ID] = &clone
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.SessionDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *sess
	return &clone, nil
}

func (s *MemoryStore) Sessions(_ context.Context) ([]*model.SessionDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.SessionDescriptor, 0, len(s.sessions))
	for _, sess := range s.sessions {
		clone := *sess
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (s *MemoryStore) PutSample(_ context.Context, sessionID string,
	ts time.Time, payload json.RawMessage,
) error {
	s.put(s.samples, Record{SessionID: sessionID, Timestamp: ts, Payload: payload})
	return nil
}

func (s *MemoryStore) PutEvent(_ context.Context, sessionID string,
	ts time.Time, kind model.EventKind, payload json.RawMessage,
) error {
	s.put(s.events, Record{SessionID: sessionID, Timestamp: ts, Kind: kind, Payload: payload})
	return nil
}

func (s *MemoryStore) put(m map[string]memEntry, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[storageKey(rec)] = memEntry{
		rec:     rec,
		expires: time.Now().Add(s.retention),
	}
}

func (s *MemoryStore) QuerySamples(_ context.Context, sessionID string,
	start, end time.Time, limit int,
) ([]Record, error) {
	return s.query(s.samples, sessionID, start, end, limit, ""), nil
}

func (s *MemoryStore) QueryEvents(_ context.Context, sessionID string,
	start, end time.Time, limit int, kind model.EventKind,
) ([]Record, error) {
	return s.query(s.events, sessionID, start, end, limit, kind), nil
}

func (s *MemoryStore) query(m map[string]memEntry, sessionID string,
	start, end time.Time, limit int, kind model.EventKind,
) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	lo, hi := recordKey(sessionID, start), recordKey(sessionID, end)
	keys := []string{}
	for key, entry := range m {
		if !sessionKeyPrefix(key, sessionID) {
			continue
		}
		if now.After(entry.expires) {
			continue // expired, invisible as in the backing store
		}
		if keyInRange(key, lo, hi) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := []Record{}
	for _, key := range keys {
		rec := m[key].rec
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
