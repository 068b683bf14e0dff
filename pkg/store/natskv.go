package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/wire"
)

const (
	bucketSessions = "rp_sessions"
	bucketSamples  = "rp_samples"
	bucketEvents   = "rp_events"

	defaultOpTimeout = 3 * time.Second
)

// NatsStore keeps records in three JetStream KV buckets, one per
// record class, each created with the retention period as bucket TTL.
// Keys are "<sessionID>.<zero-padded unix-micros>" so a filtered key
// listing is already time ordered lexicographically; event keys carry
// the kind as an extra suffix since several kinds can fire on the same
// sample and KV puts replace on key collision.
type NatsStore struct {
	nc       *nats.Conn
	sessions jetstream.KeyValue
	samples  jetstream.KeyValue
	events   jetstream.KeyValue

	opTimeout time.Duration
	compress  bool
	logger    *log.Logger
}

type NatsOption func(*NatsStore)

func WithOpTimeout(d time.Duration) NatsOption {
	return func(s *NatsStore) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

func WithCompression(enabled bool) NatsOption {
	return func(s *NatsStore) { s.compress = enabled }
}

func WithLogger(logger *log.Logger) NatsOption {
	return func(s *NatsStore) { s.logger = logger }
}

// NewNatsStore connects to the NATS server and ensures the three
// buckets exist with the given retention.
func NewNatsStore(ctx context.Context, url string, retention time.Duration,
	opts ...NatsOption,
) (*NatsStore, error) {
	s := &NatsStore{
		opTimeout: defaultOpTimeout,
		logger:    log.Default().Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	s.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	for _, b := range []struct {
		name   string
		target *jetstream.KeyValue
	}{
		{bucketSessions, &s.sessions},
		{bucketSamples, &s.samples},
		{bucketEvents, &s.events},
	} {
		kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket: b.name,
			TTL:    retention,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create bucket %s: %w", b.name, err)
		}
		*b.target = kv
	}

	s.logger.Info("store ready",
		log.String("url", url),
		log.Duration("retention", retention))
	return s, nil
}

func (s *NatsStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *NatsStore) Available() bool {
	return s.nc != nil && s.nc.Status() == nats.CONNECTED
}

func (s *NatsStore) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *NatsStore) PutSession(ctx context.Context, sess *model.SessionDescriptor) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if _, err := s.sessions.Put(ctx, sess.ID, data); err != nil {
		return s.classify("put session", err)
	}
	return nil
}

func (s *NatsStore) GetSession(ctx context.Context, id string) (*model.SessionDescriptor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entry, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.classify("get session", err)
	}
	var sess model.SessionDescriptor
	if err := json.Unmarshal(entry.Value(), &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *NatsStore) Sessions(ctx context.Context) ([]*model.SessionDescriptor, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	lister, err := s.sessions.ListKeys(ctx)
	if err != nil {
		return nil, s.classify("list sessions", err)
	}
	defer lister.Stop()

	out := []*model.SessionDescriptor{}
	for key := range lister.Keys() {
		sess, err := s.GetSession(ctx, key)
		if err != nil {
			continue // expired between list and get
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (s *NatsStore) PutSample(ctx context.Context, sessionID string,
	ts time.Time, payload json.RawMessage,
) error {
	return s.putRecord(ctx, s.samples, Record{
		SessionID: sessionID,
		Timestamp: ts,
		Payload:   payload,
	})
}

func (s *NatsStore) PutEvent(ctx context.Context, sessionID string,
	ts time.Time, kind model.EventKind, payload json.RawMessage,
) error {
	return s.putRecord(ctx, s.events, Record{
		SessionID: sessionID,
		Timestamp: ts,
		Kind:      kind,
		Payload:   payload,
	})
}

func (s *NatsStore) putRecord(ctx context.Context, bucket jetstream.KeyValue, rec Record) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if s.compress {
		if data, err = wire.Deflate(data); err != nil {
			return err
		}
	}
	if _, err := bucket.Put(ctx, storageKey(rec), data); err != nil {
		return s.classify("put record", err)
	}
	return nil
}

func (s *NatsStore) QuerySamples(ctx context.Context, sessionID string,
	start, end time.Time, limit int,
) ([]Record, error) {
	return s.queryRecords(ctx, s.samples, sessionID, start, end, limit, "")
}

func (s *NatsStore) QueryEvents(ctx context.Context, sessionID string,
	start, end time.Time, limit int, kind model.EventKind,
) ([]Record, error) {
	return s.queryRecords(ctx, s.events, sessionID, start, end, limit, kind)
}

//nolint:cyclop // range walk with filtering
func (s *NatsStore) queryRecords(ctx context.Context, bucket jetstream.KeyValue,
	sessionID string, start, end time.Time, limit int, kind model.EventKind,
) ([]Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	lister, err := bucket.ListKeysFiltered(ctx, sessionID+".*")
	if err != nil {
		return nil, s.classify("list keys", err)
	}
	defer lister.Stop()

	lo, hi := recordKey(sessionID, start), recordKey(sessionID, end)
	keys := []string{}
	for key := range lister.Keys() {
		if keyInRange(key, lo, hi) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := []Record{}
	for _, key := range keys {
		entry, err := bucket.Get(ctx, key)
		if err != nil {
			continue // expired between list and get
		}
		rec, err := decodeRecord(entry.Value())
		if err != nil {
			s.logger.Warn("skipping undecodable record",
				log.String("key", key), log.ErrorField(err))
			continue
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// classify maps infrastructure failures onto ErrUnavailable so
// handlers can answer 503 instead of pretending there is no data.
func (s *NatsStore) classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || !s.Available() {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// recordKey builds a time-ordered KV key. Micros cover sample rates
// well beyond 60Hz without collisions; 16 digits keep lexicographic
// and numeric order identical.
func recordKey(sessionID string, ts time.Time) string {
	return fmt.Sprintf("%s.%016d", sessionID, ts.UnixMicro())
}

// eventKey appends the kind behind the timestamp; a lap wrap fires
// lap_completed and sector_change on one sample and both must survive.
func eventKey(sessionID string, ts time.Time, kind model.EventKind) string {
	return fmt.Sprintf("%s.%s", recordKey(sessionID, ts), kind)
}

func storageKey(rec Record) string {
	if rec.Kind != "" {
		return eventKey(rec.SessionID, rec.Timestamp, rec.Kind)
	}
	return recordKey(rec.SessionID, rec.Timestamp)
}

// keyInRange bounds a listed key to [lo, hi]. The upper bound is
// prefix-aware: an event key at the end timestamp sorts behind the
// bare hi key but is still inside the inclusive range.
func keyInRange(key, lo, hi string) bool {
	return key >= lo && (key <= hi || strings.HasPrefix(key, hi+"."))
}

func decodeRecord(data []byte) (*Record, error) {
	if len(data) > 0 && data[0] != '{' {
		inflated, err := wire.Inflate(data)
		if err != nil {
			return nil, err
		}
		data = inflated
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// sessionKeyPrefix reports whether key belongs to the session; used by
// the memory store as well to keep key semantics in one place.
func sessionKeyPrefix(key, sessionID string) bool {
	return strings.HasPrefix(key, sessionID+".")
}

var _ Store = (*NatsStore)(nil)
