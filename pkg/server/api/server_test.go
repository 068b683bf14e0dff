package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/server/auth"
	"github.com/racepulse/telemetry-relay-go/pkg/server/registry"
	"github.com/racepulse/telemetry-relay-go/pkg/store"
)

const testKey = "test-key"

func newTestServer(t *testing.T, st store.Store) (*httptest.Server, *registry.Registry) {
	t.Helper()
	opts := []registry.Option{
		registry.WithKeys(auth.NewKeySet([]string{testKey}, nil)),
	}
	if st != nil {
		opts = append(opts, registry.WithStore(st))
	}
	reg := registry.New(opts...)
	srv := httptest.NewServer(NewServer("", reg, nil).routes())
	t.Cleanup(srv.Close)
	return srv, reg
}

func get(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func post(t *testing.T, url, key string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func seedSession(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	msg, err := model.SessionInfoMessage(&model.SessionDescriptor{
		ID: id, TrackName: "Monza", CarName: "GT3",
	}, testKey)
	require.NoError(t, err)
	reg.DispatchDatagram(context.Background(), "test", msg)
}

func seedTelemetry(t *testing.T, reg *registry.Registry, id string,
	at time.Time, eventKinds ...string,
) {
	t.Helper()
	payload := fmt.Sprintf(`{"speed":51.5,"lap":3,"recorded_at":%q}`,
		at.Format(time.RFC3339Nano))
	msg := &model.Message{
		Type:      model.MessageTelemetry,
		SessionID: id,
		Timestamp: 12.5,
		Data:      json.RawMessage(payload),
		Events:    eventKinds,
		APIKey:    testKey,
	}
	reg.DispatchDatagram(context.Background(), "test", msg)
}

func TestHealthOk(t *testing.T) {
	srv, _ := newTestServer(t, store.NewMemoryStore(time.Hour))

	resp := get(t, srv.URL+"/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[healthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.StoreStatus)
}

func TestHealthDegradedWithoutStore(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp := get(t, srv.URL+"/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[healthResponse](t, resp)
	assert.Equal(t, "degraded", body.Status)
}

func TestQueryRequiresKey(t *testing.T) {
	srv, _ := newTestServer(t, store.NewMemoryStore(time.Hour))

	for _, path := range []string{
		"/api/v1/sessions",
		"/api/v1/sessions/s1",
		"/api/v1/sessions/s1/telemetry",
		"/api/v1/sessions/s1/events",
	} {
		resp := get(t, srv.URL+path, "wrong-key")
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestSessionLookup(t *testing.T) {
	srv, reg := newTestServer(t, store.NewMemoryStore(time.Hour))
	seedSession(t, reg, "s1")

	resp := get(t, srv.URL+"/api/v1/sessions/s1", testKey)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[registry.SessionSummary](t, resp)
	assert.Equal(t, "Monza", body.TrackName)

	resp = get(t, srv.URL+"/api/v1/sessions/unknown", testKey)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQuerySamplesRange(t *testing.T) {
	srv, reg := newTestServer(t, store.NewMemoryStore(time.Hour))
	seedSession(t, reg, "s1")

	base := time.Now().Add(-10 * time.Minute)
	for i := range 5 {
		seedTelemetry(t, reg, "s1", base.Add(time.Duration(i)*time.Minute))
	}

	// only the middle three fall into the requested range
	url := fmt.Sprintf("%s/api/v1/sessions/s1/telemetry?start=%d&end=%d",
		srv.URL, base.Add(time.Minute).Unix(), base.Add(3*time.Minute).Unix())
	resp := get(t, url, testKey)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]store.Record](t, resp)
	assert.Len(t, records, 3)

	resp = get(t, srv.URL+"/api/v1/sessions/s1/telemetry?limit=2", testKey)
	records = decodeBody[[]store.Record](t, resp)
	assert.Len(t, records, 2)

	resp = get(t, srv.URL+"/api/v1/sessions/s1/telemetry?limit=nope", testKey)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryEventsByKind(t *testing.T) {
	srv, reg := newTestServer(t, store.NewMemoryStore(time.Hour))
	seedSession(t, reg, "s1")
	seedTelemetry(t, reg, "s1", time.Now(), string(model.EventLapCompleted))
	seedTelemetry(t, reg, "s1", time.Now(), string(model.EventPitEntry))

	resp := get(t, srv.URL+"/api/v1/sessions/s1/events?type=lap_completed", testKey)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]store.Record](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, model.EventLapCompleted, records[0].Kind)
}

func TestQueryWithoutStoreUnavailable(t *testing.T) {
	srv, reg := newTestServer(t, nil)
	seedSession(t, reg, "s1")

	resp := get(t, srv.URL+"/api/v1/sessions/s1/telemetry", testKey)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestQueryStoreDownUnavailable(t *testing.T) {
	srv, reg := newTestServer(t, &downStore{})
	seedSession(t, reg, "s1")

	resp := get(t, srv.URL+"/api/v1/sessions/s1/telemetry", testKey)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestIngestOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, store.NewMemoryStore(time.Hour))

	info, err := json.Marshal(model.Message{
		Type:      model.MessageSessionInfo,
		SessionID: "h1",
		Data:      json.RawMessage(`{"id":"h1","track_name":"Spa"}`),
		Events:    []string{},
	})
	require.NoError(t, err)
	resp := post(t, srv.URL+"/sessions", testKey, info)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "h1", body["session_id"])

	sample, err := json.Marshal(model.Message{
		Type:      model.MessageTelemetry,
		SessionID: "h1",
		Timestamp: 1.5,
		Data:      json.RawMessage(`{"speed":42.0}`),
		Events:    []string{},
	})
	require.NoError(t, err)
	resp = post(t, srv.URL+"/sessions/h1/telemetry", testKey, sample)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = get(t, srv.URL+"/api/v1/sessions/h1/telemetry", testKey)
	records := decodeBody[[]store.Record](t, resp)
	assert.Len(t, records, 1)
}

func TestIngestBareDescriptor(t *testing.T) {
	srv, reg := newTestServer(t, store.NewMemoryStore(time.Hour))

	resp := post(t, srv.URL+"/sessions", testKey,
		[]byte(`{"id":"bare1","track_name":"Imola"}`))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	require.NotNil(t, reg.Session("bare1"))
}

func TestIngestRejectsGarbage(t *testing.T) {
	srv, _ := newTestServer(t, store.NewMemoryStore(time.Hour))

	resp := post(t, srv.URL+"/sessions", testKey, []byte("not json at all"))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/sessions", "wrong-key", []byte(`{"id":"x"}`))
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// downStore simulates a store whose backend is gone.
type downStore struct{}

func (d *downStore) Available() bool { return false }
func (d *downStore) Close()          {}

func (d *downStore) PutSession(context.Context, *model.SessionDescriptor) error {
	return store.ErrUnavailable
}

func (d *downStore) GetSession(context.Context, string) (*model.SessionDescriptor, error) {
	return nil, store.ErrUnavailable
}

func (d *downStore) Sessions(context.Context) ([]*model.SessionDescriptor, error) {
	return nil, store.ErrUnavailable
}

func (d *downStore) PutSample(context.Context, string, time.Time, json.RawMessage) error {
	return store.ErrUnavailable
}

func (d *downStore) PutEvent(context.Context, string, time.Time,
	model.EventKind, json.RawMessage,
) error {
	return store.ErrUnavailable
}

func (d *downStore) QuerySamples(context.Context, string, time.Time, time.Time, int,
) ([]store.Record, error) {
	return nil, store.ErrUnavailable
}

func (d *downStore) QueryEvents(context.Context, string, time.Time, time.Time, int,
	model.EventKind,
) ([]store.Record, error) {
	return nil, store.ErrUnavailable
}

var _ store.Store = (*downStore)(nil)

// guards against the handlers treating a missing range as an error
func TestRangeParamsDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s1/telemetry", http.NoBody)
	start, end, limit, err := rangeParams(req)
	require.NoError(t, err)
	assert.True(t, start.Before(end))
	assert.Equal(t, defaultQueryLimit, limit)

	req = httptest.NewRequest(http.MethodGet, "/x?start=abc", http.NoBody)
	_, _, _, err = rangeParams(req)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}
