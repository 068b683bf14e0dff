package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

// httpTransport is the fallback transport: session_info becomes
// POST /sessions, telemetry POST /sessions/{id}/telemetry. The API key
// travels in the Authorization header.
type httpTransport struct {
	opts Options
	cli  *http.Client
}

func newHTTPTransport(opts Options) *httpTransport {
	return &httpTransport{
		opts: opts,
		cli:  &http.Client{Timeout: opts.ConnectTimeout},
	}
}

// Connect is a no-op for HTTP; every request carries its own
// connection handling.
func (t *httpTransport) Connect(_ context.Context) error {
	return nil
}

func (t *httpTransport) Send(msg *model.Message) error {
	var url string
	switch msg.Type {
	case model.MessageSessionInfo:
		url = fmt.Sprintf("%s/sessions", t.opts.URL)
	case model.MessageTelemetry:
		url = fmt.Sprintf("%s/sessions/%s/telemetry", t.opts.URL, msg.SessionID)
	default:
		return fmt.Errorf("unsupported message type %q", msg.Type)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.opts.APIKey)

	resp, err := t.cli.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("http post %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func (t *httpTransport) Close() {
	t.cli.CloseIdleConnections()
}
