// Package transport delivers telemetry messages to the backend over
// one of three interchangeable transports (websocket, udp, http). The
// variant is selected once at construction time; callers only see the
// Client.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/model"
)

// Kind names the wire mechanism used by a client.
type Kind string

const (
	KindWebsocket Kind = "websocket"
	KindUDP       Kind = "udp"
	KindHTTP      Kind = "http"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultRetryDelay     = 5 * time.Second
)

// Transport is one concrete wire mechanism. Connect is bounded by the
// configured connect timeout. Send reports the failure but the
// connection state bookkeeping is owned by the Client.
type Transport interface {
	Connect(ctx context.Context) error
	Send(msg *model.Message) error
	Close()
}

// Options configures a Client independent of the transport kind.
type Options struct {
	URL            string
	APIKey         string
	Compress       bool
	ConnectTimeout time.Duration
	RetryDelay     time.Duration
	MaxSendRate    int // telemetry messages per second, 0 = unthrottled
	Logger         *log.Logger
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Logger == nil {
		o.Logger = log.Default().Named("transport")
	}
}

// Client wraps one Transport with connection supervision, best-effort
// delivery and send rate limiting. Telemetry sends are lossy: a failed
// or throttled sample is dropped, the next tick starts fresh. Event
// carrying messages bypass throttling and the most recent undelivered
// one is retried after reconnect.
type Client struct {
	tr   Transport
	kind Kind
	opts Options

	mu           sync.Mutex
	connected    bool
	lastSend     time.Time
	lastAttempt  time.Time
	sessionInfo  *model.Message // re-sent after every reconnect
	pendingEvent *model.Message // most recent event message that failed to send
	needAuth     bool
}

// NewClient builds a client for the given transport kind.
func NewClient(kind Kind, opts Options) (*Client, error) {
	opts.withDefaults()
	c := &Client{kind: kind, opts: opts, needAuth: true}
	switch kind {
	case KindWebsocket:
		c.tr = newWebsocketTransport(opts)
	case KindUDP:
		c.tr = newUDPTransport(opts)
	case KindHTTP:
		c.tr = newHTTPTransport(opts)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
	return c, nil
}

// Connect performs one bounded connect attempt.
func (c *Client) Connect(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	c.mu.Lock()
	c.lastAttempt = time.Now()
	c.mu.Unlock()

	if err := c.tr.Connect(ctx); err != nil {
		c.opts.Logger.Debug("connect failed",
			log.String("kind", string(c.kind)), log.ErrorField(err))
		return false
	}
	c.opts.Logger.Info("transport connected", log.String("kind", string(c.kind)))

	c.mu.Lock()
	c.connected = true
	c.needAuth = true
	sessionInfo := c.sessionInfo
	pending := c.pendingEvent
	c.mu.Unlock()

	// a fresh connection needs session_info before telemetry; replay
	// the last known one, then the highest value unsent event message
	if sessionInfo != nil {
		c.deliver(sessionInfo)
	}
	if pending != nil {
		if c.deliver(pending) {
			c.mu.Lock()
			c.pendingEvent = nil
			c.mu.Unlock()
		}
	}
	return true
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Supervise runs the reconnect loop until ctx is canceled. It is
// logically separate from the send path so a stalled connect attempt
// never stalls acquisition. The retry delay is fixed, not exponential.
func (c *Client) Supervise(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			due := !c.connected && time.Since(c.lastAttempt) >= c.opts.RetryDelay
			c.mu.Unlock()
			if due {
				c.Connect(ctx)
			}
		}
	}
}

// SendSessionInfo sends (and remembers) the session_info envelope.
func (c *Client) SendSessionInfo(sess *model.SessionDescriptor) {
	msg, err := model.SessionInfoMessage(sess, c.opts.APIKey)
	if err != nil {
		c.opts.Logger.Error("marshal session info", log.ErrorField(err))
		return
	}
	c.mu.Lock()
	c.sessionInfo = msg
	connected := c.connected
	c.mu.Unlock()
	if connected {
		c.deliver(msg)
	}
}

// SendTelemetry sends one sample envelope, best effort. Telemetry
// without events is throttled to MaxSendRate; event messages go out
// immediately and are kept for one retry after reconnect if the send
// fails.
func (c *Client) SendTelemetry(msg *model.Message) {
	hasEvents := len(msg.Events) > 0

	c.mu.Lock()
	if !c.connected {
		if hasEvents {
			c.pendingEvent = msg
		}
		c.mu.Unlock()
		return
	}
	if !hasEvents && c.opts.MaxSendRate > 0 {
		minInterval := time.Second / time.Duration(c.opts.MaxSendRate)
		if time.Since(c.lastSend) < minInterval {
			c.mu.Unlock()
			return // dropped by throttle, next tick sends fresh data
		}
	}
	c.lastSend = time.Now()
	c.mu.Unlock()

	if !c.deliver(msg) && hasEvents {
		c.mu.Lock()
		c.pendingEvent = msg
		c.mu.Unlock()
	}
}

// deliver performs the transport send; failures clear the connected
// flag and are absorbed here.
func (c *Client) deliver(msg *model.Message) bool {
	c.mu.Lock()
	if c.needAuth {
		msg = withAPIKey(msg, c.opts.APIKey)
		if c.kind != KindUDP {
			// udp datagrams are stateless and always authenticated
			c.needAuth = false
		}
	}
	c.mu.Unlock()

	if err := c.tr.Send(msg); err != nil {
		c.opts.Logger.Warn("send failed, dropping connection",
			log.String("kind", string(c.kind)), log.ErrorField(err))
		c.mu.Lock()
		c.connected = false
		c.needAuth = true
		c.mu.Unlock()
		return false
	}
	return true
}

func (c *Client) Close() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.tr.Close()
}

// withAPIKey returns a shallow copy of msg carrying the API key, so
// the retained sessionInfo/pendingEvent messages stay unmodified.
func withAPIKey(msg *model.Message, key string) *model.Message {
	if msg.APIKey == key {
		return msg
	}
	clone := *msg
	clone.APIKey = key
	return &clone
}
