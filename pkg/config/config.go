package config

// this holds the resolved configuration values from CLI
//
//nolint:lll // readability
var (
	LogLevel  string // sets the log level (zap log level values)
	LogFormat string // text vs json
	LogFilter string // zapfilter rules for named loggers

	NatsURL         string // URL of the NATS server backing the store
	RetentionDays   int    // retention period for stored samples/events
	CompressStored  bool   // deflate-compress stored payloads
	StoreTimeout    string // bound for single store operations
	WaitForServices string // duration to wait for the store backend to be ready

	WebsocketAddr string   // listen addr for the websocket ingest
	UDPAddr       string   // listen addr for the UDP ingest
	HTTPAddr      string   // listen addr for HTTP ingest and query API
	APIKeys       []string // static list of valid API keys
	APIKeyFile    string   // optional file with one API key per line (hot reloaded)
	IdleTimeout   string   // connections without traffic are closed after this
	MaxClients    int      // max concurrent client connections

	// producer (client command) settings
	BackendURL     string // URL of the backend (ws://, udp:// or http://)
	Transport      string // websocket, udp or http
	SampleRate     int    // acquisition rate in Hz
	SendRate       int    // max telemetry send rate in Hz
	ConnectTimeout string // bound for a single transport connect attempt
	RetryDelay     string // fixed delay between transport reconnect attempts
	APIKey         string // API key presented by the producer
	Compress       bool   // deflate-compress outgoing frames
	SessionFile    string // optional yaml file overriding session metadata
)

// Config holds configuration values passed to individual managers
type Config struct {
	PrintMessage bool // if true, the message payload will be printed on debug level
}
