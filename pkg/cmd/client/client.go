package client

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/acquisition"
	"github.com/racepulse/telemetry-relay-go/pkg/config"
	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/source"
	"github.com/racepulse/telemetry-relay-go/pkg/transport"
	"github.com/racepulse/telemetry-relay-go/pkg/utils"
)

var appConfig config.Config // holds processed config values

//nolint:funlen // by design
func NewClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "acquires telemetry and streams it to the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startClient(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&config.BackendURL,
		"backend-url",
		"ws://localhost:8081/ws",
		"URL of the relay server (ws://, udp:// or http://)")
	cmd.Flags().StringVar(&config.Transport,
		"transport",
		"websocket",
		"transport to use (websocket, udp, http)")
	cmd.Flags().IntVar(&config.SampleRate,
		"sample-rate",
		acquisition.DefaultRate,
		"telemetry acquisition rate in Hz")
	cmd.Flags().IntVar(&config.SendRate,
		"send-rate",
		0,
		"max telemetry send rate in Hz (0 sends every sample)")
	cmd.Flags().StringVar(&config.ConnectTimeout,
		"connect-timeout",
		"5s",
		"bound for a single transport connect attempt")
	cmd.Flags().StringVar(&config.RetryDelay,
		"retry-delay",
		"5s",
		"fixed delay between transport reconnect attempts")
	cmd.Flags().StringVar(&config.APIKey,
		"api-key",
		"",
		"api key presented to the relay server")
	cmd.Flags().BoolVar(&config.Compress,
		"compress",
		false,
		"deflate-compress outgoing frames")
	cmd.Flags().StringVar(&config.SessionFile,
		"session-file",
		"",
		"yaml file overriding the generated session metadata")
	cmd.Flags().BoolVar(&appConfig.PrintMessage,
		"print-message",
		false,
		"if true and log level is debug, the sample payload will be printed")
	cmd.Flags().StringVar(&config.WaitForServices,
		"wait-for-services",
		"15s",
		"duration to wait for the relay server to be ready")
	return cmd
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func parseDuration(arg string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(arg); err == nil {
		return d
	}
	return defaultVal
}

//nolint:funlen // by design
func startClient(mainCtx context.Context) error {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.DebugLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	log.ResetDefault(logger)

	log.Debug("Config:",
		log.String("backendUrl", config.BackendURL),
		log.String("transport", config.Transport),
		log.Int("sampleRate", config.SampleRate),
	)

	waitForBackend()

	cli, err := transport.NewClient(transport.Kind(config.Transport), transport.Options{
		URL:            config.BackendURL,
		APIKey:         config.APIKey,
		Compress:       config.Compress,
		ConnectTimeout: parseDuration(config.ConnectTimeout, transport.DefaultConnectTimeout),
		RetryDelay:     parseDuration(config.RetryDelay, transport.DefaultRetryDelay),
		MaxSendRate:    config.SendRate,
	})
	if err != nil {
		log.Error("could not create transport", log.ErrorField(err))
		return err
	}
	defer cli.Close()

	ctx, cancel := context.WithCancel(mainCtx)
	defer cancel()
	go cli.Supervise(ctx)

	var simOpts []source.SimOption
	if config.SessionFile != "" {
		overlay, err := loadSessionFile(config.SessionFile)
		if err != nil {
			log.Error("could not read session file", log.ErrorField(err))
			return err
		}
		simOpts = append(simOpts, source.WithSessionOverlay(overlay))
	}
	src := source.NewSimSource(simOpts...)
	loop := acquisition.NewLoop(src,
		acquisition.WithRate(config.SampleRate),
		acquisition.WithSessionFunc(cli.SendSessionInfo),
		acquisition.WithSampleFunc(func(sample *model.TelemetrySample,
			detected []model.DetectedEvent,
		) {
			msg, err := model.TelemetryMessage(sessionID(detected, src), sample, detected)
			if err != nil {
				log.Warn("could not build telemetry message", log.ErrorField(err))
				return
			}
			if appConfig.PrintMessage {
				payload, _ := json.Marshal(msg)
				log.Debug("sending", log.String("msg", string(payload)))
			}
			cli.SendTelemetry(msg)
		}))

	go loop.Run(ctx)
	log.Info("Client started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	v := <-sigChan
	log.Debug("Got signal ", log.Any("signal", v))
	cancel()

	log.Info("Client terminated")
	return nil
}

// sessionID resolves the session the sample belongs to. Detected
// events already carry it; otherwise it is read from the source.
func sessionID(detected []model.DetectedEvent, src source.Source) string {
	if len(detected) > 0 {
		return detected[0].SessionID
	}
	if sess := src.SessionInfo(); sess != nil {
		return sess.ID
	}
	return ""
}

// waitForBackend blocks until the relay server accepts tcp connections.
// Only websocket backends are probed; udp has no handshake and the http
// transport connects lazily anyway.
func waitForBackend() {
	if config.Transport != string(transport.KindWebsocket) {
		return
	}
	addr, _ := utils.ExtractFromWebsocketURL(config.BackendURL)
	if addr == "" {
		return
	}
	timeout := parseDuration(config.WaitForServices, 15*time.Second)
	if err := utils.WaitForTCP(addr, timeout); err != nil {
		log.Warn("relay server not reachable yet", log.ErrorField(err))
	}
}
