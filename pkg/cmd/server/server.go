package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/racepulse/telemetry-relay-go/log"
	"github.com/racepulse/telemetry-relay-go/pkg/config"
	"github.com/racepulse/telemetry-relay-go/pkg/model"
	"github.com/racepulse/telemetry-relay-go/pkg/server/api"
	"github.com/racepulse/telemetry-relay-go/pkg/server/auth"
	"github.com/racepulse/telemetry-relay-go/pkg/server/ingest"
	"github.com/racepulse/telemetry-relay-go/pkg/server/metrics"
	"github.com/racepulse/telemetry-relay-go/pkg/server/registry"
	"github.com/racepulse/telemetry-relay-go/pkg/store"
	"github.com/racepulse/telemetry-relay-go/pkg/utils"
)

//nolint:funlen // by design
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "starts the telemetry relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&config.WebsocketAddr,
		"websocket-addr",
		"localhost:8081",
		"websocket ingest listen address")
	cmd.Flags().StringVar(&config.UDPAddr,
		"udp-addr",
		"localhost:8082",
		"udp ingest listen address")
	cmd.Flags().StringVar(&config.HTTPAddr,
		"http-addr",
		"localhost:8080",
		"http ingest and query api listen address")
	cmd.Flags().StringSliceVar(&config.APIKeys,
		"api-key",
		[]string{},
		"valid api key (repeatable)")
	cmd.Flags().StringVar(&config.APIKeyFile,
		"api-key-file",
		"",
		"file with one api key per line, reloaded on change")
	cmd.Flags().StringVar(&config.IdleTimeout,
		"idle-timeout",
		"2m",
		"connections without traffic are closed after this duration")
	cmd.Flags().IntVar(&config.MaxClients,
		"max-clients",
		100,
		"maximum number of concurrent client connections")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"nats://localhost:4222",
		"URL of the NATS server backing the store (empty for memory-only mode)")
	cmd.Flags().IntVar(&config.RetentionDays,
		"retention-days",
		30,
		"days to keep stored samples and events")
	cmd.Flags().BoolVar(&config.CompressStored,
		"compress-stored",
		false,
		"deflate-compress stored payloads")
	cmd.Flags().StringVar(&config.StoreTimeout,
		"store-timeout",
		"3s",
		"bound for a single store operation")
	cmd.Flags().StringVar(&config.WaitForServices,
		"wait-for-services",
		"15s",
		"duration to wait for the store backend to be ready")
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

func setupLogger() {
	var logger *log.Logger
	switch {
	case config.LogFilter != "":
		logger = log.NewWithFilters(
			os.Stderr,
			parseLogLevel(config.LogLevel, log.InfoLevel),
			config.LogFilter,
			log.WithCaller(true),
			log.AddCallerSkip(1))
	case config.LogFormat == "json":
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
}

//nolint:funlen // by design
func startServer(mainCtx context.Context) error {
	setupLogger()

	log.Debug("Config:",
		log.String("websocketAddr", config.WebsocketAddr),
		log.String("udpAddr", config.UDPAddr),
		log.String("httpAddr", config.HTTPAddr),
		log.String("natsUrl", config.NatsURL),
		log.Int("retentionDays", config.RetentionDays),
	)

	ctx, cancel := context.WithCancel(mainCtx)
	defer cancel()

	st := setupStore(ctx)
	if st != nil {
		defer st.Close()
	}

	keys := auth.NewKeySet(config.APIKeys, log.Default().Named("auth"))
	if config.APIKeyFile != "" {
		if err := keys.WatchFile(config.APIKeyFile); err != nil {
			log.Error("could not watch api key file", log.ErrorField(err))
			return err
		}
		defer keys.Close()
	}

	m := metrics.New()
	regOpts := []registry.Option{
		registry.WithKeys(keys),
		registry.WithMetrics(m),
		registry.WithIdleTimeout(parseDuration(config.IdleTimeout, 2*time.Minute)),
		registry.WithMaxClients(config.MaxClients),
		registry.WithEventHook(logEvents),
	}
	if st != nil {
		regOpts = append(regOpts, registry.WithStore(st))
	}
	reg := registry.New(regOpts...)
	go reg.SweepIdle(ctx)

	log.Info("Starting server")
	var wg sync.WaitGroup
	runListener := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				log.Error("listener failed", log.String("listener", name), log.ErrorField(err))
				cancel()
			}
		}()
	}
	runListener("websocket", ingest.NewWebsocketServer(config.WebsocketAddr, reg, nil).Run)
	runListener("udp", ingest.NewUDPServer(config.UDPAddr, reg, nil).Run)
	runListener("http", api.NewServer(config.HTTPAddr, reg, nil).Run)

	log.Info("Server started")
	setupGoRoutinesDump()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case v := <-sigChan:
		log.Debug("Got signal ", log.Any("signal", v))
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()

	log.Info("Server terminated")
	return nil
}

// setupStore connects the NATS backed store. When the backend is not
// reachable the server still starts, runs memory-only and reports
// degraded on the health endpoint.
func setupStore(ctx context.Context) store.Store {
	if config.NatsURL == "" {
		log.Warn("no store configured, running memory-only")
		return nil
	}
	if natsAddr := utils.ExtractFromNatsURL(config.NatsURL); natsAddr != "" {
		timeout := parseDuration(config.WaitForServices, 15*time.Second)
		if err := utils.WaitForTCP(natsAddr, timeout); err != nil {
			log.Warn("store backend not ready, running memory-only", log.ErrorField(err))
			return nil
		}
	}
	retention := time.Duration(config.RetentionDays) * 24 * time.Hour
	st, err := store.NewNatsStore(ctx, config.NatsURL, retention,
		store.WithOpTimeout(parseDuration(config.StoreTimeout, 3*time.Second)),
		store.WithCompression(config.CompressStored),
		store.WithLogger(log.Default().Named("store")))
	if err != nil {
		log.Warn("store not available, running memory-only", log.ErrorField(err))
		return nil
	}
	return st
}

// logEvents is the proactive notification hook: detected events are
// surfaced on the server log the moment they arrive, ahead of any
// client polling the query api.
func logEvents(sessionID string, events []model.DetectedEvent) {
	logger := log.GetLogger("events")
	for i := range events {
		logger.Info("race event",
			log.String("sessionId", sessionID),
			log.String("kind", string(events[i].Kind)),
			log.Float64("sessionTime", events[i].SessionTime))
	}
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}
