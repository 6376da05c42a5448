package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/buildline/sitesync/admin"
	"github.com/buildline/sitesync/cfg"
	"github.com/buildline/sitesync/realtime"
	"github.com/buildline/sitesync/subscription"
	"github.com/buildline/sitesync/telemetry"
	"github.com/buildline/sitesync/transport"
	_ "github.com/buildline/sitesync/transport/driver"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const statsInterval = 10 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("client_id", cfg.Config.ClientID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Sitesync - realtime subscription manager")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	watches, err := parseWatchList(*cfg.WatchFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid watch list")
		return
	}

	log.Info().Str("type", cfg.Config.Transport.Type).Strs("registered", transport.Registered()).Msg("Connecting transport")
	tr, err := transport.New(cfg.Config.Transport, cfg.Config.ClientID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transport")
		return
	}
	defer tr.Close()

	manager, err := subscription.NewManager(subscription.ConfigFromSettings(cfg.Config.Realtime, tr))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize subscription manager")
		return
	}
	defer manager.UnsubscribeAll()

	collector := telemetry.NewMetricsCollector(manager, statsInterval)
	collector.Start()
	defer collector.Stop()

	for _, watch := range watches {
		if _, err := manager.Subscribe(watch, logChange); err != nil {
			log.Error().Err(err).Str("table", watch.Table).Msg("Failed to watch table")
			continue
		}
		log.Info().Str("schema", watch.Schema).Str("table", watch.Table).Interface("filter", watch.Filter).Msg("Watching table")
	}

	var server *http.Server
	if cfg.Config.Admin.Enabled {
		server = startAdminServer(manager)
	}

	log.Info().Int("watches", len(watches)).Msg("Sitesync started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
		cancel()
	}
}

func startAdminServer(manager *subscription.Manager) *http.Server {
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(manager))
	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	return server
}

// logChange is the handler used for -watch subscriptions
func logChange(event realtime.ChangeEvent) error {
	meta := event.Source()
	log.Info().
		Str("type", string(event.Kind())).
		Str("schema", meta.Schema).
		Str("table", meta.Table).
		Time("commit_time", meta.CommitTime).
		Interface("row", realtime.Current(event)).
		Msg("Change")
	return nil
}
