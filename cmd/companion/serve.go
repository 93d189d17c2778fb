package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rift-companion/companion/internal/api"
	"github.com/rift-companion/companion/internal/cli"
	"github.com/rift-companion/companion/internal/config"
	"github.com/rift-companion/companion/internal/connector"
	"github.com/rift-companion/companion/internal/db"
	"github.com/rift-companion/companion/internal/events"
	"github.com/rift-companion/companion/internal/health"
	"github.com/rift-companion/companion/internal/network"
	"github.com/rift-companion/companion/internal/scheduler"
	"github.com/rift-companion/companion/internal/telemetry"
	"github.com/rift-companion/companion/internal/util"
)

type serveOptions struct {
	configDir string
	console   bool
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.configDir, "config-dir", config.DefaultConfigDir, "directory holding config.json and .env")
	cmd.Flags().BoolVar(&opts.console, "console", true, "read commands from stdin")
	return cmd
}

func runServe(opts *serveOptions) error {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// defaults first, reconfigured once the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting companion")

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetry.InitMetrics()
	eventBus := events.NewEventBus()

	presenceCfg := cfg.GetPresence()
	riotCfg := cfg.GetRiot()
	riotAPI := connector.NewRiotAPI(riotCfg, util.ComponentLogger("riotapi"))

	// Tokens from the environment take precedence over the running client.
	var (
		creds connector.CredentialSource
		watch health.ClientWatch
	)
	if riotCfg.AccessToken != "" {
		log.Info().Msg("using credentials from environment")
		creds = connector.NewStaticSource(connector.Credentials{
			AccessToken:       riotCfg.AccessToken,
			EntitlementsToken: riotCfg.EntitlementToken,
			PUUID:             riotCfg.PUUID,
		})
	} else {
		lockfile := connector.NewLockfileSource(
			riotCfg.ResolvedLockfilePath(), riotAPI, eventBus, util.ComponentLogger("credentials"))
		if riotCfg.TokenRefreshSec > 0 {
			lockfile.MaxAge = time.Duration(riotCfg.TokenRefreshSec) * time.Second
		}
		creds = lockfile
		watch = lockfile
	}

	client := connector.NewPresenceClient(connector.Options{
		Credentials: creds,
		API:         riotAPI,
		Dialer: connector.NetworkDialer{Config: network.DialConfig{
			Port:               presenceCfg.Port,
			ConnectTimeout:     time.Duration(presenceCfg.ConnectTimeoutSec) * time.Second,
			InsecureSkipVerify: presenceCfg.InsecureSkipVerify,
		}},
		Emitter:     eventBus,
		Logger:      util.ComponentLogger("presence"),
		LogCapacity: presenceCfg.LogCapacity,
	})

	var (
		journal *db.Journal
		history api.HistoryStore
		pruner  scheduler.Pruner
	)
	if app.Journal.Enabled {
		journal, err = db.OpenJournal(ctx, app.Journal.Path, util.ComponentLogger("journal"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to open presence journal, history disabled")
		} else {
			journal.Attach(eventBus)
			history, pruner = journal, journal
		}
	}

	if app.Security.TLSEnabled && !util.FileExists(app.Security.TLSCertFile) {
		log.Info().Str("cert", app.Security.TLSCertFile).Msg("generating self-signed API certificate")
		cert, err := util.NewLocalCert(app.Security.BindAddress)
		if err != nil {
			return fmt.Errorf("failed to generate API certificate: %w", err)
		}
		if err := cert.WriteFiles(app.Security.TLSCertFile, app.Security.TLSKeyFile); err != nil {
			return fmt.Errorf("failed to store API certificate: %w", err)
		}
	}
	healthMgr := health.NewManager(cfg, eventBus, client, watch)
	apiServer := api.NewServer(cfg, eventBus, client, history, healthMgr, AppVersion)
	sched := scheduler.NewScheduler(cfg, client, pruner)

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(app.MQTT, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", app.Security.Port).Msg("starting REST API server")
		if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
			log.Error().Err(err).Msg("API server failed after retries")
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	if presenceCfg.AutoConnect {
		go func() {
			if err := client.Connect(ctx); err != nil {
				log.Warn().Err(err).Msg("initial connect failed, the scheduler will retry")
			}
		}()
	}

	// The console goroutine blocks on stdin, so it is not waited for.
	if opts.console {
		go cli.NewCLI(cfg, eventBus, client, os.Stdin, os.Stdout).Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	if err := client.Disconnect(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to close chat session")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close presence journal")
		}
	}

	log.Info().Msg("companion stopped")
	return nil
}

// startWithRetry retries startFn on bind errors with a fixed 3-second pause,
// giving the OS time to release the port after an unclean exit.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
