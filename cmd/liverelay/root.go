package main

import (
	"context"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/live-relay/backend/internal/admission"
	"github.com/live-relay/backend/internal/config"
	"github.com/live-relay/backend/internal/live"
	"github.com/live-relay/backend/internal/live/bridge"
	"github.com/live-relay/backend/internal/live/mock"
	"github.com/live-relay/backend/internal/logging"
	"github.com/live-relay/backend/internal/router"
	"github.com/live-relay/backend/internal/session"
	"github.com/live-relay/backend/internal/sink"
)

var (
	configPath string
	mockMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "liverelay",
	Short: "Relay live broadcast events to websocket clients and log files",
	Long: `liverelay opens sessions on live broadcasts and fans their events out
to interactive websocket clients and append-only record files.

  liverelay serve            # interactive front on :8082
  liverelay scan alice bob   # keep sessions open for a fixed host list`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&mockMode, "mock", false, "Use synthetic broadcasts instead of the bridge")
}

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *session.Registry
	recorder *sink.Writer
	layout   sink.Layout
}

func loadApp() (*app, error) {
	cfg, err := config.LoadWithEnv(configPath, func(c *config.Config) {
		if mockMode {
			c.Provider.Kind = "mock"
		}
	})
	if err != nil {
		return nil, err
	}

	logger := logging.Init(cfg.Log.Level, cfg.Log.Format)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: session.NewRegistry(),
		layout:   sink.Layout{Dir: cfg.Sink.Dir, Unique: cfg.Sink.UniquePrefixes},
	}
	if !cfg.Sink.Disabled {
		format, err := sink.ParseFormat(strings.ToLower(cfg.Sink.Format))
		if err != nil {
			return nil, err
		}
		a.recorder = sink.NewWriter(format, logger)
	}
	return a, nil
}

func (a *app) provider() (live.Provider, error) {
	if a.cfg.Provider.Kind == "mock" {
		a.logger.Info("Using mock provider")
		return mock.NewProvider(mock.Config{Tick: a.cfg.Provider.MockTick}), nil
	}
	a.logger.Info("Using bridge provider", "url", a.cfg.Provider.BridgeURL)
	return bridge.NewProvider(a.cfg.Provider.BridgeURL, a.logger)
}

func (a *app) opener(p live.Provider) *session.Opener {
	var adm session.Admission
	if a.cfg.Admission.Enabled {
		adm = admission.New(admission.Config{
			MaxSessionsPerClient: a.cfg.Admission.MaxSessionsPerClient,
			RequestsPerMinute:    a.cfg.Admission.RequestsPerMinute,
			Burst:                a.cfg.Admission.Burst,
		}, a.registry)
		a.logger.Info("Admission control enabled",
			"max_sessions_per_client", a.cfg.Admission.MaxSessionsPerClient,
			"requests_per_minute", a.cfg.Admission.RequestsPerMinute)
	}
	if a.cfg.Session.Credential != "" {
		a.logger.Info("Using configured session credential")
	}
	return session.NewOpener(session.OpenerConfig{
		Provider:    p,
		Registry:    a.registry,
		Credential:  a.cfg.Session.Credential,
		Admission:   adm,
		Prefix:      a.layout.Prefix,
		OpenTimeout: a.cfg.Session.OpenTimeout,
		Logger:      a.logger,
	})
}

// recorderOrNil keeps a nil *sink.Writer from becoming a non-nil interface.
func (a *app) recorderOrNil() router.Recorder {
	if a.recorder == nil {
		return nil
	}
	return a.recorder
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
