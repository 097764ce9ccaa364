package main

import (
	"context"
	"fmt"
	"net"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"github.com/peder1981/p2p-chat/internal/api"
	"github.com/peder1981/p2p-chat/internal/config"
	"github.com/peder1981/p2p-chat/internal/logging"
	"github.com/peder1981/p2p-chat/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the p2p-chat command tree.
func NewRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "p2p-chat",
		Short:         "Peer-to-peer chat: tracker, channel server and peer node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "path to the TOML config file (default: XDG config dir)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override log.level (debug, info, error)")
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "", "override log.format (plain, json)")

	root.AddCommand(
		newTrackerCmd(f),
		newChannelsCmd(f),
		newPeerCmd(f),
		newProxyCmd(f),
		newAllCmd(f),
	)
	return root
}

// env is what every service needs from the command line and config file.
type env struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics
	ops     map[string]gfshutdown.Operation
}

// load reads the config file and applies overrides before validating it.
func (f *rootFlags) load(override func(*config.Config)) (*env, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.NewDefaultLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	m := metrics.NopMetrics()
	if cfg.Metrics.Enabled {
		m = metrics.PrometheusMetrics(cfg.Metrics.Namespace)
	}
	return &env{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		ops:     make(map[string]gfshutdown.Operation),
	}, nil
}

func (e *env) apiOptions() api.Options {
	return api.Options{Logger: e.logger, Metrics: e.cfg.Metrics.Enabled}
}

// serveHTTP binds addr before returning so a busy port fails the command,
// then serves app in the background. On shutdown the app stops first and
// then each of after runs in order.
func (e *env) serveHTTP(name, addr string, app *fiber.App, after ...gfshutdown.Operation) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: listen on %s: %w", name, addr, err)
	}
	logger := e.logger.With("service", name)
	go func() {
		if err := app.Listener(ln); err != nil {
			logger.Error("http server stopped", "err", err)
		}
	}()
	logger.Info("http server listening", "addr", ln.Addr().String())

	e.onShutdown(name, func(ctx context.Context) error {
		if err := app.ShutdownWithContext(ctx); err != nil {
			logger.Error("http shutdown", "err", err)
		}
		var firstErr error
		for _, op := range after {
			if err := op(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return nil
}

func (e *env) onShutdown(name string, op gfshutdown.Operation) {
	e.ops[name] = op
}

// wait blocks until SIGINT or SIGTERM and then runs the registered
// shutdown operations.
func (e *env) wait() error {
	code := <-gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, e.ops)
	e.logger.Info("shutdown complete", "code", code)
	if code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	return nil
}

// shutdownNow runs the registered operations without waiting for a signal.
// Used when a later service fails to start.
func (e *env) shutdownNow() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for name, op := range e.ops {
		if err := op(ctx); err != nil {
			e.logger.Error("shutdown", "op", name, "err", err)
		}
	}
}
