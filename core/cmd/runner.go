// Package cmd runs the bot: load config, bootstrap, then serve the
// configured transport until a signal arrives.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goodcleanfun/plqbot/core/bootstrap"
	"github.com/goodcleanfun/plqbot/core/config"
	"github.com/goodcleanfun/plqbot/core/logger"
	"github.com/goodcleanfun/plqbot/core/messenger"
	"github.com/goodcleanfun/plqbot/core/netutil"
	"github.com/goodcleanfun/plqbot/core/telegram"
)

// DefaultConfigEnvVar names the variable holding the config file path.
const DefaultConfigEnvVar = "CONFIG_PATH"

const shutdownTimeout = 10 * time.Second

// Runtime serves one transport until ctx is done.
type Runtime func(ctx context.Context, res *bootstrap.Result) error

// Options describe how to load configuration, bootstrap the app, and run it.
type Options struct {
	// ConfigPath wins over ConfigEnvVar. Both empty means env-only config.
	ConfigPath        string
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig     func(path string) (*config.Config, error)
	Bootstrap      func(ctx context.Context, cfg *config.Config) (*bootstrap.Result, error)
	ShutdownLogger func() error

	RunMessenger Runtime
	RunTelegram  Runtime
}

// ResolveConfigPath picks the explicit path, then the env var, then the default.
func ResolveConfigPath(explicit, envVar, def string) string {
	if explicit != "" {
		return explicit
	}
	if envVar == "" {
		envVar = DefaultConfigEnvVar
	}
	if p := os.Getenv(envVar); p != "" {
		return p
	}
	return def
}

// Run loads configuration, bootstraps infrastructure, and runs the transport
// selected by run_mode until SIGINT or SIGTERM.
func Run(ctx context.Context, opts Options) error {
	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = config.Load
	}
	boot := opts.Bootstrap
	if boot == nil {
		boot = func(ctx context.Context, cfg *config.Config) (*bootstrap.Result, error) {
			return bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
		}
	}

	cfgPath := ResolveConfigPath(opts.ConfigPath, opts.ConfigEnvVar, opts.DefaultConfigPath)
	if cfgPath != "" {
		log.Printf("loading config: %s", cfgPath)
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startedAt := time.Now()
	res, err := boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer func() {
		if err := res.Close(); err != nil {
			logger.L.With("component", "app").Warn("close failed",
				slog.String("event", "shutdown"),
				slog.String("err", err.Error()),
			)
		}
	}()

	run := opts.RunMessenger
	if run == nil {
		run = ServeMessenger
	}
	if cfg.RunMode == config.RunModeTelegram {
		run = opts.RunTelegram
		if run == nil {
			run = ServeTelegram
		}
	}

	logger.L.With("component", "app").Info("app ready",
		slog.String("event", "ready"),
		slog.String("run_mode", cfg.RunMode),
		slog.Duration("startup_duration", logger.RoundMS(time.Since(startedAt))),
	)
	err = run(ctx, res)
	attrs := []any{slog.String("event", "shutdown")}
	if res.Deliverer != nil {
		attrs = append(attrs, slog.Uint64("delivery_failures", res.Deliverer.ErrorCount()))
	}
	logger.L.With("component", "app").Info("shutting down...", attrs...)
	return err
}

// ServeMessenger serves the webhook until ctx is done, then drains in-flight
// turns before returning.
func ServeMessenger(ctx context.Context, res *bootstrap.Result) error {
	cfg := res.Config
	httpClient := netutil.BuildHTTPClient(netutil.ClientOptions{Timeout: cfg.Timeouts.Send()})
	d := res.Dispatcher(messenger.NewClient(httpClient, cfg.Messenger.APIURL, cfg.Messenger.PageToken))

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Webhook.Listen, strconv.Itoa(cfg.Webhook.Port)),
		Handler:           messenger.NewServer(d, cfg.Messenger.VerifyToken, cfg.Webhook.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.HTTP.Info("listening",
			slog.String("event", "http.listen"),
			slog.String("addr", srv.Addr),
			slog.String("path", cfg.Webhook.Path),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		d.Wait()
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(sctx)
	d.Wait()
	return err
}

// ServeTelegram runs the Telegram bot until ctx is done.
func ServeTelegram(ctx context.Context, res *bootstrap.Result) error {
	bot, err := telegram.NewBot(res.Config)
	if err != nil {
		return err
	}
	d := res.Dispatcher(telegram.NewClient(bot))
	telegram.Register(bot, d)
	err = telegram.Run(ctx, bot)
	d.Wait()
	return err
}
