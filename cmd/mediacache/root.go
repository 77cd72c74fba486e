package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	nethttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meigma/mediacache"
	"github.com/meigma/mediacache/internal/config"
)

// app carries the state shared by subcommands once settings are loaded.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
	client *mediacache.Client
	reg    *prometheus.Registry
	srv    *nethttp.Server
}

func newRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "mediacache",
		Short: "Local cache for remote images, video and audio",
		Long: `mediacache maps remote media URIs to local copies under
<cache-dir>/media-cache/<sha256(uri)><ext>.

Settings come from flags, MEDIACACHE_* environment variables or
mediacache.yaml in $HOME/.config/mediacache or the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newResolveCommand(a),
		newFetchCommand(a),
		newWarmCommand(a),
		newListCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	opts := []mediacache.Option{
		mediacache.WithTimeout(cfg.Timeout),
		mediacache.WithWarmWorkers(cfg.Workers),
		mediacache.WithWarmQueueSize(cfg.QueueSize),
		mediacache.WithUserAgent(cfg.UserAgent),
		mediacache.WithLogger(a.logger),
	}
	if cfg.CacheDir != "" {
		opts = append(opts, mediacache.WithCacheDir(cfg.CacheDir))
	}
	if cfg.MetricsAddr != "" {
		a.reg = prometheus.NewRegistry()
		a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, mediacache.WithPrometheus(a.reg))
	}

	client, err := mediacache.NewClient(opts...)
	if err != nil {
		return err
	}
	a.client = client

	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := nethttp.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	a.srv = &nethttp.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			a.logger.Error("metrics server", slog.Any("error", err))
		}
	}()
	a.logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close(ctx))
	}
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		errs = append(errs, a.srv.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
