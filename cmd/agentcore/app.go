package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ShayCichocki/agentcore/internal/config"
	"github.com/ShayCichocki/agentcore/internal/logging"
)

// app is the process state shared by subcommands.
type app struct {
	cfg      *config.Config
	viper    *viper.Viper
	logger   *zap.Logger
	level    zap.AtomicLevel
	registry *prometheus.Registry
	server   *http.Server
}

var current *app

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, v, err := config.LoadViper(cfgFile)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}

	logger, level, err := logging.NewWithLevel(cfg.Logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		viper:    v,
		logger:   logger,
		level:    level,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if v.ConfigFileUsed() != "" {
		logger.Debug("config loaded", zap.String("file", v.ConfigFileUsed()))
		config.Watch(v, a.reload)
	}
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

// reload applies the settings that can change while a command runs. Only
// the log level is live; everything else takes effect on the next command.
func (a *app) reload(cfg *config.Config, err error) {
	if err != nil {
		a.logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	if logLevel != "" {
		return
	}
	lvl, err := logging.ParseLevel(cfg.Logger.Level)
	if err != nil {
		a.logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	if lvl != a.level.Level() {
		a.level.SetLevel(lvl)
		a.logger.Info("log level changed", zap.Stringer("level", lvl))
	}
}

func (a *app) serveMetrics(addr string) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	a.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics listening", zap.String("addr", addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func (a *app) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.server.Shutdown(ctx)
	}
	_ = a.logger.Sync()
}
