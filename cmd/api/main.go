package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/saixiaoxi/sipstop/internal/api"
	"github.com/saixiaoxi/sipstop/internal/config"
	"github.com/saixiaoxi/sipstop/internal/middleware"
	"github.com/saixiaoxi/sipstop/internal/monitors"
	"github.com/saixiaoxi/sipstop/internal/service"
	"github.com/saixiaoxi/sipstop/internal/store"
	"github.com/saixiaoxi/sipstop/pkg/healthcheck"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to the config file (default ./configs/config.yaml)")
	pflag.Parse()

	cfg, err := config.Load(viper.New(), *configFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := config.NewLogger(cfg.Log)

	gin.SetMode(cfg.Server.Mode)

	st := store.New(store.Paths{
		Users:    cfg.Storage.UsersFile,
		Products: cfg.Storage.ProductsFile,
		Orders:   cfg.Storage.OrdersFile,
	}, logger)

	monitor, stopMonitoring := setupMonitoring(cfg.Monitoring, logger)

	svc := service.NewService(st, monitor, logger)

	checker := healthcheck.NewChecker(5 * time.Second)
	for _, probe := range []interface {
		Name() string
		Probe() error
	}{st.Users, st.Products, st.Orders} {
		checker.AddCheck(healthcheck.NewFuncCheck(probe.Name()+"-file", func(context.Context) error {
			return probe.Probe()
		}))
	}

	handler := api.NewHandler(svc, checker)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.MonitoringMiddleware(monitor))
	router.Use(middleware.ErrorMonitoring(monitor))

	handler.RegisterRoutes(router)
	router.GET("/metrics/status", middleware.MetricsStatus(monitor))

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	counts := st.Counts(context.Background())
	logger.WithFields(logrus.Fields{
		"addr":     srv.Addr,
		"users":    counts[store.UsersCollection],
		"products": counts[store.ProductsCollection],
		"orders":   counts[store.OrdersCollection],
	}).Info("SipStop API started")
	logger.WithFields(logrus.Fields{
		"users":    cfg.Storage.UsersFile,
		"products": cfg.Storage.ProductsFile,
		"orders":   cfg.Storage.OrdersFile,
	}).Info("Data files")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				logger.Info("Shutting down server...")
				return srv.Shutdown(ctx)
			},
			"monitoring": func(ctx context.Context) error {
				return stopMonitoring(ctx)
			},
		},
	)

	exitCode := <-wait
	logger.WithField("exit_code", exitCode).Info("Server exited")
	os.Exit(exitCode)
}

// setupMonitoring builds the Prometheus monitor with a log file fallback. The
// returned func stops the metrics listener and flushes the fallback.
func setupMonitoring(cfg config.MonitoringConfig, logger logrus.FieldLogger) (monitors.Monitor, func(context.Context) error) {
	if !cfg.Enabled {
		return monitors.Nop{}, func(context.Context) error { return nil }
	}

	prometheusMonitor := monitors.NewPrometheusMonitor(cfg.Endpoint)
	if err := prometheusMonitor.StartServer(cfg.Addr, func(err error) {
		logger.WithError(err).Warn("Prometheus metrics server stopped")
	}); err != nil {
		logger.WithError(err).Warn("Failed to start Prometheus metrics server")
	}

	var out io.Writer = os.Stderr
	var logFile *os.File
	if cfg.FallbackLog != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FallbackLog), 0o755); err != nil {
			logger.WithError(err).Warn("Cannot create metrics log directory, using stderr")
		} else if f, err := os.OpenFile(cfg.FallbackLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			logger.WithError(err).Warn("Cannot open metrics log, using stderr")
		} else {
			logFile = f
			out = f
		}
	}

	fallback := monitors.NewLocalLoggingFallback(cfg.Fallback, out, cfg.BufferSize)
	monitor := monitors.NewMonitorWithFallback(prometheusMonitor, fallback, cfg.PeriodicCheck)
	flusher := monitors.NewPeriodicFlusher(fallback, cfg.FlushInterval)
	flusher.Start()

	return monitor, func(ctx context.Context) error {
		err := prometheusMonitor.StopServer(ctx)
		monitor.Stop()
		flusher.Stop()
		if logFile != nil {
			_ = logFile.Close()
		}
		return err
	}
}
