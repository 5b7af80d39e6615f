package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/keepalive/internal/alarm"
	"github.com/HerbHall/keepalive/internal/bridge"
	"github.com/HerbHall/keepalive/internal/config"
	"github.com/HerbHall/keepalive/internal/event"
	"github.com/HerbHall/keepalive/internal/execution"
	"github.com/HerbHall/keepalive/internal/keepalive"
	"github.com/HerbHall/keepalive/internal/metrics"
	"github.com/HerbHall/keepalive/internal/notify"
	"github.com/HerbHall/keepalive/internal/registry"
	"github.com/HerbHall/keepalive/internal/restarter"
	"github.com/HerbHall/keepalive/internal/server"
	"github.com/HerbHall/keepalive/internal/services"
	settingsview "github.com/HerbHall/keepalive/internal/settings"
	"github.com/HerbHall/keepalive/internal/store"
	"github.com/HerbHall/keepalive/internal/version"
	"github.com/HerbHall/keepalive/pkg/plugin"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(*configPath, logger); err != nil {
		logger.Error("keepalived stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

func serve(configPath string, logger *zap.Logger) error {
	logger.Info("keepalived starting", version.Fields()...)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		return err
	}
	defer db.Close()

	settings, err := services.NewSQLiteSettingsRepository(ctx, db)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)
	bus := event.NewBus(logger.Named("event"))

	timer := alarm.New(alarm.WithSettings(settings), alarm.WithLogger(logger.Named("alarm")))
	defer timer.Stop()
	if at, ok, err := timer.Restore(ctx); err != nil {
		logger.Warn("failed to restore watchdog alarm", zap.Error(err))
	} else if ok {
		logger.Info("restored watchdog alarm", zap.Time("at", at))
	}

	catalog, err := loadCatalog(cfg.GetString("tasks.file"), logger)
	if err != nil {
		return err
	}

	indicator, closers := buildIndicator(cfg, logger.Named("notify"))
	hub := bridge.NewHub(nil, indicator, logger.Named("bridge"), m)

	// Tasks outlive the supervisor loop during shutdown; they are cancelled
	// last so their exits are still recorded.
	taskCtx, cancelTasks := context.WithCancel(context.Background())
	defer cancelTasks()
	executor := execution.NewExecutor(taskCtx, catalog,
		execution.WithHub(hub),
		execution.WithLogger(logger.Named("execution")),
	)

	sup, err := keepalive.New(keepalive.Options{
		Store:         keepalive.NewSettingsHandleStore(settings),
		Alarm:         timer,
		Executor:      executor,
		WatchdogDelay: cfg.GetDuration("plugins.keepalive.watchdog_delay"),
		Logger:        logger.Named("keepalive"),
		Bus:           bus,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	hub.SetController(sup)

	reg := registry.New(logger.Named("registry"))
	modules := []plugin.Plugin{
		keepalive.NewModule(sup),
		bridge.NewModule(hub),
		notify.NewModule(indicator, closers...),
	}
	for _, p := range modules {
		if err := reg.Register(p); err != nil {
			return err
		}
		name := p.Info().Name
		if !cfg.GetBool("plugins." + name + ".enabled") {
			reg.Disable(name, "disabled by configuration")
		}
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("validate modules: %w", err)
	}
	err = reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config: cfg.Sub("plugins." + name),
			Logger: logger.Named(name),
			Store:  db,
			Bus:    bus,
		}
	})
	if err != nil {
		return fmt.Errorf("init modules: %w", err)
	}
	if err := reg.StartAll(ctx); err != nil {
		return fmt.Errorf("start modules: %w", err)
	}

	exitRequested := make(chan struct{})
	var exitOnce sync.Once
	requestExit := func() { exitOnce.Do(func() { close(exitRequested) }) }

	addr := net.JoinHostPort(cfg.GetString("server.host"), strconv.Itoa(cfg.GetInt("server.port")))
	srv := server.New(addr, reg, logger.Named("server"),
		server.WithMetrics(m),
		server.WithRestarter(restarter.Detect(restarter.ServiceName), requestExit),
		server.WithRateLimit(cfg.GetFloat64("server.rate_limit"), cfg.GetInt("server.rate_burst")),
		server.WithJWTSecret(cfg.GetString("server.jwt_secret")),
		server.WithRoutes(settingsview.NewHandler(settings, logger.Named("settings"))),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("shutdown requested")
		case <-exitRequested:
			logger.Info("exiting so the init system restarts keepalived")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		reg.StopAll(shutdownCtx)
		cancelTasks()
		waitForTask(shutdownCtx, sup, logger)
		return err
	})

	logger.Info("keepalived ready", zap.String("addr", addr))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("keepalived stopped")
	return nil
}

func loadCatalog(path string, logger *zap.Logger) (*execution.Catalog, error) {
	catalog, err := execution.LoadCatalog(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Warn("task catalog not found, only built-in tasks are available", zap.String("path", path))
		return execution.NewCatalog(), nil
	case err != nil:
		return nil, err
	}
	logger.Info("task catalog loaded", zap.String("path", path), zap.Strings("tasks", catalog.IDs()))
	return catalog, nil
}

// buildIndicator wires the log publisher and, when a broker is configured,
// the MQTT publisher. An unreachable broker is not fatal.
func buildIndicator(cfg *config.ViperConfig, logger *zap.Logger) (*notify.Indicator, []func()) {
	publishers := []notify.Publisher{notify.LogPublisher{Logger: logger}}
	var closers []func()

	if broker := cfg.GetString("mqtt.broker"); broker != "" {
		pub, err := notify.DialMQTT(notify.MQTTConfig{
			Broker:      broker,
			ClientID:    cfg.GetString("mqtt.client_id"),
			TopicPrefix: cfg.GetString("mqtt.topic_prefix"),
			Username:    cfg.GetString("mqtt.username"),
			Password:    cfg.GetString("mqtt.password"),
			Timeout:     cfg.GetDuration("mqtt.timeout"),
		}, logger)
		if err != nil {
			logger.Warn("mqtt indicator disabled", zap.Error(err))
		} else {
			publishers = append(publishers, pub)
			closers = append(closers, pub.Close)
		}
	}
	return notify.NewIndicator(logger, publishers...), closers
}

// waitForTask gives the current execution until ctx ends to exit after its
// base context was cancelled.
func waitForTask(ctx context.Context, sup *keepalive.Supervisor, logger *zap.Logger) {
	x, ok := sup.Current().(interface{ Done() <-chan struct{} })
	if !ok {
		return
	}
	select {
	case <-x.Done():
	case <-ctx.Done():
		logger.Warn("task did not exit before shutdown timeout")
	}
}
