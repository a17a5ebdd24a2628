package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/metrics"
	"github.com/ayeowch/netmapper/internal/pinger"
	"github.com/ayeowch/netmapper/internal/store"
	"github.com/ayeowch/netmapper/internal/watchdog"
	"github.com/ayeowch/netmapper/internal/wire"
)

// pingDelay is the interval between keepalive pings on an open session.
// original_source/ping.py's Keepalive class hardcodes this at 30
// seconds rather than exposing it as a config option.
const pingDelay = 30 * time.Second

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	roleFlag := fs.String("role", "", "master or slave")
	fs.Parse(args)

	configPath, role := *configFlag, *roleFlag
	if rest := fs.Args(); len(rest) == 2 && configPath == "" && role == "" {
		configPath, role = rest[0], rest[1]
	}

	if !config.Role(role).Valid() {
		fmt.Fprintln(os.Stderr, "Usage: netmapper-pinger run --config path --role master|slave, or: netmapper-pinger run path master|slave")
		osExit(1)
		return
	}

	cfgFile, err := config.FindConfigFile(configPath, "pinger")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runWithContext(ctx, cfgFile, role); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

// serve loads cfgFile, wires every collaborator, and blocks until ctx is
// cancelled or a termination signal arrives.
func serve(ctx context.Context, cfgFile string, role string) error {
	cfg, err := config.LoadPingerConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidatePingerConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	config.Archive(cfgFile)

	setupLogging(cfg.LogFile, cfg.LogToConsole, cfg.Debug)

	master := config.Role(role) == config.RoleMaster
	slog.Info("netmapper-pinger starting", "version", version, "role", role, "config", cfgFile)

	st := store.New(store.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("connect to coordination store: %w", err)
	}

	m := metrics.New(version, runtime.Version())

	var resolver filter.ASNResolver
	f := filter.New(filter.Tables{}, resolver)

	sessionParams := wire.Params{
		MagicNumber:     cfg.MagicNumber,
		ProtocolVersion: cfg.ProtocolVersion,
		UserAgent:       cfg.UserAgent,
		Services:        cfg.Services,
		Relay:           cfg.Relay,
		SocketTimeout:   cfg.SocketTimeout,
	}
	if cfg.Onion {
		sessionParams.SOCKSProxies = cfg.TorProxies
	}

	workerCfg := pinger.WorkerConfig{
		IPv6Prefix:         cfg.IPv6Prefix,
		NodesPerIPv6Prefix: cfg.NodesPerIPv6Prefix,
		Onion:              cfg.Onion,
		PingDelay:          pingDelay,
		VersionDelay:       cfg.VersionDelay,
		RTTTTL:             cfg.RTTTTL,
		InvTTL:             cfg.InvTTL,
		SessionParams:      sessionParams,
		NewSession:         pinger.NewWireSession,
	}
	worker := pinger.NewWorker(workerCfg, st, f, m)

	poolSize := cfg.Workers
	if poolSize < 1 {
		poolSize = 1
	}
	pool := pinger.NewPool(poolSize)

	cron := pinger.NewCron(cfg, st, worker, pool, master)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	done := make(chan struct{})
	go func() {
		cron.Run(workCtx)
		close(done)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}
		go func() {
			slog.Info("metrics endpoint started", "addr", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics endpoint error", "error", err)
			}
		}()
	}

	watchdog.Ready()
	go watchdog.Run(workCtx, watchdog.Config{
		Interval: cfg.SocketTimeout * 3,
		OnCheckResult: func(name string, err error) {
			result := "ok"
			if err != nil {
				result = "failed"
			}
			m.WatchdogChecksTotal.WithLabelValues(name, result).Inc()
		},
	}, []watchdog.HealthCheck{
		{Name: "coordination-store", Check: func() error { return st.Ping(context.Background()) }},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case <-ctx.Done():
	}
	watchdog.Stopping()

	cancelWork()
	<-done
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func setupLogging(logFile string, logToConsole bool, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}

	os.MkdirAll(filepath.Dir(logFile), 0o755)
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}

	var w io.Writer = rotator
	if logToConsole {
		w = io.MultiWriter(os.Stderr, rotator)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
