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

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/crawler"
	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/httpfeed"
	"github.com/ayeowch/netmapper/internal/metrics"
	"github.com/ayeowch/netmapper/internal/store"
	"github.com/ayeowch/netmapper/internal/watchdog"
	"github.com/ayeowch/netmapper/internal/wire"
)

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
		fmt.Fprintln(os.Stderr, "Usage: netmapper-crawler run --config path --role master|slave, or: netmapper-crawler run path master|slave")
		osExit(1)
		return
	}

	cfgFile, err := config.FindConfigFile(configPath, "crawler")
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
	cfg, err := config.LoadCrawlerConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateCrawlerConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	config.Archive(cfgFile)

	setupLogging(cfg.LogFile, cfg.LogToConsole, cfg.Debug)

	master := config.Role(role) == config.RoleMaster
	slog.Info("netmapper-crawler starting", "version", version, "role", role, "config", cfgFile)

	st := store.New(store.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("connect to coordination store: %w", err)
	}

	m := metrics.New(version, runtime.Version())

	var resolver filter.ASNResolver
	if cfg.GeoIPASNDB != "" {
		r, err := filter.OpenMaxMindASNResolver(cfg.GeoIPASNDB)
		if err != nil {
			return fmt.Errorf("open asn database: %w", err)
		}
		resolver = r
	}
	f := filter.New(filter.Tables{}, resolver)

	feed := httpfeed.New(cfg.SocketTimeout)
	policy := crawler.NewPolicyRefresher(cfg, feed, m)
	f.Refresh(policy.Refresh(ctx))

	if master {
		count, err := st.PendingCount(ctx)
		if err != nil {
			return fmt.Errorf("pending count: %w", err)
		}
		if count == 0 {
			if err := crawler.Seed(ctx, cfg, f, st, cfg.Services); err != nil {
				slog.Warn("bootstrap seed", "error", err)
			}
		}
		if err := st.SetMasterState(ctx, "running"); err != nil {
			slog.Warn("set master state", "error", err)
		}
	}

	var socksProxies []string
	if cfg.Onion {
		socksProxies = cfg.TorProxies
	}
	sessionParams := wire.Params{
		MagicNumber:     cfg.MagicNumber,
		ProtocolVersion: cfg.ProtocolVersion,
		UserAgent:       cfg.UserAgent,
		Services:        cfg.Services,
		Relay:           cfg.Relay,
		SocketTimeout:   cfg.SocketTimeout,
		SOCKSProxies:    socksProxies,
	}

	workerCfg := crawler.WorkerConfig{
		Master:             master,
		IPv6Enabled:        cfg.IPv6,
		IPv6Prefix:         cfg.IPv6Prefix,
		NodesPerIPv6Prefix: cfg.NodesPerIPv6Prefix,
		DefaultPort:        cfg.Port,
		MaxAge:             cfg.MaxAge,
		AddrTTL:            cfg.AddrTTL,
		AddrTTLVar:         cfg.AddrTTLVar,
		PeersPerNode:        cfg.PeersPerNode,
		SocketTimeout:      cfg.SocketTimeout,
		SessionParams:      sessionParams,
		NewSession:         crawler.NewWireSession,
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	g, gctx := errgroup.WithContext(workCtx)

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w := crawler.NewWorker(workerCfg, st, f, m)
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	if master {
		cron := crawler.NewCron(cfg, st, f, policy)
		g.Go(func() error {
			cron.Run(gctx)
			return nil
		})
	}

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
	go watchdog.Run(gctx, watchdog.Config{
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
	g.Wait()
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
