package pinger

import (
	"context"
	"log/slog"
	"time"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/snapshot"
	"github.com/ayeowch/netmapper/internal/store"
)

// Cron discovers new crawl snapshots (master only) and keeps the
// worker pool saturated with reachable candidates (master and slave),
// grounded on original_source/ping.py's cron().
type Cron struct {
	cfg    *config.PingerConfig
	store  Store
	worker *Worker
	pool   *Pool

	master bool

	lastSnapshot string
}

// NewCron constructs the pinger cron loop.
func NewCron(cfg *config.PingerConfig, st Store, worker *Worker, pool *Pool, master bool) *Cron {
	return &Cron{cfg: cfg, store: st, worker: worker, pool: pool, master: master}
}

// Run blocks until ctx is cancelled.
func (c *Cron) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.pool.Wait()
			return
		default:
		}

		if c.master {
			c.checkSnapshot(ctx)

			open, err := c.store.OpenCount(ctx)
			if err != nil {
				slog.Warn("pinger cron: open count", "error", err)
			} else {
				slog.Info("pinger cron: connections", "count", open)
			}
		}

		c.fillPool(ctx)

		slog.Info("pinger cron: workers", "busy", c.pool.BusyCount())

		sleep(ctx, c.cfg.CronDelay)
	}
}

// checkSnapshot loads a newer snapshot than the last one seen, queues
// its entries not already open into `reachable`, and publishes a
// notification once connections have had time to stabilize.
func (c *Cron) checkSnapshot(ctx context.Context) {
	path, ok, err := snapshot.Latest(c.cfg.CrawlDir)
	if err != nil {
		slog.Warn("pinger cron: latest snapshot", "error", err)
		return
	}
	if !ok || path == c.lastSnapshot {
		return
	}

	entries, err := snapshot.Load(path)
	if err != nil {
		slog.Warn("pinger cron: load snapshot", "path", path, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	slog.Info("pinger cron: new snapshot", "path", path, "nodes", len(entries))
	c.lastSnapshot = path

	added := 0
	for _, e := range entries {
		added += c.addReachable(ctx, e)
	}
	slog.Info("pinger cron: new reachable nodes", "count", added)

	sleep(ctx, c.cfg.SocketTimeout)
	timestamp, err := snapshot.TimestampOf(path)
	if err != nil {
		slog.Warn("pinger cron: snapshot timestamp", "path", path, "error", err)
		return
	}
	if err := c.store.PublishSnapshot(ctx, c.cfg.MagicNumber, timestamp); err != nil {
		slog.Warn("pinger cron: publish snapshot", "error", err)
	}
}

func (c *Cron) addReachable(ctx context.Context, e snapshot.Entry) int {
	// One at a time mirrors original_source/ping.py's set_reachable,
	// which must check `open` membership per node before enqueueing.
	open, err := c.store.IsOpen(ctx, e.Host, int(e.Port))
	if err != nil {
		slog.Debug("pinger cron: check open", "host", e.Host, "port", e.Port, "error", err)
		return 0
	}
	if open {
		return 0
	}

	entry := store.ReachableEntry{Host: e.Host, Port: int(e.Port), Services: e.Services, Height: int64(e.Height)}
	if err := c.store.AddReachable(ctx, entry); err != nil {
		slog.Debug("pinger cron: add reachable", "error", err)
		return 0
	}
	return 1
}

// fillPool spawns as many new keepalive sessions as the reachable set
// and the pool's free capacity allow.
func (c *Cron) fillPool(ctx context.Context) {
	for {
		if c.pool.FreeCount() == 0 {
			return
		}
		cand, ok, err := c.store.PopReachable(ctx)
		if err != nil {
			slog.Warn("pinger cron: pop reachable", "error", err)
			return
		}
		if !ok {
			return
		}
		spawned := c.pool.TrySpawn(func() {
			c.worker.RunOne(ctx, cand)
		})
		if !spawned {
			// Lost the race for a slot between FreeCount and TrySpawn;
			// put the candidate back so it isn't dropped.
			c.store.AddReachable(ctx, cand)
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
