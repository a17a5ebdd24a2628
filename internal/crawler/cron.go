package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/snapshot"
	"github.com/ayeowch/netmapper/internal/store"
)

// Cron runs on the master process only: it watches the pending set and,
// once exhausted, restarts a crawl cycle, grounded on
// original_source/crawl.py's cron/restart/dump.
type Cron struct {
	cfg      *config.CrawlerConfig
	store    Store
	filter   *filter.Filter
	policy   *PolicyRefresher
	cronDelay time.Duration
}

// NewCron constructs the master cron loop.
func NewCron(cfg *config.CrawlerConfig, st Store, f *filter.Filter, policy *PolicyRefresher) *Cron {
	return &Cron{
		cfg:       cfg,
		store:     st,
		filter:    f,
		policy:    policy,
		cronDelay: cfg.CronDelay,
	}
}

// Run blocks, reporting pending-set size every cron_delay and
// restarting the crawl once it empties, until ctx is cancelled.
func (c *Cron) Run(ctx context.Context) {
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pending, err := c.store.PendingCount(ctx)
		if err != nil {
			slog.Warn("crawler cron: pending count", "error", err)
		} else {
			slog.Info("crawler cron: pending", "count", pending)
		}

		if err == nil && pending == 0 {
			now := time.Now()
			if err := c.store.SetMasterState(ctx, "starting"); err != nil {
				slog.Warn("crawler cron: set master state starting", "error", err)
			}
			slog.Info("crawler cron: elapsed", "seconds", now.Sub(start).Seconds())
			slog.Info("crawler cron: restarting")

			if err := c.restart(ctx, now.Unix()); err != nil {
				slog.Warn("crawler cron: restart", "error", err)
			}

			for time.Since(start) < c.cfg.SnapshotDelay {
				sleep(ctx, time.Second)
				if ctx.Err() != nil {
					return
				}
			}
			start = time.Now()
			if err := c.store.SetMasterState(ctx, "running"); err != nil {
				slog.Warn("crawler cron: set master state running", "error", err)
			}
		}

		sleep(ctx, c.cronDelay)
	}
}

// restart dumps the finished cycle's reachable set to the snapshot
// directory, re-seeds pending from it, clears per-cycle bookkeeping
// keys, and refreshes the address-filter policy.
func (c *Cron) restart(ctx context.Context, timestamp int64) error {
	upMembers, err := c.store.SnapshotAndClearUp(ctx)
	if err != nil {
		return fmt.Errorf("snapshot and clear up: %w", err)
	}

	pending := make([]string, 0, len(upMembers))
	entries := make([]store.ReachableEntry, 0, len(upMembers))
	for _, member := range upMembers {
		host, port, services, err := store.ParseUpMember(member)
		if err != nil {
			slog.Debug("crawler cron: malformed up member", "member", member, "error", err)
			continue
		}
		encoded, err := store.Encode(store.AddrTuple{Host: host, Port: port, Services: services})
		if err == nil {
			pending = append(pending, encoded)
		}
		entries = append(entries, store.ReachableEntry{Host: host, Port: port, Services: services})
	}

	if c.cfg.IncludeChecked {
		checked, err := c.store.CheckSetEntries(ctx, timestamp-int64(c.cfg.MaxAge.Seconds()), timestamp)
		if err != nil {
			slog.Warn("crawler cron: check set entries", "error", err)
		}
		for _, raw := range checked {
			tup, err := store.DecodeAddrTuple(raw)
			if err != nil {
				continue
			}
			if c.filter.Excluded(tup.Host) {
				continue
			}
			encoded, err := store.Encode(tup)
			if err == nil {
				pending = append(pending, encoded)
			}
		}
	}

	if len(pending) > 0 {
		if err := c.store.AddPending(ctx, pending...); err != nil {
			slog.Warn("crawler cron: add pending", "error", err)
		}
	}

	if err := c.store.DeleteMatchingKeys(ctx, "node:*"); err != nil {
		slog.Warn("crawler cron: delete node keys", "error", err)
	}
	if err := c.store.DeleteMatchingKeys(ctx, "crawl:cidr:*"); err != nil {
		slog.Warn("crawler cron: delete cidr keys", "error", err)
	}

	tables := c.policy.Refresh(ctx)
	c.filter.Refresh(tables)

	slog.Info("crawler cron: reachable nodes", "count", len(entries))
	if err := c.store.PushHistory(ctx, timestamp, len(entries)); err != nil {
		slog.Warn("crawler cron: push history", "error", err)
	}

	height, err := c.dump(ctx, timestamp, entries)
	if err != nil {
		slog.Warn("crawler cron: dump", "error", err)
	} else {
		slog.Info("crawler cron: height", "height", height)
	}
	return nil
}

// dump writes the timestamp-named handoff snapshot and returns the
// plurality block height across the reachable set, per
// original_source/crawl.py's dump().
func (c *Cron) dump(ctx context.Context, timestamp int64, entries []store.ReachableEntry) (int32, error) {
	out := make([]snapshot.Entry, 0, len(entries))
	heightCounts := make(map[int32]int)

	for _, e := range entries {
		height, ok, err := c.store.GetHeight(ctx, e.Host, e.Port, e.Services)
		if err != nil || !ok {
			slog.Warn("crawler cron: height record missing", "host", e.Host, "port", e.Port, "error", err)
			height = 0
		}
		version, ok, err := c.store.GetVersion(ctx, e.Host, e.Port)
		userAgent := ""
		if err == nil && ok {
			userAgent = version.UserAgent
		} else {
			slog.Warn("crawler cron: version record missing", "host", e.Host, "port", e.Port, "error", err)
		}
		out = append(out, snapshot.Entry{
			Host:      e.Host,
			Port:      uint16(e.Port),
			Services:  e.Services,
			Height:    int32(height),
			UserAgent: userAgent,
		})
		heightCounts[int32(height)]++
	}

	slog.Info("crawler cron: built snapshot data", "entries", len(out))
	if len(out) == 0 {
		return 0, nil
	}

	path, err := snapshot.Write(c.cfg.CrawlDir, timestamp, out)
	if err != nil {
		return 0, err
	}
	slog.Info("crawler cron: wrote snapshot", "path", path)

	var mostCommon int32
	var bestCount int
	for h, n := range heightCounts {
		if n > bestCount {
			bestCount, mostCommon = n, h
		}
	}
	return mostCommon, nil
}
