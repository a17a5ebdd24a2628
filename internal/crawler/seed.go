package crawler

import (
	"context"
	"log/slog"
	"net"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/store"
)

// Seed populates the pending set from DNS seeders and configured onion
// nodes to bootstrap a crawl. Grounded on
// original_source/crawl.py's set_pending: that function's resolve
// loop is dead code behind an unconditional early return seeding a
// single hardcoded loopback address, which only made sense for the
// original's own test harness. This restores the resolve loop as the
// real seeding path.
func Seed(ctx context.Context, cfg *config.CrawlerConfig, f *filter.Filter, st Store, services uint64) error {
	var members []string

	for _, seeder := range cfg.Seeders {
		for _, addr := range resolveSeeder(ctx, seeder, cfg.IPv6) {
			if f.Excluded(addr) {
				slog.Debug("crawler seed: excluded", "address", addr)
				continue
			}
			slog.Debug("crawler seed: resolved", "seeder", seeder, "address", addr)
			encoded, err := store.Encode(store.AddrTuple{Host: addr, Port: cfg.Port, Services: services})
			if err != nil {
				continue
			}
			members = append(members, encoded)
		}
	}

	if cfg.Onion {
		for _, addr := range cfg.OnionNodes {
			encoded, err := store.Encode(store.AddrTuple{Host: addr, Port: cfg.Port, Services: services})
			if err != nil {
				continue
			}
			members = append(members, encoded)
		}
	}

	if len(members) == 0 {
		return nil
	}
	return st.AddPending(ctx, members...)
}

// resolveSeeder resolves a DNS seeder hostname to its advertised
// addresses, optionally including AAAA records.
func resolveSeeder(ctx context.Context, seeder string, ipv6 bool) []string {
	var out []string

	resolver := &net.Resolver{}
	ipv4, err := resolver.LookupIP(ctx, "ip4", seeder)
	if err != nil {
		slog.Warn("crawler seed: ipv4 lookup", "seeder", seeder, "error", err)
	} else {
		for _, ip := range ipv4 {
			out = append(out, ip.String())
		}
	}

	if ipv6 {
		ipv6Addrs, err := resolver.LookupIP(ctx, "ip6", seeder)
		if err != nil {
			slog.Warn("crawler seed: ipv6 lookup", "seeder", seeder, "error", err)
		} else {
			for _, ip := range ipv6Addrs {
				out = append(out, ip.String())
			}
		}
	}

	return out
}
