package crawler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/httpfeed"
	"github.com/ayeowch/netmapper/internal/metrics"
)

// defaultIPv4BogonURLs/defaultIPv6BogonURLs mirror the feed list
// original_source/crawl.py's update_excluded_networks hard-codes when
// exclude_ipv4_bogons/exclude_ipv6_bogons is set.
var defaultIPv4BogonURLs = []string{
	"http://www.team-cymru.org/Services/Bogons/fullbogons-ipv4.txt",
	"http://www.spamhaus.org/drop/drop.txt",
	"https://www.spamhaus.org/drop/edrop.txt",
}

var defaultIPv6BogonURLs = []string{
	"http://www.team-cymru.org/Services/Bogons/fullbogons-ipv6.txt",
}

// PolicyRefresher rebuilds filter.Tables at the start of each crawl
// cycle, grounded on original_source/crawl.py's update_included_asns
// and update_excluded_networks.
type PolicyRefresher struct {
	cfg     *config.CrawlerConfig
	feed    *httpfeed.Client
	metrics *metrics.Metrics

	baseIPv4 []filter.Network
	baseIPv6 []filter.Network
}

// NewPolicyRefresher parses the configuration's default network lists
// once; those defaults are re-applied, not accumulated, on every
// refresh.
func NewPolicyRefresher(cfg *config.CrawlerConfig, feed *httpfeed.Client, m *metrics.Metrics) *PolicyRefresher {
	return &PolicyRefresher{
		cfg:      cfg,
		feed:     feed,
		metrics:  m,
		baseIPv4: parseNetworks(cfg.ExcludeIPv4Networks),
		baseIPv6: parseNetworks(cfg.ExcludeIPv6Networks),
	}
}

func parseNetworks(cidrs []string) []filter.Network {
	var out []filter.Network
	for _, c := range cidrs {
		if n, ok := filter.ParseNetwork(c); ok {
			out = append(out, n)
		}
	}
	return out
}

// Refresh fetches the current bogon/ASN feeds and returns the rebuilt
// policy tables, built from the configured base networks plus every
// feed that fetched. On any individual feed-fetch failure, httpfeed
// already returns "" and this function simply appends nothing for that
// feed; entries that feed contributed to the previous tables are not
// carried over.
func (p *PolicyRefresher) Refresh(ctx context.Context) filter.Tables {
	ipv4 := append([]filter.Network(nil), p.baseIPv4...)
	ipv6 := append([]filter.Network(nil), p.baseIPv6...)

	if p.cfg.ExcludeIPv4Bogons {
		for _, url := range defaultIPv4BogonURLs {
			ipv4 = append(ipv4, p.fetchNetworks(ctx, "ipv4-bogon", url)...)
		}
	}
	if p.cfg.ExcludeIPv6Bogons {
		for _, url := range defaultIPv6BogonURLs {
			ipv6 = append(ipv6, p.fetchNetworks(ctx, "ipv6-bogon", url)...)
		}
	}
	if p.cfg.ExcludeIPv4NetworksFromURL != "" {
		ipv4 = append(ipv4, p.fetchNetworks(ctx, "ipv4-custom", p.cfg.ExcludeIPv4NetworksFromURL)...)
	}
	if p.cfg.ExcludeIPv6NetworksFromURL != "" {
		ipv6 = append(ipv6, p.fetchNetworks(ctx, "ipv6-custom", p.cfg.ExcludeIPv6NetworksFromURL)...)
	}

	includeASNs := asnSet(p.cfg.IncludeASNs)
	if p.cfg.IncludeASNsFromURL != "" {
		txt := p.feed.GetText(ctx, p.cfg.IncludeASNsFromURL)
		if txt == "" {
			p.observeFetch("asn-allow", false)
		} else {
			p.observeFetch("asn-allow", true)
			for asn := range parseASNList(txt) {
				includeASNs[asn] = struct{}{}
			}
		}
	}

	slog.Info("policy refresh", "ipv4_networks", len(ipv4), "ipv6_networks", len(ipv6), "include_asns", len(includeASNs))

	return filter.Tables{
		ExcludePrivate:       p.cfg.ExcludePrivate,
		IncludeASNs:          includeASNs,
		ExcludeASNs:          asnSet(p.cfg.ExcludeASNs),
		ExcludedIPv4Networks: ipv4,
		ExcludedIPv6Networks: ipv6,
	}
}

func (p *PolicyRefresher) fetchNetworks(ctx context.Context, feed, url string) []filter.Network {
	txt := p.feed.GetText(ctx, url)
	p.observeFetch(feed, txt != "")
	if txt == "" {
		return nil
	}
	return filter.ParseNetworkList(strings.NewReader(txt))
}

func (p *PolicyRefresher) observeFetch(feed string, ok bool) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "fail"
	}
	p.metrics.PolicyFetchTotal.WithLabelValues(feed, result).Inc()
}

func asnSet(asns []uint32) map[uint32]struct{} {
	set := make(map[uint32]struct{}, len(asns))
	for _, a := range asns {
		set[a] = struct{}{}
	}
	return set
}

// parseASNList parses a newline-delimited list of "AS1234"-form
// entries, matching original_source/crawl.py's list_included_asns.
func parseASNList(txt string) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for _, line := range strings.Split(txt, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "AS") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(line, "AS"), 10, 32)
		if err != nil {
			continue
		}
		out[uint32(n)] = struct{}{}
	}
	return out
}
