// Package crawler implements the crawler worker and cron: a
// work-stealing pool that dials candidate peers, performs a protocol
// handshake, and harvests their address books to find more peers.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/metrics"
	"github.com/ayeowch/netmapper/internal/store"
	"github.com/ayeowch/netmapper/internal/wire"
)

const addrBookPollInterval = 300 * time.Millisecond

// WorkerConfig configures a single crawl worker.
type WorkerConfig struct {
	Master bool

	IPv6Enabled        bool
	IPv6Prefix         int
	NodesPerIPv6Prefix int

	DefaultPort   int
	MaxAge        time.Duration
	AddrTTL       time.Duration
	AddrTTLVar    int
	PeersPerNode  int
	SocketTimeout time.Duration

	SessionParams wire.Params
	NewSession    SessionFactory
}

// Worker pops candidates off `pending` and attempts a handshake with
// each, one candidate per loop iteration.
type Worker struct {
	cfg     WorkerConfig
	store   Store
	filter  *filter.Filter
	metrics *metrics.Metrics
}

// NewWorker constructs a crawl worker.
func NewWorker(cfg WorkerConfig, st Store, f *filter.Filter, m *metrics.Metrics) *Worker {
	return &Worker{cfg: cfg, store: st, filter: f, metrics: m}
}

// Run processes candidates until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := w.waitForMaster(ctx); err != nil {
			return
		}
		w.step(ctx)
	}
}

// waitForMaster busy-waits on crawl:master:state == "running" with a
// socket_timeout sleep between checks. Master workers never wait.
func (w *Worker) waitForMaster(ctx context.Context) error {
	if w.cfg.Master {
		return nil
	}
	for {
		running, err := w.store.IsRunning(ctx)
		if err != nil {
			slog.Debug("crawler: master state check", "error", err)
		} else if running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.SocketTimeout):
		}
	}
}

func (w *Worker) step(ctx context.Context) {
	member, ok, err := w.store.PopPending(ctx)
	if err != nil {
		slog.Debug("crawler: pop pending", "error", err)
		return
	}
	if !ok {
		sleep(ctx, time.Second)
		return
	}

	cand, err := store.DecodeAddrTuple(member)
	if err != nil {
		slog.Debug("crawler: malformed candidate", "member", member, "error", err)
		return
	}

	// Step 3: discard IPv6 candidates when IPv6 crawling is disabled.
	if isIPv6(cand.Host) && !w.cfg.IPv6Enabled {
		return
	}

	// Step 4: already attempted this cycle.
	probed, err := w.store.ProbedExists(ctx, cand.Host, cand.Port)
	if err != nil {
		slog.Debug("crawler: probed check", "error", err)
		return
	}
	if probed {
		return
	}

	// Step 5: IPv6 prefix fairness cap.
	if isIPv6(cand.Host) && w.cfg.IPv6Prefix < 128 {
		cidr, err := filter.IPToNetwork(cand.Host, w.cfg.IPv6Prefix)
		if err != nil {
			slog.Debug("crawler: cidr compute", "host", cand.Host, "error", err)
			return
		}
		n, err := w.store.IncrCrawlCIDR(ctx, cidr)
		if err != nil {
			slog.Debug("crawler: cidr incr", "error", err)
			return
		}
		if n > int64(w.cfg.NodesPerIPv6Prefix) {
			slog.Debug("crawler: cidr saturated", "cidr", cidr, "count", n)
			return
		}
	}

	// Step 6: write the probed marker before dialing.
	if err := w.store.SetProbed(ctx, cand.Host, cand.Port); err != nil {
		slog.Debug("crawler: set probed", "error", err)
		return
	}

	w.attempt(ctx, cand)
}

func (w *Worker) attempt(ctx context.Context, cand store.AddrTuple) {
	params := w.cfg.SessionParams
	if !strings.HasSuffix(cand.Host, ".onion") {
		params.SOCKSProxies = nil
	}
	session := w.cfg.NewSession(params)
	addr := net.JoinHostPort(cand.Host, strconv.Itoa(cand.Port))

	if err := session.Open(ctx, addr); err != nil {
		slog.Debug("crawler: open", "addr", addr, "error", err)
		w.observeAttempt("open_failed")
		session.Close()
		return
	}

	result, err := session.Handshake(ctx)
	if err != nil {
		slog.Debug("crawler: handshake", "addr", addr, "error", err)
		w.observeAttempt("handshake_failed")
		session.Close()
		return
	}
	defer session.Close()
	w.observeAttempt("success")

	addrBook, cached, err := w.harvest(ctx, session, cand.Host, cand.Port)
	if err != nil {
		slog.Debug("crawler: harvest", "addr", addr, "error", err)
	}

	pending := make([]string, 0, len(addrBook))
	for _, a := range addrBook {
		encoded, err := store.Encode(store.AddrTuple{Host: a.Host, Port: a.Port, Services: a.Services})
		if err != nil {
			continue
		}
		pending = append(pending, encoded)
	}
	if w.metrics != nil && len(addrBook) > 0 {
		source := "harvest"
		if cached {
			source = "cache"
		}
		w.metrics.AddrsHarvestedTotal.WithLabelValues(source).Add(float64(len(addrBook)))
	}

	success := store.CrawlSuccess{
		Host:     cand.Host,
		Port:     cand.Port,
		Services: result.Services,
		Height:   int64(result.Height),
		MaxAge:   w.cfg.MaxAge,
		Version: store.VersionRecord{
			ProtocolVersion: result.ProtocolVersion,
			UserAgent:       result.UserAgent,
			FromServices:    result.Services,
		},
		CacheAddrBook: !cached,
		AddrBook:      addrBook,
		AddrTTL:       w.addrTTL(),
		Pending:       pending,
	}
	if err := w.store.CommitCrawlSuccess(ctx, success); err != nil {
		slog.Debug("crawler: commit crawl success", "addr", addr, "error", err)
	}
}

// harvest returns the peer's address book, reusing the cache when
// available. cached reports whether the result came from
// peer:{host}-{port} rather than a fresh getaddr.
func (w *Worker) harvest(ctx context.Context, session PeerSession, host string, port int) ([]store.GossipedAddr, bool, error) {
	if cached, ok, err := w.store.GetCachedPeerAddrs(ctx, host, port); err == nil && ok {
		return cached, true, nil
	}

	raw, err := w.pollAddrBook(ctx, session)
	if err != nil {
		return nil, false, err
	}
	return w.filterAddrBook(raw, port), false, nil
}

// pollAddrBook sends getaddr and polls for up to socket_timeout
// iterations of 0.3s each, stopping early once a poll returns more
// than one entry.
func (w *Worker) pollAddrBook(ctx context.Context, session PeerSession) ([]wire.GossipedAddr, error) {
	if err := session.GetAddr(); err != nil {
		return nil, err
	}

	iterations := int(w.cfg.SocketTimeout / addrBookPollInterval)
	if iterations < 1 {
		iterations = 1
	}

	var collected []wire.GossipedAddr
	for i := 0; i < iterations; i++ {
		sleep(ctx, addrBookPollInterval)
		if ctx.Err() != nil {
			return collected, ctx.Err()
		}
		batch, err := session.GetMessages(wire.CmdAddr, wire.CmdAddrV2)
		if err != nil {
			return collected, err
		}
		collected = append(collected, batch...)
		if len(batch) > 1 {
			break
		}
	}
	return collected, nil
}

// filterAddrBook applies the age window, the address filter, the
// per-node cap, and the anti-flood reject.
func (w *Worker) filterAddrBook(raw []wire.GossipedAddr, defaultPort int) []store.GossipedAddr {
	if len(raw) > 1000 {
		if w.metrics != nil {
			w.metrics.AddrsHarvestedTotal.WithLabelValues("flood_rejected").Add(float64(len(raw)))
		}
		return nil
	}

	now := time.Now()
	seen := make(map[string]struct{}, len(raw))
	out := make([]store.GossipedAddr, 0, min(len(raw), w.cfg.PeersPerNode))
	for _, g := range raw {
		if len(out) >= w.cfg.PeersPerNode {
			break
		}
		age := now.Sub(g.Timestamp)
		if age < 0 || age > w.cfg.MaxAge {
			continue
		}
		host := g.Host
		if host == "" {
			continue
		}
		port := int(g.Port)
		if port == 0 {
			port = defaultPort
		}
		if w.filter.Excluded(host) {
			continue
		}
		key := fmt.Sprintf("%s-%d", host, port)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, store.GossipedAddr{
			Host:      host,
			Port:      port,
			Services:  g.Services,
			Timestamp: g.Timestamp.Unix(),
		})
	}
	return out
}

// addrTTL returns addr_ttl * (1 + rand[0, addr_ttl_var]/100), the
// cache-write TTL randomization applied to a freshly harvested address
// book.
func (w *Worker) addrTTL() time.Duration {
	if w.cfg.AddrTTLVar <= 0 {
		return w.cfg.AddrTTL
	}
	pct := rand.Intn(w.cfg.AddrTTLVar + 1)
	extra := time.Duration(float64(w.cfg.AddrTTL) * float64(pct) / 100.0)
	return w.cfg.AddrTTL + extra
}

func (w *Worker) observeAttempt(result string) {
	if w.metrics == nil {
		return
	}
	w.metrics.CrawlAttemptsTotal.WithLabelValues(result).Inc()
}

func isIPv6(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() == nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
