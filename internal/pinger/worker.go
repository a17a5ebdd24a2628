package pinger

import (
	"context"
	"errors"
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

// sinkInterval is how often a live session drains inventory traffic
// between ping/version checks (original_source/ping.py's keepalive
// loop: "gevent.sleep(0.1)").
const sinkInterval = 100 * time.Millisecond

// WorkerConfig configures the pinger's per-peer keepalive sessions.
type WorkerConfig struct {
	IPv6Prefix         int
	NodesPerIPv6Prefix int

	Onion bool

	PingDelay    time.Duration
	VersionDelay time.Duration
	RTTTTL       time.Duration
	InvTTL       time.Duration

	SessionParams wire.Params
	NewSession    SessionFactory
}

// Worker drives one keepalive session per reachable candidate popped
// from the store. A single Worker is shared by every
// concurrently running session spawned through Pool; all per-session
// state lives on the stack of RunOne/keepalive, never on Worker
// itself.
type Worker struct {
	cfg     WorkerConfig
	store   Store
	filter  *filter.Filter
	metrics *metrics.Metrics
}

// NewWorker constructs a pinger worker.
func NewWorker(cfg WorkerConfig, st Store, f *filter.Filter, m *metrics.Metrics) *Worker {
	if cfg.PingDelay == 0 {
		cfg.PingDelay = 30 * time.Second
	}
	return &Worker{cfg: cfg, store: st, filter: f, metrics: m}
}

// RunOne establishes and maintains a session with one reachable
// candidate, blocking until the session ends or ctx is cancelled.
// Every exit path releases whatever it acquired: the per-prefix
// counter, the `open` membership, and the underlying socket
// (original_source/ping.py's task(), with the cleanup made
// unconditional via defer instead of re-derived on every return).
func (w *Worker) RunOne(ctx context.Context, cand store.ReachableEntry) {
	var cidr string
	if isIPv6(cand.Host) && w.cfg.IPv6Prefix < 128 {
		var err error
		cidr, err = filter.IPToNetwork(cand.Host, w.cfg.IPv6Prefix)
		if err != nil {
			slog.Debug("pinger: cidr compute", "host", cand.Host, "error", err)
			return
		}
		n, err := w.store.IncrPingCIDR(ctx, cidr)
		if err != nil {
			slog.Debug("pinger: cidr incr", "error", err)
			return
		}
		if n > int64(w.cfg.NodesPerIPv6Prefix) {
			slog.Debug("pinger: cidr saturated", "cidr", cidr, "count", n)
			w.store.DecrPingCIDR(ctx, cidr)
			return
		}
	}
	defer func() {
		if cidr != "" {
			if err := w.store.DecrPingCIDR(ctx, cidr); err != nil {
				slog.Debug("pinger: cidr decr", "error", err)
			}
		}
	}()

	opened, err := w.store.TryOpen(ctx, cand.Host, cand.Port)
	if err != nil {
		slog.Debug("pinger: try open", "error", err)
		return
	}
	if !opened {
		slog.Debug("pinger: connection exists", "host", cand.Host, "port", cand.Port)
		return
	}
	defer func() {
		if err := w.store.CloseSession(ctx, cand.Host, cand.Port); err != nil {
			slog.Debug("pinger: close session", "error", err)
		}
	}()

	params := w.cfg.SessionParams
	params.StartHeight = int32(cand.Height)
	if !(w.cfg.Onion && strings.HasSuffix(cand.Host, ".onion")) {
		params.SOCKSProxies = nil
	}

	session := w.cfg.NewSession(params)
	defer session.Close()

	addr := net.JoinHostPort(cand.Host, strconv.Itoa(cand.Port))
	if err := session.Open(ctx, addr); err != nil {
		slog.Debug("pinger: open", "addr", addr, "error", err)
		w.observeAttempt("open_failed")
		return
	}

	result, err := session.Handshake(ctx)
	if err != nil {
		slog.Debug("pinger: handshake", "addr", addr, "error", err)
		w.observeAttempt("handshake_failed")
		return
	}
	w.observeAttempt("success")

	if strings.HasSuffix(cand.Host, ".onion") {
		if localPort := session.LocalPort(); localPort != 0 {
			if err := w.store.SetOnionLocalPort(ctx, localPort, cand.Host, cand.Port, w.cfg.RTTTTL); err != nil {
				slog.Debug("pinger: set onion local port", "error", err)
			}
		}
	}

	if w.metrics != nil {
		w.metrics.OpenConnections.Inc()
		defer w.metrics.OpenConnections.Dec()
	}

	w.keepalive(ctx, session, cand, result)
}

// keepalive runs the ping/version/sink loop until the peer errors out
// or the session is cancelled, grounded on original_source/ping.py's
// Keepalive.keepalive.
func (w *Worker) keepalive(ctx context.Context, session PeerSession, cand store.ReachableEntry, handshake wire.HandshakeResult) {
	now := time.Now()
	lastPing := now
	lastVersion := now

	entry := store.OpenEntry{
		Host:      cand.Host,
		Port:      cand.Port,
		UserAgent: handshake.UserAgent,
		StartTime: now.Unix(),
		Services:  handshake.Services,
	}
	if err := w.store.SetOpendata(ctx, entry); err != nil {
		slog.Debug("pinger: set opendata", "error", err)
	}

	ticker := time.NewTicker(sinkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if tick.Sub(lastPing) > w.cfg.PingDelay {
				lastPing = tick
				if !w.doPing(ctx, session, cand) {
					return
				}
			}
			if tick.Sub(lastVersion) > w.cfg.VersionDelay {
				lastVersion = tick
				w.doVersionRefresh(ctx, &entry)
			}
			if !w.doSink(ctx, session, cand) {
				return
			}
		}
	}
}

func (w *Worker) doPing(ctx context.Context, session PeerSession, cand store.ReachableEntry) bool {
	nonce := rand.Uint64()
	if err := session.Ping(nonce); err != nil {
		slog.Info("pinger: closing (ping failed)", "host", cand.Host, "port", cand.Port, "error", err)
		return false
	}
	sendTimeMs := time.Now().UnixMilli()
	if err := w.store.RecordPingSent(ctx, cand.Host, cand.Port, nonce, sendTimeMs, w.cfg.RTTTTL); err != nil {
		slog.Debug("pinger: record ping sent", "error", err)
	}
	if w.metrics != nil {
		w.metrics.PingAttemptsTotal.WithLabelValues("sent").Inc()
	}
	return true
}

func (w *Worker) doVersionRefresh(ctx context.Context, entry *store.OpenEntry) {
	rec, ok, err := w.store.GetVersion(ctx, entry.Host, entry.Port)
	if err != nil || !ok {
		return
	}
	if rec.UserAgent == "" || rec.FromServices == 0 {
		return
	}
	if entry.UserAgent == rec.UserAgent && entry.Services == rec.FromServices {
		return
	}
	entry.UserAgent = rec.UserAgent
	entry.Services = rec.FromServices
	if err := w.store.SetOpendata(ctx, *entry); err != nil {
		slog.Debug("pinger: update opendata", "error", err)
	}
}

func (w *Worker) doSink(ctx context.Context, session PeerSession, cand store.ReachableEntry) bool {
	items, err := session.Sink()
	if err != nil {
		var connErr *wire.ConnectionError
		if errors.As(err, &connErr) {
			slog.Info("pinger: closing (sink failed)", "host", cand.Host, "port", cand.Port, "error", err)
			return false
		}
		slog.Debug("pinger: sink", "error", err)
		return false
	}
	now := time.Now().UnixMilli()
	for _, item := range items {
		if item.Type != wire.InvBlock {
			continue
		}
		hash := hashHex(item.Hash)
		member := cand.Host + "-" + strconv.Itoa(cand.Port)
		if err := w.store.UpsertBlockInvLT(ctx, hash, member, now, w.cfg.InvTTL); err != nil {
			slog.Debug("pinger: upsert block inv", "error", err)
		}
		if w.metrics != nil {
			w.metrics.BlockInvTotal.Inc()
		}
	}
	return true
}

func (w *Worker) observeAttempt(result string) {
	if w.metrics == nil {
		return
	}
	w.metrics.PingAttemptsTotal.WithLabelValues(result).Inc()
}

func hashHex(h [32]byte) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

func isIPv6(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.To4() == nil
}
