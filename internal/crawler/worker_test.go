package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/metrics"
	"github.com/ayeowch/netmapper/internal/store"
	"github.com/ayeowch/netmapper/internal/wire"
)

func testWorker(t *testing.T, st Store, factory SessionFactory) *Worker {
	t.Helper()
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})
	m := metrics.New("test", "go1.test")
	cfg := WorkerConfig{
		DefaultPort:   8333,
		MaxAge:        3 * time.Hour,
		AddrTTL:       time.Hour,
		PeersPerNode:  10,
		SocketTimeout: addrBookPollInterval,
		NewSession:    factory,
	}
	return NewWorker(cfg, st, f, m)
}

func TestWorkerStepPopsAndDiscardsIPv6WhenDisabled(t *testing.T) {
	st := newFakeStore()
	encoded, _ := store.Encode(store.AddrTuple{Host: "2001:db8::1", Port: 8333, Services: 1})
	st.pending = []string{encoded}

	w := testWorker(t, st, func(wire.Params) PeerSession {
		t.Fatal("should not dial an IPv6 candidate when IPv6 is disabled")
		return nil
	})
	w.step(context.Background())

	if len(st.commits) != 0 {
		t.Errorf("expected no crawl attempt, got %d commits", len(st.commits))
	}
}

func TestWorkerStepSkipsAlreadyProbed(t *testing.T) {
	st := newFakeStore()
	encoded, _ := store.Encode(store.AddrTuple{Host: "1.2.3.4", Port: 8333, Services: 1})
	st.pending = []string{encoded}
	st.probed[store.NodeKey("1.2.3.4", 8333)] = true

	dialed := false
	w := testWorker(t, st, func(wire.Params) PeerSession {
		dialed = true
		return &fakeSession{}
	})
	w.step(context.Background())

	if dialed {
		t.Error("should not dial an already-probed candidate")
	}
}

func TestWorkerAttemptSuccessCommitsHarvest(t *testing.T) {
	st := newFakeStore()
	encoded, _ := store.Encode(store.AddrTuple{Host: "1.2.3.4", Port: 8333, Services: 1})
	st.pending = []string{encoded}

	session := &fakeSession{
		handshakeRes: wire.HandshakeResult{ProtocolVersion: 70016, UserAgent: "/test:1.0/", Services: 1, Height: 700000},
		addrBatches: [][]wire.GossipedAddr{
			{
				{Host: "5.6.7.8", Port: 8333, Services: 1, Timestamp: time.Now()},
				{Host: "9.10.11.12", Port: 8333, Services: 1, Timestamp: time.Now()},
			},
		},
	}
	w := testWorker(t, st, func(wire.Params) PeerSession { return session })
	w.step(context.Background())

	if len(st.commits) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(st.commits))
	}
	commit := st.commits[0]
	if commit.Host != "1.2.3.4" || commit.Height != 700000 {
		t.Errorf("unexpected commit: %+v", commit)
	}
	if len(commit.AddrBook) != 2 {
		t.Errorf("expected 2 harvested addrs, got %d", len(commit.AddrBook))
	}
	if !session.closed {
		t.Error("session was not closed")
	}
}

func TestWorkerAttemptOpenFailureSkipsCommit(t *testing.T) {
	st := newFakeStore()
	encoded, _ := store.Encode(store.AddrTuple{Host: "1.2.3.4", Port: 8333, Services: 1})
	st.pending = []string{encoded}

	session := &fakeSession{openErr: context.DeadlineExceeded}
	w := testWorker(t, st, func(wire.Params) PeerSession { return session })
	w.step(context.Background())

	if len(st.commits) != 0 {
		t.Errorf("expected no commits on open failure, got %d", len(st.commits))
	}
	if !session.closed {
		t.Error("session should be closed even after a failed open")
	}
}

func TestWorkerHarvestUsesCache(t *testing.T) {
	st := newFakeStore()
	cached := []store.GossipedAddr{{Host: "5.6.7.8", Port: 8333, Services: 1}}
	st.cachedAddrs[store.PeerKey("1.2.3.4", 8333)] = cached

	session := &fakeSession{}
	w := testWorker(t, st, func(wire.Params) PeerSession { return session })

	addrs, fromCache, err := w.harvest(context.Background(), session, "1.2.3.4", 8333)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if !fromCache {
		t.Error("expected harvest to report a cache hit")
	}
	if len(addrs) != 1 || addrs[0].Host != "5.6.7.8" {
		t.Errorf("unexpected addrs: %+v", addrs)
	}
}

func TestFilterAddrBookDropsStaleAndExcluded(t *testing.T) {
	f := filter.New(filter.Tables{ExcludePrivate: true}, filter.StaticASNResolver{})
	w := &Worker{
		cfg: WorkerConfig{MaxAge: time.Hour, PeersPerNode: 10},
		filter: f,
	}

	now := time.Now()
	raw := []wire.GossipedAddr{
		{Host: "1.2.3.4", Port: 8333, Timestamp: now},
		{Host: "10.0.0.1", Port: 8333, Timestamp: now}, // private, excluded
		{Host: "5.6.7.8", Port: 8333, Timestamp: now.Add(-2 * time.Hour)}, // stale
		{Host: "1.2.3.4", Port: 8333, Timestamp: now}, // duplicate
	}
	out := w.filterAddrBook(raw, 8333)
	if len(out) != 1 || out[0].Host != "1.2.3.4" {
		t.Errorf("filterAddrBook = %+v, want exactly [1.2.3.4]", out)
	}
}

func TestFilterAddrBookRejectsFlood(t *testing.T) {
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})
	w := &Worker{cfg: WorkerConfig{MaxAge: time.Hour, PeersPerNode: 10}, filter: f}

	raw := make([]wire.GossipedAddr, 1001)
	for i := range raw {
		raw[i] = wire.GossipedAddr{Host: "1.2.3.4", Port: 8333, Timestamp: time.Now()}
	}
	if out := w.filterAddrBook(raw, 8333); out != nil {
		t.Errorf("expected nil for flood batch, got %d entries", len(out))
	}
}

func TestIsIPv6(t *testing.T) {
	cases := map[string]bool{
		"1.2.3.4":        false,
		"2001:db8::1":    true,
		"not-an-address": false,
	}
	for host, want := range cases {
		if got := isIPv6(host); got != want {
			t.Errorf("isIPv6(%q) = %v, want %v", host, got, want)
		}
	}
}
