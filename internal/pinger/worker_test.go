package pinger

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
		PingDelay:    10 * time.Millisecond,
		VersionDelay: time.Hour,
		RTTTTL:       time.Hour,
		InvTTL:       time.Hour,
		NewSession:   factory,
	}
	return NewWorker(cfg, st, f, m)
}

func TestRunOneSkipsWhenAlreadyOpen(t *testing.T) {
	st := newFakeStore()
	st.open[openKey("1.2.3.4", 8333)] = true

	dialed := false
	w := testWorker(t, st, func(wire.Params) PeerSession {
		dialed = true
		return &fakeSession{}
	})
	w.RunOne(context.Background(), store.ReachableEntry{Host: "1.2.3.4", Port: 8333})

	if dialed {
		t.Error("should not dial a candidate that is already open")
	}
}

func TestRunOneClosesOnOpenFailure(t *testing.T) {
	st := newFakeStore()
	session := &fakeSession{openErr: context.DeadlineExceeded}
	w := testWorker(t, st, func(wire.Params) PeerSession { return session })

	w.RunOne(context.Background(), store.ReachableEntry{Host: "1.2.3.4", Port: 8333})

	if !session.closed {
		t.Error("session should be closed after a failed open")
	}
	if st.open[openKey("1.2.3.4", 8333)] {
		t.Error("open membership should be released on failure")
	}
}

func TestRunOneExitsWhenPingFails(t *testing.T) {
	st := newFakeStore()
	session := &fakeSession{
		handshakeRes: wire.HandshakeResult{ProtocolVersion: 70016, UserAgent: "/test:1.0/", Services: 1},
		pingErrAfter: 1,
	}
	w := testWorker(t, st, func(wire.Params) PeerSession { return session })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.RunOne(ctx, store.ReachableEntry{Host: "1.2.3.4", Port: 8333})

	if st.open[openKey("1.2.3.4", 8333)] {
		t.Error("open membership should be released once the session ends")
	}
	if session.pingCalls == 0 {
		t.Error("expected at least one ping attempt")
	}
}

func TestDoSinkRecordsBlockInventory(t *testing.T) {
	st := newFakeStore()
	w := testWorker(t, st, nil)

	session := &fakeSession{
		sinkBatches: [][]wire.InvItem{
			{{Type: wire.InvBlock, Hash: [32]byte{1}}, {Type: 99, Hash: [32]byte{2}}},
		},
	}
	ok := w.doSink(context.Background(), session, store.ReachableEntry{Host: "1.2.3.4", Port: 8333})
	if !ok {
		t.Fatal("doSink should report success")
	}
	if st.blockInv != 1 {
		t.Errorf("expected 1 block inv recorded, got %d", st.blockInv)
	}
}

func TestDoVersionRefreshUpdatesOnChange(t *testing.T) {
	st := newFakeStore()
	st.versions[store.VersionKey("1.2.3.4", 8333)] = store.VersionRecord{UserAgent: "/new:2.0/", FromServices: 9}
	w := testWorker(t, st, nil)

	entry := &store.OpenEntry{Host: "1.2.3.4", Port: 8333, UserAgent: "/old:1.0/", Services: 1}
	w.doVersionRefresh(context.Background(), entry)

	if entry.UserAgent != "/new:2.0/" || entry.Services != 9 {
		t.Errorf("expected opendata entry to be refreshed, got %+v", entry)
	}
}

func TestHashHex(t *testing.T) {
	var h [32]byte
	h[0] = 0xde
	h[1] = 0xad
	got := hashHex(h)
	want := "dead" + "000000000000000000000000000000000000000000000000000000000000"
	if got != want {
		t.Errorf("hashHex = %q, want %q", got, want)
	}
}
