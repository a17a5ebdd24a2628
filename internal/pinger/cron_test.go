package pinger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/filter"
	"github.com/ayeowch/netmapper/internal/metrics"
	"github.com/ayeowch/netmapper/internal/snapshot"
	"github.com/ayeowch/netmapper/internal/store"
	"github.com/ayeowch/netmapper/internal/wire"
)

func writeSnapshotFile(t *testing.T, dir string, timestamp int64, entries []snapshot.Entry) string {
	t.Helper()
	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	path := filepath.Join(dir, snapshot.FileName(timestamp))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func TestCronCheckSnapshotQueuesReachable(t *testing.T) {
	dir := t.TempDir()
	writeSnapshotFile(t, dir, 1700000000, []snapshot.Entry{
		{Host: "1.2.3.4", Port: 8333, Services: 1, Height: 700000, UserAgent: "/test:1.0/"},
	})

	st := newFakeStore()
	cfg := &config.PingerConfig{CommonConfig: config.CommonConfig{CrawlDir: dir, SocketTimeout: time.Millisecond}}
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})
	m := metrics.New("test", "go1.test")
	worker := NewWorker(WorkerConfig{}, st, f, m)
	pool := NewPool(1)
	c := NewCron(cfg, st, worker, pool, true)

	c.checkSnapshot(context.Background())

	if len(st.reachable) != 1 {
		t.Fatalf("expected 1 reachable entry queued, got %d", len(st.reachable))
	}
	if len(st.published) != 1 {
		t.Errorf("expected a snapshot publish notification, got %d", len(st.published))
	}
}

func TestCronCheckSnapshotIgnoresUnchangedSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeSnapshotFile(t, dir, 1700000000, []snapshot.Entry{
		{Host: "1.2.3.4", Port: 8333, Services: 1, Height: 700000},
	})

	st := newFakeStore()
	cfg := &config.PingerConfig{CommonConfig: config.CommonConfig{CrawlDir: dir, SocketTimeout: time.Millisecond}}
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})
	m := metrics.New("test", "go1.test")
	worker := NewWorker(WorkerConfig{}, st, f, m)
	pool := NewPool(1)
	c := NewCron(cfg, st, worker, pool, true)

	c.checkSnapshot(context.Background())
	c.checkSnapshot(context.Background())

	if len(st.published) != 1 {
		t.Errorf("expected exactly 1 publish across two calls with no new snapshot, got %d", len(st.published))
	}
}

func TestCronCheckSnapshotSkipsAlreadyOpenPeers(t *testing.T) {
	dir := t.TempDir()
	writeSnapshotFile(t, dir, 1700000000, []snapshot.Entry{
		{Host: "1.2.3.4", Port: 8333, Services: 1, Height: 700000},
		{Host: "5.6.7.8", Port: 8333, Services: 1, Height: 700000},
	})

	st := newFakeStore()
	st.open[openKey("1.2.3.4", 8333)] = true
	cfg := &config.PingerConfig{CommonConfig: config.CommonConfig{CrawlDir: dir, SocketTimeout: time.Millisecond}}
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})
	m := metrics.New("test", "go1.test")
	worker := NewWorker(WorkerConfig{}, st, f, m)
	pool := NewPool(1)
	c := NewCron(cfg, st, worker, pool, true)

	c.checkSnapshot(context.Background())

	if len(st.reachable) != 1 {
		t.Fatalf("expected 1 reachable entry queued (open peer skipped), got %d", len(st.reachable))
	}
	if st.reachable[0].Host != "5.6.7.8" {
		t.Errorf("expected the not-yet-open peer to be queued, got %q", st.reachable[0].Host)
	}
}

func TestFillPoolSpawnsUpToCapacity(t *testing.T) {
	st := newFakeStore()
	st.reachable = []store.ReachableEntry{
		{Host: "1.2.3.4", Port: 8333},
		{Host: "5.6.7.8", Port: 8333},
		{Host: "9.10.11.12", Port: 8333},
	}

	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})
	m := metrics.New("test", "go1.test")
	worker := NewWorker(WorkerConfig{NewSession: func(wire.Params) PeerSession {
		return &fakeSession{openErr: context.DeadlineExceeded}
	}}, st, f, m)

	pool := NewPool(2)
	cfg := &config.PingerConfig{}
	c := NewCron(cfg, st, worker, pool, false)

	c.fillPool(context.Background())
	pool.Wait()

	if len(st.reachable) != 1 {
		t.Errorf("expected fillPool to drain 2 of 3 candidates (pool size 2), %d left", len(st.reachable))
	}
}
