package crawler

import (
	"context"
	"testing"

	"github.com/ayeowch/netmapper/internal/config"
	"github.com/ayeowch/netmapper/internal/filter"
)

func TestSeedAddsOnionNodesWhenEnabled(t *testing.T) {
	st := newFakeStore()
	cfg := &config.CrawlerConfig{
		Port:       8333,
		CommonConfig: config.CommonConfig{Onion: true},
		OnionNodes: []string{"abcdefghijklmnop.onion"},
	}
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})

	if err := Seed(context.Background(), cfg, f, st, 1); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(st.pending) != 1 {
		t.Fatalf("expected 1 seeded entry, got %d", len(st.pending))
	}
}

func TestSeedSkipsOnionNodesWhenDisabled(t *testing.T) {
	st := newFakeStore()
	cfg := &config.CrawlerConfig{
		Port:       8333,
		OnionNodes: []string{"abcdefghijklmnop.onion"},
	}
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})

	if err := Seed(context.Background(), cfg, f, st, 1); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(st.pending) != 0 {
		t.Errorf("expected no seeded entries, got %d", len(st.pending))
	}
}

func TestSeedWithNoSeedersOrOnionIsNoop(t *testing.T) {
	st := newFakeStore()
	cfg := &config.CrawlerConfig{Port: 8333}
	f := filter.New(filter.Tables{}, filter.StaticASNResolver{})

	if err := Seed(context.Background(), cfg, f, st, 1); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(st.pending) != 0 {
		t.Errorf("expected no seeded entries, got %d", len(st.pending))
	}
}
