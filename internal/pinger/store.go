// Package pinger implements the long-lived session keepalive loop: one
// goroutine per reachable peer that pings, refreshes version info, and
// drains inventory gossip for as long as the connection survives.
package pinger

import (
	"context"
	"time"

	"github.com/ayeowch/netmapper/internal/store"
)

// Store is the subset of *store.Store the pinger depends on.
type Store interface {
	TryOpen(ctx context.Context, host string, port int) (inserted bool, err error)
	IsOpen(ctx context.Context, host string, port int) (bool, error)
	CloseSession(ctx context.Context, host string, port int) error
	SetOpendata(ctx context.Context, entry store.OpenEntry) error

	IncrPingCIDR(ctx context.Context, cidr string) (int64, error)
	DecrPingCIDR(ctx context.Context, cidr string) error

	GetVersion(ctx context.Context, host string, port int) (rec store.VersionRecord, ok bool, err error)

	RecordPingSent(ctx context.Context, host string, port int, nonce uint64, sendTimeMs int64, ttl time.Duration) error

	UpsertBlockInvLT(ctx context.Context, hash, member string, scoreMs int64, ttl time.Duration) error

	SetOnionLocalPort(ctx context.Context, localPort int, host string, port int, ttl time.Duration) error

	AddReachable(ctx context.Context, entries ...store.ReachableEntry) error
	PopReachable(ctx context.Context) (entry store.ReachableEntry, ok bool, err error)
	ReachableCount(ctx context.Context) (int64, error)
	OpenCount(ctx context.Context) (int64, error)

	PublishSnapshot(ctx context.Context, magic uint32, unixSeconds int64) error
}

var _ Store = (*store.Store)(nil)
