package crawler

import (
	"context"

	"github.com/ayeowch/netmapper/internal/store"
)

// Store is the subset of *store.Store the crawler depends on. Narrowed
// to an interface so worker and cron logic can be tested against a
// fake without a live coordination store.
type Store interface {
	IsRunning(ctx context.Context) (bool, error)
	SetMasterState(ctx context.Context, state string) error

	PopPending(ctx context.Context) (member string, ok bool, err error)
	AddPending(ctx context.Context, members ...string) error
	PendingCount(ctx context.Context) (int64, error)

	ProbedExists(ctx context.Context, host string, port int) (bool, error)
	SetProbed(ctx context.Context, host string, port int) error

	IncrCrawlCIDR(ctx context.Context, cidr string) (int64, error)

	GetCachedPeerAddrs(ctx context.Context, host string, port int) (addrs []store.GossipedAddr, ok bool, err error)

	CommitCrawlSuccess(ctx context.Context, c store.CrawlSuccess) error

	GetHeight(ctx context.Context, host string, port int, services uint64) (height int64, ok bool, err error)
	GetVersion(ctx context.Context, host string, port int) (rec store.VersionRecord, ok bool, err error)

	SnapshotAndClearUp(ctx context.Context) ([]string, error)
	DeleteMatchingKeys(ctx context.Context, pattern string) error
	CheckSetEntries(ctx context.Context, minScore, maxScore int64) ([]string, error)
	PushHistory(ctx context.Context, timestamp int64, reachableCount int) error
}

// assertion that *store.Store satisfies Store; keeps the interface and
// the concrete client honest at compile time.
var _ Store = (*store.Store)(nil)
