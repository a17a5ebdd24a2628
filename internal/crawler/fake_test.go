package crawler

import (
	"context"
	"sync"

	"github.com/ayeowch/netmapper/internal/store"
	"github.com/ayeowch/netmapper/internal/wire"
)

// fakeStore is an in-memory stand-in for *store.Store used across the
// crawler package's tests.
type fakeStore struct {
	mu sync.Mutex

	pending []string
	probed  map[string]bool
	cidr    map[string]int64
	running bool
	state   string

	cachedAddrs map[string][]store.GossipedAddr
	commits     []store.CrawlSuccess

	heights  map[string]int64
	versions map[string]store.VersionRecord

	upMembers []string
	checked   []string
	history   []int

	deletedPatterns []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		probed:      make(map[string]bool),
		cidr:        make(map[string]int64),
		cachedAddrs: make(map[string][]store.GossipedAddr),
		heights:     make(map[string]int64),
		versions:    make(map[string]store.VersionRecord),
	}
}

func (f *fakeStore) IsRunning(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

func (f *fakeStore) SetMasterState(ctx context.Context, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.running = state == "running"
	return nil
}

func (f *fakeStore) PopPending(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return "", false, nil
	}
	m := f.pending[0]
	f.pending = f.pending[1:]
	return m, true, nil
}

func (f *fakeStore) AddPending(ctx context.Context, members ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, members...)
	return nil
}

func (f *fakeStore) PendingCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending)), nil
}

func (f *fakeStore) ProbedExists(ctx context.Context, host string, port int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probed[store.NodeKey(host, port)], nil
}

func (f *fakeStore) SetProbed(ctx context.Context, host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed[store.NodeKey(host, port)] = true
	return nil
}

func (f *fakeStore) IncrCrawlCIDR(ctx context.Context, cidr string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cidr[cidr]++
	return f.cidr[cidr], nil
}

func (f *fakeStore) GetCachedPeerAddrs(ctx context.Context, host string, port int) ([]store.GossipedAddr, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addrs, ok := f.cachedAddrs[store.PeerKey(host, port)]
	return addrs, ok, nil
}

func (f *fakeStore) CommitCrawlSuccess(ctx context.Context, c store.CrawlSuccess) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, c)
	f.upMembers = append(f.upMembers, store.UpMember(c.Host, c.Port, c.Services))
	f.heights[store.HeightKey(c.Host, c.Port, c.Services)] = c.Height
	f.versions[store.VersionKey(c.Host, c.Port)] = c.Version
	f.pending = append(f.pending, c.Pending...)
	return nil
}

func (f *fakeStore) GetHeight(ctx context.Context, host string, port int, services uint64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.heights[store.HeightKey(host, port, services)]
	return h, ok, nil
}

func (f *fakeStore) GetVersion(ctx context.Context, host string, port int) (store.VersionRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[store.VersionKey(host, port)]
	return v, ok, nil
}

func (f *fakeStore) SnapshotAndClearUp(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := f.upMembers
	f.upMembers = nil
	return members, nil
}

func (f *fakeStore) DeleteMatchingKeys(ctx context.Context, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedPatterns = append(f.deletedPatterns, pattern)
	return nil
}

func (f *fakeStore) CheckSetEntries(ctx context.Context, minScore, maxScore int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checked, nil
}

func (f *fakeStore) PushHistory(ctx context.Context, timestamp int64, reachableCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, reachableCount)
	return nil
}

var _ Store = (*fakeStore)(nil)

// fakeSession is a scripted PeerSession used by worker tests.
type fakeSession struct {
	openErr      error
	handshakeRes wire.HandshakeResult
	handshakeErr error
	addrBatches  [][]wire.GossipedAddr
	getAddrErr   error
	closed       bool

	batchIndex int
}

func (s *fakeSession) Open(ctx context.Context, addr string) error { return s.openErr }

func (s *fakeSession) Handshake(ctx context.Context) (wire.HandshakeResult, error) {
	return s.handshakeRes, s.handshakeErr
}

func (s *fakeSession) GetAddr() error { return s.getAddrErr }

func (s *fakeSession) GetMessages(commands ...string) ([]wire.GossipedAddr, error) {
	if s.batchIndex >= len(s.addrBatches) {
		return nil, nil
	}
	b := s.addrBatches[s.batchIndex]
	s.batchIndex++
	return b, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

var _ PeerSession = (*fakeSession)(nil)
