package pinger

import (
	"context"
	"sync"
	"time"

	"github.com/ayeowch/netmapper/internal/store"
	"github.com/ayeowch/netmapper/internal/wire"
)

type fakeStore struct {
	mu sync.Mutex

	open     map[string]bool
	opendata map[string]store.OpenEntry
	cidr     map[string]int64

	versions map[string]store.VersionRecord

	pingSent   int
	blockInv   int
	onionPorts map[int]string

	reachable []store.ReachableEntry

	published []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		open:       make(map[string]bool),
		opendata:   make(map[string]store.OpenEntry),
		cidr:       make(map[string]int64),
		versions:   make(map[string]store.VersionRecord),
		onionPorts: make(map[int]string),
	}
}

func openKey(host string, port int) string { return store.OpenMember(host, port) }

func (f *fakeStore) TryOpen(ctx context.Context, host string, port int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := openKey(host, port)
	if f.open[k] {
		return false, nil
	}
	f.open[k] = true
	return true, nil
}

func (f *fakeStore) IsOpen(ctx context.Context, host string, port int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[openKey(host, port)], nil
}

func (f *fakeStore) CloseSession(ctx context.Context, host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := openKey(host, port)
	delete(f.open, k)
	delete(f.opendata, k)
	return nil
}

func (f *fakeStore) SetOpendata(ctx context.Context, entry store.OpenEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opendata[openKey(entry.Host, entry.Port)] = entry
	return nil
}

func (f *fakeStore) IncrPingCIDR(ctx context.Context, cidr string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cidr[cidr]++
	return f.cidr[cidr], nil
}

func (f *fakeStore) DecrPingCIDR(ctx context.Context, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cidr[cidr]--
	return nil
}

func (f *fakeStore) GetVersion(ctx context.Context, host string, port int) (store.VersionRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[store.VersionKey(host, port)]
	return v, ok, nil
}

func (f *fakeStore) RecordPingSent(ctx context.Context, host string, port int, nonce uint64, sendTimeMs int64, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingSent++
	return nil
}

func (f *fakeStore) UpsertBlockInvLT(ctx context.Context, hash, member string, scoreMs int64, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockInv++
	return nil
}

func (f *fakeStore) SetOnionLocalPort(ctx context.Context, localPort int, host string, port int, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onionPorts[localPort] = host
	return nil
}

func (f *fakeStore) AddReachable(ctx context.Context, entries ...store.ReachableEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable = append(f.reachable, entries...)
	return nil
}

func (f *fakeStore) PopReachable(ctx context.Context) (store.ReachableEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reachable) == 0 {
		return store.ReachableEntry{}, false, nil
	}
	e := f.reachable[0]
	f.reachable = f.reachable[1:]
	return e, true, nil
}

func (f *fakeStore) ReachableCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.reachable)), nil
}

func (f *fakeStore) OpenCount(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.open)), nil
}

func (f *fakeStore) PublishSnapshot(ctx context.Context, magic uint32, unixSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, unixSeconds)
	return nil
}

var _ Store = (*fakeStore)(nil)

// fakeSession is a scripted PeerSession for worker tests.
type fakeSession struct {
	mu sync.Mutex

	openErr      error
	handshakeRes wire.HandshakeResult
	handshakeErr error

	pingErrAfter int // ping fails on call number pingErrAfter (1-indexed); 0 = never
	pingCalls    int

	sinkBatches [][]wire.InvItem
	sinkIndex   int
	sinkErr     error

	closed bool
}

func (s *fakeSession) Open(ctx context.Context, addr string) error { return s.openErr }

func (s *fakeSession) Handshake(ctx context.Context) (wire.HandshakeResult, error) {
	return s.handshakeRes, s.handshakeErr
}

func (s *fakeSession) Ping(nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingCalls++
	if s.pingErrAfter > 0 && s.pingCalls >= s.pingErrAfter {
		return context.DeadlineExceeded
	}
	return nil
}

func (s *fakeSession) Sink() ([]wire.InvItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sinkErr != nil {
		return nil, s.sinkErr
	}
	if s.sinkIndex >= len(s.sinkBatches) {
		return nil, nil
	}
	b := s.sinkBatches[s.sinkIndex]
	s.sinkIndex++
	return b, nil
}

func (s *fakeSession) LocalPort() int { return 0 }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ PeerSession = (*fakeSession)(nil)
