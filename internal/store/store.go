// Package store implements the coordination state model:
// the shared keyspace, sets, sorted sets, counters, and pub/sub channel
// that let many crawler and pinger worker processes cooperate without
// direct RPC. It is a thin, typed layer over a Redis-protocol client —
// the only requirement on the store is atomic set/counter/TTL
// primitives, a sorted-set LT-insert, keyspace scan, and pub/sub, all
// of which Redis provides natively.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client with the operations the crawler and pinger
// need. All multi-step transitions that the requirements requires to be atomic
// are issued as a single pipelined batch (see CommitCrawlSuccess,
// CloseSession and SnapshotAndClearUp).
type Store struct {
	rdb *redis.Client
}

// Config is the minimal connection configuration for a Store.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New opens a connection to the coordination store. It does not verify
// connectivity; callers should Ping.
func New(cfg Config) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Ping verifies the store is reachable. A failure here is the
// "coordination store unavailable" error kind: fatal to the
// current worker.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// --- pending / candidate queue ---------------------------------------

// PopPending atomically removes and returns one arbitrary member of
// `pending`. Returns ok=false if the set was empty.
func (s *Store) PopPending(ctx context.Context) (member string, ok bool, err error) {
	member, err = s.rdb.SPop(ctx, KeyPending).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: spop pending: %v", ErrUnavailable, err)
	}
	return member, true, nil
}

// AddPending enqueues one or more candidates.
func (s *Store) AddPending(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SAdd(ctx, KeyPending, args...).Err(); err != nil {
		return fmt.Errorf("%w: sadd pending: %v", ErrUnavailable, err)
	}
	return nil
}

// PendingCount reports the current candidate queue size.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, KeyPending).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: scard pending: %v", ErrUnavailable, err)
	}
	return n, nil
}

// --- probed marker / reachable marker ----------------------------------

// ProbedExists reports whether this host:port was already attempted this
// cycle.
func (s *Store) ProbedExists(ctx context.Context, host string, port int) (bool, error) {
	n, err := s.rdb.Exists(ctx, NodeKey(host, port)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists node: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// SetProbed writes the probed marker for this cycle.
func (s *Store) SetProbed(ctx context.Context, host string, port int) error {
	if err := s.rdb.Set(ctx, NodeKey(host, port), 1, 0).Err(); err != nil {
		return fmt.Errorf("%w: set node: %v", ErrUnavailable, err)
	}
	return nil
}

// MarkReachable writes the reachable marker into `up`.
func (s *Store) MarkReachable(ctx context.Context, host string, port int, services uint64) error {
	if err := s.rdb.SAdd(ctx, KeyUp, UpMember(host, port, services)).Err(); err != nil {
		return fmt.Errorf("%w: sadd up: %v", ErrUnavailable, err)
	}
	return nil
}

// --- IPv6 prefix fairness counters -------------------------------------

// IncrCrawlCIDR atomically increments the crawler-side counter for cidr
// and returns the new value.
func (s *Store) IncrCrawlCIDR(ctx context.Context, cidr string) (int64, error) {
	n, err := s.rdb.Incr(ctx, CrawlCIDRKey(cidr)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr crawl cidr: %v", ErrUnavailable, err)
	}
	return n, nil
}

// IncrPingCIDR atomically increments the pinger-side counter for cidr and
// returns the new value.
func (s *Store) IncrPingCIDR(ctx context.Context, cidr string) (int64, error) {
	n, err := s.rdb.Incr(ctx, PingCIDRKey(cidr)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr ping cidr: %v", ErrUnavailable, err)
	}
	return n, nil
}

// DecrPingCIDR atomically decrements the pinger-side counter for cidr.
// Must be called exactly once per prior successful increment, on
// every exit path.
func (s *Store) DecrPingCIDR(ctx context.Context, cidr string) error {
	if err := s.rdb.Decr(ctx, PingCIDRKey(cidr)).Err(); err != nil {
		return fmt.Errorf("%w: decr ping cidr: %v", ErrUnavailable, err)
	}
	return nil
}

// --- open / opendata (pinger) ------------------------------------------

// TryOpen attempts atomic insertion of (host, port) into `open`. Returns
// inserted=false if it was already a member, in which case the caller must not have incremented anything it
// cannot now undo.
func (s *Store) TryOpen(ctx context.Context, host string, port int) (inserted bool, err error) {
	n, err := s.rdb.SAdd(ctx, KeyOpen, OpenMember(host, port)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: sadd open: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// IsOpen reports whether (host, port) is currently a member of `open`,
// i.e. already has a live keepalive session, without mutating the set.
func (s *Store) IsOpen(ctx context.Context, host string, port int) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, KeyOpen, OpenMember(host, port)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: sismember open: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// CloseSession removes (host, port) from `open` and its entry from
// `opendata` in a single pipelined batch.
func (s *Store) CloseSession(ctx context.Context, host string, port int) error {
	pipe := s.rdb.Pipeline()
	pipe.SRem(ctx, KeyOpen, OpenMember(host, port))
	pipe.HDel(ctx, KeyOpendata, OpenMember(host, port))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: close session pipeline: %v", ErrUnavailable, err)
	}
	return nil
}

// SetOpendata records/updates observability fields for an open session.
// opendata is modeled as a hash keyed by "host-port" rather than a flat
// set of tuples, since fields update in place as a session's observed
// user agent or version info changes mid-session.
func (s *Store) SetOpendata(ctx context.Context, entry OpenEntry) error {
	encoded, err := Encode(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, KeyOpendata, OpenMember(entry.Host, entry.Port), encoded).Err(); err != nil {
		return fmt.Errorf("%w: hset opendata: %v", ErrUnavailable, err)
	}
	return nil
}

// OpenCount reports the number of live pinger sessions.
func (s *Store) OpenCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, KeyOpen).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: scard open: %v", ErrUnavailable, err)
	}
	return n, nil
}

// --- reachable set (pinger) ---------------------------------------------

// AddReachable enqueues an encoded ReachableEntry for pinging.
func (s *Store) AddReachable(ctx context.Context, entries ...ReachableEntry) error {
	if len(entries) == 0 {
		return nil
	}
	args := make([]any, 0, len(entries))
	for _, e := range entries {
		encoded, err := Encode(e)
		if err != nil {
			return err
		}
		args = append(args, encoded)
	}
	if err := s.rdb.SAdd(ctx, KeyReachable, args...).Err(); err != nil {
		return fmt.Errorf("%w: sadd reachable: %v", ErrUnavailable, err)
	}
	return nil
}

// PopReachable atomically pops one candidate from `reachable`.
func (s *Store) PopReachable(ctx context.Context) (entry ReachableEntry, ok bool, err error) {
	raw, err := s.rdb.SPop(ctx, KeyReachable).Result()
	if err == redis.Nil {
		return ReachableEntry{}, false, nil
	}
	if err != nil {
		return ReachableEntry{}, false, fmt.Errorf("%w: spop reachable: %v", ErrUnavailable, err)
	}
	entry, err = DecodeReachableEntry(raw)
	if err != nil {
		return ReachableEntry{}, false, err
	}
	return entry, true, nil
}

// ReachableCount reports the size of the `reachable` set.
func (s *Store) ReachableCount(ctx context.Context) (int64, error) {
	n, err := s.rdb.SCard(ctx, KeyReachable).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: scard reachable: %v", ErrUnavailable, err)
	}
	return n, nil
}

// --- version / height records --------------------------------------------

// SetVersion writes the version record for a peer with the given TTL.
func (s *Store) SetVersion(ctx context.Context, host string, port int, rec VersionRecord, ttl time.Duration) error {
	encoded, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, VersionKey(host, port), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set version: %v", ErrUnavailable, err)
	}
	return nil
}

// GetVersion reads the version record for a peer, if present.
func (s *Store) GetVersion(ctx context.Context, host string, port int) (rec VersionRecord, ok bool, err error) {
	raw, err := s.rdb.Get(ctx, VersionKey(host, port)).Result()
	if err == redis.Nil {
		return VersionRecord{}, false, nil
	}
	if err != nil {
		return VersionRecord{}, false, fmt.Errorf("%w: get version: %v", ErrUnavailable, err)
	}
	rec, err = DecodeVersionRecord(raw)
	if err != nil {
		return VersionRecord{}, false, err
	}
	return rec, true, nil
}

// SetHeight writes the height record for a peer with the given TTL.
func (s *Store) SetHeight(ctx context.Context, host string, port int, services uint64, height int64, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, HeightKey(host, port, services), height, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set height: %v", ErrUnavailable, err)
	}
	return nil
}

// GetHeight reads the height record for a peer, if present.
func (s *Store) GetHeight(ctx context.Context, host string, port int, services uint64) (height int64, ok bool, err error) {
	height, err = s.rdb.Get(ctx, HeightKey(host, port, services)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get height: %v", ErrUnavailable, err)
	}
	return height, true, nil
}

// --- address book cache --------------------------------------------------

// GetCachedPeerAddrs reads the cached address book for a peer, if live.
func (s *Store) GetCachedPeerAddrs(ctx context.Context, host string, port int) (addrs []GossipedAddr, ok bool, err error) {
	raw, err := s.rdb.Get(ctx, PeerKey(host, port)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get peer cache: %v", ErrUnavailable, err)
	}
	list, err := DecodeGossipedAddrList(raw)
	if err != nil {
		return nil, false, err
	}
	return list, true, nil
}

// SetCachedPeerAddrs writes the address book cache for a peer with the
// given TTL.
func (s *Store) SetCachedPeerAddrs(ctx context.Context, host string, port int, addrs []GossipedAddr, ttl time.Duration) error {
	encoded, err := Encode(addrs)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, PeerKey(host, port), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set peer cache: %v", ErrUnavailable, err)
	}
	return nil
}

// --- master state flag ----------------------------------------------------

// SetMasterState sets crawl:master:state.
func (s *Store) SetMasterState(ctx context.Context, state string) error {
	if err := s.rdb.Set(ctx, KeyMasterState, state, 0).Err(); err != nil {
		return fmt.Errorf("%w: set master state: %v", ErrUnavailable, err)
	}
	return nil
}

// IsRunning reports whether crawl:master:state == "running".
func (s *Store) IsRunning(ctx context.Context) (bool, error) {
	v, err := s.rdb.Get(ctx, KeyMasterState).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get master state: %v", ErrUnavailable, err)
	}
	return v == "running", nil
}

// --- inventory observations (pinger) --------------------------------------

// UpsertBlockInvLT records an inventory observation with LT-semantics:
// the member's score is updated only if the new score is lower than any
// existing score (or absent). Concurrent writers commute.
func (s *Store) UpsertBlockInvLT(ctx context.Context, hash, member string, scoreMs int64, ttl time.Duration) error {
	key := BlockInvKey(hash)
	_, err := s.rdb.ZAddArgs(ctx, key, redis.ZAddArgs{
		LT:      true,
		Members: []redis.Z{{Score: float64(scoreMs), Member: member}},
	}).Result()
	if err != nil {
		return fmt.Errorf("%w: zadd lt binv: %v", ErrUnavailable, err)
	}
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("%w: expire binv: %v", ErrUnavailable, err)
	}
	return nil
}

// --- ping round trip records -----------------------------------------------

// RecordPingSent writes the send-time record for an in-flight ping.
func (s *Store) RecordPingSent(ctx context.Context, host string, port int, nonce uint64, sendTimeMs int64, ttl time.Duration) error {
	key := PingKey(host, port, nonce)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, sendTimeMs)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: record ping sent: %v", ErrUnavailable, err)
	}
	return nil
}

// --- crawl success commit (crawler worker) ---------------------------------

// CrawlSuccess is the set of mutations a crawl worker commits after a
// successful handshake, applied in a single pipelined batch: height
// record, version record, harvested address book, reachable marker.
// CacheAddrBook is false when the address book was served from the
// existing peer:* cache, in which case no cache write is needed this
// cycle.
type CrawlSuccess struct {
	Host     string
	Port     int
	Services uint64

	Height  int64
	MaxAge  time.Duration
	Version VersionRecord

	CacheAddrBook bool
	AddrBook      []GossipedAddr
	AddrTTL       time.Duration

	Pending []string
}

// CommitCrawlSuccess writes every mutation of a successful crawl
// attempt as a single pipelined batch.
func (s *Store) CommitCrawlSuccess(ctx context.Context, c CrawlSuccess) error {
	versionEncoded, err := Encode(c.Version)
	if err != nil {
		return err
	}

	var addrBookEncoded string
	if c.CacheAddrBook {
		addrBookEncoded, err = Encode(c.AddrBook)
		if err != nil {
			return err
		}
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, HeightKey(c.Host, c.Port, c.Services), c.Height, c.MaxAge)
	pipe.Set(ctx, VersionKey(c.Host, c.Port), versionEncoded, c.MaxAge)
	if c.CacheAddrBook {
		pipe.Set(ctx, PeerKey(c.Host, c.Port), addrBookEncoded, c.AddrTTL)
	}
	if len(c.Pending) > 0 {
		args := make([]any, len(c.Pending))
		for i, p := range c.Pending {
			args[i] = p
		}
		pipe.SAdd(ctx, KeyPending, args...)
	}
	pipe.SAdd(ctx, KeyUp, UpMember(c.Host, c.Port, c.Services))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: commit crawl success pipeline: %v", ErrUnavailable, err)
	}
	return nil
}

// --- onion local port correlation ------------------------------------------

// SetOnionLocalPort records the (local SOCKS port) -> (host, port) mapping.
func (s *Store) SetOnionLocalPort(ctx context.Context, localPort int, host string, port int, ttl time.Duration) error {
	encoded, err := Encode(AddrTuple{Host: host, Port: port})
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, OnionLocalPortKey(localPort), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set onion local port: %v", ErrUnavailable, err)
	}
	return nil
}

// --- history / pub-sub ------------------------------------------------------

// PushHistory lpush-prepends a (timestamp, reachable_count) record onto
// the `nodes` history list.
func (s *Store) PushHistory(ctx context.Context, timestamp int64, reachableCount int) error {
	record := fmt.Sprintf("(%d, %d)", timestamp, reachableCount)
	if err := s.rdb.LPush(ctx, KeyNodesHistory, record).Err(); err != nil {
		return fmt.Errorf("%w: lpush nodes: %v", ErrUnavailable, err)
	}
	return nil
}

// PublishSnapshot publishes the current time on the snapshot
// notification channel for the given magic number.
func (s *Store) PublishSnapshot(ctx context.Context, magic uint32, unixSeconds int64) error {
	channel := SnapshotChannel(magic)
	if err := s.rdb.Publish(ctx, channel, fmt.Sprintf("%d", unixSeconds)).Err(); err != nil {
		return fmt.Errorf("%w: publish snapshot: %v", ErrUnavailable, err)
	}
	return nil
}

// --- cycle restart (crawler cron) -------------------------------------------

// SnapshotAndClearUp atomically reads all members of `up` and clears the
// set, returning the members read.
func (s *Store) SnapshotAndClearUp(ctx context.Context) ([]string, error) {
	pipe := s.rdb.TxPipeline()
	membersCmd := pipe.SMembers(ctx, KeyUp)
	pipe.Del(ctx, KeyUp)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: snapshot+clear up: %v", ErrUnavailable, err)
	}
	return membersCmd.Val(), nil
}

// DeleteMatchingKeys deletes every key matching pattern using keyspace
// SCAN (never KEYS, which blocks the server under a large keyspace).
func (s *Store) DeleteMatchingKeys(ctx context.Context, pattern string) error {
	keys, err := s.ScanKeys(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: del matching keys: %v", ErrUnavailable, err)
	}
	return nil
}

// ScanKeys iterates the keyspace with SCAN and returns every key matching
// pattern, mirroring original_source/utils.py's get_keys.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrUnavailable, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// CheckSetEntries reads the `check` sorted set members whose score lies
// within [minScore, maxScore], used by the crawler cron's
// include_checked restart step. Its schema is assumed identical to
// pending's tuple encoding.
func (s *Store) CheckSetEntries(ctx context.Context, minScore, maxScore int64) ([]string, error) {
	members, err := s.rdb.ZRangeByScore(ctx, KeyCheck, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minScore),
		Max: fmt.Sprintf("%d", maxScore),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: zrangebyscore check: %v", ErrUnavailable, err)
	}
	return members, nil
}
