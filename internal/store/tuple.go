package store

import (
	"encoding/json"
	"fmt"
)

// AddrTuple is the (host, port, services) address tuple that identifies
// a candidate or reachable peer. Two tuples are equal iff all three
// components are equal.
type AddrTuple struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Services uint64 `json:"services"`
}

// GossipedAddr is a (host, port, services, timestamp) entry harvested
// from a peer's address book, as cached under peer:{host}-{port}.
type GossipedAddr struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Services  uint64 `json:"services"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// VersionRecord is the value stored under version:{host}-{port}.
type VersionRecord struct {
	ProtocolVersion int32  `json:"protocol_version"`
	UserAgent       string `json:"user_agent"`
	FromServices    uint64 `json:"from_services"`
}

// ReachableEntry is the (host, port, services, height) tuple consumed
// from the snapshot file and stored in the pinger's reachable set.
type ReachableEntry struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Services uint64 `json:"services"`
	Height   int64  `json:"height"`
}

// OpenEntry is the value stored in the opendata set: a session the
// pinger currently holds, plus observability fields.
type OpenEntry struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	UserAgent string `json:"user_agent"`
	StartTime int64  `json:"start_time"`
	Services  uint64 `json:"services"`
}

// original_source/crawl.py stores these tuples as stringified Python
// literals and recovers them with eval(), which is unsafe against a
// compromised or buggy peer's data reaching the store. This module
// instead uses a fixed JSON shape per value. Encode and the Decode* functions below
// are thin wrappers that turn JSON decode errors into
// ErrMalformedTuple so callers can treat any corrupted store value
// uniformly.

// Encode serializes v (one of the tuple types above) to its stored form.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: encode: %w", err)
	}
	return string(b), nil
}

// DecodeAddrTuple parses a stored AddrTuple value.
func DecodeAddrTuple(s string) (AddrTuple, error) {
	var t AddrTuple
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return AddrTuple{}, fmt.Errorf("%w: %v", ErrMalformedTuple, err)
	}
	return t, nil
}

// DecodeGossipedAddr parses a stored GossipedAddr value.
func DecodeGossipedAddr(s string) (GossipedAddr, error) {
	var g GossipedAddr
	if err := json.Unmarshal([]byte(s), &g); err != nil {
		return GossipedAddr{}, fmt.Errorf("%w: %v", ErrMalformedTuple, err)
	}
	return g, nil
}

// DecodeVersionRecord parses a stored VersionRecord value.
func DecodeVersionRecord(s string) (VersionRecord, error) {
	var v VersionRecord
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return VersionRecord{}, fmt.Errorf("%w: %v", ErrMalformedTuple, err)
	}
	return v, nil
}

// DecodeReachableEntry parses a stored ReachableEntry value.
func DecodeReachableEntry(s string) (ReachableEntry, error) {
	var r ReachableEntry
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return ReachableEntry{}, fmt.Errorf("%w: %v", ErrMalformedTuple, err)
	}
	return r, nil
}

// DecodeGossipedAddrList parses a stored address-book cache value (a JSON
// array of GossipedAddr, possibly empty).
func DecodeGossipedAddrList(s string) ([]GossipedAddr, error) {
	if s == "" {
		return nil, nil
	}
	var list []GossipedAddr
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTuple, err)
	}
	return list, nil
}

// DecodeOpenEntry parses a stored OpenEntry value.
func DecodeOpenEntry(s string) (OpenEntry, error) {
	var o OpenEntry
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return OpenEntry{}, fmt.Errorf("%w: %v", ErrMalformedTuple, err)
	}
	return o, nil
}
