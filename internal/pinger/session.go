package pinger

import (
	"context"

	"github.com/ayeowch/netmapper/internal/wire"
)

// PeerSession is the subset of *wire.Session a keepalive session drives.
// Declared locally so tests can substitute a fake peer.
type PeerSession interface {
	Open(ctx context.Context, addr string) error
	Handshake(ctx context.Context) (wire.HandshakeResult, error)
	Ping(nonce uint64) error
	Sink() ([]wire.InvItem, error)
	LocalPort() int
	Close() error
}

// SessionFactory constructs a PeerSession bound to params.
type SessionFactory func(params wire.Params) PeerSession

// NewWireSession adapts wire.NewSession to SessionFactory.
func NewWireSession(params wire.Params) PeerSession {
	return wire.NewSession(params)
}

var _ PeerSession = (*wire.Session)(nil)
