package crawler

import (
	"context"

	"github.com/ayeowch/netmapper/internal/wire"
)

// PeerSession is the subset of *wire.Session a crawl worker drives.
// Declared locally so tests can substitute a fake peer
// without opening a socket.
type PeerSession interface {
	Open(ctx context.Context, addr string) error
	Handshake(ctx context.Context) (wire.HandshakeResult, error)
	GetAddr() error
	GetMessages(commands ...string) ([]wire.GossipedAddr, error)
	Close() error
}

// SessionFactory constructs a PeerSession bound to params. Production
// code passes wire.NewSession; tests pass a fake constructor.
type SessionFactory func(params wire.Params) PeerSession

// NewWireSession adapts wire.NewSession to SessionFactory.
func NewWireSession(params wire.Params) PeerSession {
	return wire.NewSession(params)
}

var _ PeerSession = (*wire.Session)(nil)
