// Package wire implements the binary peer-to-peer wire protocol:
// message framing, the version/verack handshake, ping/pong keepalive,
// and getaddr/addr/addrv2 address gossip.
//
// The framing follows the Bitcoin/Handshake family of protocols the
// original crawler targets: a fixed 24-byte header followed by a
// payload, little-endian throughout, with CompactSize variable-length
// integers for element counts.
package wire

import (
	"net"
	"time"
)

// HeaderSize is the fixed size of a message header in bytes.
const HeaderSize = 24

const commandSize = 12

// Commands recognized by this package. Unrecognized commands are not
// an error; GetMessages simply never matches them.
const (
	CmdVersion = "version"
	CmdVerack  = "verack"
	CmdPing    = "ping"
	CmdPong    = "pong"
	CmdGetAddr = "getaddr"
	CmdAddr    = "addr"
	CmdAddrV2  = "addrv2"
	CmdInv     = "inv"
)

// Service bits advertised in the version message.
const (
	ServiceNodeNetwork uint64 = 1 << 0
)

// InvType identifies the kind of entry carried in an inv message.
type InvType uint32

// InvBlock is the inventory type this crawler cares about: a block
// announcement.
const InvBlock InvType = 2

// AddrV2Network is the 1-byte network identifier addrv2 entries carry
// ahead of their variable-length address.
type AddrV2Network uint8

const (
	NetIPv4  AddrV2Network = 1
	NetIPv6  AddrV2Network = 2
	NetTorV3 AddrV2Network = 4
)

// Header is the fixed-size preamble of every message.
type Header struct {
	Magic    uint32
	Command  string // at most commandSize bytes, null-padded on the wire
	Length   uint32
	Checksum [4]byte
}

// VersionMessage is the payload exchanged during the handshake.
type VersionMessage struct {
	ProtocolVersion int32
	Services        uint64
	Timestamp       int64
	AddrRecvServices uint64
	AddrRecvIP      net.IP
	AddrRecvPort    uint16
	AddrFromServices uint64
	AddrFromIP      net.IP
	AddrFromPort    uint16
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	Relay           bool
}

// HandshakeResult is the subset of the peer's version message the
// caller observes.
type HandshakeResult struct {
	ProtocolVersion int32
	UserAgent       string
	Services        uint64
	Height          int32
}

// GossipedAddr is one entry harvested from an addr/addrv2 message.
type GossipedAddr struct {
	Timestamp time.Time
	Services  uint64
	Host      string // first of IPv4/IPv6/onion present on the wire
	Port      uint16
}

// InvItem is one entry of an inv message.
type InvItem struct {
	Type InvType
	Hash [32]byte
}

// PingMessage/PongMessage carry a single 64-bit nonce used to pair a
// pong with the ping that requested it.
type PingMessage struct{ Nonce uint64 }
type PongMessage struct{ Nonce uint64 }
