package wire

import (
	"bufio"
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// Params configures a Session's handshake and framing behavior.
type Params struct {
	MagicNumber     uint32
	ProtocolVersion int32
	UserAgent       string
	Services        uint64
	Relay           bool
	StartHeight     int32
	SocketTimeout   time.Duration

	// SOCKSProxies, when non-empty, is a pool of SOCKS5 proxy addresses
	// one of which is chosen uniformly at random for Open.
	SOCKSProxies []string

	MaxPayload uint32 // 0 means a sane built-in default
}

const defaultMaxPayload = 4 << 20

// Session is one full-duplex framed connection to a peer.
type Session struct {
	params Params

	mu       sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	buffered map[string][][]byte // command -> queued raw payloads from the sink
	closed   bool
}

// NewSession constructs a Session bound to params. Open must be called
// before any other method.
func NewSession(params Params) *Session {
	if params.MaxPayload == 0 {
		params.MaxPayload = defaultMaxPayload
	}
	return &Session{
		params:   params,
		buffered: make(map[string][][]byte),
	}
}

// Open dials addr (host:port), optionally through a SOCKS5 proxy chosen
// uniformly at random from params.SOCKSProxies.
func (s *Session) Open(ctx context.Context, addr string) error {
	dialer, err := s.dialer()
	if err != nil {
		return &ConnectionError{Op: "dial setup", Err: err}
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := dialer.Dial("tcp", addr)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		return &ConnectionError{Op: "dial", Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return &ConnectionError{Op: "dial", Err: r.err}
		}
		s.mu.Lock()
		s.conn = r.conn
		s.reader = bufio.NewReader(r.conn)
		s.mu.Unlock()
		return nil
	}
}

// LocalPort returns the local TCP port of the underlying connection, or
// 0 if not yet open. Used to correlate a Tor SOCKS-assigned local port
// back to the .onion address it dialed.
func (s *Session) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0
	}
	addr, ok := s.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

func (s *Session) dialer() (proxy.Dialer, error) {
	if len(s.params.SOCKSProxies) == 0 {
		return proxy.Direct, nil
	}
	addr := s.params.SOCKSProxies[rand.Intn(len(s.params.SOCKSProxies))]
	return proxy.SOCKS5("tcp", addr, nil, proxy.Direct)
}

// Handshake performs the version/verack exchange and returns the
// peer's advertised protocol version, user agent, services, and block
// height.
func (s *Session) Handshake(ctx context.Context) (HandshakeResult, error) {
	var res HandshakeResult

	now := time.Now()
	local := &net.TCPAddr{IP: net.IPv4zero, Port: 0}
	remote := &net.TCPAddr{IP: net.IPv4zero, Port: 0}
	if tcp, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		remote = tcp
	}

	myVersion := VersionMessage{
		ProtocolVersion:  s.params.ProtocolVersion,
		Services:         s.params.Services,
		Timestamp:        now.Unix(),
		AddrRecvServices: 0,
		AddrRecvIP:       remote.IP,
		AddrRecvPort:     uint16(remote.Port),
		AddrFromServices: s.params.Services,
		AddrFromIP:       local.IP,
		AddrFromPort:     uint16(local.Port),
		Nonce:            rand.Uint64(),
		UserAgent:        s.params.UserAgent,
		StartHeight:      s.params.StartHeight,
		Relay:            s.params.Relay,
	}

	if err := s.sendVersion(myVersion); err != nil {
		return res, err
	}

	var gotVersion, gotVerack bool
	var peerVersion VersionMessage
	for !gotVersion || !gotVerack {
		if err := s.applyDeadline(); err != nil {
			return res, &ConnectionError{Op: "handshake", Err: err}
		}
		command, payload, err := readMessage(s.reader, s.params.MagicNumber, s.params.MaxPayload)
		if err != nil {
			return res, classifyReadErr("handshake", err)
		}
		switch command {
		case CmdVersion:
			peerVersion, err = decodeVersion(payload)
			if err != nil {
				return res, err
			}
			gotVersion = true
			if err := s.sendRaw(CmdVerack, nil); err != nil {
				return res, err
			}
		case CmdVerack:
			gotVerack = true
		default:
			s.bufferMessage(command, payload)
		}
	}

	res = HandshakeResult{
		ProtocolVersion: peerVersion.ProtocolVersion,
		UserAgent:       peerVersion.UserAgent,
		Services:        peerVersion.Services,
		Height:          peerVersion.StartHeight,
	}
	return res, nil
}

// GetAddr sends an address-request message; it never blocks on a
// reply.
func (s *Session) GetAddr() error {
	return s.sendRaw(CmdGetAddr, nil)
}

// Ping emits a keepalive message carrying nonce.
func (s *Session) Ping(nonce uint64) error {
	return s.sendRaw(CmdPing, encodePing(nonce))
}

// GetMessages drains one batch of already-buffered or newly-arrived
// messages whose command is in commands. It never blocks beyond the
// configured socket timeout and may return an empty slice.
func (s *Session) GetMessages(commands ...string) ([]GossipedAddr, error) {
	want := make(map[string]bool, len(commands))
	for _, c := range commands {
		want[c] = true
	}

	var out []GossipedAddr

	s.mu.Lock()
	for cmd, queued := range s.buffered {
		if !want[cmd] {
			continue
		}
		for _, payload := range queued {
			out = append(out, decodeGossip(cmd, payload)...)
		}
		delete(s.buffered, cmd)
	}
	s.mu.Unlock()

	if err := s.applyDeadline(); err != nil {
		return out, &ConnectionError{Op: "get_messages", Err: err}
	}

	for {
		command, payload, err := readMessage(s.reader, s.params.MagicNumber, s.params.MaxPayload)
		if err != nil {
			if isTimeout(err) {
				return out, nil
			}
			return out, classifyReadErr("get_messages", err)
		}
		if want[command] {
			out = append(out, decodeGossip(command, payload)...)
			continue
		}
		s.bufferMessage(command, payload)
	}
}

// Sink drains whatever is currently readable without blocking beyond
// the socket timeout, classifying inventory messages for the pinger's
// keepalive loop. Non-inventory traffic is
// discarded; version/addr traffic observed here is not cached.
func (s *Session) Sink() ([]InvItem, error) {
	if err := s.applyDeadline(); err != nil {
		return nil, &ConnectionError{Op: "sink", Err: err}
	}
	var items []InvItem
	for {
		command, payload, err := readMessage(s.reader, s.params.MagicNumber, s.params.MaxPayload)
		if err != nil {
			if isTimeout(err) {
				return items, nil
			}
			return items, classifyReadErr("sink", err)
		}
		if command == CmdInv {
			inv, err := decodeInv(payload)
			if err != nil {
				return items, err
			}
			items = append(items, inv...)
		}
	}
}

// Close shuts down the underlying connection. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func decodeGossip(command string, payload []byte) []GossipedAddr {
	var addrs []GossipedAddr
	var err error
	switch command {
	case CmdAddr:
		addrs, err = decodeAddr(payload)
	case CmdAddrV2:
		addrs, err = decodeAddrV2(payload)
	}
	if err != nil {
		return nil
	}
	return addrs
}

func (s *Session) bufferMessage(command string, payload []byte) {
	s.mu.Lock()
	s.buffered[command] = append(s.buffered[command], payload)
	s.mu.Unlock()
}

func (s *Session) sendVersion(m VersionMessage) error {
	payload, err := encodeVersion(m)
	if err != nil {
		return err
	}
	return s.sendRaw(CmdVersion, payload)
}

func (s *Session) sendRaw(command string, payload []byte) error {
	msg, err := encodeMessage(s.params.MagicNumber, command, payload)
	if err != nil {
		return err
	}
	if err := s.applyDeadline(); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	if _, err := s.conn.Write(msg); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (s *Session) applyDeadline() error {
	if s.params.SocketTimeout <= 0 {
		return nil
	}
	return s.conn.SetDeadline(time.Now().Add(s.params.SocketTimeout))
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func classifyReadErr(op string, err error) error {
	if _, ok := err.(*ErrProtocol); ok {
		return err
	}
	if err == ErrChecksum || err == ErrMagicMismatch {
		return &ErrProtocol{Reason: err.Error()}
	}
	return &ConnectionError{Op: op, Err: err}
}
