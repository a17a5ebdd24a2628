package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// checksum is the first 4 bytes of the double-SHA256 of payload.
func checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// writeCompactSize writes a Bitcoin-style CompactSize varint.
func writeCompactSize(w io.Writer, n uint64) error {
	switch {
	case n < 0xfd:
		return binary.Write(w, binary.LittleEndian, uint8(n))
	case n <= 0xffff:
		if err := binary.Write(w, binary.LittleEndian, uint8(0xfd)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, uint16(n))
	case n <= 0xffffffff:
		if err := binary.Write(w, binary.LittleEndian, uint8(0xfe)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, uint32(n))
	default:
		if err := binary.Write(w, binary.LittleEndian, uint8(0xff)); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, n)
	}
}

// readCompactSize reads a CompactSize varint.
func readCompactSize(r io.Reader) (uint64, error) {
	var prefix uint8
	if err := binary.Read(r, binary.LittleEndian, &prefix); err != nil {
		return 0, err
	}
	switch prefix {
	case 0xfd:
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xfe:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return uint64(v), nil
	case 0xff:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return 0, err
		}
		return v, nil
	default:
		return uint64(prefix), nil
	}
}

// encodeHeader writes a 24-byte message header: magic, null-padded
// command, payload length, checksum.
func encodeHeader(w io.Writer, magic uint32, command string, payload []byte) error {
	if len(command) > commandSize {
		return &ErrProtocol{Reason: fmt.Sprintf("command %q exceeds %d bytes", command, commandSize)}
	}
	if err := binary.Write(w, binary.LittleEndian, magic); err != nil {
		return err
	}
	var cmdBuf [commandSize]byte
	copy(cmdBuf[:], command)
	if _, err := w.Write(cmdBuf[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	sum := checksum(payload)
	_, err := w.Write(sum[:])
	return err
}

// decodeHeader reads and validates a 24-byte message header against
// the expected network magic.
func decodeHeader(r io.Reader, wantMagic uint32) (Header, error) {
	var h Header
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return h, err
	}
	if magic != wantMagic {
		return h, ErrMagicMismatch
	}
	var cmdBuf [commandSize]byte
	if _, err := io.ReadFull(r, cmdBuf[:]); err != nil {
		return h, err
	}
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return h, err
	}
	var sum [4]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return h, err
	}
	h.Magic = magic
	h.Command = string(bytes.TrimRight(cmdBuf[:], "\x00"))
	h.Length = length
	h.Checksum = sum
	return h, nil
}

// encodeMessage frames command+payload into a complete wire message.
func encodeMessage(magic uint32, command string, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeHeader(&buf, magic, command, payload); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// readMessage reads one full framed message (header + payload),
// validating the checksum.
func readMessage(r io.Reader, magic uint32, maxPayload uint32) (command string, payload []byte, err error) {
	h, err := decodeHeader(r, magic)
	if err != nil {
		return "", nil, err
	}
	if h.Length > maxPayload {
		return "", nil, &ErrProtocol{Reason: fmt.Sprintf("payload length %d exceeds max %d", h.Length, maxPayload)}
	}
	payload = make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	if checksum(payload) != h.Checksum {
		return "", nil, ErrChecksum
	}
	return h.Command, payload, nil
}

func writeNetAddr(w io.Writer, services uint64, ip net.IP, port uint16) error {
	if err := binary.Write(w, binary.LittleEndian, services); err != nil {
		return err
	}
	v6 := ip.To16()
	if v6 == nil {
		v6 = net.IPv6zero.To16()
	}
	if _, err := w.Write(v6); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, port)
}

func readNetAddr(r io.Reader) (services uint64, ip net.IP, port uint16, err error) {
	if err = binary.Read(r, binary.LittleEndian, &services); err != nil {
		return
	}
	buf := make([]byte, 16)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	ip = net.IP(buf)
	if err = binary.Read(r, binary.BigEndian, &port); err != nil {
		return
	}
	return
}

func writeVarString(w io.Writer, s string) error {
	if err := writeCompactSize(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readVarString(r io.Reader) (string, error) {
	n, err := readCompactSize(r)
	if err != nil {
		return "", err
	}
	if n > 1<<16 {
		return "", &ErrProtocol{Reason: "var string length implausibly large"}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// encodeVersion serializes a VersionMessage payload.
func encodeVersion(m VersionMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, m.ProtocolVersion); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.Services); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.Timestamp); err != nil {
		return nil, err
	}
	if err := writeNetAddr(&buf, m.AddrRecvServices, m.AddrRecvIP, m.AddrRecvPort); err != nil {
		return nil, err
	}
	if err := writeNetAddr(&buf, m.AddrFromServices, m.AddrFromIP, m.AddrFromPort); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.Nonce); err != nil {
		return nil, err
	}
	if err := writeVarString(&buf, m.UserAgent); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.StartHeight); err != nil {
		return nil, err
	}
	relay := byte(0)
	if m.Relay {
		relay = 1
	}
	buf.WriteByte(relay)
	return buf.Bytes(), nil
}

// decodeVersion parses a version message payload.
func decodeVersion(payload []byte) (VersionMessage, error) {
	var m VersionMessage
	r := bytes.NewReader(payload)
	if err := binary.Read(r, binary.LittleEndian, &m.ProtocolVersion); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: protocol_version"}
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Services); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: services"}
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Timestamp); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: timestamp"}
	}
	var err error
	if m.AddrRecvServices, m.AddrRecvIP, m.AddrRecvPort, err = readNetAddr(r); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: addr_recv"}
	}
	if m.AddrFromServices, m.AddrFromIP, m.AddrFromPort, err = readNetAddr(r); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: addr_from"}
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: nonce"}
	}
	if m.UserAgent, err = readVarString(r); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: user_agent"}
	}
	if err := binary.Read(r, binary.LittleEndian, &m.StartHeight); err != nil {
		return m, &ErrProtocol{Reason: "truncated version: start_height"}
	}
	relay, err := r.ReadByte()
	if err == nil {
		m.Relay = relay != 0
	}
	return m, nil
}

func encodePing(nonce uint64) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, nonce)
	return buf.Bytes()
}

func decodeNonce(payload []byte) (uint64, error) {
	if len(payload) < 8 {
		return 0, &ErrProtocol{Reason: "truncated ping/pong payload"}
	}
	return binary.LittleEndian.Uint64(payload), nil
}

// decodeAddr parses a plain addr message payload (fixed 16-byte
// addresses) into gossip entries.
func decodeAddr(payload []byte) ([]GossipedAddr, error) {
	r := bytes.NewReader(payload)
	count, err := readCompactSize(r)
	if err != nil {
		return nil, &ErrProtocol{Reason: "truncated addr: count"}
	}
	if count > 1000 {
		return nil, &ErrProtocol{Reason: "addr count exceeds anti-flood limit"}
	}
	out := make([]GossipedAddr, 0, count)
	for i := uint64(0); i < count; i++ {
		var ts uint32
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return nil, &ErrProtocol{Reason: "truncated addr entry: timestamp"}
		}
		services, ip, port, err := readNetAddr(r)
		if err != nil {
			return nil, &ErrProtocol{Reason: "truncated addr entry: net_addr"}
		}
		out = append(out, GossipedAddr{
			Timestamp: time.Unix(int64(ts), 0),
			Services:  services,
			Host:      ip.String(),
			Port:      port,
		})
	}
	return out, nil
}

// decodeAddrV2 parses an addrv2 message payload, whose entries carry a
// 1-byte network ID ahead of a variable-length address.
func decodeAddrV2(payload []byte) ([]GossipedAddr, error) {
	r := bytes.NewReader(payload)
	count, err := readCompactSize(r)
	if err != nil {
		return nil, &ErrProtocol{Reason: "truncated addrv2: count"}
	}
	if count > 1000 {
		return nil, &ErrProtocol{Reason: "addrv2 count exceeds anti-flood limit"}
	}
	out := make([]GossipedAddr, 0, count)
	for i := uint64(0); i < count; i++ {
		var ts uint32
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return nil, &ErrProtocol{Reason: "truncated addrv2 entry: timestamp"}
		}
		services, err := readCompactSize(r)
		if err != nil {
			return nil, &ErrProtocol{Reason: "truncated addrv2 entry: services"}
		}
		netID, err := r.ReadByte()
		if err != nil {
			return nil, &ErrProtocol{Reason: "truncated addrv2 entry: network id"}
		}
		addrLen, err := readCompactSize(r)
		if err != nil {
			return nil, &ErrProtocol{Reason: "truncated addrv2 entry: address length"}
		}
		addrBytes := make([]byte, addrLen)
		if _, err := io.ReadFull(r, addrBytes); err != nil {
			return nil, &ErrProtocol{Reason: "truncated addrv2 entry: address"}
		}
		var port uint16
		if err := binary.Read(r, binary.BigEndian, &port); err != nil {
			return nil, &ErrProtocol{Reason: "truncated addrv2 entry: port"}
		}

		var host string
		switch AddrV2Network(netID) {
		case NetIPv4, NetIPv6:
			host = net.IP(addrBytes).String()
		case NetTorV3:
			host = onionAddressV3(addrBytes)
		default:
			// Unrecognized network ID: skip this entry rather than the
			// whole batch.
			continue
		}
		out = append(out, GossipedAddr{
			Timestamp: time.Unix(int64(ts), 0),
			Services:  services,
			Host:      host,
			Port:      port,
		})
	}
	return out, nil
}

// decodeInv parses an inv message payload into inventory items.
func decodeInv(payload []byte) ([]InvItem, error) {
	r := bytes.NewReader(payload)
	count, err := readCompactSize(r)
	if err != nil {
		return nil, &ErrProtocol{Reason: "truncated inv: count"}
	}
	out := make([]InvItem, 0, count)
	for i := uint64(0); i < count; i++ {
		var typ uint32
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, &ErrProtocol{Reason: "truncated inv entry: type"}
		}
		var hash [32]byte
		if _, err := io.ReadFull(r, hash[:]); err != nil {
			return nil, &ErrProtocol{Reason: "truncated inv entry: hash"}
		}
		out = append(out, InvItem{Type: InvType(typ), Hash: hash})
	}
	return out, nil
}
