package wire

import (
	"encoding/base32"
	"strings"

	"golang.org/x/crypto/sha3"
)

// onionAddressV3 renders a 32-byte Tor v3 service public key as the
// base32 "xxxx.onion" address form addrv2's NetTorV3 entries carry
// (checksum = first 2 bytes of SHA3-256(".onion checksum" || pubkey ||
// version), version byte = 0x03).
func onionAddressV3(pubkey []byte) string {
	if len(pubkey) != 32 {
		return ""
	}
	const versionByte = 0x03
	h := sha3.New256()
	h.Write([]byte(".onion checksum"))
	h.Write(pubkey)
	h.Write([]byte{versionByte})
	sum := h.Sum(nil)

	buf := make([]byte, 0, 35)
	buf = append(buf, pubkey...)
	buf = append(buf, sum[:2]...)
	buf = append(buf, versionByte)

	encoded := strings.ToLower(base32.StdEncoding.EncodeToString(buf))
	return strings.TrimRight(encoded, "=") + ".onion"
}
