package filter

import (
	"bufio"
	"io"
	"net"
	"strings"
)

// Network is a CIDR block stored as (network address, netmask): a
// candidate address is excluded by a network iff
// (addr AND netmask) == network.
type Network struct {
	IPNet *net.IPNet
}

// ParseNetwork parses a CIDR string into a Network, or returns ok=false
// for a malformed entry — the original policy-refresh logic silently
// drops invalid lines rather than failing the whole fetch.
func ParseNetwork(cidr string) (Network, bool) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return Network{}, false
	}
	return Network{IPNet: ipnet}, true
}

// Contains reports whether addr falls within the network.
func (n Network) Contains(addr net.IP) bool {
	return n.IPNet.Contains(addr)
}

// ParseNetworkList parses newline-delimited CIDR entries, matching
// original_source/utils.py's conf_list: lines are trimmed of `#`/`;`
// comments; blank or invalid lines are silently dropped.
func ParseNetworkList(r io.Reader) []Network {
	var out []Network
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		line = strings.SplitN(line, "#", 2)[0]
		line = strings.SplitN(line, ";", 2)[0]
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n, ok := ParseNetwork(line); ok {
			out = append(out, n)
		}
	}
	return out
}

// IPToNetwork returns the CIDR notation for address truncated to the
// given prefix length, e.g. IPToNetwork("2001:db8::1", 64) ==
// "2001:db8::/64". It is idempotent: re-applying it to its own output
// with the same prefix returns the same network.
func IPToNetwork(address string, prefix int) (string, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return "", &net.ParseError{Type: "IP address", Text: address}
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	} else {
		ip = ip.To4()
	}
	mask := net.CIDRMask(prefix, bits)
	network := ip.Mask(mask)
	ipnet := &net.IPNet{IP: network, Mask: mask}
	return ipnet.String(), nil
}

// privateNetworks are the RFC1918 / link-local / loopback ranges checked
// by the exclude_private rule.
var privateNetworks = mustParseAll(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseAll(cidrs ...string) []Network {
	out := make([]Network, 0, len(cidrs))
	for _, c := range cidrs {
		n, ok := ParseNetwork(c)
		if !ok {
			panic("filter: invalid built-in CIDR: " + c)
		}
		out = append(out, n)
	}
	return out
}

// IsPrivate reports whether addr is in a private, link-local, or
// loopback range.
func IsPrivate(addr net.IP) bool {
	for _, n := range privateNetworks {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}
