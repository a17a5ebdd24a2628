// Package filter implements the address-filtering policy:
// bogon lists, autonomous-system allow/deny, private-address exclusion,
// and the precedence order that decides whether a candidate address may
// be contacted.
package filter

import (
	"net"
	"strings"
	"sync/atomic"
)

// Tables is the whole set of policy data consulted by Excluded. A
// refresh replaces the table wholesale via an atomic
// pointer swap so that concurrent Excluded calls within one crawl cycle
// always see either the old table or the new one, never a partial mix.
type Tables struct {
	ExcludePrivate bool

	IncludeASNs map[uint32]struct{} // nil/empty means "no allow-list configured"
	ExcludeASNs map[uint32]struct{}

	ExcludedIPv4Networks []Network
	ExcludedIPv6Networks []Network
}

// Filter evaluates the address-filtering policy. The zero value is not
// usable; construct with New.
type Filter struct {
	tables   atomic.Pointer[Tables]
	resolver ASNResolver // nil-safe: unresolved ASN lookups treat as "excluded" per rule 3
}

// New constructs a Filter with the given initial tables and ASN resolver.
// resolver may be nil if neither include_asns nor exclude_asns is ever
// configured.
func New(initial Tables, resolver ASNResolver) *Filter {
	f := &Filter{resolver: resolver}
	f.tables.Store(&initial)
	return f
}

// Refresh atomically swaps in a new policy table.
func (f *Filter) Refresh(t Tables) {
	f.tables.Store(&t)
}

// Excluded implements the address-filtering precedence rules, first
// match wins:
//
//  1. Suffix .onion -> not excluded.
//  2. Private-range IP and ExcludePrivate -> excluded.
//  3. If either allow-list or deny-list of ASNs is configured, resolve
//     the address's ASN; if unresolved -> excluded.
//  4. ASN in deny-list -> excluded.
//  5. Address in any excluded IPv4/IPv6 network -> excluded.
//  6. Allow-list present and ASN not in allow-list -> excluded.
//  7. Otherwise -> included.
func (f *Filter) Excluded(host string) bool {
	if strings.HasSuffix(host, ".onion") {
		return false
	}

	addr := net.ParseIP(host)
	if addr == nil {
		// Not a parseable IP and not a .onion suffix: treat conservatively
		// as excluded rather than silently allowing an unrecognized form.
		return true
	}

	t := f.tables.Load()

	if t.ExcludePrivate && IsPrivate(addr) {
		return true
	}

	hasAllowList := len(t.IncludeASNs) > 0
	hasDenyList := len(t.ExcludeASNs) > 0

	var asn uint32
	var asnResolved bool
	if hasAllowList || hasDenyList {
		if f.resolver == nil {
			return true
		}
		asn, asnResolved = f.resolver.Lookup(addr)
		if !asnResolved {
			return true
		}
	}

	if hasDenyList {
		if _, denied := t.ExcludeASNs[asn]; denied {
			return true
		}
	}

	var networks []Network
	if addr.To4() != nil {
		networks = t.ExcludedIPv4Networks
	} else {
		networks = t.ExcludedIPv6Networks
	}
	for _, n := range networks {
		if n.Contains(addr) {
			return true
		}
	}

	if hasAllowList {
		if _, allowed := t.IncludeASNs[asn]; !allowed {
			return true
		}
	}

	return false
}
