package filter

import "errors"

// ErrASNUnresolved names the case of an address that cannot be mapped
// to an autonomous system number. ASNResolver.Lookup reports that case
// through its boolean result and does not return this error.
var ErrASNUnresolved = errors.New("asn unresolved")
