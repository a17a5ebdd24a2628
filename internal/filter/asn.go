package filter

import (
	"log/slog"
	"net"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// ASNResolver maps an address to an autonomous system number.
type ASNResolver interface {
	Lookup(addr net.IP) (asn uint32, ok bool)
}

// asnRecord matches the subset of MaxMind's ASN database schema this
// module needs.
type asnRecord struct {
	AutonomousSystemNumber uint32 `maxminddb:"autonomous_system_number"`
}

// MaxMindASNResolver resolves ASNs from a MaxMind GeoLite2-ASN database.
type MaxMindASNResolver struct {
	reader *maxminddb.Reader
}

// OpenMaxMindASNResolver opens the database at path, retrying on any
// open error (up to 10 attempts, 100 ms apart) — the geoip/update.sh-style refresh job in
// original_source/utils.py's GeoIp class can replace the file mid-read,
// which briefly corrupts it; retrying a few times rides that out instead
// of failing the whole process.
func OpenMaxMindASNResolver(path string) (*MaxMindASNResolver, error) {
	var reader *maxminddb.Reader
	var err error
	for i := 0; i < 10; i++ {
		reader, err = maxminddb.Open(path)
		if err == nil {
			break
		}
		slog.Warn("opening asn database", "path", path, "attempt", i+1, "error", err)
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}
	return &MaxMindASNResolver{reader: reader}, nil
}

// Close releases the underlying database file.
func (r *MaxMindASNResolver) Close() error {
	return r.reader.Close()
}

// Lookup implements ASNResolver.
func (r *MaxMindASNResolver) Lookup(addr net.IP) (uint32, bool) {
	var rec asnRecord
	if err := r.reader.Lookup(addr, &rec); err != nil {
		return 0, false
	}
	if rec.AutonomousSystemNumber == 0 {
		return 0, false
	}
	return rec.AutonomousSystemNumber, true
}

// StaticASNResolver is a fixed host->ASN map, used by tests and by
// deployments without a MaxMind database configured.
type StaticASNResolver map[string]uint32

// Lookup implements ASNResolver.
func (m StaticASNResolver) Lookup(addr net.IP) (uint32, bool) {
	asn, ok := m[addr.String()]
	return asn, ok
}
