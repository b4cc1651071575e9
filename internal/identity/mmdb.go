package identity

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"
)

// MMDBLookup resolves country/city from a local MaxMind database
// (GeoLite2-City or GeoLite2-Country layout). Preferred over the remote
// endpoint when a database path is configured: no startup network
// dependency.
type MMDBLookup struct {
	reader *maxminddb.Reader
}

// OpenMMDB opens the database at path.
func OpenMMDB(path string) (*MMDBLookup, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("identity: open mmdb %s: %w", path, err)
	}
	return &MMDBLookup{reader: reader}, nil
}

// Close releases the database handle.
func (m *MMDBLookup) Close() error {
	return m.reader.Close()
}

type mmdbRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// Lookup implements CountryLookup.
func (m *MMDBLookup) Lookup(_ context.Context, ip string) (string, string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", "", fmt.Errorf("identity: parse ip %q: %w", ip, err)
	}

	var record mmdbRecord
	if err := m.reader.Lookup(addr.AsSlice(), &record); err != nil {
		return "", "", fmt.Errorf("identity: mmdb lookup %s: %w", ip, err)
	}
	if record.Country.ISOCode == "" {
		return "", "", fmt.Errorf("identity: mmdb has no country for %s", ip)
	}
	return record.Country.ISOCode, record.City.Names["en"], nil
}
