package security

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP resolves countries from a MaxMind City or Country database.
type GeoIP struct {
	db *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIP{db: db}, nil
}

func (g *GeoIP) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid address %q", ip)
	}
	rec, err := g.db.Country(parsed)
	if err != nil {
		return "", err
	}
	name := rec.Country.Names["en"]
	if name == "" {
		return "", fmt.Errorf("no country for %s", ip)
	}
	return name, nil
}

func (g *GeoIP) Close() error { return g.db.Close() }
