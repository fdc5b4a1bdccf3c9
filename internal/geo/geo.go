// Package geo resolves click IPs to ISO country codes.
package geo

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// ErrInvalidIP is returned for addresses that do not parse.
var ErrInvalidIP = errors.New("invalid IP address")

// Provider looks up the ISO country code of an IP. An empty code with a nil
// error means the address is not in the database.
type Provider interface {
	Country(ip string) (string, error)
	Close() error
}

// countryRecord is the subset of the GeoLite2 Country/City layout we read.
type countryRecord struct {
	Country struct {
		IsoCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		IsoCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

// MaxMindProvider reads a GeoLite2 Country or City database.
type MaxMindProvider struct {
	reader *maxminddb.Reader
}

// NewMaxMindProvider opens the .mmdb file at dbPath.
func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

func (m *MaxMindProvider) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	var rec countryRecord
	if err := m.reader.Lookup(parsed, &rec); err != nil {
		return "", fmt.Errorf("failed to look up %s: %w", ip, err)
	}
	if rec.Country.IsoCode != "" {
		return rec.Country.IsoCode, nil
	}
	return rec.RegisteredCountry.IsoCode, nil
}

// Close closes the GeoIP database.
func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// =============================================
// Cache
// =============================================

// CachedProvider memoizes lookups for ttl, evicting an arbitrary entry when full.
type CachedProvider struct {
	next    Provider
	mu      sync.RWMutex
	data    map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	clock   func() time.Time
}

type cacheEntry struct {
	country   string
	expiresAt time.Time
}

func NewCachedProvider(next Provider, maxSize int, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		next:    next,
		data:    make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		clock:   time.Now,
	}
}

func (c *CachedProvider) Country(ip string) (string, error) {
	now := c.clock()

	c.mu.RLock()
	entry, ok := c.data[ip]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.country, nil
	}

	country, err := c.next.Country(ip)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}
	c.data[ip] = cacheEntry{country: country, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	return country, nil
}

func (c *CachedProvider) Close() error {
	return c.next.Close()
}

// =============================================
// Static
// =============================================

// StaticProvider answers from a fixed table. Used in tests and when no
// database is configured.
type StaticProvider struct {
	entries map[string]string
}

func NewStaticProvider(entries map[string]string) *StaticProvider {
	if entries == nil {
		entries = map[string]string{}
	}
	return &StaticProvider{entries: entries}
}

func (s *StaticProvider) Country(ip string) (string, error) {
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	return s.entries[ip], nil
}

func (s *StaticProvider) Close() error { return nil }
