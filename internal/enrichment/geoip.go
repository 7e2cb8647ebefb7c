// MIT License
//
// Copyright (c) 2026 halog contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
package enrichment

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"halog/internal/database/models"

	"github.com/oschwald/geoip2-golang"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GeoIPEnricher provides GeoIP enrichment with caching
type GeoIPEnricher struct {
	cityDB    *geoip2.Reader
	asnDB     *geoip2.Reader
	db        *gorm.DB
	logger    *pterm.Logger
	cache     map[string]*models.IPLocation
	cacheMu   sync.RWMutex
	enabled   bool
	cacheSize int
}

// NewGeoIPEnricher creates a new GeoIP enricher. Both databases are optional;
// a missing one only disables the data it would provide.
func NewGeoIPEnricher(cityDBPath, asnDBPath string, db *gorm.DB, logger *pterm.Logger, cacheSize int) (*GeoIPEnricher, error) {
	if cacheSize <= 0 {
		cacheSize = 10000 // Default fallback
	}

	enricher := &GeoIPEnricher{
		db:        db,
		logger:    logger,
		cache:     make(map[string]*models.IPLocation, cacheSize),
		enabled:   false,
		cacheSize: cacheSize,
	}

	if cityDBPath != "" {
		cityDB, err := geoip2.Open(cityDBPath)
		if err != nil {
			logger.Warn("GeoIP City database not available",
				logger.Args("path", cityDBPath, "error", err))
		} else {
			enricher.cityDB = cityDB
			enricher.enabled = true
			logger.Info("Loaded GeoIP City database", logger.Args("path", cityDBPath))
		}
	}

	if asnDBPath != "" {
		asnDB, err := geoip2.Open(asnDBPath)
		if err != nil {
			logger.Warn("GeoIP ASN database not available",
				logger.Args("path", asnDBPath, "error", err))
		} else {
			enricher.asnDB = asnDB
			enricher.enabled = true
			logger.Info("Loaded GeoIP ASN database", logger.Args("path", asnDBPath))
		}
	}

	if !enricher.enabled {
		logger.Warn("GeoIP enrichment disabled - no databases available")
	}

	return enricher, nil
}

// Enrich annotates a session with GeoIP data. The lookup key is the resolved
// IP: behind a reverse-proxy chain that is the captured original client, not
// the proxy that connected to the load balancer.
func (g *GeoIPEnricher) Enrich(session *models.Session) error {
	if !g.enabled || session.ResolvedIP == "" {
		return nil
	}

	// Check cache first
	g.cacheMu.RLock()
	cached, exists := g.cache[session.ResolvedIP]
	g.cacheMu.RUnlock()

	if exists {
		session.GeoCountry = cached.Country
		session.GeoCity = cached.City
		session.GeoLat = cached.Latitude
		session.GeoLon = cached.Longitude
		session.ASN = cached.ASN
		session.ASNOrg = cached.ASNOrg

		g.logger.Trace("GeoIP cache hit", g.logger.Args("ip", session.ResolvedIP, "country", cached.Country))
		return nil
	}

	g.logger.Trace("GeoIP cache miss, performing lookup", g.logger.Args("ip", session.ResolvedIP))
	return g.lookupAndCache(session)
}

// lookupAndCache performs GeoIP lookup and caches the result
func (g *GeoIPEnricher) lookupAndCache(session *models.Session) error {
	ip := net.ParseIP(session.ResolvedIP)
	if ip == nil {
		g.logger.Debug("Invalid IP address for GeoIP lookup", g.logger.Args("ip", session.ResolvedIP))
		return fmt.Errorf("invalid IP: %s", session.ResolvedIP)
	}

	location := &models.IPLocation{
		IPAddress: session.ResolvedIP,
		FirstSeen: time.Now(),
		LastSeen:  time.Now(),
	}

	if g.cityDB != nil {
		record, err := g.cityDB.City(ip)
		if err == nil {
			location.Country = record.Country.IsoCode
			location.CountryName = record.Country.Names["en"]
			location.City = record.City.Names["en"]
			location.Latitude = record.Location.Latitude
			location.Longitude = record.Location.Longitude

			session.GeoCountry = location.Country
			session.GeoCity = location.City
			session.GeoLat = location.Latitude
			session.GeoLon = location.Longitude

			g.logger.Debug("GeoIP City lookup successful",
				g.logger.Args("ip", session.ResolvedIP, "country", location.Country, "city", location.City))
		} else {
			g.logger.Debug("GeoIP City lookup failed", g.logger.Args("ip", session.ResolvedIP, "error", err))
		}
	}

	if g.asnDB != nil {
		record, err := g.asnDB.ASN(ip)
		if err == nil {
			location.ASN = int(record.AutonomousSystemNumber)
			location.ASNOrg = record.AutonomousSystemOrganization

			session.ASN = location.ASN
			session.ASNOrg = location.ASNOrg

			g.logger.Debug("GeoIP ASN lookup successful",
				g.logger.Args("ip", session.ResolvedIP, "asn", location.ASN, "org", location.ASNOrg))
		} else {
			g.logger.Debug("GeoIP ASN lookup failed", g.logger.Args("ip", session.ResolvedIP, "error", err))
		}
	}

	// Store in memory cache first (fast, thread-safe)
	g.cacheMu.Lock()

	if len(g.cache) >= g.cacheSize {
		g.evictOldest()
	}

	g.cache[session.ResolvedIP] = location
	g.cacheMu.Unlock()

	// Store in database cache asynchronously to avoid blocking ingestion.
	// Duplicate key errors are expected with parallel workers; the memory
	// cache is the primary copy and the table is just a persistent backup.
	go func(loc *models.IPLocation) {
		_ = g.db.Session(&gorm.Session{Logger: logger.Default.LogMode(logger.Silent)}).Create(loc).Error
	}(location)

	return nil
}

// evictOldest drops the least recently seen 10% of the cache. Caller must
// hold cacheMu.
func (g *GeoIPEnricher) evictOldest() {
	evictCount := g.cacheSize / 10
	if evictCount < 1 {
		evictCount = 1
	}

	type ipAge struct {
		ip       string
		lastSeen time.Time
	}
	ages := make([]ipAge, 0, len(g.cache))
	for ip, loc := range g.cache {
		ages = append(ages, ipAge{ip: ip, lastSeen: loc.LastSeen})
	}
	sort.Slice(ages, func(i, j int) bool { return ages[i].lastSeen.Before(ages[j].lastSeen) })

	evicted := 0
	for _, age := range ages {
		if evicted >= evictCount {
			break
		}
		delete(g.cache, age.ip)
		evicted++
	}

	g.logger.Debug("GeoIP cache eviction performed",
		g.logger.Args(
			"evicted", evicted,
			"cache_size", len(g.cache),
			"max_size", g.cacheSize,
		))
}

// LoadCache preloads the memory cache from the database, limited to IPs with
// recent activity so startup stays fast on large tables.
func (g *GeoIPEnricher) LoadCache() error {
	if !g.enabled {
		return nil
	}

	g.cacheMu.RLock()
	currentSize := len(g.cache)
	g.cacheMu.RUnlock()

	if currentSize > (g.cacheSize / 2) {
		g.logger.Info("GeoIP cache already populated, skipping load",
			g.logger.Args("entries", currentSize, "max_size", g.cacheSize))
		return nil
	}

	// Hot IPs: active in the last 7 days with more than 5 sessions
	type IPCount struct {
		ResolvedIP string
		Repetition int64
	}

	sevenDaysAgo := time.Now().Add(-168 * time.Hour)
	var topIPs []IPCount
	err := g.db.Model(&models.Session{}).
		Select("resolved_ip, COUNT(*) as repetition").
		Where("accept_time > ?", sevenDaysAgo).
		Group("resolved_ip").
		Having("COUNT(*) > 5").
		Order("repetition DESC").
		Limit(g.cacheSize).
		Scan(&topIPs).
		Error

	if err != nil {
		g.logger.Warn("Failed to query hot IPs from sessions", g.logger.Args("error", err))
		// Fall back to the most recently seen cached locations
		var locations []models.IPLocation
		if err := g.db.Order("last_seen DESC").Limit(g.cacheSize).Find(&locations).Error; err != nil {
			g.logger.WithCaller().Error("Failed to load IP location cache", g.logger.Args("error", err))
			return err
		}
		g.cacheMu.Lock()
		for i := range locations {
			g.cache[locations[i].IPAddress] = &locations[i]
		}
		g.cacheMu.Unlock()
		g.logger.Info("Loaded GeoIP cache from ip_locations", g.logger.Args("entries", len(locations)))
		return nil
	}

	if len(topIPs) == 0 {
		g.logger.Info("No hot IPs to load into cache yet")
		return nil
	}

	ipAddresses := make([]string, len(topIPs))
	for i, ip := range topIPs {
		ipAddresses[i] = ip.ResolvedIP
	}

	var locations []models.IPLocation
	if err := g.db.Where("ip_address IN ?", ipAddresses).Find(&locations).Error; err != nil {
		g.logger.WithCaller().Error("Failed to load IP location data", g.logger.Args("error", err))
		return err
	}

	g.cacheMu.Lock()
	for i := range locations {
		g.cache[locations[i].IPAddress] = &locations[i]
	}
	g.cacheMu.Unlock()

	g.logger.Info("Loaded GeoIP cache for hot IPs",
		g.logger.Args("hot_ips", len(topIPs), "cached", len(locations), "min_requests", 5))
	return nil
}

// Close closes the GeoIP databases
func (g *GeoIPEnricher) Close() error {
	if g.cityDB != nil {
		g.cityDB.Close()
	}
	if g.asnDB != nil {
		g.asnDB.Close()
	}
	g.logger.Info("Closed GeoIP databases")
	return nil
}

// IsEnabled returns whether GeoIP enrichment is available
func (g *GeoIPEnricher) IsEnabled() bool {
	return g.enabled
}

// GetCacheSize returns the number of entries in memory cache
func (g *GeoIPEnricher) GetCacheSize() int {
	g.cacheMu.RLock()
	defer g.cacheMu.RUnlock()
	return len(g.cache)
}
