package canonical

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// DiscoverConfig controls the index query issued for each subdomain.
type DiscoverConfig struct {
	StateDir  string
	MatchType string
	From      string
	To        string
	// Refresh re-queries the index even when a cache exists and merges the
	// result into the cached records.
	Refresh bool
}

// Discoverer resolves the canonical records of a subdomain, preferring the cache.
type Discoverer struct {
	index  mirror.IndexClient
	cfg    DiscoverConfig
	logger *zap.Logger
}

// NewDiscoverer builds a Discoverer.
func NewDiscoverer(index mirror.IndexClient, cfg DiscoverConfig, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MatchType == "" {
		cfg.MatchType = "prefix"
	}
	return &Discoverer{index: index, cfg: cfg, logger: logger}
}

// Discover returns the canonical records for subdomain. When the cache file
// exists (and Refresh is off) the index is not queried at all.
func (d *Discoverer) Discover(ctx context.Context, subdomain string) ([]mirror.CanonicalRecord, error) {
	host, err := mirror.SubdomainHost(subdomain)
	if err != nil {
		return nil, err
	}
	cachePath := CachePath(d.cfg.StateDir, host)
	cached, hit, err := ReadCache(cachePath, d.logger)
	if err != nil {
		return nil, err
	}
	if hit && !d.cfg.Refresh {
		d.logger.Info("loaded canonical records from cache",
			zap.String("subdomain", host),
			zap.Int("records", len(cached)),
		)
		return cached, nil
	}

	rows, err := d.index.Query(ctx, mirror.Query{
		URL:       host + "/",
		MatchType: d.cfg.MatchType,
		From:      d.cfg.From,
		To:        d.cfg.To,
		Filters:   []string{"statuscode:200"},
	})
	if err != nil {
		return nil, fmt.Errorf("query index for %s: %w", host, err)
	}
	records := Canonicalize(host, rows, d.logger)
	if hit {
		records = Merge(cached, records)
	}
	if err := WriteCache(cachePath, records); err != nil {
		return nil, err
	}
	d.logger.Info("discovered canonical records",
		zap.String("subdomain", host),
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)),
	)
	return records, nil
}
