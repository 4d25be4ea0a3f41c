package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/canonical"
	"github.com/JakeFAU/wayback-mirror/internal/checkpoint"
	"github.com/JakeFAU/wayback-mirror/internal/ingest"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// ReingestResult is the replay outcome of one subdomain.
type ReingestResult struct {
	Subdomain string
	Cached    bool
	Stats     ingest.ReplayStats
}

// Reingest rebuilds the content store for subdomains from their cached
// canonical records and checkpoints. A subdomain without a cache is reported
// with Cached false and left alone.
func (a *App) Reingest(ctx context.Context, subdomains []string, force bool) ([]ReingestResult, error) {
	if a.ingester == nil {
		return nil, fmt.Errorf("reingest needs capture and content stores")
	}
	results := make([]ReingestResult, 0, len(subdomains))
	for _, sub := range subdomains {
		host, err := mirror.SubdomainHost(sub)
		if err != nil {
			return results, err
		}
		records, ok, err := canonical.ReadCache(canonical.CachePath(a.cfg.Pipeline.StateDir, host), a.logger)
		if err != nil {
			return results, err
		}
		res := ReingestResult{Subdomain: host, Cached: ok}
		if !ok {
			a.logger.Warn("no canonical cache, run discover first", zap.String("subdomain", host))
			results = append(results, res)
			continue
		}
		cp, err := checkpoint.Load(checkpoint.Path(a.cfg.Pipeline.StateDir, host))
		if err != nil {
			return results, err
		}
		res.Stats, err = a.ingester.Replay(ctx, records, cp, force)
		if err != nil {
			return results, fmt.Errorf("reingest %s: %w", host, err)
		}
		a.logger.Info("reingested subdomain",
			zap.String("subdomain", host),
			zap.Int("records", res.Stats.Records),
			zap.Int("ingested", res.Stats.Ingested),
			zap.Int("keys", res.Stats.Keys),
			zap.Int("skipped", res.Stats.Skipped),
		)
		results = append(results, res)
	}
	return results, nil
}
