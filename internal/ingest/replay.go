package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Outcomes looks up the checkpointed outcome of a canonical path.
type Outcomes interface {
	Get(path string) (mirror.FetchOutcome, bool)
}

// ReplayStats counts what Replay did.
type ReplayStats struct {
	Records  int
	Ingested int
	Keys     int
	Skipped  int
}

// Replay rebuilds the content store from already stored captures without
// touching the network. Records without a clean outcome are skipped; when
// force is false, records whose aliases are already current are skipped too.
func (i *Ingester) Replay(ctx context.Context, records []mirror.CanonicalRecord, outcomes Outcomes, force bool) (ReplayStats, error) {
	stats := ReplayStats{Records: len(records)}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("replay canceled: %w", err)
		}
		outcome, ok := outcomes.Get(rec.Path)
		if !ok || !outcome.Succeeded() {
			stats.Skipped++
			continue
		}
		if !force {
			done, err := i.Ingested(ctx, rec)
			if err != nil {
				return stats, err
			}
			if done {
				stats.Skipped++
				continue
			}
		}
		n, err := i.Ingest(ctx, rec, outcome.Reference)
		stats.Keys += n
		if err != nil {
			return stats, fmt.Errorf("replay %s: %w", rec.Path, err)
		}
		stats.Ingested++
	}
	i.logger.Info("replayed captures",
		zap.Int("records", stats.Records),
		zap.Int("ingested", stats.Ingested),
		zap.Int("keys", stats.Keys),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}
