// Package canonical turns raw archive index rows into one CanonicalRecord per
// canonical path and caches the result per subdomain.
package canonical

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// StripURLKey removes the archive host prefix: everything up to and including
// the first ')'. The second return is false when the key has no ')'.
func StripURLKey(urlkey string) (string, bool) {
	urlkey = strings.TrimSpace(urlkey)
	_, path, found := strings.Cut(urlkey, ")")
	if !found {
		return urlkey, false
	}
	return path, true
}

type group struct {
	newest  mirror.IndexRow
	aliases map[string]struct{}
}

// Canonicalize groups rows by canonical path. The newest timestamp wins (ties go
// to the lexicographically smallest original URL) and every distinct original
// URL becomes an alias. Malformed rows are skipped with a warning. The output is
// sorted by path and does not depend on input order.
func Canonicalize(subdomain string, rows []mirror.IndexRow, logger *zap.Logger) []mirror.CanonicalRecord {
	if logger == nil {
		logger = zap.NewNop()
	}
	groups := make(map[string]*group)
	for i, row := range rows {
		if err := checkRow(row); err != nil {
			logger.Warn("skipping malformed index row",
				zap.String("subdomain", subdomain),
				zap.Int("row", i),
				zap.Error(err),
			)
			continue
		}
		path, ok := StripURLKey(row.URLKey)
		if !ok {
			logger.Debug("urlkey has no host prefix; keeping it as the path",
				zap.String("subdomain", subdomain),
				zap.String("urlkey", row.URLKey),
			)
		}
		g, exists := groups[path]
		if !exists {
			groups[path] = &group{newest: row, aliases: map[string]struct{}{row.Original: {}}}
			continue
		}
		g.aliases[row.Original] = struct{}{}
		if newer(row, g.newest) {
			g.newest = row
		}
	}

	out := make([]mirror.CanonicalRecord, 0, len(groups))
	for path, g := range groups {
		aliases := make([]string, 0, len(g.aliases))
		for a := range g.aliases {
			aliases = append(aliases, a)
		}
		rec, err := mirror.NewCanonicalRecord(subdomain, path, g.newest.Timestamp, g.newest.Original, aliases)
		if err != nil {
			logger.Warn("dropping invalid canonical record", zap.String("path", path), zap.Error(err))
			continue
		}
		rec.URLKey = strings.TrimSpace(g.newest.URLKey)
		rec.MimeType = g.newest.MimeType
		rec.StatusCode = g.newest.StatusCode
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Merge folds fresh records into previously cached ones: aliases are unioned and
// the newest timestamp wins. Records only present on one side are kept.
func Merge(cached, fresh []mirror.CanonicalRecord) []mirror.CanonicalRecord {
	byPath := make(map[string]mirror.CanonicalRecord, len(cached)+len(fresh))
	for _, rec := range cached {
		byPath[rec.Path] = rec
	}
	for _, rec := range fresh {
		prev, ok := byPath[rec.Path]
		if !ok {
			byPath[rec.Path] = rec
			continue
		}
		winner := prev
		if rec.Timestamp > prev.Timestamp ||
			(rec.Timestamp == prev.Timestamp && rec.Original < prev.Original) {
			winner = rec
		}
		winner.Aliases = prev.AliasSet(rec.AliasSet()...)
		byPath[rec.Path] = winner
	}
	out := make([]mirror.CanonicalRecord, 0, len(byPath))
	for _, rec := range byPath {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func newer(candidate, current mirror.IndexRow) bool {
	if candidate.Timestamp != current.Timestamp {
		return candidate.Timestamp > current.Timestamp
	}
	return candidate.Original < current.Original
}

func checkRow(row mirror.IndexRow) error {
	for name, v := range map[string]string{
		"urlkey":    row.URLKey,
		"timestamp": row.Timestamp,
		"original":  row.Original,
	} {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: %s is not valid UTF-8", mirror.ErrMalformedRow, name)
		}
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: %s is empty", mirror.ErrMalformedRow, name)
		}
	}
	if err := mirror.ValidateTimestamp(row.Timestamp); err != nil {
		return fmt.Errorf("%w: %v", mirror.ErrMalformedRow, err)
	}
	return nil
}
