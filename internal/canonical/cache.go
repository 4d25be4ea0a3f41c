package canonical

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/local"
)

// CachePath returns the per-subdomain cache file inside stateDir.
func CachePath(stateDir, host string) string {
	return filepath.Join(stateDir, fmt.Sprintf("url_list.%s.jsonl", host))
}

// ReadCache loads cached records. The bool is false when no cache exists.
// Lines that fail to decode or validate are skipped with a warning.
func ReadCache(path string, logger *zap.Logger) ([]mirror.CanonicalRecord, bool, error) {
	// #nosec G304 -- cache path is derived from the configured state directory.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache %s: %w", path, err)
	}
	var records []mirror.CanonicalRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec mirror.CanonicalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.Warn("skipping undecodable cache line", zap.String("cache", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		if err := rec.Validate(); err != nil {
			logger.Warn("skipping invalid cache line", zap.String("cache", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		rec.Aliases = rec.AliasSet()
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("scan cache %s: %w", path, err)
	}
	return records, true, nil
}

// WriteCache replaces the cache file with one JSON line per record.
func WriteCache(path string, records []mirror.CanonicalRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %q: %w", rec.Path, err)
		}
	}
	if err := local.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
