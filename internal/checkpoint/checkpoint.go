// Package checkpoint persists per-subdomain fetch outcomes so runs can resume.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/storage/local"
)

// Path returns the checkpoint file of host inside stateDir.
func Path(stateDir, host string) string {
	return filepath.Join(stateDir, "checkpoint."+host+".json")
}

// Checkpoint maps canonical paths to their latest fetch outcome. Every Record
// rewrites the whole file atomically; writers are serialized by a mutex.
type Checkpoint struct {
	path string

	mu       sync.RWMutex
	outcomes map[string]mirror.FetchOutcome
}

// Load reads the checkpoint at path. A missing file yields an empty checkpoint.
func Load(path string) (*Checkpoint, error) {
	cp := &Checkpoint{path: path, outcomes: make(map[string]mirror.FetchOutcome)}
	// #nosec G304 -- checkpoint paths are derived from configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	if len(data) == 0 {
		return cp, nil
	}
	if err := json.Unmarshal(data, &cp.outcomes); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if cp.outcomes == nil {
		cp.outcomes = make(map[string]mirror.FetchOutcome)
	}
	return cp, nil
}

// FilePath returns where the checkpoint is persisted.
func (c *Checkpoint) FilePath() string {
	return c.path
}

// Get returns the outcome recorded for path.
func (c *Checkpoint) Get(path string) (mirror.FetchOutcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	outcome, ok := c.outcomes[path]
	return outcome, ok
}

// State reports the state machine position of path as seen from the checkpoint.
func (c *Checkpoint) State(path string) mirror.PathState {
	outcome, ok := c.Get(path)
	switch {
	case !ok:
		return mirror.StateUnseen
	case outcome.Succeeded():
		return mirror.StateFetched
	default:
		return mirror.StateFailed
	}
}

// Record stores outcome for path and flushes the file before returning.
// On a write error the in-memory entry is rolled back.
func (c *Checkpoint) Record(path string, outcome mirror.FetchOutcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had := c.outcomes[path]
	c.outcomes[path] = outcome
	if err := c.flushLocked(); err != nil {
		if had {
			c.outcomes[path] = prev
		} else {
			delete(c.outcomes, path)
		}
		return err
	}
	return nil
}

// Failed returns the sorted paths whose latest outcome has issues.
func (c *Checkpoint) Failed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for path, outcome := range c.outcomes {
		if outcome.Issues {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of recorded paths.
func (c *Checkpoint) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.outcomes)
}

// Snapshot returns a copy of every recorded outcome.
func (c *Checkpoint) Snapshot() map[string]mirror.FetchOutcome {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]mirror.FetchOutcome, len(c.outcomes))
	for k, v := range c.outcomes {
		out[k] = v
	}
	return out
}

func (c *Checkpoint) flushLocked() error {
	data, err := json.MarshalIndent(c.outcomes, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := local.WriteFileAtomic(c.path, data, 0o600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w: %w", c.path, mirror.ErrStoreIO, err)
	}
	return nil
}
