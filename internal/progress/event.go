package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

// Stage is the milestone an Event marks.
type Stage string

// Supported stages.
const (
	StageRunStart   Stage = "RUN_START"
	StagePathDone   Stage = "PATH_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunAborted Stage = "RUN_ABORTED"
)

// Event is one progress milestone of a subdomain run.
type Event struct {
	RunID     string
	TS        time.Time
	Stage     Stage
	Subdomain string
	// Path is set for StagePathDone.
	Path  string
	State mirror.PathState
	// Skipped marks a path whose checkpoint already settled it.
	Skipped bool
	Issues  bool
	// Keys is the number of alias keys written to the content store.
	Keys int
	// Total is the number of canonical records in the run.
	Total int
	Dur   time.Duration
	Note  string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Subdomain == "" {
		return errors.New("subdomain is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunAborted:
	case StagePathDone:
		if e.Path == "" {
			return errors.New("path done requires path")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 || e.Keys < 0 || e.Total < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// Outcome labels a path event for metrics and logs.
func (e Event) Outcome() string {
	switch {
	case e.Skipped:
		return "skipped"
	case e.Issues:
		return "issues"
	case e.State == mirror.StateFetched:
		return "fetched"
	default:
		return "other"
	}
}
