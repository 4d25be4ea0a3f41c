// Package mirror defines the record types and collaborator interfaces shared by
// the archive mirror pipeline and the serving layer.
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

// RedirectSentinel is the reserved mimetype marking a store entry whose payload
// is a redirect target path rather than content.
const RedirectSentinel = "=redirect="

// Content store namespace prefixes. Each alias key is stored once per namespace.
const (
	ContentPrefix   = "c-"
	MimeTypePrefix  = "m-"
	TimestampPrefix = "t-"
)

// NamespacedKeys returns the content, mimetype and timestamp keys of an alias.
func NamespacedKeys(key string) (content, mimetype, timestamp []byte) {
	return []byte(ContentPrefix + key), []byte(MimeTypePrefix + key), []byte(TimestampPrefix + key)
}

// TimestampLayout is the fixed-width archive timestamp format.
const TimestampLayout = "20060102150405"

// Sentinel errors shared across packages.
var (
	ErrNotFound     = errors.New("not found")
	ErrMalformedRow = errors.New("malformed index row")
	ErrTransient    = errors.New("transient remote failure")
	ErrStoreIO      = errors.New("store write failed")
)

// IndexRow is one raw row returned by the archive index API.
type IndexRow struct {
	URLKey     string
	Timestamp  string
	Original   string
	StatusCode string
	MimeType   string
}

// CanonicalRecord is the single deduplicated record for a canonical path.
type CanonicalRecord struct {
	Subdomain  string   `json:"subdomain"`
	Path       string   `json:"path"`
	Timestamp  string   `json:"timestamp"`
	Original   string   `json:"original"`
	Aliases    []string `json:"aliases"`
	URLKey     string   `json:"urlkey,omitempty"`
	MimeType   string   `json:"mimetype,omitempty"`
	StatusCode string   `json:"statuscode,omitempty"`
}

// NewCanonicalRecord validates and builds a CanonicalRecord. Aliases are
// deduplicated and sorted, and the original URL is always one of them.
func NewCanonicalRecord(subdomain, path, timestamp, original string, aliases []string) (CanonicalRecord, error) {
	if strings.TrimSpace(subdomain) == "" {
		return CanonicalRecord{}, fmt.Errorf("subdomain is required")
	}
	if err := ValidateTimestamp(timestamp); err != nil {
		return CanonicalRecord{}, err
	}
	if original == "" {
		return CanonicalRecord{}, fmt.Errorf("original url is required for path %q", path)
	}
	return CanonicalRecord{
		Subdomain: subdomain,
		Path:      path,
		Timestamp: timestamp,
		Original:  original,
		Aliases:   normalizeAliases(append([]string{original}, aliases...)),
	}, nil
}

// Validate checks the invariants of a record read back from a cache file.
func (r CanonicalRecord) Validate() error {
	if strings.TrimSpace(r.Subdomain) == "" {
		return fmt.Errorf("record %q: subdomain is required", r.Path)
	}
	if err := ValidateTimestamp(r.Timestamp); err != nil {
		return fmt.Errorf("record %q: %w", r.Path, err)
	}
	if r.Original == "" {
		return fmt.Errorf("record %q: original url is required", r.Path)
	}
	return nil
}

// AliasSet returns the record aliases plus any extra URIs, deduplicated and sorted.
func (r CanonicalRecord) AliasSet(extra ...string) []string {
	all := make([]string, 0, len(r.Aliases)+len(extra)+1)
	all = append(all, r.Original)
	all = append(all, r.Aliases...)
	all = append(all, extra...)
	return normalizeAliases(all)
}

func normalizeAliases(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a != "" {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ValidateTimestamp checks the fixed-width 14 digit archive timestamp.
func ValidateTimestamp(ts string) error {
	if len(ts) != len(TimestampLayout) {
		return fmt.Errorf("timestamp %q must have %d digits", ts, len(TimestampLayout))
	}
	for _, c := range ts {
		if c < '0' || c > '9' {
			return fmt.Errorf("timestamp %q must be numeric", ts)
		}
	}
	return nil
}

// ParseTimestamp converts an archive timestamp to UTC time.
func ParseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	return t.UTC(), nil
}

// FetchOutcome is the checkpointed result of one fetch attempt.
type FetchOutcome struct {
	Reference string
	Issues    bool
}

// NewFetchOutcome builds an outcome. A clean outcome must carry a reference.
func NewFetchOutcome(reference string, issues bool) (FetchOutcome, error) {
	if !issues && reference == "" {
		return FetchOutcome{}, fmt.Errorf("successful outcome requires a capture reference")
	}
	return FetchOutcome{Reference: reference, Issues: issues}, nil
}

// Succeeded reports whether the outcome is a clean fetch.
func (o FetchOutcome) Succeeded() bool {
	return !o.Issues && o.Reference != ""
}

type fetchOutcomeJSON struct {
	File   *string `json:"file"`
	Issues bool    `json:"issues"`
}

// MarshalJSON writes the checkpoint wire form {"file": ref|null, "issues": bool}.
func (o FetchOutcome) MarshalJSON() ([]byte, error) {
	wire := fetchOutcomeJSON{Issues: o.Issues}
	if o.Reference != "" {
		ref := o.Reference
		wire.File = &ref
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal fetch outcome: %w", err)
	}
	return data, nil
}

// UnmarshalJSON reads the checkpoint wire form.
func (o *FetchOutcome) UnmarshalJSON(data []byte) error {
	var wire fetchOutcomeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal fetch outcome: %w", err)
	}
	o.Issues = wire.Issues
	o.Reference = ""
	if wire.File != nil {
		o.Reference = *wire.File
	}
	return nil
}

// PathState is the fetch state machine position of a canonical path.
type PathState string

// Path states.
const (
	StateUnseen   PathState = "unseen"
	StateFetching PathState = "fetching"
	StateFetched  PathState = "fetched"
	StateFailed   PathState = "failed"
)

// Capture is one archived HTTP response extracted from a capture container.
type Capture struct {
	TargetURI   string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Payload     []byte
}

// Entry is what the content store holds for one alias key.
type Entry struct {
	Payload   []byte
	MimeType  string
	Timestamp string
}

// IsRedirect reports whether the entry holds a redirect target.
func (e Entry) IsRedirect() bool {
	return e.MimeType == RedirectSentinel
}

// FetchRequest captures everything needed for one archive HTTP call.
type FetchRequest struct {
	URL             string
	Headers         http.Header
	FollowRedirects bool
}

// FetchResponse is the raw result of one archive HTTP call.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FailedPath identifies a path whose latest outcome has issues.
type FailedPath struct {
	Subdomain string `json:"subdomain"`
	Path      string `json:"path"`
	Original  string `json:"original"`
}

// RunSummary is produced for each subdomain processed by the pipeline.
type RunSummary struct {
	RunID     string       `json:"run_id"`
	Subdomain string       `json:"subdomain"`
	Records   int          `json:"records"`
	Fetched   int          `json:"fetched"`
	Skipped   int          `json:"skipped"`
	Ingested  int          `json:"ingested"`
	Failed    []FailedPath `json:"failed"`
	Started   time.Time    `json:"started_at"`
	Finished  time.Time    `json:"finished_at"`
	Err       string       `json:"error,omitempty"`
}
