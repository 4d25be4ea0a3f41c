// Package capture resolves the archived capture for a canonical record and
// persists it as a WARC file in a blob store.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/hash/sha256"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
	"github.com/JakeFAU/wayback-mirror/internal/warc"
)

// Index lists the most recent index entries for one exact URL.
type Index interface {
	Captures(ctx context.Context, rawURL string, window int) ([]mirror.IndexRow, error)
}

// Config controls capture resolution.
type Config struct {
	// ReplayURL is the archive's replay prefix, e.g. https://web.archive.org/web.
	ReplayURL string
	// Window bounds how many recent index entries are searched for the timestamp.
	Window int
	// IsPartOf is written into each warcinfo record.
	IsPartOf string
}

// Result is the outcome of one resolution.
type Result struct {
	Reference  string
	Issues     bool
	StatusCode int
	Reason     string
}

// Resolver finds and stores the exact capture named by a canonical record.
type Resolver struct {
	index   Index
	fetcher mirror.Fetcher
	blobs   mirror.BlobStore
	ids     warc.RecordIDs
	hasher  mirror.Hasher
	clock   mirror.Clock
	cfg     Config
	logger  *zap.Logger
}

// NewResolver wires a Resolver.
func NewResolver(
	index Index,
	fetcher mirror.Fetcher,
	blobs mirror.BlobStore,
	ids warc.RecordIDs,
	hasher mirror.Hasher,
	clock mirror.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Resolver, error) {
	if index == nil || fetcher == nil || blobs == nil || ids == nil || hasher == nil || clock == nil {
		return nil, fmt.Errorf("capture resolver is missing a dependency")
	}
	if _, err := url.Parse(cfg.ReplayURL); err != nil || cfg.ReplayURL == "" {
		return nil, fmt.Errorf("invalid replay url %q", cfg.ReplayURL)
	}
	cfg.ReplayURL = strings.TrimRight(cfg.ReplayURL, "/")
	if cfg.Window <= 0 {
		cfg.Window = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		index:   index,
		fetcher: fetcher,
		blobs:   blobs,
		ids:     ids,
		hasher:  hasher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Retrieve resolves rec's capture and stores it. Missing captures and exhausted
// retries yield Result.Issues; only cancellation and blob write failures are errors.
func (r *Resolver) Retrieve(ctx context.Context, rec mirror.CanonicalRecord) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "capture.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("mirror.subdomain", rec.Subdomain),
		attribute.String("mirror.path", rec.Path),
		attribute.String("mirror.timestamp", rec.Timestamp),
	)
	logger := r.logger.With(zap.String("subdomain", rec.Subdomain), zap.String("path", rec.Path))

	rows, err := r.index.Captures(ctx, rec.Original, r.cfg.Window)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("list captures for %s: %w", rec.Original, ctx.Err())
		}
		logger.Warn("capture lookup failed", zap.Error(err))
		return issue("index lookup failed"), nil
	}
	if !hasExactMatch(rows, rec.Timestamp) {
		logger.Info("no exact capture in window",
			zap.String("timestamp", rec.Timestamp),
			zap.Int("window", r.cfg.Window),
			zap.Int("candidates", len(rows)),
		)
		return issue("no exact 200 capture"), nil
	}

	replay := r.replayURL(rec.Timestamp, rec.Original)
	resp, err := r.fetcher.Fetch(ctx, mirror.FetchRequest{URL: replay})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("fetch capture %s: %w", replay, ctx.Err())
		}
		logger.Warn("capture fetch failed", zap.String("replay_url", replay), zap.Error(err))
		return issue("capture fetch failed"), nil
	}
	if resp.StatusCode != http.StatusOK {
		logger.Info("capture replay did not return the capture",
			zap.String("replay_url", replay),
			zap.Int("status", resp.StatusCode),
		)
		res := issue("replay status mismatch")
		res.StatusCode = resp.StatusCode
		return res, nil
	}

	ref, err := r.persist(ctx, rec, resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist capture")
		return Result{}, err
	}
	return Result{Reference: ref, StatusCode: resp.StatusCode}, nil
}

func (r *Resolver) persist(ctx context.Context, rec mirror.CanonicalRecord, resp mirror.FetchResponse) (string, error) {
	date, err := mirror.ParseTimestamp(rec.Timestamp)
	if err != nil {
		return "", err
	}
	name := ObjectPath(rec)
	var buf bytes.Buffer
	w := warc.NewWriter(&buf, r.ids, r.hasher)
	if err := w.WriteInfo(r.clock.Now(), name, warc.Info{
		Software:    "wayback-mirror",
		IsPartOf:    r.cfg.IsPartOf,
		Description: "capture of " + rec.Original,
	}); err != nil {
		return "", err
	}
	if err := w.WriteResponse(warc.Response{
		TargetURI:  rec.Original,
		Date:       date,
		StatusCode: resp.StatusCode,
		Header:     originalHeaders(resp.Headers),
		Payload:    resp.Body,
	}); err != nil {
		return "", err
	}
	ref, err := r.blobs.PutObject(ctx, name, warc.ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store capture %s: %w: %w", name, mirror.ErrStoreIO, err)
	}
	return ref, nil
}

// ObjectPath names the WARC file of a record inside the blob store. The
// flattened path is lossy, so a digest of the exact canonical path keeps
// names unique per path.
func ObjectPath(rec mirror.CanonicalRecord) string {
	digest, _ := sha256.New().Hash([]byte(rec.Path))
	return rec.Subdomain + "/" + mirror.ObjectName(rec.Path) + "-" + digest[:pathDigestLen] + "-" + rec.Timestamp + ".warc.gz"
}

const pathDigestLen = 12

func (r *Resolver) replayURL(ts, original string) string {
	target := original
	if i := strings.IndexByte(original, '?'); i >= 0 {
		// The query belongs to the archived URL, not to the replay request.
		target = escapeFrom(original, i)
	}
	return r.cfg.ReplayURL + "/" + ts + "id_/" + target
}

// escapeFrom percent-encodes raw from byte offset split onward and leaves the prefix intact.
func escapeFrom(raw string, split int) string {
	if split < 0 || split >= len(raw) {
		return raw
	}
	return raw[:split] + url.QueryEscape(raw[split:])
}

func hasExactMatch(rows []mirror.IndexRow, ts string) bool {
	for _, row := range rows {
		if row.Timestamp == ts && row.StatusCode == "200" {
			return true
		}
	}
	return false
}

func issue(reason string) Result {
	return Result{Issues: true, Reason: reason}
}

// hopHeaders are dropped; the WARC block carries its own framing.
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
}

// originalHeaders recovers the archived response headers. The replay service
// exposes them as X-Archive-Orig-*; framing headers describe the bytes we hold.
func originalHeaders(replay http.Header) http.Header {
	out := http.Header{}
	const prefix = "X-Archive-Orig-"
	for key, values := range replay {
		canonical := http.CanonicalHeaderKey(key)
		if !strings.HasPrefix(canonical, prefix) {
			continue
		}
		name := http.CanonicalHeaderKey(strings.TrimPrefix(canonical, prefix))
		if hopHeaders[name] || name == "Content-Encoding" {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	for _, name := range []string{"Content-Type", "Content-Encoding", "Location"} {
		if v := replay.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

