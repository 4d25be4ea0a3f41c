// Package ingest writes stored captures into the content store under every alias.
package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
	"github.com/JakeFAU/wayback-mirror/internal/warc"
)

// DefaultMimeType is stored when a capture carries no Content-Type.
const DefaultMimeType = "application/octet-stream"

// Transform rewrites a payload before it is stored. HTML clean-up hooks plug in here.
type Transform func(capture mirror.Capture, payload []byte) ([]byte, error)

// Identity stores payloads untouched.
func Identity(_ mirror.Capture, payload []byte) ([]byte, error) {
	return payload, nil
}

// Ingester fans captures out into a mirror.ContentStore.
type Ingester struct {
	blobs     mirror.BlobStore
	store     mirror.ContentStore
	transform Transform
	logger    *zap.Logger
}

// New builds an Ingester. A nil transform means Identity.
func New(blobs mirror.BlobStore, store mirror.ContentStore, transform Transform, logger *zap.Logger) *Ingester {
	if transform == nil {
		transform = Identity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{blobs: blobs, store: store, transform: transform, logger: logger}
}

// Ingest reads the capture container at reference and writes every response
// record under the full alias set of rec. It returns the number of keys written.
func (i *Ingester) Ingest(ctx context.Context, rec mirror.CanonicalRecord, reference string) (int, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("mirror.path", rec.Path))

	if reference == "" {
		return 0, fmt.Errorf("ingest %s: empty capture reference", rec.Path)
	}
	rc, err := i.blobs.GetObject(ctx, reference)
	if err != nil {
		return 0, fmt.Errorf("open capture %s: %w: %w", reference, mirror.ErrStoreIO, err)
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			i.logger.Debug("close capture failed", zap.String("reference", reference), zap.Error(cerr))
		}
	}()
	captures, err := warc.ReadCaptures(rc)
	if err != nil {
		return 0, fmt.Errorf("read capture %s: %w: %w", reference, mirror.ErrStoreIO, err)
	}

	written := 0
	for _, capture := range captures {
		n, err := i.IngestCapture(ctx, rec, capture)
		written += n
		if err != nil {
			return written, err
		}
	}
	span.SetAttributes(attribute.Int("mirror.keys", written))
	return written, nil
}

// IngestCapture writes one capture under rec's aliases plus the capture's own URI.
func (i *Ingester) IngestCapture(ctx context.Context, rec mirror.CanonicalRecord, capture mirror.Capture) (int, error) {
	aliases := rec.AliasSet(capture.TargetURI)
	if target, ok := redirectTarget(capture); ok {
		for _, alias := range aliases {
			if err := i.store.PutRedirect(ctx, alias, target, rec.Timestamp); err != nil {
				return 0, fmt.Errorf("store redirect %s: %w: %w", alias, mirror.ErrStoreIO, err)
			}
			telemetry.ObserveStoreWrite("redirect")
		}
		i.logger.Debug("ingested redirect",
			zap.String("path", rec.Path),
			zap.String("target", target),
			zap.Int("aliases", len(aliases)),
		)
		return len(aliases), nil
	}

	payload, err := decodePayload(capture)
	if err != nil {
		return 0, fmt.Errorf("decode payload of %s: %w", capture.TargetURI, err)
	}
	payload, err = i.transform(capture, payload)
	if err != nil {
		return 0, fmt.Errorf("transform %s: %w", capture.TargetURI, err)
	}
	mimetype := strings.TrimSpace(capture.ContentType)
	if mimetype == "" {
		mimetype = DefaultMimeType
	}
	for _, alias := range aliases {
		if err := i.store.Put(ctx, alias, payload, mimetype, rec.Timestamp); err != nil {
			return 0, fmt.Errorf("store %s: %w: %w", alias, mirror.ErrStoreIO, err)
		}
		telemetry.ObserveStoreWrite("content")
	}
	i.logger.Debug("ingested capture",
		zap.String("path", rec.Path),
		zap.Int("aliases", len(aliases)),
		zap.Int("bytes", len(payload)),
	)
	return len(aliases), nil
}

// Ingested reports whether every alias of rec already holds rec's timestamp.
func (i *Ingester) Ingested(ctx context.Context, rec mirror.CanonicalRecord) (bool, error) {
	for _, alias := range rec.AliasSet() {
		entry, err := i.store.Get(ctx, alias)
		if errors.Is(err, mirror.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("lookup %s: %w", alias, err)
		}
		if entry.Timestamp != rec.Timestamp {
			return false, nil
		}
	}
	return true, nil
}

var replayPrefix = regexp.MustCompile(`^https?://[^/]+/web/\d{1,14}[a-z_]*/`)

// redirectTarget returns the absolute archived Location of a 3xx capture.
func redirectTarget(capture mirror.Capture) (string, bool) {
	if !IsRedirectStatus(capture.StatusCode) || capture.Headers == nil {
		return "", false
	}
	location := strings.TrimSpace(capture.Headers.Get("Location"))
	if location == "" {
		return "", false
	}
	// Replay services rewrite Location into their own namespace.
	location = replayPrefix.ReplaceAllString(location, "")
	base, err := url.Parse(capture.TargetURI)
	if err != nil {
		return location, true
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location, true
	}
	return base.ResolveReference(ref).String(), true
}

func decodePayload(capture mirror.Capture) ([]byte, error) {
	if capture.Headers == nil {
		return capture.Payload, nil
	}
	encoding := strings.ToLower(strings.TrimSpace(capture.Headers.Get("Content-Encoding")))
	if encoding != "gzip" && encoding != "x-gzip" {
		return capture.Payload, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(capture.Payload))
	if err != nil {
		return nil, fmt.Errorf("open gzip payload: %w", err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip payload: %w", err)
	}
	return data, nil
}

// IsRedirectStatus reports whether code is stored through PutRedirect.
func IsRedirectStatus(code int) bool {
	return code >= http.StatusMultipleChoices && code < http.StatusBadRequest
}
