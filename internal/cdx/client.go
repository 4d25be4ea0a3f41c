// Package cdx queries the archive's CDX index API.
package cdx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-mirror/internal/mirror"
	"github.com/JakeFAU/wayback-mirror/internal/telemetry"
)

// Output formats understood by the index API.
const (
	OutputJSON = "json"
	OutputText = "text"
)

// textFields is the column order of the index API's plain text output.
var textFields = []string{"urlkey", "timestamp", "original", "mimetype", "statuscode", "digest", "length"}

// Config controls how the client addresses the index API.
type Config struct {
	BaseURL string
	Output  string
}

// Client implements mirror.IndexClient over a mirror.Fetcher.
type Client struct {
	fetcher mirror.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Client.
func New(fetcher mirror.Fetcher, cfg Config, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid index url %q", cfg.BaseURL)
	}
	switch cfg.Output {
	case "":
		cfg.Output = OutputJSON
	case OutputJSON, OutputText:
	default:
		return nil, fmt.Errorf("unsupported output format %q", cfg.Output)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, cfg: cfg, logger: logger}, nil
}

// Query runs one index request and returns its rows. Malformed rows are skipped.
func (c *Client) Query(ctx context.Context, q mirror.Query) ([]mirror.IndexRow, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "cdx.Query")
	defer span.End()
	span.SetAttributes(attribute.String("cdx.url", q.URL), attribute.Int("cdx.limit", q.Limit))

	endpoint := c.buildURL(q)
	resp, err := c.fetcher.Fetch(ctx, mirror.FetchRequest{URL: endpoint})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index query failed")
		return nil, fmt.Errorf("index query %s: %w", q.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("index query %s: unexpected status %d", q.URL, resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var rows []mirror.IndexRow
	if c.cfg.Output == OutputText {
		rows = c.parseText(resp.Body)
	} else {
		rows, err = c.parseJSON(resp.Body)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("index query %s: %w", q.URL, err)
		}
	}
	span.SetAttributes(attribute.Int("cdx.rows", len(rows)))
	return rows, nil
}

// Captures returns up to window of the most recent index entries for one exact URL.
func (c *Client) Captures(ctx context.Context, rawURL string, window int) ([]mirror.IndexRow, error) {
	if window <= 0 {
		window = 10
	}
	// A negative limit asks the index for the last N entries.
	return c.Query(ctx, mirror.Query{URL: rawURL, MatchType: "exact", Limit: -window})
}

func (c *Client) buildURL(q mirror.Query) string {
	params := url.Values{}
	params.Set("url", q.URL)
	if q.MatchType != "" {
		params.Set("matchType", q.MatchType)
	}
	if q.From != "" {
		params.Set("from", q.From)
	}
	if q.To != "" {
		params.Set("to", q.To)
	}
	for _, f := range q.Filters {
		params.Add("filter", f)
	}
	if q.Limit != 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if c.cfg.Output == OutputJSON {
		params.Set("output", OutputJSON)
	}
	sep := "?"
	if strings.Contains(c.cfg.BaseURL, "?") {
		sep = "&"
	}
	return c.cfg.BaseURL + sep + params.Encode()
}

func (c *Client) parseJSON(body []byte) ([]mirror.IndexRow, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var header []string
	if err := json.Unmarshal(raw[0], &header); err != nil {
		return nil, fmt.Errorf("decode index header: %w", err)
	}
	columns := columnIndex(header)
	if err := requireColumns(columns); err != nil {
		return nil, err
	}

	rows := make([]mirror.IndexRow, 0, len(raw)-1)
	for i, item := range raw[1:] {
		// json.Unmarshal silently replaces invalid UTF-8, so check the raw bytes first.
		if !utf8.Valid(item) {
			c.logger.Warn("skipping malformed index row", zap.Int("row", i+1), zap.String("reason", "invalid utf-8"))
			continue
		}
		var fields []string
		if err := json.Unmarshal(item, &fields); err != nil {
			c.logger.Warn("skipping malformed index row", zap.Int("row", i+1), zap.Error(err))
			continue
		}
		row, ok := rowFrom(fields, columns)
		if !ok {
			c.logger.Warn("skipping malformed index row", zap.Int("row", i+1), zap.Int("fields", len(fields)))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) parseText(body []byte) []mirror.IndexRow {
	columns := columnIndex(textFields)
	var rows []mirror.IndexRow
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(bytes.TrimSpace(text)) == 0 {
			continue
		}
		if !utf8.Valid(text) {
			c.logger.Warn("skipping malformed index row", zap.Int("row", line), zap.String("reason", "invalid utf-8"))
			continue
		}
		row, ok := rowFrom(strings.Fields(string(text)), columns)
		if !ok {
			c.logger.Warn("skipping malformed index row", zap.Int("row", line))
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("index text response truncated", zap.Error(err))
	}
	return rows
}

func columnIndex(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, name := range header {
		out[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return out
}

func requireColumns(columns map[string]int) error {
	for _, name := range []string{"urlkey", "timestamp", "original"} {
		if _, ok := columns[name]; !ok {
			return fmt.Errorf("index header is missing %q: %w", name, mirror.ErrMalformedRow)
		}
	}
	return nil
}

func rowFrom(fields []string, columns map[string]int) (mirror.IndexRow, bool) {
	get := func(name string) (string, bool) {
		idx, ok := columns[name]
		if !ok || idx >= len(fields) {
			return "", false
		}
		return fields[idx], true
	}
	urlkey, ok1 := get("urlkey")
	ts, ok2 := get("timestamp")
	original, ok3 := get("original")
	if !ok1 || !ok2 || !ok3 {
		return mirror.IndexRow{}, false
	}
	status, _ := get("statuscode")
	mimetype, _ := get("mimetype")
	return mirror.IndexRow{
		URLKey:     urlkey,
		Timestamp:  ts,
		Original:   original,
		StatusCode: status,
		MimeType:   mimetype,
	}, true
}
