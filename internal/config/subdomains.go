package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Subdomains returns pipeline.subdomains followed by the first column of
// pipeline.subdomain_file, trimmed and deduplicated in order.
func (c Config) Subdomains() ([]string, error) {
	out := append([]string(nil), c.Pipeline.Subdomains...)
	if c.Pipeline.SubdomainFile != "" {
		fromFile, err := ReadSubdomainFile(c.Pipeline.SubdomainFile)
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, s := range out {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		uniq = append(uniq, s)
	}
	if len(uniq) == 0 {
		return nil, fmt.Errorf("no subdomains configured (pipeline.subdomains or pipeline.subdomain_file)")
	}
	return slices.Clip(uniq), nil
}

// ReadSubdomainFile reads the first column of a CSV file. Blank lines and
// lines starting with '#' are skipped.
func ReadSubdomainFile(path string) ([]string, error) {
	// #nosec G304 -- the subdomain file path comes from configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open subdomain file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.Comment = '#'
	r.TrimLeadingSpace = true

	var out []string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read subdomain file %s: %w", path, err)
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(row[0]))
	}
}
