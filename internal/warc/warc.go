// Package warc reads and writes the gzip WARC 1.0 files that hold single captures.
// Only warcinfo and response records are produced; any record type can be read.
package warc

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/wayback-mirror/internal/hash/sha256"
	"github.com/JakeFAU/wayback-mirror/internal/mirror"
)

const (
	version = "WARC/1.0"
	crlf    = "\r\n"

	// ContentType is the media type used when storing WARC files.
	ContentType = "application/warc"

	TypeWarcinfo = "warcinfo"
	TypeResponse = "response"
)

// RecordIDs issues WARC-Record-ID values.
type RecordIDs interface {
	NewRecordID() (string, error)
}

// Response is the HTTP exchange to record.
type Response struct {
	TargetURI  string
	Date       time.Time
	StatusCode int
	Header     http.Header
	Payload    []byte
}

// Info fills the warcinfo record.
type Info struct {
	Software    string
	IsPartOf    string
	Description string
}

// Writer writes gzip WARC records, one gzip member per record.
type Writer struct {
	w      io.Writer
	ids    RecordIDs
	hasher mirror.Hasher
}

// NewWriter builds a Writer.
func NewWriter(w io.Writer, ids RecordIDs, hasher mirror.Hasher) *Writer {
	return &Writer{w: w, ids: ids, hasher: hasher}
}

type field struct {
	name  string
	value string
}

// WriteInfo writes a warcinfo record.
func (w *Writer) WriteInfo(date time.Time, filename string, info Info) error {
	var body strings.Builder
	for _, f := range []field{
		{"software", info.Software},
		{"isPartOf", info.IsPartOf},
		{"description", info.Description},
		{"format", "WARC File Format 1.0"},
	} {
		if f.value == "" {
			continue
		}
		body.WriteString(f.name + ": " + f.value + crlf)
	}
	id, err := w.ids.NewRecordID()
	if err != nil {
		return fmt.Errorf("warcinfo record id: %w", err)
	}
	return w.writeRecord([]field{
		{"WARC-Type", TypeWarcinfo},
		{"WARC-Record-ID", id},
		{"WARC-Date", date.UTC().Format(time.RFC3339)},
		{"WARC-Filename", filename},
		{"Content-Type", "application/warc-fields"},
	}, []byte(body.String()))
}

// WriteResponse writes a response record whose block is the full HTTP response.
func (w *Writer) WriteResponse(resp Response) error {
	digest, err := w.hasher.Hash(resp.Payload)
	if err != nil {
		return fmt.Errorf("payload digest: %w", err)
	}
	id, err := w.ids.NewRecordID()
	if err != nil {
		return fmt.Errorf("response record id: %w", err)
	}
	return w.writeRecord([]field{
		{"WARC-Type", TypeResponse},
		{"WARC-Record-ID", id},
		{"WARC-Date", resp.Date.UTC().Format(time.RFC3339)},
		{"WARC-Target-URI", resp.TargetURI},
		{"WARC-Payload-Digest", sha256.Label(digest)},
		{"Content-Type", "application/http; msgtype=response"},
	}, httpBlock(resp))
}

func (w *Writer) writeRecord(fields []field, block []byte) error {
	zw := gzip.NewWriter(w.w)
	bw := bufio.NewWriter(zw)
	_, _ = bw.WriteString(version + crlf)
	for _, f := range fields {
		_, _ = bw.WriteString(f.name + ": " + f.value + crlf)
	}
	_, _ = bw.WriteString("Content-Length: " + strconv.Itoa(len(block)) + crlf + crlf)
	_, _ = bw.Write(block)
	_, _ = bw.WriteString(crlf + crlf)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write warc record: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close warc record: %w", err)
	}
	return nil
}

func httpBlock(resp Response) []byte {
	var b bytes.Buffer
	status := strings.TrimSpace(strconv.Itoa(resp.StatusCode) + " " + http.StatusText(resp.StatusCode))
	b.WriteString("HTTP/1.1 " + status + crlf)
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Transfer-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(resp.Payload)))
	_ = header.Write(&b)
	b.WriteString(crlf)
	b.Write(resp.Payload)
	return b.Bytes()
}

// Record is one parsed WARC record.
type Record struct {
	Header textproto.MIMEHeader
	Block  []byte
}

// Type returns the WARC-Type header.
func (r Record) Type() string {
	return r.Header.Get("WARC-Type")
}

// TargetURI returns the WARC-Target-URI header.
func (r Record) TargetURI() string {
	return r.Header.Get("WARC-Target-URI")
}

// Reader iterates over the records of a (possibly gzip) WARC stream.
type Reader struct {
	br *bufio.Reader
	tp *textproto.Reader
}

// NewReader detects gzip by its magic bytes.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip warc: %w", err)
		}
		br = bufio.NewReader(zr)
	}
	return &Reader{br: br, tp: textproto.NewReader(br)}, nil
}

// Next returns the next record or io.EOF.
func (r *Reader) Next() (Record, error) {
	var line string
	for {
		l, err := r.tp.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, fmt.Errorf("read warc version: %w", err)
		}
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}
	if !strings.HasPrefix(line, "WARC/") {
		return Record{}, fmt.Errorf("unexpected warc version line %q", line)
	}
	header, err := r.tp.ReadMIMEHeader()
	if err != nil {
		return Record{}, fmt.Errorf("read warc headers: %w", err)
	}
	length, err := strconv.ParseInt(header.Get("Content-Length"), 10, 64)
	if err != nil || length < 0 {
		return Record{}, fmt.Errorf("invalid warc content-length %q", header.Get("Content-Length"))
	}
	block := make([]byte, length)
	if _, err := io.ReadFull(r.br, block); err != nil {
		return Record{}, fmt.Errorf("read warc block: %w", err)
	}
	return Record{Header: header, Block: block}, nil
}

// ParseResponse decodes the HTTP response held in a response record.
func ParseResponse(rec Record) (mirror.Capture, error) {
	if rec.Type() != TypeResponse {
		return mirror.Capture{}, fmt.Errorf("record type %q is not a response", rec.Type())
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(rec.Block)), nil)
	if err != nil {
		return mirror.Capture{}, fmt.Errorf("parse http block for %s: %w", rec.TargetURI(), err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return mirror.Capture{}, fmt.Errorf("read http payload for %s: %w", rec.TargetURI(), err)
	}
	return mirror.Capture{
		TargetURI:   rec.TargetURI(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     resp.Header,
		Payload:     payload,
	}, nil
}

// ReadCaptures returns every response record in the stream as a Capture.
func ReadCaptures(r io.Reader) ([]mirror.Capture, error) {
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var out []mirror.Capture
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if rec.Type() != TypeResponse {
			continue
		}
		capture, err := ParseResponse(rec)
		if err != nil {
			return out, err
		}
		out = append(out, capture)
	}
}
