// Package export writes captured revolutions to CSV, JSON, or JSONL
// files for offline analysis.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// Format selects an output encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatJSONL:
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown format %q (want csv, json, or jsonl)", s)
	}
}

// DetectFormat guesses the format from a file extension, defaulting
// to CSV.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// Meta describes the capture session; it is embedded in JSON output and
// repeated per CSV row so rows stay self-describing when grouped later.
type Meta struct {
	Host    string
	Mode    scan.Mode
	Started time.Time
}

// Sink receives revolutions one at a time. Close must be called to
// flush output.
type Sink interface {
	Write(rev scan.Revolution, index int) error
	Close() error
}

// Create opens path (creating parent directories) and returns a Sink
// for the given format.
func Create(path string, format Format, meta Meta) (Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatCSV:
		return newCSVSink(f, meta)
	case FormatJSON:
		return newJSONSink(f, meta), nil
	case FormatJSONL:
		return newJSONLSink(f, meta), nil
	default:
		f.Close()
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// quality renders a point's quality for JSON-ish output: a number, or
// nil when express mode omits it.
func quality(p scan.Point) interface{} {
	if p.Quality == nil {
		return nil
	}
	return *p.Quality
}

// pointTriples encodes points as [quality, angle, distance] triples,
// the same shape the wire protocol uses.
func pointTriples(points []scan.Point) [][3]interface{} {
	out := make([][3]interface{}, len(points))
	for i, p := range points {
		out[i] = [3]interface{}{quality(p), p.Angle, p.Distance}
	}
	return out
}
