package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

type jsonRevolution struct {
	Index     int              `json:"index"`
	Timestamp string           `json:"timestamp"`
	Points    [][3]interface{} `json:"points"`
}

type jsonDocument struct {
	CapturedAt  string           `json:"captured_at"`
	Host        string           `json:"host,omitempty"`
	ScanMode    string           `json:"scan_mode"`
	Revolutions []jsonRevolution `json:"revolutions"`
}

// jsonSink buffers the whole session and writes one document on Close.
type jsonSink struct {
	f   io.WriteCloser
	doc jsonDocument
}

func newJSONSink(f io.WriteCloser, meta Meta) *jsonSink {
	return &jsonSink{
		f: f,
		doc: jsonDocument{
			CapturedAt: meta.Started.UTC().Format(time.RFC3339),
			Host:       meta.Host,
			ScanMode:   string(meta.Mode),
		},
	}
}

func (s *jsonSink) Write(rev scan.Revolution, index int) error {
	s.doc.Revolutions = append(s.doc.Revolutions, jsonRevolution{
		Index:     index,
		Timestamp: rev.Captured.UTC().Format(time.RFC3339Nano),
		Points:    pointTriples(rev.Points),
	})
	return nil
}

func (s *jsonSink) Close() error {
	enc := json.NewEncoder(s.f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.doc); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
