package export

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

type jsonlLine struct {
	RevIndex  int              `json:"rev_index"`
	Timestamp string           `json:"timestamp"`
	ScanMode  string           `json:"scan_mode"`
	Points    [][3]interface{} `json:"points"`
}

// jsonlSink writes one JSON object per line and flushes after each
// revolution, so memory stays constant and interrupted captures keep
// everything written so far.
type jsonlSink struct {
	f io.WriteCloser
	w *bufio.Writer
}

func newJSONLSink(f io.WriteCloser, meta Meta) *jsonlSink {
	return &jsonlSink{f: f, w: bufio.NewWriter(f)}
}

func (s *jsonlSink) Write(rev scan.Revolution, index int) error {
	line := jsonlLine{
		RevIndex:  index,
		Timestamp: rev.Captured.UTC().Format(time.RFC3339Nano),
		ScanMode:  string(rev.Mode),
		Points:    pointTriples(rev.Points),
	}
	b, err := json.Marshal(line)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *jsonlSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
