package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// csvColumns is one row per point. Session fields repeat on every row
// so the file can be grouped by revolution in pandas or sqlite without
// a sidecar file.
var csvColumns = []string{
	"timestamp_iso",
	"scan_mode",
	"rev_index",
	"point_index",
	"angle_deg",
	"distance_mm",
	"quality",
}

type csvSink struct {
	f io.WriteCloser
	w *csv.Writer
}

func newCSVSink(f io.WriteCloser, meta Meta) (*csvSink, error) {
	s := &csvSink{f: f, w: csv.NewWriter(f)}
	if err := s.w.Write(csvColumns); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *csvSink) Write(rev scan.Revolution, index int) error {
	ts := rev.Captured.UTC().Format(time.RFC3339Nano)
	for i, p := range rev.Points {
		q := ""
		if p.Quality != nil {
			q = strconv.Itoa(int(*p.Quality))
		}
		row := []string{
			ts,
			string(rev.Mode),
			strconv.Itoa(index),
			strconv.Itoa(i),
			strconv.FormatFloat(p.Angle, 'f', 2, 64),
			strconv.FormatFloat(p.Distance, 'f', 2, 64),
			q,
		}
		if err := s.w.Write(row); err != nil {
			return err
		}
	}
	// Flush per revolution so long captures survive interruption.
	s.w.Flush()
	return s.w.Error()
}

func (s *csvSink) Close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
