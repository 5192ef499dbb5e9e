package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uie-robotics/lidarstream/internal/export"
	"github.com/uie-robotics/lidarstream/pkg/scan"
)

type captureFlags struct {
	revs   int
	out    string
	format string
}

// errCaptureDone stops the stream once the requested revolution count is
// reached.
var errCaptureDone = errors.New("capture done")

func runCapture(fs *flagState, flags captureFlags) error {
	logger := fs.logger()

	format := export.DetectFormat(flags.out)
	if flags.format != "" {
		f, err := export.ParseFormat(flags.format)
		if err != nil {
			return err
		}
		format = f
	}
	out := flags.out
	if out == "" {
		out = fmt.Sprintf("lidar_%s.%s", time.Now().Format("20060102_150405"), format)
	}

	cl, err := fs.newClient(logger)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cl.ConnectWithRetry(ctx); err != nil {
		return err
	}

	mode, _ := scan.ParseMode(fs.cfg.ScanMode)
	sink, err := export.Create(out, format, export.Meta{
		Host:    fs.cfg.Host,
		Mode:    mode,
		Started: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	captured := 0
	totalPoints := 0
	start := time.Now()

	streamErr := cl.Stream(ctx, func(rev scan.Revolution) error {
		if err := sink.Write(rev, captured); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		captured++
		totalPoints += len(rev.Points)
		st := scan.Summarize(rev)
		fmt.Fprintf(os.Stderr, "rev %d: %d points, %.0f%% valid\n",
			captured, st.TotalPoints, st.ValidPct)
		if flags.revs > 0 && captured >= flags.revs {
			return errCaptureDone
		}
		return nil
	})

	closeErr := sink.Close()
	switch {
	case errors.Is(streamErr, errCaptureDone):
	case errors.Is(streamErr, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted")
	case streamErr != nil:
		return streamErr
	}
	if closeErr != nil {
		return fmt.Errorf("close output: %w", closeErr)
	}

	elapsed := time.Since(start)
	fmt.Printf("captured %d revolutions (%d points) in %s -> %s\n",
		captured, totalPoints, elapsed.Round(time.Millisecond), out)
	return nil
}
