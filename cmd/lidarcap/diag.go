package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/uie-robotics/lidarstream/pkg/client"
	"github.com/uie-robotics/lidarstream/pkg/log"
	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// diagResult aggregates revolutions captured in one mode.
type diagResult struct {
	mode      scan.Mode
	revs      int
	elapsed   time.Duration
	points    int
	valid     int
	quality   float64
	hasQual   bool
	coverage  float64
	minDist   float64
	maxDist   float64
	haveRange bool
}

func newDiagCommand(fs *flagState) *cobra.Command {
	revs := 5
	cmd := &cobra.Command{
		Use:   "diag",
		Short: "Compare standard and express scan quality",
		Long: `Connects twice, once per scan mode, captures a few revolutions in
each, and prints a side-by-side comparison of point density, valid
percentage, and signal quality.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fs.resolve(cmd); err != nil {
				return err
			}
			return runDiag(fs, revs)
		},
	}
	cmd.Flags().IntVar(&revs, "revs", revs, "revolutions to sample per mode")
	return cmd
}

func runDiag(fs *flagState, revs int) error {
	logger := fs.logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	results := make([]diagResult, 0, 2)
	for _, mode := range []scan.Mode{scan.ModeStandard, scan.ModeExpress} {
		fmt.Fprintf(os.Stderr, "sampling %s mode (%d revolutions)...\n", mode, revs)
		res, err := sampleMode(ctx, fs, logger, mode, revs)
		if err != nil {
			return fmt.Errorf("%s mode: %w", mode, err)
		}
		results = append(results, res)

		// Let the server notice the disconnect and stop the scan before
		// the next session starts.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	printDiag(results)
	return nil
}

func sampleMode(ctx context.Context, fs *flagState, logger log.Logger, mode scan.Mode, revs int) (diagResult, error) {
	cl, err := client.New(client.Config{
		Addr:       fs.cfg.Addr(),
		Mode:       mode,
		Timeout:    fs.cfg.Timeout,
		MaxRetries: fs.cfg.MaxRetries,
		RetryDelay: fs.cfg.RetryDelay,
	}, client.WithLogger(logger))
	if err != nil {
		return diagResult{}, err
	}
	defer cl.Close()

	if err := cl.ConnectWithRetry(ctx); err != nil {
		return diagResult{}, err
	}

	res := diagResult{mode: mode}
	var qualSum float64
	var qualRevs int
	start := time.Now()
	for i := 0; i < revs; i++ {
		if ctx.Err() != nil {
			return diagResult{}, ctx.Err()
		}
		rev, err := cl.Recv()
		if err != nil {
			return diagResult{}, err
		}
		st := scan.Summarize(rev)
		res.revs++
		res.points += st.TotalPoints
		res.valid += st.ValidPoints
		res.coverage += st.Coverage
		if st.QualityAvailable {
			qualSum += st.MeanQuality
			qualRevs++
		}
		if st.ValidPoints > 0 {
			if !res.haveRange {
				res.minDist, res.maxDist = st.MinDistance, st.MaxDistance
				res.haveRange = true
			} else {
				if st.MinDistance < res.minDist {
					res.minDist = st.MinDistance
				}
				if st.MaxDistance > res.maxDist {
					res.maxDist = st.MaxDistance
				}
			}
		}
	}
	res.elapsed = time.Since(start)
	if qualRevs > 0 {
		res.hasQual = true
		res.quality = qualSum / float64(qualRevs)
	}
	return res, nil
}

func printDiag(results []diagResult) {
	fmt.Println()
	fmt.Printf("%-22s", "")
	for _, r := range results {
		fmt.Printf("%14s", r.mode)
	}
	fmt.Println()

	row := func(label string, f func(diagResult) string) {
		fmt.Printf("%-22s", label)
		for _, r := range results {
			fmt.Printf("%14s", f(r))
		}
		fmt.Println()
	}

	row("revolutions", func(r diagResult) string {
		return fmt.Sprintf("%d", r.revs)
	})
	row("points/rev", func(r diagResult) string {
		if r.revs == 0 {
			return "-"
		}
		return fmt.Sprintf("%.0f", float64(r.points)/float64(r.revs))
	})
	row("valid %", func(r diagResult) string {
		if r.points == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f", float64(r.valid)/float64(r.points)*100)
	})
	row("mean quality", func(r diagResult) string {
		if !r.hasQual {
			return "n/a"
		}
		return fmt.Sprintf("%.1f", r.quality)
	})
	row("coverage deg/rev", func(r diagResult) string {
		if r.revs == 0 {
			return "-"
		}
		return fmt.Sprintf("%.0f", r.coverage/float64(r.revs))
	})
	row("range mm", func(r diagResult) string {
		if !r.haveRange {
			return "-"
		}
		return fmt.Sprintf("%.0f-%.0f", r.minDist, r.maxDist)
	})
	row("revs/sec", func(r diagResult) string {
		if r.elapsed <= 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f", float64(r.revs)/r.elapsed.Seconds())
	})
}
