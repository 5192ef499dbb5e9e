package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uie-robotics/lidarstream/pkg/scan"
)

// maxRangeMM is the A1's rated maximum range.
const maxRangeMM = 12000

func newWatchCommand(fs *flagState) *cobra.Command {
	var (
		nearMM float64
		sector []float64
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live per-revolution summaries",
		Long: `Streams revolutions and prints one summary line each, reconnecting
automatically if the server goes away. With --near, points closer than
the given distance are counted as obstacles. With --sector, only points
inside the given angular range are considered.`,
		Example: `  lidarcap watch --host lidar-pi
  lidarcap watch --host lidar-pi --near 500 --sector 315,45`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fs.resolve(cmd); err != nil {
				return err
			}
			if len(sector) != 0 && len(sector) != 2 {
				return fmt.Errorf("--sector wants two angles, e.g. 315,45")
			}
			return runWatch(fs, nearMM, sector)
		},
	}
	cmd.Flags().Float64Var(&nearMM, "near", 0, "count points closer than this many mm as obstacles")
	cmd.Flags().Float64SliceVar(&sector, "sector", nil, "restrict to an angular range from,to in degrees")
	return cmd
}

func runWatch(fs *flagState, nearMM float64, sector []float64) error {
	logger := fs.logger()

	cl, err := fs.newClient(logger)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	n := 0
	err = cl.Stream(ctx, func(rev scan.Revolution) error {
		n++
		points := rev.Points
		if len(sector) == 2 {
			points = scan.FilterSector(points, sector[0], sector[1])
		}
		st := scan.Summarize(scan.Revolution{Mode: rev.Mode, Captured: rev.Captured, Points: points})

		line := fmt.Sprintf("rev %4d: %4d points, %5.1f%% valid, range %.0f-%.0f mm",
			n, st.TotalPoints, st.ValidPct, st.MinDistance, st.MaxDistance)
		if st.QualityAvailable {
			line += fmt.Sprintf(", quality %.1f", st.MeanQuality)
		}
		if nearMM > 0 {
			split := scan.FilterDistance(points, nearMM, maxRangeMM)
			if len(split.TooNear) > 0 {
				line += fmt.Sprintf("  !! %d points within %.0f mm", len(split.TooNear), nearMM)
			}
		}
		fmt.Println(line)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
