package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/uie-robotics/lidarstream/internal/cliconfig"
	"github.com/uie-robotics/lidarstream/pkg/client"
	"github.com/uie-robotics/lidarstream/pkg/log"
	"github.com/uie-robotics/lidarstream/pkg/scan"
)

const longHelp = `Capture LIDAR scans from a lidarstream server.

lidarcap connects to a lidarstreamd instance, requests a scan mode, and
records full 360-degree revolutions to CSV, JSON, or JSONL. Connection
settings come from flags, LIDARSTREAM_* environment variables, or a TOML
config file (default: ~/.lidarstream/config.toml), in that order.`

var exampleUsage = `  lidarcap --host lidar-pi --revs 10 --out scan.csv
  lidarcap --host lidar-pi --mode standard --out scan.jsonl
  lidarcap diag --host lidar-pi
  lidarcap watch --host lidar-pi --near 500`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// flagState holds values shared by all subcommands.
type flagState struct {
	cfgPath  string
	logLevel string
	cfg      cliconfig.ClientConfig
}

// resolve layers file and environment config under explicitly set flags
// and validates the result.
func (fs *flagState) resolve(cmd *cobra.Command) error {
	cfgFile := fs.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultClientConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadClientFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyClientFileConfig(&fs.cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyClientEnvConfig(&fs.cfg, changed); err != nil {
		return err
	}
	return fs.cfg.Validate()
}

// newClient builds a connected-config client from the resolved state.
func (fs *flagState) newClient(logger log.Logger) (*client.Client, error) {
	mode, err := scan.ParseMode(fs.cfg.ScanMode)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{
		Addr:       fs.cfg.Addr(),
		Mode:       mode,
		Timeout:    fs.cfg.Timeout,
		MaxRetries: fs.cfg.MaxRetries,
		RetryDelay: fs.cfg.RetryDelay,
	}, client.WithLogger(logger))
}

func (fs *flagState) logger() *log.Zerolog {
	return log.NewConsole(fs.logLevel)
}

func main() {
	fs := &flagState{cfg: cliconfig.DefaultClientConfig()}
	capture := captureFlags{revs: 10}

	root := &cobra.Command{
		Use:     "lidarcap",
		Short:   "Capture LIDAR scans from a lidarstream server",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := fs.resolve(cmd); err != nil {
				return err
			}
			return runCapture(fs, capture)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&fs.cfgPath, "config", "", "path to config file (default: ~/.lidarstream/config.toml)")
	pf.StringVar(&fs.cfg.Host, "host", fs.cfg.Host, "server hostname or IP")
	pf.IntVar(&fs.cfg.Port, "port", fs.cfg.Port, "server TCP port")
	pf.StringVar(&fs.cfg.ScanMode, "mode", fs.cfg.ScanMode, "scan mode (standard or express)")
	pf.DurationVar(&fs.cfg.Timeout, "timeout", fs.cfg.Timeout, "dial and receive timeout")
	pf.IntVar(&fs.cfg.MaxRetries, "retries", fs.cfg.MaxRetries, "extra connection attempts before giving up")
	pf.DurationVar(&fs.cfg.RetryDelay, "retry-delay", fs.cfg.RetryDelay, "pause between connection attempts")
	pf.StringVar(&fs.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.Flags().IntVar(&capture.revs, "revs", capture.revs, "number of revolutions to capture (0 = until interrupted)")
	root.Flags().StringVar(&capture.out, "out", "", "output file (extension picks the format unless --format is set)")
	root.Flags().StringVar(&capture.format, "format", "", "output format (csv, json, jsonl)")

	root.AddCommand(newDiagCommand(fs))
	root.AddCommand(newWatchCommand(fs))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lidarcap:", err)
		os.Exit(1)
	}
}
