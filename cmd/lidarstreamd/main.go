package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/uie-robotics/lidarstream/internal/cliconfig"
	"github.com/uie-robotics/lidarstream/internal/driver"
	"github.com/uie-robotics/lidarstream/internal/server"
	"github.com/uie-robotics/lidarstream/internal/watcher"
	"github.com/uie-robotics/lidarstream/pkg/log"
)

const longHelp = `Serve RPLIDAR A1 scan data over TCP.

lidarstreamd owns the sensor on its serial port and streams full 360-degree
revolutions to one client at a time. The motor and scan stay off until a
client connects; the client's first bytes pick the scan mode (STANDARD or
EXPRESS). Configure via file, environment (LIDARSTREAM_*), or flags.`

var exampleUsage = `  lidarstreamd --serial-port /dev/ttyUSB0
  lidarstreamd --listen :5000 --log-level debug
  lidarstreamd --sim`

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultServerConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:     "lidarstreamd",
		Short:   "Serve RPLIDAR A1 scan data over TCP",
		Long:    longHelp,
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultServerConfigPath()
			}

			// Precedence: flags > environment > config file > defaults.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadServerFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyServerFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}
			if err := cliconfig.ApplyServerEnvConfig(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.NewConsole(cfg.LogLevel)
			return run(cfg, cfgFile, logger)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: /etc/lidarstream/server.toml)")
	root.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "TCP listen address")
	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	root.Flags().DurationVar(&cfg.TokenTimeout, "token-timeout", cfg.TokenTimeout, "how long to wait for the client's mode token")
	root.Flags().DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-revolution write deadline")
	root.Flags().StringVar(&cfg.SerialPath, "serial-port", cfg.SerialPath, "serial device of the sensor")
	root.Flags().IntVar(&cfg.Baud, "baud", cfg.Baud, "serial baud rate")
	root.Flags().DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "serial read timeout during scanning")
	root.Flags().DurationVar(&cfg.SpinupDelay, "spinup", cfg.SpinupDelay, "motor spin-up delay before sampling")
	root.Flags().BoolVar(&cfg.Sim, "sim", cfg.Sim, "serve simulated scan data instead of opening a serial port")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lidarstreamd:", err)
		os.Exit(1)
	}
}

func run(cfg cliconfig.ServerConfig, cfgFile string, logger *log.Zerolog) error {
	sensor, err := openSensor(cfg, logger)
	if err != nil {
		return err
	}
	defer sensor.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, stopping", log.String("signal", sig.String()))
		cancel()
	}()

	if cliconfig.FileExists(cfgFile) {
		w := watcher.New(cfgFile, logger, func(fc cliconfig.ServerFileConfig) {
			applyReload(cfg, fc, logger)
		})
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("config watcher stopped", log.Err(err))
			}
		}()
	}

	srv := server.New(server.Config{
		ListenAddr:   cfg.Listen,
		TokenTimeout: cfg.TokenTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, sensor, logger)

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func openSensor(cfg cliconfig.ServerConfig, logger log.Logger) (driver.Sensor, error) {
	if cfg.Sim {
		logger.Info("using simulated sensor")
		return driver.NewSim(driver.SimOptions{}, logger), nil
	}

	dev, err := driver.Open(driver.Options{
		Path:        cfg.SerialPath,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		SpinupDelay: cfg.SpinupDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open sensor: %w", err)
	}

	info, err := dev.Info()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("read device info: %w", err)
	}
	logger.Info("sensor connected",
		log.String("path", cfg.SerialPath),
		log.Int("model", int(info.Model)),
		log.String("firmware", info.FirmwareString()),
		log.String("serial", info.SerialString()))

	health, err := dev.Health()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("read device health: %w", err)
	}
	if !health.OK() {
		dev.Close()
		return nil, fmt.Errorf("device health error (code %d)", health.ErrorCode)
	}
	return dev, nil
}

// applyReload applies live-updatable settings from a re-read config
// file. Only the log level takes effect at runtime; other changes log a
// restart notice.
func applyReload(cfg cliconfig.ServerConfig, fc cliconfig.ServerFileConfig, logger *log.Zerolog) {
	if lvl := fc.Server.LogLevel; lvl != "" && lvl != cfg.LogLevel {
		if logger.SetLevel(lvl) {
			logger.Info("log level changed", log.String("level", lvl))
		} else {
			logger.Warn("ignoring invalid log level", log.String("level", lvl))
		}
	}
	if fc.Server.Listen != "" && fc.Server.Listen != cfg.Listen {
		logger.Warn("listen address change requires restart",
			log.String("current", cfg.Listen),
			log.String("new", fc.Server.Listen))
	}
	if fc.Sensor.Path != "" && fc.Sensor.Path != cfg.SerialPath {
		logger.Warn("serial port change requires restart",
			log.String("current", cfg.SerialPath),
			log.String("new", fc.Sensor.Path))
	}
}
