package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/digirec/internal/console"
	"github.com/xtxerr/digirec/internal/controller"
	"github.com/xtxerr/digirec/internal/device"
	"github.com/xtxerr/digirec/internal/device/sim"
	"github.com/xtxerr/digirec/internal/dispatch"
	"github.com/xtxerr/digirec/internal/errors"
	"github.com/xtxerr/digirec/internal/loader"
	"github.com/xtxerr/digirec/internal/logging"
)

type runFlags struct {
	digConfig   string
	recConfig   string
	settings    string
	simulate    bool
	interactive bool
	record      bool
}

func runCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the digitiser and serve operator commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.digConfig, "dig-config", "digitiser.yaml", "digitiser configuration file")
	fl.StringVar(&f.recConfig, "rec-config", "recording.yaml", "recording configuration file")
	fl.StringVar(&f.settings, "settings", "", "daemon settings file (or DIGIREC_* variables)")
	fl.String("backend", "", "storage backend: parquet or duckdb")
	fl.String("data-dir", "", "directory for recordings")
	fl.BoolVar(&f.simulate, "simulate", false, "use the simulated digitiser")
	fl.BoolVar(&f.interactive, "console", true, "read operator commands from stdin")
	fl.BoolVar(&f.record, "record", false, "start acquisition and recording immediately")
	fl.String("log-level", "", "debug, info, warn or error")
	fl.Bool("log-json", false, "log as JSON")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f runFlags) error {
	cfg, err := loadSettings(f.settings, cmd.Flags())
	if err != nil {
		return err
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	log := logging.Component("main")
	log.Info("digirecd starting", "version", Version, "backend", cfg.Backend, "data_dir", cfg.DataDir)

	dig, err := loader.Load(f.digConfig)
	if err != nil {
		return err
	}
	rec, err := loader.Load(f.recConfig)
	if err != nil {
		return err
	}

	if f.simulate {
		cfg.Device = "sim"
	}
	dev, err := openDevice(cfg.Device)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctl, err := controller.New(dig, rec, controller.Options{
		Settings: cfg.Settings,
		Device:   dev,
		Sink:     dispatch.NewLogSink(5 * time.Second),
	})
	if err != nil {
		return err
	}

	if f.record {
		if err := ctl.StartAcquisition(); err != nil {
			log.Error("start acquisition", "error", err)
		}
		if err := ctl.StartRecording(); err != nil {
			log.Error("start recording", "error", err)
		}
	}

	var con *console.Console
	var quit <-chan struct{}
	if f.interactive {
		con = console.New(ctl, os.Stdout)
		quit = con.Done()
		go con.Run(ctx, os.Stdin)
	}

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case <-quit:
		log.Info("operator quit, shutting down")
	}
	if con != nil {
		con.Restore()
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.WorkerTimeout+2*cfg.WriterTimeout)
	defer cancel()

	report := ctl.Shutdown(sctx)
	fmt.Fprint(os.Stderr, ctl.Status())
	return report.Err()
}

// openDevice returns the digitiser driver named by the settings.
func openDevice(name string) (device.Device, error) {
	switch name {
	case "sim":
		return sim.New(), nil
	case "":
		return nil, errors.NewInvalidValue("device", name, "no digitiser selected, use --simulate or device: sim")
	default:
		return nil, errors.NewInvalidValue("device", name, "no driver for this digitiser")
	}
}
