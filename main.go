// Package main runs Class Calm, a classroom noise meter that listens to a
// microphone, shows the room's loudness on a dashboard and raises an alert
// when the noise stays above the configured limit.
//
// Usage:
//
//	class-calm [--config path/to/config.json] [command]
//
// Without a command the dashboard server starts. If --config is not
// specified, config.json next to the binary is used.
package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/doananhminh-dev/Class-calm/internal/alert"
	"github.com/doananhminh-dev/Class-calm/internal/archive"
	"github.com/doananhminh-dev/Class-calm/internal/capture"
	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/eventlog"
	"github.com/doananhminh-dev/Class-calm/internal/meter"
	"github.com/doananhminh-dev/Class-calm/internal/metrics"
	"github.com/doananhminh-dev/Class-calm/internal/notify"
	"github.com/doananhminh-dev/Class-calm/internal/server"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// shutdownTimeout bounds HTTP shutdown and notification draining.
const shutdownTimeout = 30 * time.Second

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to config file (.json, .yaml or .yml)",
		EnvVars: []string{"CLASSCALM_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "debug, info, warn or error",
		Value:   "info",
		EnvVars: []string{"CLASSCALM_LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-format",
		Usage:   "text or json",
		Value:   "text",
		EnvVars: []string{"CLASSCALM_LOG_FORMAT"},
	},
}

func main() {
	app := &cli.App{
		Name:        "class-calm",
		Usage:       "classroom noise meter",
		Description: "run without subcommands to start the dashboard server",
		Flags: append(baseFlags,
			&cli.BoolFlag{
				Name:  "autostart",
				Usage: "start the monitor session when the server starts",
			},
		),
		Before: setupLogging,
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:  "devices",
				Usage: "list the audio inputs a capture backend can open",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "backend",
						Usage: "malgo, command or synthetic (default: the configured backend)",
					},
				},
				Action: listDevices,
			},
			{
				Name:      "test",
				Usage:     "send a test notification using the saved settings",
				ArgsUsage: "webhook|log|email|zabbix|archive",
				Action:    runTest,
			},
			{
				Name:   "archive",
				Usage:  "rotate the event log and upload it to the archive bucket now",
				Action: archiveNow,
			},
			{
				Name:   "version",
				Usage:  "print version information",
				Action: printVersion,
			},
		},
		Version: Version,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler from the log flags.
func setupLogging(c *cli.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.String("log-level"), err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(c.String("log-format")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", c.String("log-format"))
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig loads the config named by --config, or config.json next to the binary.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		execPath, err := os.Executable()
		if err != nil {
			return nil, util.WrapError("get executable path", err)
		}
		path = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", path)

	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		return nil, util.WrapError("load config", err)
	}
	return cfg, nil
}

// eventLogPath returns the configured event log path or the per-port default.
func eventLogPath(snap *config.Snapshot) string {
	return cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort))
}

// serve runs the dashboard server until a shutdown signal arrives.
func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	snap := cfg.Snapshot()

	ffmpegPath := util.ResolveCommand(snap.FFmpegPath, "ffmpeg")
	ffmpegAvailable := ffmpegPath != ""
	if !ffmpegAvailable && snap.AudioBackend == capture.BackendCommand {
		slog.Warn("FFmpeg not found, the command backend may not be able to capture",
			"configured_path", snap.FFmpegPath)
	}

	src, err := capture.New(capture.Options{
		Backend:    snap.AudioBackend,
		Device:     snap.AudioInput,
		FFmpegPath: ffmpegPath,
		FrameSize:  snap.FrameSize,
	})
	if err != nil {
		return util.WrapError("create audio source", err)
	}
	shared := capture.NewShared(src)
	hub := meter.NewHub(shared)

	logPath := eventLogPath(&snap)
	events, err := eventlog.NewLogger(logPath)
	if err != nil {
		return util.WrapError("open event log", err)
	}
	defer util.SafeCloseFunc(events, "event log")()

	m := metrics.New(hub.DeviceRefs)
	notifier := notify.NewNotifier(cfg)
	alerts := newAlertBroadcaster()
	eventObserver := eventlog.NewObserver(events)
	observers := meter.Observers{m, eventObserver}

	// The monitor screen raises alerts; the header badge only mirrors the level.
	sessions := []*meter.Session{
		meter.New(meter.SessionMonitor, shared, alert.Multi{alerts, notifier},
			meter.WithObserver(observers),
			meter.WithExceedingMode(types.ModeSustained),
		),
		meter.New(meter.SessionBadge, shared, alert.Noop{},
			meter.WithObserver(observers),
			meter.WithExceedingMode(types.ModeInstant),
		),
	}
	for _, s := range sessions {
		if err := hub.Add(s); err != nil {
			return err
		}
	}

	archiver := archive.New(cfg, events)
	commands := server.NewCommandHandler(cfg, hub, logPath, eventObserver, archiver)
	srv := NewServer(cfg, hub, commands, m, alerts, ffmpegAvailable)
	srv.refreshDevices()

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	go archiver.Run(ctx)
	go reopenOnSignal(ctx, events)

	if c.Bool("autostart") {
		startCtx, cancel := context.WithTimeout(ctx, types.SourceStartTimeout)
		if err := hub.Start(startCtx, meter.SessionMonitor, cfg.MeterConfig()); err != nil {
			slog.Error("failed to start monitor session", "error", err)
		}
		cancel()
	}

	httpServer := srv.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	srv.version.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := hub.StopAll(); err != nil {
		slog.Error("error stopping meter sessions", "error", err)
	}
	notifier.Close(shutdownTimeout)
	if err := cfg.Flush(); err != nil {
		slog.Error("failed to save config", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// reopenOnSignal reopens the event log whenever a rotation signal arrives.
func reopenOnSignal(ctx context.Context, events *eventlog.Logger) {
	sigs := util.RotateSignals()
	if len(sigs) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := events.Reopen(); err != nil {
				slog.Error("failed to reopen event log", "path", events.Path(), "error", err)
				continue
			}
			slog.Info("event log reopened", "path", events.Path())
		}
	}
}

// listDevices prints the inputs of the selected backend as a table.
func listDevices(c *cli.Context) error {
	backend := c.String("backend")
	if backend == "" {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		backend = cfg.Snapshot().AudioBackend
	}

	devices, err := capture.Devices(backend)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		color.Yellow("No audio inputs found for backend %s", backend)
		return nil
	}

	color.New(color.Bold).Printf("Audio inputs (%s)\n", backend)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name"})
	table.SetAutoWrapText(false)
	for _, d := range devices {
		table.Append([]string{d.ID, d.Name})
	}
	table.Render()
	return nil
}

// runTest sends one test notification and reports the outcome.
func runTest(c *cli.Context) error {
	testType := c.Args().First()
	if testType == "" {
		return cli.Exit("missing test type: webhook, log, email, zabbix or archive", 2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	commands := server.NewCommandHandler(cfg, nil, "", nil, nil)

	ctx, cancel := context.WithTimeout(c.Context, shutdownTimeout)
	defer cancel()

	if err := commands.RunTest(ctx, testType); err != nil {
		color.Red("✗ %s test failed: %v", testType, err)
		return cli.Exit("", 1)
	}
	color.Green("✓ %s test succeeded", testType)
	return nil
}

// archiveNow performs one archive run outside the server.
func archiveNow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	snap := cfg.Snapshot()

	events, err := eventlog.NewLogger(eventLogPath(&snap))
	if err != nil {
		return util.WrapError("open event log", err)
	}
	defer util.SafeCloseFunc(events, "event log")()

	n, err := archive.New(cfg, events).ArchiveNow(c.Context)
	if err != nil {
		color.Red("✗ archived %d file(s): %v", n, err)
		return cli.Exit("", 1)
	}
	color.Green("✓ archived %d file(s)", n)
	return nil
}

// printVersion prints build information.
func printVersion(_ *cli.Context) error {
	color.New(color.Bold).Printf("class-calm %s\n", Version)
	fmt.Printf("commit:     %s\n", Commit)
	fmt.Printf("build time: %s\n", util.FormatBuildTime(BuildTime))
	return nil
}
