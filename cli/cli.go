package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/semitest/image"
	"github.com/perfgo/semitest/orchestrator"
	"github.com/perfgo/semitest/probe/openocd"
	"github.com/perfgo/semitest/session"
)

const AppName = "semitest"

// Exit codes of the test command.
const (
	exitFatal    = 1
	exitFailures = 101
)

type App struct {
	logger zerolog.Logger
	cli    *cli.App
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Run on-target tests over semihosting",
			Authors: []*cli.Author{
				{Name: "Christian Simon", Email: fmt.Sprintf("simon+%s@swine.de", AppName)},
			},
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
			},
			Before: func(ctx *cli.Context) error {
				if ctx.Bool("verbose") {
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
				return nil
			},
		},
	}
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "test",
		Usage:     "Flash a test image and run its tests one boot at a time",
		ArgsUsage: "<image> [--exact] [--skip NAME] [--ignored] [--include-ignored] [--list] [FILTER...]",
		Action:    app.test,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: fmt.Sprintf("Config file (default: %s in the working directory or git root)", configFileName),
			},
			&cli.StringFlag{
				Name:  "probe",
				Usage: "Probe driver: sim or openocd (default: sim for sim:<name> images, openocd otherwise)",
			},
			&cli.StringFlag{
				Name:  "probe-addr",
				Usage: "OpenOCD TCL RPC address (as seen from --remote-host when set)",
				Value: openocd.DefaultAddr,
			},
			&cli.StringFlag{
				Name:  "arch",
				Usage: "Core architecture (default: detected from the ELF header)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Time a test may run when it sets no timeout of its own",
				Value: orchestrator.DefaultTimeout,
			},
			&cli.DurationFlag{
				Name:  "boot-timeout",
				Usage: "Time the target may take to ask for its command line and to list tests",
				Value: orchestrator.DefaultBootTimeout,
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "How often the core state is polled while a test runs",
				Value: session.DefaultPollInterval,
			},
			&cli.StringFlag{
				Name:  "remote-host",
				Usage: "SSH host running the probe server; the image is copied there and the RPC port forwarded",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Rerun whenever the image file changes",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not record this run under .semitest/history",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "history",
		Usage:  "List previous test runs",
		Action: app.history,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"p"},
				Usage:   "Filter by relative path (e.g., firmware/tests)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "view",
		Usage:           "View test results from history",
		ArgsUsage:       "[ID|INDEX] [pprof args]",
		Action:          app.view,
		SkipFlagParsing: true,
		Description: `View test results from history.

Arguments:
  0           View last test run (default)
  -1          View 2nd last test run
  -2          View 3rd last test run
  <hex-id>    View test run matching the hex ID prefix

Any further arguments open the run's timing profile (timing.pb.gz) in
go tool pprof with those arguments.

Examples:
  semitest view                 # Show the report of the last run
  semitest view -1              # Show the report of the 2nd last run
  semitest view abc123 -top     # Slowest tests of run abc123
  semitest view 0 -http=:8080   # Browse the timing profile of the last run`,
	})
	return app
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && commit != "" {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}

func newRunID() (string, error) {
	// Generate random 16-byte ID
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate test run ID: %w", err)
	}
	return hex.EncodeToString(idBytes), nil
}

// fatalMessage names the stage a fatal error stopped the run at.
func fatalMessage(err error) string {
	var (
		versionErr *image.VersionError
		fatalErr   *session.FatalError
		listingErr *orchestrator.ListingError
	)
	switch {
	case errors.As(err, &versionErr):
		return "Image cannot be driven by this runner"
	case errors.As(err, &fatalErr):
		return "Probe session failed"
	case errors.As(err, &listingErr):
		return "Failed to list tests"
	case errors.Is(err, context.Canceled):
		return "Interrupted"
	}
	return "Test run failed"
}

func (a *App) test(ctx *cli.Context) error {
	args := ctx.Args().Slice()
	if len(args) < 1 {
		return cli.Exit("no image specified: please provide an ELF test image or a simulated image (e.g. 'sim:demo')", exitFatal)
	}
	imagePath := args[0]
	rawTestArgs := args[1:]

	testArgs, err := parseTestArgs(rawTestArgs)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	s, err := a.loadSettings(ctx)
	if err != nil {
		return cli.Exit(err.Error(), exitFatal)
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	inv := invocation{
		settings:  s,
		imagePath: imagePath,
		testArgs:  testArgs,
		rawArgs:   rawTestArgs,
		argv:      os.Args,
	}

	if ctx.Bool("watch") {
		return a.watchImage(runCtx, imagePath, func(ctx context.Context) {
			code, err := a.runOnce(ctx, inv)
			if err != nil {
				a.logger.Error().Err(err).Msg(fatalMessage(err))
				return
			}
			a.logger.Info().Int("exit_code", code).Msg("Waiting for the image to change")
		})
	}

	code, err := a.runOnce(runCtx, inv)
	if err != nil {
		a.logger.Error().Err(err).Msg(fatalMessage(err))
		return cli.Exit("", exitFatal)
	}
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}
