// Package cli implements the rgbdview command line: it opens an RGB-D device and shows its color
// and depth streams until the quit key is pressed.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/session"
	"go.viam.com/rgbdview/viewer"
)

const (
	flagConfig   = "config"
	flagDriver   = "driver"
	flagDebug    = "debug"
	flagList     = "list"
	flagWidth    = "width"
	flagHeight   = "height"
	flagFPS      = "fps"
	flagMirror   = "mirror"
	flagFrames   = "frames"
	flagHeadless = "headless"
	flagPalette  = "palette"
	flagInvert   = "invert"
	flagMaxRange = "max-range"
	flagLogFile  = "log-file"
)

// logFileMaxSizeMB is the size at which the log file is rotated.
const logFileMaxSizeMB = 16

// Process exit codes.
const (
	ExitOK            = 0
	ExitOpenFailure   = 1
	ExitNoValidStream = 2
	ExitSetupFailure  = 3
)

// A Runner runs the viewer with the given collaborators. Nil Surface and Keys select the
// terminal, or discard and no keys when headless.
type Runner struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
	Logger logging.Logger
	// Console, if set, is the Logger's terminal appender. It is paused while the terminal
	// surface draws.
	Console *logging.PausableAppender

	Surface viewer.Surface
	Keys    viewer.KeyPoller

	// loop is set once the display loop is built, for tests.
	loop *viewer.Loop
}

// NewApp returns the command line app writing to the runner's Out and ErrOut.
func (r *Runner) NewApp() *cli.App {
	return &cli.App{
		Name:      "rgbdview",
		Usage:     "show the color and depth streams of an RGB-D camera",
		ArgsUsage: "[device]",
		Writer:    r.Out,
		ErrWriter: r.ErrOut,
		// Exit codes are decided by Run.
		ExitErrHandler:  func(*cli.Context, error) {},
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.StringFlag{
				Name:  flagDriver,
				Usage: "sensor driver to open the device with",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  flagList,
				Usage: "list the devices the driver can open and exit",
			},
			&cli.IntFlag{
				Name:  flagWidth,
				Usage: "stream width in pixels",
			},
			&cli.IntFlag{
				Name:  flagHeight,
				Usage: "stream height in pixels",
			},
			&cli.IntFlag{
				Name:  flagFPS,
				Usage: "stream frame rate",
			},
			&cli.BoolFlag{
				Name:  flagMirror,
				Value: true,
				Usage: "mirror both streams horizontally",
			},
			&cli.IntFlag{
				Name:  flagFrames,
				Usage: "stop after `N` iterations, 0 runs until quit",
			},
			&cli.BoolFlag{
				Name:  flagHeadless,
				Usage: "run without drawing or reading keys",
			},
			&cli.StringFlag{
				Name:  flagPalette,
				Usage: "depth palette, gray or heat",
			},
			&cli.BoolFlag{
				Name:  flagInvert,
				Usage: "draw near depth white instead of black",
			},
			&cli.IntFlag{
				Name:  flagMaxRange,
				Usage: "depth in millimeters drawn at full intensity",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`",
			},
		},
		Action: r.viewAction,
	}
}

// Run runs the app with args, args[0] being the program name, and returns the process exit
// code.
func (r *Runner) Run(ctx context.Context, args []string) int {
	err := r.NewApp().RunContext(ctx, args)
	code := ExitCode(err)
	if err != nil {
		fmt.Fprintf(r.ErrOut, "rgbdview: %v\n", err)
		r.Logger.Debugw("exiting", "code", code, "error", err)
	}
	return code
}

// ExitCode maps the error a run ended with to the process exit code: any failure to open the
// device is 1, no stream starting is 2 and every other error is 3.
func ExitCode(err error) int {
	var openErr *session.OpenError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &openErr):
		return ExitOpenFailure
	case errors.Is(err, session.ErrNoValidStream):
		return ExitNoValidStream
	default:
		return ExitSetupFailure
	}
}
