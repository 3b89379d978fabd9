package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/rgbdview/config"
	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
	"go.viam.com/rgbdview/session"
	"go.viam.com/rgbdview/utils"
	"go.viam.com/rgbdview/viewer"
	"go.viam.com/rgbdview/viewer/terminal"
)

// loadConfig reads the config file, if any, and applies the flags that were set on top of it.
func (r *Runner) loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Read(c.Context, path, r.Logger); err != nil {
			return nil, err
		}
	} else {
		cfg.ReadTimeout = utils.GetReadTimeout(cfg.ReadTimeout, r.Logger)
	}
	if c.IsSet(flagDriver) {
		cfg.Driver = c.String(flagDriver)
	}
	if device := c.Args().First(); device != "" {
		cfg.Device = device
	}
	if c.IsSet(flagWidth) {
		cfg.Width = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		cfg.Height = c.Int(flagHeight)
	}
	if c.IsSet(flagFPS) {
		cfg.FPS = c.Int(flagFPS)
	}
	if c.IsSet(flagMirror) {
		cfg.Mirror = c.Bool(flagMirror)
	}
	if c.IsSet(flagFrames) {
		cfg.MaxIterations = c.Int(flagFrames)
	}
	if c.IsSet(flagHeadless) {
		cfg.Headless = c.Bool(flagHeadless)
	}
	if c.IsSet(flagPalette) {
		cfg.DepthPalette = c.String(flagPalette)
	}
	if c.IsSet(flagInvert) {
		cfg.DepthInvert = c.Bool(flagInvert)
	}
	if c.IsSet(flagMaxRange) {
		cfg.DepthMaxRange = c.Int(flagMaxRange)
	}
	if c.IsSet(flagLogFile) {
		cfg.LogFile = c.String(flagLogFile)
	}
	if err := cfg.Validate("flags"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *Runner) viewAction(c *cli.Context) (err error) {
	if c.NArg() > 1 {
		return errors.Errorf("expected at most one device, got %d arguments", c.NArg())
	}
	config.InitLoggingSettings(r.Logger, c.Bool(flagDebug))
	utils.LogEnvVariables("environment", r.Logger)

	cfg, err := r.loadConfig(c)
	if err != nil {
		return err
	}
	config.UpdateFileConfigDebug(cfg.Debug())
	if level, ok := cfg.Level(); ok {
		r.Logger.SetLevel(level)
	}
	if cfg.LogFile != "" {
		appender, logFile := logging.NewFileAppender(cfg.LogFile, logFileMaxSizeMB)
		r.Logger.AddAppender(appender)
		defer func() {
			if closeErr := logFile.Close(); closeErr != nil {
				fmt.Fprintf(r.ErrOut, "rgbdview: closing log file: %v\n", closeErr)
			}
		}()
	}

	driver, err := sensor.LookupDriver(cfg.Driver)
	if err != nil {
		return err
	}
	if c.Bool(flagList) {
		return r.listDevices(c, driver)
	}

	ctx := c.Context
	sess, err := session.Setup(ctx, driver, cfg.DeviceIdentifier(), cfg.SessionOptions(), r.Logger)
	if err != nil {
		return err
	}
	defer func() {
		// Teardown problems are reported but do not change how the run ended.
		if closeErr := sess.Close(ctx); closeErr != nil {
			r.Logger.Warnw("error closing session", "error", closeErr)
		}
	}()

	opts, err := cfg.ViewerOptions()
	if err != nil {
		return err
	}
	surface, keys, closeDisplay, err := r.display(c, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, closeDisplay())
	}()

	loop, err := viewer.NewLoop(sess.Streams(), surface, keys, opts, r.Logger)
	if err != nil {
		return err
	}
	r.loop = loop
	return loop.Run(ctx)
}

// display returns the surface and key poller for the run and a func releasing them.
func (r *Runner) display(c *cli.Context, cfg *config.Config) (viewer.Surface, viewer.KeyPoller, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = multierr.Combine(errs, closers[i]())
		}
		return errs
	}

	surface := r.Surface
	if surface == nil {
		if cfg.Headless {
			surface = viewer.DiscardSurface{}
		} else {
			sizeFD := -1
			if f, ok := r.Out.(*os.File); ok {
				sizeFD = int(f.Fd())
			}
			ts, err := terminal.NewSurface(c.Context, r.Out, terminal.SurfaceOptions{
				Palette: terminal.Palette(cfg.DepthPalette),
				SizeFD:  sizeFD,
			}, r.Logger)
			if err != nil {
				return nil, nil, nil, err
			}
			closers = append(closers, ts.Close)
			surface = ts
			if r.Console != nil {
				r.Logger.Infow("console logging paused while the terminal view is shown", "log_file", cfg.LogFile)
				r.Console.Pause()
				closers = append(closers, func() error {
					r.Console.Resume()
					return nil
				})
			}
		}
	}

	keys := r.Keys
	if keys == nil {
		if cfg.Headless {
			keys = viewer.NoKeys{}
		} else {
			keyboard, err := terminal.NewKeyboard(r.In, r.Logger)
			if err != nil {
				return nil, nil, nil, multierr.Combine(err, closeAll())
			}
			closers = append(closers, keyboard.Close)
			keys = keyboard
		}
	}
	return surface, keys, closeAll, nil
}

func (r *Runner) listDevices(c *cli.Context, driver sensor.Driver) error {
	devices, err := driver.Discover(c.Context)
	if err != nil {
		return errors.Wrapf(err, "listing %s devices", driver.Name())
	}
	if len(devices) == 0 {
		printf(c.App.Writer, "no %s devices found", driver.Name())
		return nil
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "URI", "Name", "Sensors"})
	for i, d := range devices {
		t.AppendRow(table.Row{fmt.Sprintf("%d", i+1), d.URI, d.Name, fmt.Sprintf("%v", d.Sensors)})
	}
	printf(c.App.Writer, "%s", t.Render())
	return nil
}
