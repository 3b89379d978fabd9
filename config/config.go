// Package config defines the viewer's configuration: which device to open, the stream policy
// applied to it and how frames are displayed.
package config

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/rimage"
	"go.viam.com/rgbdview/sensor"
	"go.viam.com/rgbdview/session"
	"go.viam.com/rgbdview/viewer"
)

// The stream policy applied to every sensor.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30
)

// DefaultDriver is the driver used when none is configured.
const DefaultDriver = "fake"

// Depth palettes understood by the terminal surface.
const (
	PaletteGray = "gray"
	PaletteHeat = "heat"
)

// Config describes one viewer run. A zero field falls back to the value in Default.
type Config struct {
	ConfigFilePath string `json:"-"`

	Driver string `json:"driver"`
	// Device is a device URI; empty opens any device the driver finds.
	Device string `json:"device"`

	Width          int  `json:"width"`
	Height         int  `json:"height"`
	FPS            int  `json:"fps"`
	Mirror         bool `json:"mirror"`
	DepthColorSync bool `json:"depth_color_sync"`
	Registration   bool `json:"registration"`

	DepthMaxRange int    `json:"depth_max_range"`
	DepthInvert   bool   `json:"depth_invert"`
	DepthPalette  string `json:"depth_palette"`

	ReadTimeout     time.Duration `json:"read_timeout"`
	KeyPollInterval time.Duration `json:"key_poll_interval"`
	QuitKey         string        `json:"quit_key"`
	MaxIterations   int           `json:"max_iterations"`
	Headless        bool          `json:"headless"`

	LogLevel string `json:"log_level"`
	// LogFile additionally writes logs to a size-rotated file.
	LogFile string `json:"log_file"`
}

// Default returns the built in configuration: any device of the fake driver, 640x480 at 30fps,
// mirrored, with depth/color sync and registration requested.
func Default() *Config {
	return &Config{
		Driver:          DefaultDriver,
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		FPS:             DefaultFPS,
		Mirror:          true,
		DepthColorSync:  true,
		Registration:    true,
		DepthMaxRange:   rimage.DefaultDepthMaxRange,
		DepthPalette:    PaletteGray,
		ReadTimeout:     viewer.DefaultReadTimeout,
		KeyPollInterval: viewer.DefaultKeyPollInterval,
		QuitKey:         string(viewer.DefaultQuitKey),
	}
}

// Validate returns an error naming the first invalid field. path is used as the error prefix.
func (c *Config) Validate(path string) error {
	if c.Driver == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "driver")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("width and height must be positive, got %dx%d", c.Width, c.Height))
	}
	if c.FPS <= 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("fps must be positive, got %d", c.FPS))
	}
	if c.DepthMaxRange <= 0 || c.DepthMaxRange > math.MaxUint16 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("depth_max_range must be in (0, %d], got %d", math.MaxUint16, c.DepthMaxRange))
	}
	switch c.DepthPalette {
	case "", PaletteGray, PaletteHeat:
	default:
		return goutils.NewConfigValidationError(path,
			errors.Errorf("depth_palette must be %q or %q, got %q", PaletteGray, PaletteHeat, c.DepthPalette))
	}
	if c.ReadTimeout < 0 || c.KeyPollInterval < 0 {
		return goutils.NewConfigValidationError(path, errors.New("read_timeout and key_poll_interval can not be negative"))
	}
	if c.QuitKey != "" && utf8.RuneCountInString(c.QuitKey) != 1 {
		return goutils.NewConfigValidationError(path, errors.Errorf("quit_key must be a single character, got %q", c.QuitKey))
	}
	if c.MaxIterations < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("max_iterations can not be negative, got %d", c.MaxIterations))
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

// DeviceIdentifier returns the device to open, sensor.AnyDevice when none is configured.
func (c *Config) DeviceIdentifier() string {
	if c.Device == "" {
		return sensor.AnyDevice
	}
	return c.Device
}

// VideoMode returns the mode requested for every stream. The pixel format is left for each
// stream to default.
func (c *Config) VideoMode() sensor.VideoMode {
	return sensor.VideoMode{Width: c.Width, Height: c.Height, FPS: c.FPS, Mirrored: c.Mirror}
}

// SessionOptions returns the options used to set up the device session.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Mode:         c.VideoMode(),
		TimeSync:     c.DepthColorSync,
		Registration: c.Registration,
	}
}

// ViewerOptions returns the display loop options.
func (c *Config) ViewerOptions() (viewer.Options, error) {
	converter, err := rimage.NewDepthConverter(c.DepthMaxRange, c.DepthInvert)
	if err != nil {
		return viewer.Options{}, err
	}
	opts := viewer.Options{
		ReadTimeout:     c.ReadTimeout,
		KeyPollInterval: c.KeyPollInterval,
		MaxIterations:   c.MaxIterations,
		Depth:           converter,
	}
	if c.QuitKey != "" {
		opts.QuitKey, _ = utf8.DecodeRuneInString(c.QuitKey)
	}
	return opts, nil
}

// Level returns the configured log level, if one is set and valid.
func (c *Config) Level() (logging.Level, bool) {
	if c.LogLevel == "" {
		return 0, false
	}
	level, err := logging.LevelFromString(c.LogLevel)
	return level, err == nil
}

// Debug reports whether the config asks for debug logging.
func (c *Config) Debug() bool {
	level, ok := c.Level()
	return ok && level == logging.DEBUG
}
