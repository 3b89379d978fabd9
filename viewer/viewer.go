// Package viewer runs the display loop: it reads one frame per stream, converts it for display,
// hands the images to a Surface and polls a KeyPoller for the quit key.
package viewer

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/rimage"
	"go.viam.com/rgbdview/sensor"
	"go.viam.com/rgbdview/utils"
)

// Window names used when presenting images.
const (
	ColorWindow = "Color Image"
	DepthWindow = "Depth Image"
)

// Defaults for Options.
const (
	DefaultQuitKey         = 'q'
	DefaultTraceKey        = 't'
	DefaultReadTimeout     = 100 * time.Millisecond
	DefaultKeyPollInterval = 10 * time.Millisecond
)

// KeyInterrupt is Ctrl-C as read from a raw terminal. It always stops the loop.
const KeyInterrupt = '\x03'

// WindowName returns the window a sensor's images are presented in.
func WindowName(sensorType sensor.Type) string {
	if sensorType == sensor.Depth {
		return DepthWindow
	}
	return ColorWindow
}

// A Surface displays images. It does not own any window lifecycle beyond Present.
type Surface interface {
	// Present shows img in the window called name, replacing what was shown there.
	Present(ctx context.Context, name string, img *rimage.Image) error
}

// A KeyPoller reports key presses.
type KeyPoller interface {
	// PollKey waits up to wait for a key press and reports it, if any.
	PollKey(ctx context.Context, wait time.Duration) (rune, bool)
}

// State is the loop's lifecycle state.
type State int

// The loop states.
const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options tune a Loop. Zero values select the defaults.
type Options struct {
	QuitKey rune
	// TraceKey toggles per-frame debug logs for the following iterations.
	TraceKey        rune
	ReadTimeout     time.Duration
	KeyPollInterval time.Duration
	// MaxIterations stops the loop after that many iterations; 0 means no limit.
	MaxIterations int
	// Depth converts depth frames; defaults to rimage.ConvertDepth's mapping.
	Depth *rimage.DepthConverter
	// Clock measures iteration latency.
	Clock clock.Clock
}

var errNoStreams = errors.New("no streams to display")

// A Loop drives the display of a fixed set of started streams.
type Loop struct {
	streams []sensor.Stream
	surface Surface
	keys    KeyPoller
	opts    Options
	logger  logging.Logger

	state      State
	iterations int
	trace      bool
	stats      *statsRecorder
	fps        *utils.RollingAverage
	lastStart  time.Time
}

// NewLoop returns a running loop over streams, which must not be empty.
func NewLoop(streams []sensor.Stream, surface Surface, keys KeyPoller, opts Options, logger logging.Logger) (*Loop, error) {
	if len(streams) == 0 {
		return nil, errNoStreams
	}
	if opts.QuitKey == 0 {
		opts.QuitKey = DefaultQuitKey
	}
	if opts.TraceKey == 0 {
		opts.TraceKey = DefaultTraceKey
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.KeyPollInterval <= 0 {
		opts.KeyPollInterval = DefaultKeyPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Loop{
		streams: streams,
		surface: surface,
		keys:    keys,
		opts:    opts,
		logger:  logger.Sublogger("viewer"),
		state:   Running,
		stats:   newStatsRecorder(),
		fps:     utils.NewRollingAverage(30),
	}, nil
}

// State returns the current state.
func (l *Loop) State() State {
	return l.state
}

// Iterations returns the number of completed iterations.
func (l *Loop) Iterations() int {
	return l.iterations
}

// FPS returns the iteration rate over the last 30 iterations.
func (l *Loop) FPS() float64 {
	return l.fps.Rate()
}

// Stats summarizes the iterations run so far.
func (l *Loop) Stats() Stats {
	return l.stats.summary(l.iterations)
}

// Run iterates until the quit key is pressed, MaxIterations is reached or ctx is done. Stopping
// for any of these reasons is not an error; only a failing Surface is.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infow("display loop running", "streams", len(l.streams), "quit_key", string(l.opts.QuitKey))
	for l.state == Running {
		if ctx.Err() != nil {
			l.logger.Infow("display loop interrupted", "iterations", l.iterations)
			l.state = Stopped
			break
		}
		if err := l.Iterate(ctx); err != nil {
			l.state = Stopped
			return err
		}
		if l.opts.MaxIterations > 0 && l.iterations >= l.opts.MaxIterations {
			l.logger.Infow("iteration limit reached", "iterations", l.iterations)
			l.state = Stopped
		}
	}
	summary := l.Stats()
	l.logger.Infow("display loop stopped",
		"iterations", summary.Iterations,
		"color_images", summary.Images[sensor.Color],
		"depth_images", summary.Images[sensor.Depth],
		"mean_latency", summary.MeanLatency.String(),
		"p95_latency", summary.P95Latency.String(),
	)
	return nil
}

// Iterate runs one iteration: read, convert and present each stream, then poll the keyboard.
func (l *Loop) Iterate(ctx context.Context) error {
	if l.state != Running {
		return nil
	}
	start := l.opts.Clock.Now()
	if !l.lastStart.IsZero() {
		l.fps.Add(start.Sub(l.lastStart))
	}
	l.lastStart = start
	if l.trace {
		ctx = logging.EnableDebugMode(ctx, "trace")
	}

	for _, stream := range l.streams {
		img, err := l.capture(ctx, stream)
		if err != nil {
			l.stats.missed(stream.Sensor())
			l.logger.CDebugw(ctx, "no image this iteration", "sensor", stream.Sensor(), "error", err)
			continue
		}
		if err := l.surface.Present(ctx, WindowName(stream.Sensor()), img); err != nil {
			return errors.Wrapf(err, "presenting %s image", stream.Sensor())
		}
		l.stats.presented(stream.Sensor())
	}

	l.iterations++
	l.stats.latency(l.opts.Clock.Since(start))

	if key, ok := l.keys.PollKey(ctx, l.opts.KeyPollInterval); ok {
		switch key {
		case l.opts.QuitKey, KeyInterrupt:
			l.logger.Infow("quit key pressed", "iterations", l.iterations)
			l.state = Stopped
		case l.opts.TraceKey:
			l.trace = !l.trace
			l.logger.Infow("frame tracing", "enabled", l.trace)
		}
	}
	return nil
}

// capture reads one frame and converts it while the borrowed view is still valid.
func (l *Loop) capture(ctx context.Context, stream sensor.Stream) (*rimage.Image, error) {
	readCtx, cancel := context.WithTimeout(ctx, l.opts.ReadTimeout)
	defer cancel()
	frame, err := stream.ReadFrame(readCtx)
	if err != nil {
		if errors.Is(readCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, sensor.ErrReadTimeout) {
			err = errors.Wrap(sensor.ErrReadTimeout, err.Error())
		}
		return nil, err
	}
	l.logger.CDebugw(ctx, "frame read", "sensor", stream.Sensor(), "sequence", frame.Sequence(),
		"size", fmt.Sprintf("%dx%d", frame.Width(), frame.Height()), "timestamp", frame.Timestamp())
	if stream.Sensor() == sensor.Depth {
		if l.opts.Depth != nil {
			return l.opts.Depth.Convert(frame)
		}
		return rimage.ConvertDepth(frame)
	}
	return rimage.ConvertColor(frame)
}
