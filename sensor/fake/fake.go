// Package fake implements a synthetic RGB-D device. It renders a box in front of a receding wall,
// honours mirroring, frame synchronization and registration, and can be told to fail in the ways
// real devices do.
package fake

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
)

// DriverName is the registry name of the fake driver.
const DriverName = "fake"

// DefaultURI is the single device the default driver exposes.
const DefaultURI = "fake://0"

func init() {
	sensor.RegisterDriver(NewDriver(Config{}))
}

// DefaultModes returns the modes both sensors support unless configured otherwise.
func DefaultModes(sensorType sensor.Type) []sensor.VideoMode {
	format := sensor.DefaultPixelFormat(sensorType)
	return []sensor.VideoMode{
		{Width: 640, Height: 480, FPS: 30, PixelFormat: format},
		{Width: 640, Height: 480, FPS: 15, PixelFormat: format},
		{Width: 320, Height: 240, FPS: 30, PixelFormat: format},
		{Width: 320, Height: 240, FPS: 60, PixelFormat: format},
	}
}

// Config describes the devices a Driver exposes and how they misbehave.
type Config struct {
	// URIs of the devices; defaults to DefaultURI.
	URIs []string

	// ColorModes and DepthModes default to DefaultModes.
	ColorModes []sensor.VideoMode
	DepthModes []sensor.VideoMode

	// NoColor and NoDepth remove a sensor, so creating its stream fails.
	NoColor bool
	NoDepth bool

	// CreateErrors and StartErrors make CreateStream and Start fail for the given sensor.
	CreateErrors map[sensor.Type]error
	StartErrors  map[sensor.Type]error

	// EmptyFrames is the number of frames without data each stream delivers after starting.
	EmptyFrames int

	// NoSync and NoRegistration make the respective capability unsupported.
	NoSync         bool
	NoRegistration bool

	// Clock stamps frames; defaults to the wall clock.
	Clock clock.Clock
	// Realtime paces reads at the configured frame rate.
	Realtime bool
}

// A Driver serves synthetic devices.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	devices map[string]*Device
}

var _ sensor.Driver = (*Driver)(nil)

// NewDriver returns a driver for the devices described by cfg.
func NewDriver(cfg Config) *Driver {
	if len(cfg.URIs) == 0 {
		cfg.URIs = []string{DefaultURI}
	}
	if cfg.ColorModes == nil {
		cfg.ColorModes = DefaultModes(sensor.Color)
	}
	if cfg.DepthModes == nil {
		cfg.DepthModes = DefaultModes(sensor.Depth)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Driver{cfg: cfg, devices: map[string]*Device{}}
}

// Name returns DriverName.
func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) sensors() []sensor.Type {
	var sensors []sensor.Type
	if !d.cfg.NoColor {
		sensors = append(sensors, sensor.Color)
	}
	if !d.cfg.NoDepth {
		sensors = append(sensors, sensor.Depth)
	}
	return sensors
}

func (d *Driver) info(uri string) sensor.DeviceInfo {
	return sensor.DeviceInfo{URI: uri, Name: "Synthetic RGB-D", Vendor: "rgbdview", Sensors: d.sensors()}
}

// Discover lists every configured device.
func (d *Driver) Discover(ctx context.Context) ([]sensor.DeviceInfo, error) {
	infos := make([]sensor.DeviceInfo, 0, len(d.cfg.URIs))
	for _, uri := range d.cfg.URIs {
		infos = append(infos, d.info(uri))
	}
	return infos, nil
}

// Open returns the device at uri, or the first device for sensor.AnyDevice. A device that is
// open already is reported busy.
func (d *Driver) Open(ctx context.Context, uri string, logger logging.Logger) (sensor.Device, error) {
	if uri == sensor.AnyDevice {
		uri = d.cfg.URIs[0]
	}
	if !slices.Contains(d.cfg.URIs, uri) {
		return nil, sensor.NewDeviceNotFoundError(uri)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[uri]; ok {
		return nil, sensor.NewDeviceBusyError(uri)
	}
	dev := &Device{
		driver:  d,
		info:    d.info(uri),
		logger:  logger.Sublogger("fake"),
		streams: map[sensor.Type]*Stream{},
		running: map[sensor.Type]bool{},
		modes:   map[sensor.Type]sensor.VideoMode{},
	}
	d.devices[uri] = dev
	dev.logger.Debugw("opened", "uri", uri)
	return dev, nil
}

// Device returns the open device at uri, if any.
func (d *Driver) Device(uri string) (*Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[uri]
	return dev, ok
}

func (d *Driver) release(uri string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.devices, uri)
}

// capture is one instant at which both sensors are sampled when sync is enabled.
type capture struct {
	timestamp time.Time
	sequence  uint64
}

// A Device is an open synthetic device.
type Device struct {
	driver *Driver
	info   sensor.DeviceInfo
	logger logging.Logger

	mu           sync.Mutex
	closed       bool
	closeCount   int
	synced       bool
	registration sensor.RegistrationMode
	streams      map[sensor.Type]*Stream
	sequence     uint64
	pending      map[sensor.Type]capture

	// Mirrors of stream state so device methods never take stream locks.
	running map[sensor.Type]bool
	modes   map[sensor.Type]sensor.VideoMode
}

var _ sensor.Device = (*Device)(nil)

// Info returns the device description.
func (dev *Device) Info() sensor.DeviceInfo {
	return dev.info
}

// CreateStream binds a stream for sensorType in the first supported mode.
func (dev *Device) CreateStream(ctx context.Context, sensorType sensor.Type) (sensor.Stream, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.closed {
		return nil, errors.Wrap(sensor.ErrClosed, "device")
	}
	if err := dev.driver.cfg.CreateErrors[sensorType]; err != nil {
		return nil, err
	}
	if !slices.Contains(dev.info.Sensors, sensorType) {
		return nil, errors.Errorf("device %q has no %s sensor", dev.info.URI, sensorType)
	}
	if _, ok := dev.streams[sensorType]; ok {
		return nil, errors.Errorf("%s stream already created", sensorType)
	}

	modes := dev.driver.cfg.ColorModes
	if sensorType == sensor.Depth {
		modes = dev.driver.cfg.DepthModes
	}
	s := &Stream{
		dev:        dev,
		sensorType: sensorType,
		modes:      modes,
		state:      streamStopped,
	}
	if len(modes) > 0 {
		s.mode = modes[0]
	}
	dev.streams[sensorType] = s
	dev.modes[sensorType] = s.mode
	return s, nil
}

// SetDepthColorSyncEnabled pairs color and depth reads into shared captures.
func (dev *Device) SetDepthColorSyncEnabled(ctx context.Context, enabled bool) error {
	if dev.driver.cfg.NoSync {
		return sensor.NewNotSupportedError("depth/color frame sync")
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.synced = enabled
	dev.pending = nil
	return nil
}

// SetImageRegistrationMode selects the frame depth is rendered in.
func (dev *Device) SetImageRegistrationMode(ctx context.Context, mode sensor.RegistrationMode) error {
	if dev.driver.cfg.NoRegistration && mode != sensor.RegistrationOff {
		return sensor.NewNotSupportedError("depth to color registration")
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.registration = mode
	return nil
}

// Synced reports whether frame sync is enabled.
func (dev *Device) Synced() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.synced
}

// Registration returns the current registration mode.
func (dev *Device) Registration() sensor.RegistrationMode {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.registration
}

// CloseCount returns how many times Close was called.
func (dev *Device) CloseCount() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.closeCount
}

// Close releases the device. Streams that were not destroyed are destroyed first.
func (dev *Device) Close(ctx context.Context) error {
	dev.mu.Lock()
	dev.closeCount++
	if dev.closed {
		dev.mu.Unlock()
		return errors.Wrap(sensor.ErrClosed, "device")
	}
	dev.closed = true
	leftover := make([]*Stream, 0, len(dev.streams))
	for _, s := range dev.streams {
		leftover = append(leftover, s)
	}
	dev.mu.Unlock()

	if len(leftover) > 0 {
		dev.logger.Warnw("closing device with live streams", "count", len(leftover))
	}
	for _, s := range leftover {
		s.destroy()
	}
	dev.driver.release(dev.info.URI)
	dev.logger.Debugw("closed", "uri", dev.info.URI)
	return nil
}

// nextCapture returns the capture instant for a read on sensorType. With sync enabled the first
// reader of a pair samples the clock and leaves the capture for the other running stream.
// Without sync depth runs half a frame behind color.
func (dev *Device) nextCapture(sensorType sensor.Type, fps int) capture {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	now := dev.driver.cfg.Clock.Now()

	if !dev.synced {
		dev.sequence++
		if sensorType == sensor.Depth && fps > 0 {
			now = now.Add(-time.Second / time.Duration(2*fps))
		}
		return capture{timestamp: now, sequence: dev.sequence}
	}

	if c, ok := dev.pending[sensorType]; ok {
		delete(dev.pending, sensorType)
		return c
	}
	dev.sequence++
	c := capture{timestamp: now, sequence: dev.sequence}
	other := sensor.Depth
	if sensorType == sensor.Depth {
		other = sensor.Color
	}
	if dev.running[other] {
		if dev.pending == nil {
			dev.pending = map[sensor.Type]capture{}
		}
		dev.pending[other] = c
	}
	return c
}

// depthMode returns the mode depth frames are rendered in and whether they are registered.
func (dev *Device) depthMode(own sensor.VideoMode) (sensor.VideoMode, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.registration != sensor.RegistrationDepthToColor {
		return own, false
	}
	if colorMode, ok := dev.modes[sensor.Color]; ok {
		own.Width, own.Height = colorMode.Width, colorMode.Height
	}
	return own, true
}

func (dev *Device) forget(sensorType sensor.Type) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	delete(dev.streams, sensorType)
	delete(dev.pending, sensorType)
	delete(dev.running, sensorType)
	delete(dev.modes, sensorType)
}

func (dev *Device) streamChanged(sensorType sensor.Type, mode sensor.VideoMode, running bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if _, ok := dev.streams[sensorType]; !ok {
		return
	}
	dev.modes[sensorType] = mode
	dev.running[sensorType] = running
	if !running {
		delete(dev.pending, sensorType)
	}
}

type streamState int

const (
	streamStopped streamState = iota
	streamRunning
	streamDestroyed
)

// A Stream is one sensor of a synthetic device.
type Stream struct {
	dev        *Device
	sensorType sensor.Type
	modes      []sensor.VideoMode

	mu          sync.Mutex
	mode        sensor.VideoMode
	state       streamState
	emptyLeft   int
	nextDue     time.Time
	buf         sensor.FrameBuffer
	cache       []byte
	cacheMode   sensor.VideoMode
	cacheReg    bool
	cacheFilled bool
	reads       int
}

var _ sensor.Stream = (*Stream)(nil)

// Sensor returns the stream's sensor type.
func (s *Stream) Sensor() sensor.Type {
	return s.sensorType
}

// SupportedModes returns the configured mode list.
func (s *Stream) SupportedModes() []sensor.VideoMode {
	return slices.Clone(s.modes)
}

// VideoMode returns the current mode.
func (s *Stream) VideoMode() sensor.VideoMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetVideoMode applies mode if the sensor supports it and the stream is stopped.
func (s *Stream) SetVideoMode(mode sensor.VideoMode) error {
	if mode.PixelFormat == "" {
		mode.PixelFormat = sensor.DefaultPixelFormat(s.sensorType)
	}
	supported := slices.ContainsFunc(s.modes, mode.Matches)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case streamDestroyed:
		return errors.Wrap(sensor.ErrClosed, "stream")
	case streamRunning:
		return errors.Errorf("can not change the mode of running %s stream", s.sensorType)
	case streamStopped:
	}
	if !supported {
		return sensor.NewUnsupportedModeError(s.sensorType, mode)
	}
	s.mode = mode
	s.dev.streamChanged(s.sensorType, s.mode, false)
	return nil
}

// Start starts delivering frames.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case streamDestroyed:
		return errors.Wrap(sensor.ErrClosed, "stream")
	case streamRunning:
		return nil
	case streamStopped:
	}
	if err := s.dev.driver.cfg.StartErrors[s.sensorType]; err != nil {
		return err
	}
	s.state = streamRunning
	s.emptyLeft = s.dev.driver.cfg.EmptyFrames
	s.nextDue = time.Time{}
	s.dev.streamChanged(s.sensorType, s.mode, true)
	return nil
}

// Stop stops delivering frames. Stopping a stopped stream is a no-op.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == streamDestroyed {
		return errors.Wrap(sensor.ErrClosed, "stream")
	}
	s.state = streamStopped
	s.buf.Invalidate()
	s.dev.streamChanged(s.sensorType, s.mode, false)
	return nil
}

// Destroy releases the stream.
func (s *Stream) Destroy(ctx context.Context) error {
	if !s.destroy() {
		return errors.Wrap(sensor.ErrClosed, "stream")
	}
	return nil
}

func (s *Stream) destroy() bool {
	s.mu.Lock()
	if s.state == streamDestroyed {
		s.mu.Unlock()
		return false
	}
	s.state = streamDestroyed
	s.buf.Invalidate()
	s.mu.Unlock()
	s.dev.forget(s.sensorType)
	return true
}

// Reads returns the number of frames delivered, empty ones included.
func (s *Stream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// ReadFrame renders the next frame. In realtime mode it waits for the frame's due time.
func (s *Stream) ReadFrame(ctx context.Context) (*sensor.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case streamDestroyed:
		return nil, errors.Wrap(sensor.ErrClosed, "stream")
	case streamStopped:
		return nil, errors.Wrapf(sensor.ErrStreamNotStarted, "%s", s.sensorType)
	case streamRunning:
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	c := s.dev.nextCapture(s.sensorType, s.mode.FPS)
	s.reads++
	if s.emptyLeft > 0 {
		s.emptyLeft--
		return s.buf.PublishEmpty(c.timestamp, c.sequence), nil
	}

	mode, registered := s.mode, false
	if s.sensorType == sensor.Depth {
		mode, registered = s.dev.depthMode(s.mode)
	}
	if !s.cacheFilled || s.cacheMode != mode || s.cacheReg != registered {
		if s.sensorType == sensor.Depth {
			s.cache = renderDepth(mode, registered)
		} else {
			s.cache = renderColor(mode)
		}
		s.cacheMode, s.cacheReg, s.cacheFilled = mode, registered, true
	}
	copy(s.buf.Acquire(len(s.cache)), s.cache)
	return s.buf.Publish(mode, mode.Width*mode.PixelFormat.BytesPerPixel(), c.timestamp, c.sequence), nil
}

// pace blocks until the next frame is due. It must be called with s.mu held.
func (s *Stream) pace(ctx context.Context) error {
	cfg := s.dev.driver.cfg
	if !cfg.Realtime || s.mode.FPS <= 0 {
		return nil
	}
	period := time.Second / time.Duration(s.mode.FPS)
	now := cfg.Clock.Now()
	if s.nextDue.After(now) {
		timer := cfg.Clock.Timer(s.nextDue.Sub(now))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Wrapf(sensor.ErrReadTimeout, "%s", s.sensorType)
			}
			return ctx.Err()
		case <-timer.C:
		}
		now = s.nextDue
	}
	s.nextDue = now.Add(period)
	return nil
}
