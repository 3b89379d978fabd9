// Package inject provides sensor doubles whose behavior can be overridden per method.
package inject

import (
	"context"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
)

// Driver is an injected driver.
type Driver struct {
	sensor.Driver
	NameFunc     func() string
	DiscoverFunc func(ctx context.Context) ([]sensor.DeviceInfo, error)
	OpenFunc     func(ctx context.Context, uri string, logger logging.Logger) (sensor.Device, error)
}

// Name calls the injected Name or the real version.
func (d *Driver) Name() string {
	if d.NameFunc == nil {
		return d.Driver.Name()
	}
	return d.NameFunc()
}

// Discover calls the injected Discover or the real version.
func (d *Driver) Discover(ctx context.Context) ([]sensor.DeviceInfo, error) {
	if d.DiscoverFunc == nil {
		return d.Driver.Discover(ctx)
	}
	return d.DiscoverFunc(ctx)
}

// Open calls the injected Open or the real version.
func (d *Driver) Open(ctx context.Context, uri string, logger logging.Logger) (sensor.Device, error) {
	if d.OpenFunc == nil {
		return d.Driver.Open(ctx, uri, logger)
	}
	return d.OpenFunc(ctx, uri, logger)
}

// Device is an injected device.
type Device struct {
	sensor.Device
	InfoFunc                     func() sensor.DeviceInfo
	CreateStreamFunc             func(ctx context.Context, sensorType sensor.Type) (sensor.Stream, error)
	SetDepthColorSyncEnabledFunc func(ctx context.Context, enabled bool) error
	SetImageRegistrationModeFunc func(ctx context.Context, mode sensor.RegistrationMode) error
	CloseFunc                    func(ctx context.Context) error
}

// Info calls the injected Info or the real version.
func (d *Device) Info() sensor.DeviceInfo {
	if d.InfoFunc == nil {
		return d.Device.Info()
	}
	return d.InfoFunc()
}

// CreateStream calls the injected CreateStream or the real version.
func (d *Device) CreateStream(ctx context.Context, sensorType sensor.Type) (sensor.Stream, error) {
	if d.CreateStreamFunc == nil {
		return d.Device.CreateStream(ctx, sensorType)
	}
	return d.CreateStreamFunc(ctx, sensorType)
}

// SetDepthColorSyncEnabled calls the injected SetDepthColorSyncEnabled or the real version.
func (d *Device) SetDepthColorSyncEnabled(ctx context.Context, enabled bool) error {
	if d.SetDepthColorSyncEnabledFunc == nil {
		return d.Device.SetDepthColorSyncEnabled(ctx, enabled)
	}
	return d.SetDepthColorSyncEnabledFunc(ctx, enabled)
}

// SetImageRegistrationMode calls the injected SetImageRegistrationMode or the real version.
func (d *Device) SetImageRegistrationMode(ctx context.Context, mode sensor.RegistrationMode) error {
	if d.SetImageRegistrationModeFunc == nil {
		return d.Device.SetImageRegistrationMode(ctx, mode)
	}
	return d.SetImageRegistrationModeFunc(ctx, mode)
}

// Close calls the injected Close or the real version.
func (d *Device) Close(ctx context.Context) error {
	if d.CloseFunc == nil {
		return d.Device.Close(ctx)
	}
	return d.CloseFunc(ctx)
}

// Stream is an injected stream.
type Stream struct {
	sensor.Stream
	SensorFunc         func() sensor.Type
	SupportedModesFunc func() []sensor.VideoMode
	VideoModeFunc      func() sensor.VideoMode
	SetVideoModeFunc   func(mode sensor.VideoMode) error
	StartFunc          func(ctx context.Context) error
	StopFunc           func(ctx context.Context) error
	DestroyFunc        func(ctx context.Context) error
	ReadFrameFunc      func(ctx context.Context) (*sensor.Frame, error)
}

// Sensor calls the injected Sensor or the real version.
func (s *Stream) Sensor() sensor.Type {
	if s.SensorFunc == nil {
		return s.Stream.Sensor()
	}
	return s.SensorFunc()
}

// SupportedModes calls the injected SupportedModes or the real version.
func (s *Stream) SupportedModes() []sensor.VideoMode {
	if s.SupportedModesFunc == nil {
		return s.Stream.SupportedModes()
	}
	return s.SupportedModesFunc()
}

// VideoMode calls the injected VideoMode or the real version.
func (s *Stream) VideoMode() sensor.VideoMode {
	if s.VideoModeFunc == nil {
		return s.Stream.VideoMode()
	}
	return s.VideoModeFunc()
}

// SetVideoMode calls the injected SetVideoMode or the real version.
func (s *Stream) SetVideoMode(mode sensor.VideoMode) error {
	if s.SetVideoModeFunc == nil {
		return s.Stream.SetVideoMode(mode)
	}
	return s.SetVideoModeFunc(mode)
}

// Start calls the injected Start or the real version.
func (s *Stream) Start(ctx context.Context) error {
	if s.StartFunc == nil {
		return s.Stream.Start(ctx)
	}
	return s.StartFunc(ctx)
}

// Stop calls the injected Stop or the real version.
func (s *Stream) Stop(ctx context.Context) error {
	if s.StopFunc == nil {
		return s.Stream.Stop(ctx)
	}
	return s.StopFunc(ctx)
}

// Destroy calls the injected Destroy or the real version.
func (s *Stream) Destroy(ctx context.Context) error {
	if s.DestroyFunc == nil {
		return s.Stream.Destroy(ctx)
	}
	return s.DestroyFunc(ctx)
}

// ReadFrame calls the injected ReadFrame or the real version.
func (s *Stream) ReadFrame(ctx context.Context) (*sensor.Frame, error) {
	if s.ReadFrameFunc == nil {
		return s.Stream.ReadFrame(ctx)
	}
	return s.ReadFrameFunc(ctx)
}
