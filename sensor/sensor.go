// Package sensor defines the contract of a dual-sensor (color + depth) camera device: how it is
// opened, how its streams are configured and started, and how frames are read from it.
//
// Implementations register themselves with RegisterDriver, usually from an init function, and
// are looked up by name with LookupDriver.
package sensor

import (
	"context"
	"fmt"

	"go.viam.com/rgbdview/logging"
)

// AnyDevice asks a driver to open the first device it can find.
const AnyDevice = ""

// Type identifies one of the sensors of a device.
type Type string

// The sensor types a device can expose.
const (
	Color Type = "color"
	Depth Type = "depth"
)

// PixelFormat describes the layout of a raw frame buffer.
type PixelFormat string

const (
	// PixelFormatRGB888 is three 8-bit channels per pixel in R, G, B order.
	PixelFormatRGB888 PixelFormat = "rgb888"
	// PixelFormatDepth1MM is one little-endian uint16 per pixel, in millimeters.
	PixelFormatDepth1MM PixelFormat = "depth_1mm"
)

// BytesPerPixel returns the size of one pixel in the given format, or 0 if unknown.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGB888:
		return 3
	case PixelFormatDepth1MM:
		return 2
	default:
		return 0
	}
}

// DefaultPixelFormat returns the native format of a sensor type.
func DefaultPixelFormat(t Type) PixelFormat {
	if t == Depth {
		return PixelFormatDepth1MM
	}
	return PixelFormatRGB888
}

// VideoMode is an immutable snapshot of a stream configuration.
type VideoMode struct {
	Width       int
	Height      int
	FPS         int
	Mirrored    bool
	PixelFormat PixelFormat
}

func (m VideoMode) String() string {
	return fmt.Sprintf("%dx%d@%dfps mirrored=%t format=%s", m.Width, m.Height, m.FPS, m.Mirrored, m.PixelFormat)
}

// Matches reports whether the two modes have the same resolution, frame rate and pixel format.
// Mirroring is a stream setting rather than a sensor capability and is ignored.
func (m VideoMode) Matches(other VideoMode) bool {
	return m.Width == other.Width &&
		m.Height == other.Height &&
		m.FPS == other.FPS &&
		m.PixelFormat == other.PixelFormat
}

// FrameSize returns the number of bytes of a tightly packed frame in this mode.
func (m VideoMode) FrameSize() int {
	return m.Width * m.Height * m.PixelFormat.BytesPerPixel()
}

// RegistrationMode selects how depth pixels relate to color pixels.
type RegistrationMode int

const (
	// RegistrationOff leaves depth in the depth sensor's own coordinate frame.
	RegistrationOff RegistrationMode = iota
	// RegistrationDepthToColor remaps depth pixels into the color sensor's coordinate frame.
	RegistrationDepthToColor
)

func (r RegistrationMode) String() string {
	switch r {
	case RegistrationOff:
		return "off"
	case RegistrationDepthToColor:
		return "depth_to_color"
	default:
		return fmt.Sprintf("RegistrationMode(%d)", int(r))
	}
}

// DeviceInfo describes a device a driver can open.
type DeviceInfo struct {
	URI     string
	Name    string
	Vendor  string
	Sensors []Type
}

// A Driver discovers and opens devices of one kind.
type Driver interface {
	// Name is the registry name of the driver, e.g. "fake" or "webcam".
	Name() string

	// Discover lists the devices the driver can currently see.
	Discover(ctx context.Context) ([]DeviceInfo, error)

	// Open claims the device identified by uri, or the first available one for AnyDevice.
	// It fails with ErrDeviceNotFound if nothing matches.
	Open(ctx context.Context, uri string, logger logging.Logger) (Device, error)
}

// A Device is an opened physical sensor. It owns the streams created from it.
type Device interface {
	Info() DeviceInfo

	// CreateStream binds a new stream for the given sensor.
	CreateStream(ctx context.Context, sensorType Type) (Stream, error)

	// SetDepthColorSyncEnabled asks the device to deliver color and depth frames captured at the
	// same instant. Returns an error wrapping ErrNotSupported if the device cannot.
	SetDepthColorSyncEnabled(ctx context.Context, enabled bool) error

	// SetImageRegistrationMode selects the depth coordinate frame. Returns an error wrapping
	// ErrNotSupported if the device cannot register depth to color.
	SetImageRegistrationMode(ctx context.Context, mode RegistrationMode) error

	// Close releases the device. Streams must already be destroyed.
	Close(ctx context.Context) error
}

// A Stream is one sensor channel of a device.
type Stream interface {
	Sensor() Type

	// SupportedModes lists the modes the sensor can deliver.
	SupportedModes() []VideoMode

	VideoMode() VideoMode

	// SetVideoMode applies mode before the stream is started.
	SetVideoMode(mode VideoMode) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Destroy releases the stream. A destroyed stream can not be restarted.
	Destroy(ctx context.Context) error

	// ReadFrame blocks until the next frame is available or ctx is done. The returned frame is a
	// borrowed view that is invalidated by the next call to ReadFrame.
	ReadFrame(ctx context.Context) (*Frame, error)
}
