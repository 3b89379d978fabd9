package sensor

import "github.com/pkg/errors"

var (
	// ErrDeviceNotFound is returned when no device matches the requested identifier.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceBusy is returned when the device is already claimed.
	ErrDeviceBusy = errors.New("device busy")
	// ErrUnsupportedMode is returned when a sensor can not honor a video mode.
	ErrUnsupportedMode = errors.New("unsupported video mode")
	// ErrStreamStart is returned when a stream can not be created or started.
	ErrStreamStart = errors.New("stream failed to start")
	// ErrNotSupported is returned by optional device capabilities the device lacks.
	ErrNotSupported = errors.New("not supported by device")
	// ErrFrameInvalidated is returned when a borrowed frame is used after its stream read again.
	ErrFrameInvalidated = errors.New("frame invalidated by a newer read")
	// ErrReadTimeout is returned when no frame arrived before the read deadline.
	ErrReadTimeout = errors.New("timed out waiting for frame")
	// ErrStreamNotStarted is returned when reading a stream that is not running.
	ErrStreamNotStarted = errors.New("stream not started")
	// ErrClosed is returned when using a closed device or destroyed stream.
	ErrClosed = errors.New("closed")
)

// NewDeviceNotFoundError is used when no device matches uri.
func NewDeviceNotFoundError(uri string) error {
	if uri == AnyDevice {
		return errors.Wrap(ErrDeviceNotFound, "no devices available")
	}
	return errors.Wrapf(ErrDeviceNotFound, "%q", uri)
}

// NewDeviceBusyError is used when uri is already claimed.
func NewDeviceBusyError(uri string) error {
	return errors.Wrapf(ErrDeviceBusy, "%q", uri)
}

// NewUnsupportedModeError is used when sensorType has no mode matching mode.
func NewUnsupportedModeError(sensorType Type, mode VideoMode) error {
	return errors.Wrapf(ErrUnsupportedMode, "%s sensor can not deliver %s", sensorType, mode)
}

// NewStreamStartError wraps the cause of a failed stream start.
func NewStreamStartError(sensorType Type, cause error) error {
	return errors.Wrapf(ErrStreamStart, "%s: %v", sensorType, cause)
}

// NewNotSupportedError is used when a device lacks the named capability.
func NewNotSupportedError(capability string) error {
	return errors.Wrap(ErrNotSupported, capability)
}
