package session

import "fmt"

// An OpenError is returned by Open for any failure to claim or open the device. It wraps the
// driver's error, so errors.Is still matches sensor.ErrDeviceNotFound and sensor.ErrDeviceBusy.
type OpenError struct {
	Device string
	Err    error
}

func (e *OpenError) Error() string {
	device := e.Device
	if device == "" {
		device = "any device"
	}
	return fmt.Sprintf("opening %q: %v", device, e.Err)
}

// Unwrap returns the driver's error.
func (e *OpenError) Unwrap() error {
	return e.Err
}
