package session

import (
	"context"
	"slices"

	"go.viam.com/rgbdview/sensor"
)

// Configure applies mode to a stream that has not been started. Only the resolution, frame rate
// and mirroring are taken from mode; an unset pixel format means the sensor's native one. The
// mode must be one the sensor lists, there is no fallback to a nearby mode.
func Configure(ctx context.Context, stream sensor.Stream, mode sensor.VideoMode) error {
	if mode.PixelFormat == "" {
		mode.PixelFormat = sensor.DefaultPixelFormat(stream.Sensor())
	}
	if !slices.ContainsFunc(stream.SupportedModes(), mode.Matches) {
		return sensor.NewUnsupportedModeError(stream.Sensor(), mode)
	}
	return stream.SetVideoMode(mode)
}
