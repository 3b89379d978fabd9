package webcam

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
)

// A Device is one or two opened webcam nodes.
type Device struct {
	driver *Driver
	info   sensor.DeviceInfo
	logger logging.Logger
	nodes  map[sensor.Type]*node

	mu      sync.Mutex
	streams map[sensor.Type]*Stream
	closed  bool
}

// Info implements sensor.Device.
func (d *Device) Info() sensor.DeviceInfo {
	return d.info
}

// CreateStream implements sensor.Device.
func (d *Device) CreateStream(ctx context.Context, sensorType sensor.Type) (sensor.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, sensor.ErrClosed
	}
	n, ok := d.nodes[sensorType]
	if !ok {
		return nil, errors.Errorf("device %q has no %s sensor", d.info.URI, sensorType)
	}
	if _, ok := d.streams[sensorType]; ok {
		return nil, errors.Errorf("%s stream already created", sensorType)
	}
	s := &Stream{
		device: d,
		node:   n,
		logger: d.logger.WithFields("sensor", sensorType),
		mode:   n.modes[0],
	}
	d.streams[sensorType] = s
	return s, nil
}

// SetDepthColorSyncEnabled implements sensor.Device. Separate nodes can not be synchronized.
func (d *Device) SetDepthColorSyncEnabled(ctx context.Context, enabled bool) error {
	if !enabled {
		return nil
	}
	return sensor.NewNotSupportedError("depth/color frame sync")
}

// SetImageRegistrationMode implements sensor.Device. Only RegistrationOff is supported.
func (d *Device) SetImageRegistrationMode(ctx context.Context, mode sensor.RegistrationMode) error {
	if mode == sensor.RegistrationOff {
		return nil
	}
	return sensor.NewNotSupportedError("depth to color registration")
}

// Close implements sensor.Device. Streams left behind are destroyed.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return sensor.ErrClosed
	}
	d.closed = true
	streams := make([]*Stream, 0, len(d.streams))
	for _, s := range d.streams {
		streams = append(streams, s)
	}
	d.mu.Unlock()

	var errs error
	for _, s := range streams {
		if err := s.Destroy(ctx); err != nil && !errors.Is(err, sensor.ErrClosed) {
			errs = multierr.Combine(errs, err)
		}
	}
	d.driver.release(d.nodes)
	return errs
}

func (d *Device) forget(sensorType sensor.Type) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streams, sensorType)
}
