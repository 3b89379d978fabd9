// Package session owns one opened RGB-D device for the lifetime of a viewer run: it claims the
// device, configures and starts its streams, applies the synchronization policy and tears
// everything down exactly once.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
	"go.viam.com/rgbdview/utils"
)

// ErrNoValidStream is returned when neither the color nor the depth stream could be started.
var ErrNoValidStream = errors.New("no valid stream")

// streamOrder is the order streams are created in and returned by Streams.
var streamOrder = []sensor.Type{sensor.Color, sensor.Depth}

// SyncState records which synchronization features the device accepted. It is set once during
// setup.
type SyncState struct {
	TimeSynced bool
	Registered bool
}

// A Session is an exclusively claimed device and the streams created from it.
type Session struct {
	id     uuid.UUID
	driver sensor.Driver
	device sensor.Device
	logger logging.Logger
	claims []string

	mu      sync.Mutex
	owned   []sensor.Stream
	started map[sensor.Type]bool
	valid   map[sensor.Type]sensor.Stream
	sync    SyncState

	closeOnce sync.Once
	closeErr  error
}

// Open claims and opens the device with the given identifier, or the first available device for
// sensor.AnyDevice. Within this process a device can only be held by one session at a time.
func Open(ctx context.Context, driver sensor.Driver, identifier string, logger logging.Logger) (*Session, error) {
	id := uuid.New()
	logger = logger.Sublogger("session").WithFields("session_id", id.String())

	var claims []string
	if identifier != sensor.AnyDevice {
		key := claimKey(driver, identifier)
		if !claim(key, id) {
			return nil, &OpenError{Device: identifier, Err: sensor.NewDeviceBusyError(identifier)}
		}
		claims = append(claims, key)
	}

	stopSlowLog := utils.SlowLogger(ctx, "waiting for device to open", "device", identifier, logger)
	device, err := driver.Open(ctx, identifier, logger)
	stopSlowLog()
	if err != nil {
		releaseAll(claims, id)
		// The driver's own text usually says more than the error kind.
		logger.Errorw("device open failed", "driver", driver.Name(), "device", identifier, "error", err.Error())
		return nil, &OpenError{Device: identifier, Err: err}
	}

	info := device.Info()
	if info.URI != identifier {
		key := claimKey(driver, info.URI)
		if !claim(key, id) {
			releaseAll(claims, id)
			return nil, &OpenError{
				Device: identifier,
				Err:    multierr.Combine(sensor.NewDeviceBusyError(info.URI), device.Close(ctx)),
			}
		}
		claims = append(claims, key)
	}
	logger.Infow("device opened", "driver", driver.Name(), "uri", info.URI, "name", info.Name)

	return &Session{
		id:      id,
		driver:  driver,
		device:  device,
		logger:  logger,
		claims:  claims,
		started: map[sensor.Type]bool{},
		valid:   map[sensor.Type]sensor.Stream{},
	}, nil
}

// ID returns the id of this session.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Device returns the opened device.
func (s *Session) Device() sensor.Device {
	return s.device
}

// Logger returns the session's logger.
func (s *Session) Logger() logging.Logger {
	return s.logger
}

// StartStreams creates, configures and starts a stream per sensor. A stream that fails to be
// created or started is destroyed and skipped; the session is usable as long as one stream
// started. An unsupported mode is fatal.
func (s *Session) StartStreams(ctx context.Context, mode sensor.VideoMode) error {
	var startErrs error
	for _, sensorType := range streamOrder {
		stream, err := s.device.CreateStream(ctx, sensorType)
		if err != nil {
			err = sensor.NewStreamStartError(sensorType, err)
			s.logger.Warnw("skipping stream", "sensor", sensorType, "error", err)
			startErrs = multierr.Append(startErrs, err)
			continue
		}
		s.own(stream)

		if err := Configure(ctx, stream, mode); err != nil {
			return err
		}

		if err := stream.Start(ctx); err != nil {
			err = sensor.NewStreamStartError(sensorType, err)
			s.logger.Warnw("skipping stream", "sensor", sensorType, "error", err)
			startErrs = multierr.Append(startErrs, err)
			if destroyErr := s.destroy(ctx, stream); destroyErr != nil {
				s.logger.Warnw("failed to destroy stream", "sensor", sensorType, "error", destroyErr)
			}
			continue
		}

		s.mu.Lock()
		s.started[sensorType] = true
		s.valid[sensorType] = stream
		s.mu.Unlock()
		s.logger.Infow("stream started", "sensor", sensorType, "mode", stream.VideoMode().String())
	}

	if len(s.Streams()) == 0 {
		if startErrs == nil {
			return ErrNoValidStream
		}
		return errors.Wrap(ErrNoValidStream, startErrs.Error())
	}
	return nil
}

// EnableSync turns on frame synchronization and depth to color registration as requested. Each
// is best effort: a capability the device rejects is logged and reported false. Nothing is
// attempted unless both streams are valid.
func (s *Session) EnableSync(ctx context.Context, timeSync, registration bool) SyncState {
	var state SyncState
	s.mu.Lock()
	_, hasColor := s.valid[sensor.Color]
	_, hasDepth := s.valid[sensor.Depth]
	s.mu.Unlock()

	if !hasColor || !hasDepth {
		s.logger.Infow("skipping synchronization, only one stream is valid")
	} else {
		if timeSync {
			if err := s.device.SetDepthColorSyncEnabled(ctx, true); err != nil {
				s.logger.Warnw("depth/color frame sync unavailable", "error", err)
			} else {
				state.TimeSynced = true
			}
		}
		if registration {
			if err := s.device.SetImageRegistrationMode(ctx, sensor.RegistrationDepthToColor); err != nil {
				s.logger.Warnw("depth to color registration unavailable", "error", err)
			} else {
				state.Registered = true
			}
		}
	}

	s.mu.Lock()
	s.sync = state
	s.mu.Unlock()
	s.logger.Infow("synchronization", "time_synced", state.TimeSynced, "registered", state.Registered)
	return state
}

// SyncState returns what EnableSync established.
func (s *Session) SyncState() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync
}

// Streams returns the started streams, color first.
func (s *Session) Streams() []sensor.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	streams := make([]sensor.Stream, 0, len(s.valid))
	for _, sensorType := range streamOrder {
		if stream, ok := s.valid[sensorType]; ok {
			streams = append(streams, stream)
		}
	}
	return streams
}

// Stream returns the started stream of the given sensor, if any.
func (s *Session) Stream(sensorType sensor.Type) (sensor.Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stream, ok := s.valid[sensorType]
	return stream, ok
}

func (s *Session) own(stream sensor.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned = append(s.owned, stream)
}

// destroy destroys an owned stream and forgets it.
func (s *Session) destroy(ctx context.Context, stream sensor.Stream) error {
	s.mu.Lock()
	for i, owned := range s.owned {
		if owned == stream {
			s.owned = append(s.owned[:i], s.owned[i+1:]...)
			break
		}
	}
	delete(s.valid, stream.Sensor())
	delete(s.started, stream.Sensor())
	s.mu.Unlock()
	return stream.Destroy(ctx)
}

// Close stops and destroys every stream, closes the device and releases the claim. Only the
// first call does anything; later calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		owned := s.owned
		started := s.started
		s.owned = nil
		s.valid = map[sensor.Type]sensor.Stream{}
		s.started = map[sensor.Type]bool{}
		s.mu.Unlock()

		var err error
		for _, stream := range owned {
			if started[stream.Sensor()] {
				err = multierr.Append(err, errors.Wrapf(stream.Stop(ctx), "stopping %s stream", stream.Sensor()))
			}
		}
		for _, stream := range owned {
			err = multierr.Append(err, errors.Wrapf(stream.Destroy(ctx), "destroying %s stream", stream.Sensor()))
		}
		err = multierr.Append(err, errors.Wrap(s.device.Close(ctx), "closing device"))
		releaseAll(s.claims, s.id)

		if err != nil {
			s.logger.Errorw("session teardown finished with errors", "error", err)
		} else {
			s.logger.Debug("session closed")
		}
		s.closeErr = err
	})
	return s.closeErr
}
