package session

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
	"go.viam.com/rgbdview/sensor/fake"
	"go.viam.com/rgbdview/testutils/inject"
)

var vga30Mirrored = sensor.VideoMode{Width: 640, Height: 480, FPS: 30, Mirrored: true}

// countingDriver wraps a fake driver and counts device closes.
func countingDriver(cfg fake.Config) (*inject.Driver, *int) {
	var closes int
	base := fake.NewDriver(cfg)
	driver := &inject.Driver{Driver: base}
	driver.OpenFunc = func(ctx context.Context, uri string, logger logging.Logger) (sensor.Device, error) {
		dev, err := base.Open(ctx, uri, logger)
		if err != nil {
			return nil, err
		}
		injected := &inject.Device{Device: dev}
		injected.CloseFunc = func(ctx context.Context) error {
			closes++
			return dev.Close(ctx)
		}
		return injected, nil
	}
	return driver, &closes
}

func TestOpenClaimsDevice(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	driver := fake.NewDriver(fake.Config{URIs: []string{"fake://claims"}})

	first, err := Open(ctx, driver, "fake://claims", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first.Device().Info().URI, test.ShouldEqual, "fake://claims")

	_, err = Open(ctx, driver, "fake://claims", logger)
	test.That(t, errors.Is(err, sensor.ErrDeviceBusy), test.ShouldBeTrue)

	_, err = Open(ctx, driver, sensor.AnyDevice, logger)
	test.That(t, errors.Is(err, sensor.ErrDeviceBusy), test.ShouldBeTrue)

	test.That(t, first.Close(ctx), test.ShouldBeNil)

	second, err := Open(ctx, driver, sensor.AnyDevice, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.ID(), test.ShouldNotEqual, first.ID())
	test.That(t, second.Close(ctx), test.ShouldBeNil)
}

func TestOpenClaimsResolvedDevice(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	// This driver hands out the same device any number of times, so only the session's claim
	// keeps two sessions apart.
	var closed int
	driver := &inject.Driver{
		NameFunc: func() string { return "shared" },
		OpenFunc: func(ctx context.Context, uri string, logger logging.Logger) (sensor.Device, error) {
			return &inject.Device{
				InfoFunc:  func() sensor.DeviceInfo { return sensor.DeviceInfo{URI: "shared://0"} },
				CloseFunc: func(ctx context.Context) error { closed++; return nil },
			}, nil
		},
	}

	first, err := Open(ctx, driver, sensor.AnyDevice, logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = Open(ctx, driver, "shared://0", logger)
	test.That(t, errors.Is(err, sensor.ErrDeviceBusy), test.ShouldBeTrue)

	_, err = Open(ctx, driver, sensor.AnyDevice, logger)
	test.That(t, errors.Is(err, sensor.ErrDeviceBusy), test.ShouldBeTrue)
	// The device opened for the rejected session was given back.
	test.That(t, closed, test.ShouldEqual, 1)

	test.That(t, first.Close(ctx), test.ShouldBeNil)
	test.That(t, closed, test.ShouldEqual, 2)
}

func TestOpenNotFound(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	driver := fake.NewDriver(fake.Config{URIs: []string{"fake://present"}})

	_, err := Open(context.Background(), driver, "fake://absent", logger)
	test.That(t, errors.Is(err, sensor.ErrDeviceNotFound), test.ShouldBeTrue)
	var openErr *OpenError
	test.That(t, errors.As(err, &openErr), test.ShouldBeTrue)
	test.That(t, openErr.Device, test.ShouldEqual, "fake://absent")
	test.That(t, err.Error(), test.ShouldContainSubstring, "fake://absent")
	test.That(t, logs.FilterMessage("device open failed").Len(), test.ShouldEqual, 1)

	// A failed open does not leave a claim behind.
	sess, err := Open(context.Background(), driver, "fake://present", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sess.Close(context.Background()), test.ShouldBeNil)
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	driver := fake.NewDriver(fake.Config{URIs: []string{"fake://configure"}})
	dev, err := driver.Open(ctx, sensor.AnyDevice, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer dev.Close(ctx)

	stream, err := dev.CreateStream(ctx, sensor.Depth)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, Configure(ctx, stream, vga30Mirrored), test.ShouldBeNil)
	mode := stream.VideoMode()
	test.That(t, mode.Width, test.ShouldEqual, 640)
	test.That(t, mode.Height, test.ShouldEqual, 480)
	test.That(t, mode.FPS, test.ShouldEqual, 30)
	test.That(t, mode.Mirrored, test.ShouldBeTrue)
	test.That(t, mode.PixelFormat, test.ShouldEqual, sensor.PixelFormatDepth1MM)

	setCalled := false
	injected := &inject.Stream{
		Stream: stream,
		SetVideoModeFunc: func(mode sensor.VideoMode) error {
			setCalled = true
			return nil
		},
	}
	err = Configure(ctx, injected, sensor.VideoMode{Width: 1280, Height: 720, FPS: 30, Mirrored: true})
	test.That(t, errors.Is(err, sensor.ErrUnsupportedMode), test.ShouldBeTrue)
	test.That(t, setCalled, test.ShouldBeFalse)
}

func TestSetupBothStreams(t *testing.T) {
	ctx := context.Background()
	driver, closes := countingDriver(fake.Config{URIs: []string{"fake://both"}})

	sess, err := Setup(ctx, driver, sensor.AnyDevice, Options{Mode: vga30Mirrored, TimeSync: true, Registration: true},
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	streams := sess.Streams()
	test.That(t, streams, test.ShouldHaveLength, 2)
	test.That(t, streams[0].Sensor(), test.ShouldEqual, sensor.Color)
	test.That(t, streams[1].Sensor(), test.ShouldEqual, sensor.Depth)
	for _, stream := range streams {
		test.That(t, stream.VideoMode().Mirrored, test.ShouldBeTrue)
		test.That(t, stream.VideoMode().Width, test.ShouldEqual, 640)
	}
	test.That(t, sess.SyncState(), test.ShouldResemble, SyncState{TimeSynced: true, Registered: true})

	color, ok := sess.Stream(sensor.Color)
	test.That(t, ok, test.ShouldBeTrue)
	frame, err := color.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Width(), test.ShouldEqual, 640)

	test.That(t, sess.Close(ctx), test.ShouldBeNil)
	test.That(t, sess.Close(ctx), test.ShouldBeNil)
	test.That(t, *closes, test.ShouldEqual, 1)
	test.That(t, sess.Streams(), test.ShouldBeEmpty)
	_, err = color.ReadFrame(ctx)
	test.That(t, errors.Is(err, sensor.ErrClosed), test.ShouldBeTrue)
}

func TestSetupOneStreamFails(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name string
		cfg  fake.Config
	}{
		{"create", fake.Config{CreateErrors: map[sensor.Type]error{sensor.Color: errors.New("no color")}}},
		{"start", fake.Config{StartErrors: map[sensor.Type]error{sensor.Color: errors.New("usb bandwidth")}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.URIs = []string{"fake://one-" + tc.name}
			driver, closes := countingDriver(tc.cfg)
			logger, logs := logging.NewObservedTestLogger(t)

			sess, err := Setup(ctx, driver, sensor.AnyDevice, Options{Mode: vga30Mirrored, TimeSync: true, Registration: true},
				logger)
			test.That(t, err, test.ShouldBeNil)

			streams := sess.Streams()
			test.That(t, streams, test.ShouldHaveLength, 1)
			test.That(t, streams[0].Sensor(), test.ShouldEqual, sensor.Depth)
			_, ok := sess.Stream(sensor.Color)
			test.That(t, ok, test.ShouldBeFalse)
			test.That(t, logs.FilterMessage("skipping stream").Len(), test.ShouldEqual, 1)

			// Synchronization needs both streams.
			test.That(t, sess.SyncState(), test.ShouldResemble, SyncState{})
			dev, ok := driver.Driver.(*fake.Driver).Device("fake://one-" + tc.name)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, dev.Synced(), test.ShouldBeFalse)

			test.That(t, sess.Close(ctx), test.ShouldBeNil)
			test.That(t, *closes, test.ShouldEqual, 1)
		})
	}
}

func TestSetupNoValidStream(t *testing.T) {
	ctx := context.Background()
	driver, closes := countingDriver(fake.Config{
		URIs:         []string{"fake://none"},
		CreateErrors: map[sensor.Type]error{sensor.Color: errors.New("no color")},
		StartErrors:  map[sensor.Type]error{sensor.Depth: errors.New("no depth")},
	})

	_, err := Setup(ctx, driver, sensor.AnyDevice, Options{Mode: vga30Mirrored}, logging.NewTestLogger(t))
	test.That(t, errors.Is(err, ErrNoValidStream), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no color")
	test.That(t, err.Error(), test.ShouldContainSubstring, "no depth")
	test.That(t, *closes, test.ShouldEqual, 1)

	// The failed setup released the device.
	_, ok := driver.Driver.(*fake.Driver).Device("fake://none")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSetupUnsupportedMode(t *testing.T) {
	ctx := context.Background()
	driver, closes := countingDriver(fake.Config{URIs: []string{"fake://unsupported"}})

	_, err := Setup(ctx, driver, sensor.AnyDevice, Options{Mode: sensor.VideoMode{Width: 1920, Height: 1080, FPS: 30}},
		logging.NewTestLogger(t))
	test.That(t, errors.Is(err, sensor.ErrUnsupportedMode), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrNoValidStream), test.ShouldBeFalse)
	test.That(t, *closes, test.ShouldEqual, 1)
}

func TestEnableSyncBestEffort(t *testing.T) {
	ctx := context.Background()
	driver := fake.NewDriver(fake.Config{URIs: []string{"fake://nosync"}, NoSync: true})
	logger, logs := logging.NewObservedTestLogger(t)

	sess, err := Setup(ctx, driver, sensor.AnyDevice, Options{Mode: vga30Mirrored, TimeSync: true, Registration: true},
		logger)
	test.That(t, err, test.ShouldBeNil)
	defer sess.Close(ctx)

	test.That(t, sess.SyncState(), test.ShouldResemble, SyncState{Registered: true})
	test.That(t, logs.FilterMessage("depth/color frame sync unavailable").Len(), test.ShouldEqual, 1)

	// Disabled features are not requested.
	test.That(t, sess.EnableSync(ctx, false, false), test.ShouldResemble, SyncState{})
}

func TestCloseCombinesErrors(t *testing.T) {
	ctx := context.Background()
	base := fake.NewDriver(fake.Config{URIs: []string{"fake://teardown"}})
	driver := &inject.Driver{Driver: base}
	driver.OpenFunc = func(ctx context.Context, uri string, logger logging.Logger) (sensor.Device, error) {
		dev, err := base.Open(ctx, uri, logger)
		if err != nil {
			return nil, err
		}
		injected := &inject.Device{Device: dev}
		injected.CreateStreamFunc = func(ctx context.Context, sensorType sensor.Type) (sensor.Stream, error) {
			stream, err := dev.CreateStream(ctx, sensorType)
			if err != nil {
				return nil, err
			}
			return &inject.Stream{
				Stream: stream,
				StopFunc: func(ctx context.Context) error {
					return errors.Errorf("%s stop failed", sensorType)
				},
			}, nil
		}
		return injected, nil
	}

	sess, err := Setup(ctx, driver, sensor.AnyDevice, Options{Mode: vga30Mirrored}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	err = sess.Close(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "color stop failed")
	test.That(t, err.Error(), test.ShouldContainSubstring, "depth stop failed")
	test.That(t, sess.Close(ctx), test.ShouldEqual, err)

	// Streams were destroyed and the device closed despite the stop failures.
	_, ok := base.Device("fake://teardown")
	test.That(t, ok, test.ShouldBeFalse)
}
