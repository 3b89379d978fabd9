package fake

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
)

var vga30 = sensor.VideoMode{Width: 640, Height: 480, FPS: 30}

func openDefault(t *testing.T, cfg Config) (*Driver, *Device) {
	t.Helper()
	driver := NewDriver(cfg)
	dev, err := driver.Open(context.Background(), sensor.AnyDevice, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return driver, dev.(*Device)
}

func startStream(t *testing.T, dev *Device, sensorType sensor.Type, mode sensor.VideoMode) sensor.Stream {
	t.Helper()
	ctx := context.Background()
	s, err := dev.CreateStream(ctx, sensorType)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.SetVideoMode(mode), test.ShouldBeNil)
	test.That(t, s.Start(ctx), test.ShouldBeNil)
	return s
}

func depthAt(t *testing.T, frame *sensor.Frame, x, y int) uint16 {
	t.Helper()
	data, err := frame.Data()
	test.That(t, err, test.ShouldBeNil)
	return binary.LittleEndian.Uint16(data[y*frame.Stride()+2*x:])
}

func colorAt(t *testing.T, frame *sensor.Frame, x, y int) [3]byte {
	t.Helper()
	data, err := frame.Data()
	test.That(t, err, test.ShouldBeNil)
	i := y*frame.Stride() + 3*x
	return [3]byte{data[i], data[i+1], data[i+2]}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	driver := NewDriver(Config{URIs: []string{"fake://a", "fake://b"}})

	infos, err := driver.Discover(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, infos, test.ShouldHaveLength, 2)
	test.That(t, infos[1].URI, test.ShouldEqual, "fake://b")
	test.That(t, infos[0].Sensors, test.ShouldResemble, []sensor.Type{sensor.Color, sensor.Depth})

	dev, err := driver.Open(ctx, sensor.AnyDevice, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Info().URI, test.ShouldEqual, "fake://a")

	_, err = driver.Open(ctx, "fake://a", logger)
	test.That(t, errors.Is(err, sensor.ErrDeviceBusy), test.ShouldBeTrue)

	_, err = driver.Open(ctx, "fake://nope", logger)
	test.That(t, errors.Is(err, sensor.ErrDeviceNotFound), test.ShouldBeTrue)

	other, err := driver.Open(ctx, "fake://b", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, other.Close(ctx), test.ShouldBeNil)

	test.That(t, dev.Close(ctx), test.ShouldBeNil)
	test.That(t, errors.Is(dev.Close(ctx), sensor.ErrClosed), test.ShouldBeTrue)
	test.That(t, dev.(*Device).CloseCount(), test.ShouldEqual, 2)

	// Closing frees the device for the next open.
	dev, err = driver.Open(ctx, "fake://a", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.Close(ctx), test.ShouldBeNil)
}

func TestStreamLifecycle(t *testing.T) {
	ctx := context.Background()
	_, dev := openDefault(t, Config{})

	s, err := dev.CreateStream(ctx, sensor.Color)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Sensor(), test.ShouldEqual, sensor.Color)
	test.That(t, s.SupportedModes(), test.ShouldResemble, DefaultModes(sensor.Color))

	_, err = dev.CreateStream(ctx, sensor.Color)
	test.That(t, err, test.ShouldNotBeNil)

	err = s.SetVideoMode(sensor.VideoMode{Width: 1920, Height: 1080, FPS: 30})
	test.That(t, errors.Is(err, sensor.ErrUnsupportedMode), test.ShouldBeTrue)

	_, err = s.ReadFrame(ctx)
	test.That(t, errors.Is(err, sensor.ErrStreamNotStarted), test.ShouldBeTrue)

	mirrored := vga30
	mirrored.Mirrored = true
	test.That(t, s.SetVideoMode(mirrored), test.ShouldBeNil)
	test.That(t, s.VideoMode().Mirrored, test.ShouldBeTrue)
	test.That(t, s.VideoMode().PixelFormat, test.ShouldEqual, sensor.PixelFormatRGB888)

	test.That(t, s.Start(ctx), test.ShouldBeNil)
	test.That(t, s.SetVideoMode(vga30), test.ShouldNotBeNil)

	frame, err := s.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Width(), test.ShouldEqual, 640)
	test.That(t, frame.Height(), test.ShouldEqual, 480)

	test.That(t, s.Stop(ctx), test.ShouldBeNil)
	test.That(t, frame.Valid(), test.ShouldBeFalse)
	test.That(t, s.Destroy(ctx), test.ShouldBeNil)
	test.That(t, errors.Is(s.Destroy(ctx), sensor.ErrClosed), test.ShouldBeTrue)
	test.That(t, errors.Is(s.Start(ctx), sensor.ErrClosed), test.ShouldBeTrue)

	test.That(t, dev.Close(ctx), test.ShouldBeNil)
	_, err = dev.CreateStream(ctx, sensor.Depth)
	test.That(t, errors.Is(err, sensor.ErrClosed), test.ShouldBeTrue)
}

func TestScene(t *testing.T) {
	ctx := context.Background()
	_, dev := openDefault(t, Config{})
	defer dev.Close(ctx)

	color := startStream(t, dev, sensor.Color, vga30)
	depth := startStream(t, dev, sensor.Depth, vga30)
	test.That(t, dev.SetImageRegistrationMode(ctx, sensor.RegistrationDepthToColor), test.ShouldBeNil)

	cf, err := color.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	df, err := depth.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)

	// The box is in the middle of both images.
	test.That(t, colorAt(t, cf, 320, 240), test.ShouldResemble, BoxColor)
	test.That(t, depthAt(t, df, 320, 240), test.ShouldEqual, uint16(BoxDepth))

	// The wall recedes past the render range towards the right edge.
	test.That(t, depthAt(t, df, 5, 10), test.ShouldBeLessThan, depthAt(t, df, 630, 10))
	test.That(t, depthAt(t, df, 639, 10), test.ShouldBeGreaterThan, 10000)
}

func TestMirroring(t *testing.T) {
	ctx := context.Background()
	_, dev := openDefault(t, Config{})
	defer dev.Close(ctx)

	plain := startStream(t, dev, sensor.Depth, vga30)
	f, err := plain.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	left, right := depthAt(t, f, 30, 10), depthAt(t, f, 600, 10)
	test.That(t, plain.Stop(ctx), test.ShouldBeNil)

	mirrored := vga30
	mirrored.Mirrored = true
	test.That(t, plain.SetVideoMode(mirrored), test.ShouldBeNil)
	test.That(t, plain.Start(ctx), test.ShouldBeNil)
	f, err = plain.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depthAt(t, f, 30, 10), test.ShouldBeGreaterThan, depthAt(t, f, 600, 10))
	test.That(t, left, test.ShouldBeLessThan, right)
}

func TestRegistration(t *testing.T) {
	ctx := context.Background()
	_, dev := openDefault(t, Config{})
	defer dev.Close(ctx)

	startStream(t, dev, sensor.Color, vga30)
	depth := startStream(t, dev, sensor.Depth, sensor.VideoMode{Width: 320, Height: 240, FPS: 30})

	// Unregistered depth keeps its own resolution and sees the box shifted by the baseline.
	f, err := depth.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Width(), test.ShouldEqual, 320)
	test.That(t, depthAt(t, f, int(boxMaxU*320)-2, 120), test.ShouldNotEqual, uint16(BoxDepth))

	test.That(t, dev.SetImageRegistrationMode(ctx, sensor.RegistrationDepthToColor), test.ShouldBeNil)
	test.That(t, dev.Registration(), test.ShouldEqual, sensor.RegistrationDepthToColor)
	f, err = depth.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Width(), test.ShouldEqual, 640)
	test.That(t, f.Height(), test.ShouldEqual, 480)
	test.That(t, depthAt(t, f, int(boxMaxU*640)-2, 240), test.ShouldEqual, uint16(BoxDepth))
	test.That(t, depthAt(t, f, int(boxMaxU*640)+1, 240), test.ShouldNotEqual, uint16(BoxDepth))
	test.That(t, depthAt(t, f, int(boxMinU*640)+1, 240), test.ShouldEqual, uint16(BoxDepth))
	test.That(t, depthAt(t, f, int(boxMinU*640)-1, 240), test.ShouldNotEqual, uint16(BoxDepth))
}

func TestFrameSync(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	_, dev := openDefault(t, Config{Clock: mock})
	defer dev.Close(ctx)

	color := startStream(t, dev, sensor.Color, vga30)
	depth := startStream(t, dev, sensor.Depth, vga30)

	// Free running streams sample at different instants.
	cf, err := color.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	df, err := depth.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cf.Timestamp(), test.ShouldNotEqual, df.Timestamp())
	test.That(t, cf.Sequence(), test.ShouldNotEqual, df.Sequence())

	test.That(t, dev.SetDepthColorSyncEnabled(ctx, true), test.ShouldBeNil)
	test.That(t, dev.Synced(), test.ShouldBeTrue)
	for i := 0; i < 5; i++ {
		mock.Add(33 * time.Millisecond)
		cf, err = color.ReadFrame(ctx)
		test.That(t, err, test.ShouldBeNil)
		mock.Add(2 * time.Millisecond)
		df, err = depth.ReadFrame(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, df.Timestamp(), test.ShouldEqual, cf.Timestamp())
		test.That(t, df.Sequence(), test.ShouldEqual, cf.Sequence())
	}

	// A lone reader does not leave captures behind for a stopped peer.
	test.That(t, depth.Stop(ctx), test.ShouldBeNil)
	first, err := color.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	seq := first.Sequence()
	second, err := color.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, second.Sequence(), test.ShouldEqual, seq+1)
}

func TestUnsupportedCapabilities(t *testing.T) {
	ctx := context.Background()
	_, dev := openDefault(t, Config{NoSync: true, NoRegistration: true})
	defer dev.Close(ctx)

	test.That(t, errors.Is(dev.SetDepthColorSyncEnabled(ctx, true), sensor.ErrNotSupported), test.ShouldBeTrue)
	err := dev.SetImageRegistrationMode(ctx, sensor.RegistrationDepthToColor)
	test.That(t, errors.Is(err, sensor.ErrNotSupported), test.ShouldBeTrue)
	test.That(t, dev.SetImageRegistrationMode(ctx, sensor.RegistrationOff), test.ShouldBeNil)
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	_, dev := openDefault(t, Config{
		CreateErrors: map[sensor.Type]error{sensor.Color: boom},
		StartErrors:  map[sensor.Type]error{sensor.Depth: boom},
		EmptyFrames:  2,
	})
	defer dev.Close(ctx)

	_, err := dev.CreateStream(ctx, sensor.Color)
	test.That(t, err, test.ShouldEqual, boom)

	depth, err := dev.CreateStream(ctx, sensor.Depth)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth.Start(ctx), test.ShouldEqual, boom)

	_, noDepth := openDefault(t, Config{URIs: []string{"fake://nodepth"}, NoDepth: true, EmptyFrames: 2})
	defer noDepth.Close(ctx)
	_, err = noDepth.CreateStream(ctx, sensor.Depth)
	test.That(t, err, test.ShouldNotBeNil)

	color := startStream(t, noDepth, sensor.Color, vga30)
	for i := 0; i < 2; i++ {
		f, err := color.ReadFrame(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, f.Width(), test.ShouldEqual, 0)
		data, err := f.Data()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, data, test.ShouldBeNil)
	}
	f, err := color.ReadFrame(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Width(), test.ShouldEqual, 640)
	test.That(t, color.(*Stream).Reads(), test.ShouldEqual, 3)
}

func TestRealtimePacing(t *testing.T) {
	mock := clock.NewMock()
	_, dev := openDefault(t, Config{Clock: mock, Realtime: true})
	defer dev.Close(context.Background())
	s := startStream(t, dev, sensor.Color, sensor.VideoMode{Width: 320, Height: 240, FPS: 30})

	// The first frame is due immediately.
	_, err := s.ReadFrame(context.Background())
	test.That(t, err, test.ShouldBeNil)

	// The second is not due until the mock clock advances.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.ReadFrame(ctx)
	test.That(t, errors.Is(err, sensor.ErrReadTimeout), test.ShouldBeTrue)

	done := make(chan error, 1)
	go func() {
		_, err := s.ReadFrame(context.Background())
		done <- err
	}()
	// Wait for the reader to arm its timer before advancing.
	for i := 0; i < 100; i++ {
		time.Sleep(time.Millisecond)
		mock.Add(10 * time.Millisecond)
		select {
		case err := <-done:
			test.That(t, err, test.ShouldBeNil)
			return
		default:
		}
	}
	t.Fatal("paced read never completed")
}
