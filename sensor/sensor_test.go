package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/rgbdview/logging"
)

func TestFrameBufferInvalidation(t *testing.T) {
	var buf FrameBuffer
	mode := VideoMode{Width: 2, Height: 1, FPS: 30, PixelFormat: PixelFormatRGB888}
	now := time.Now()

	dst := buf.Acquire(mode.FrameSize())
	copy(dst, []byte{1, 2, 3, 4, 5, 6})
	first := buf.Publish(mode, 6, now, 1)
	test.That(t, first.Valid(), test.ShouldBeTrue)
	data, err := first.Data()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{1, 2, 3, 4, 5, 6})
	test.That(t, first.Width(), test.ShouldEqual, 2)
	test.That(t, first.Height(), test.ShouldEqual, 1)
	test.That(t, first.Stride(), test.ShouldEqual, 6)
	test.That(t, first.Sequence(), test.ShouldEqual, uint64(1))
	test.That(t, first.Timestamp(), test.ShouldEqual, now)

	dst = buf.Acquire(mode.FrameSize())
	copy(dst, []byte{7, 8, 9, 10, 11, 12})
	second := buf.Publish(mode, 6, now, 2)

	test.That(t, first.Valid(), test.ShouldBeFalse)
	_, err = first.Data()
	test.That(t, errors.Is(err, ErrFrameInvalidated), test.ShouldBeTrue)

	data, err = second.Data()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{7, 8, 9, 10, 11, 12})

	empty := buf.PublishEmpty(now, 3)
	test.That(t, second.Valid(), test.ShouldBeFalse)
	data, err = empty.Data()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldBeNil)
	test.That(t, empty.Width(), test.ShouldEqual, 0)

	buf.Invalidate()
	test.That(t, empty.Valid(), test.ShouldBeFalse)
}

func TestNewFrameNeverInvalidated(t *testing.T) {
	mode := VideoMode{Width: 1, Height: 1, PixelFormat: PixelFormatDepth1MM}
	frame := NewFrame(mode, []byte{0x10, 0x27}, time.Time{}, 0)
	test.That(t, frame.Stride(), test.ShouldEqual, 2)
	data, err := frame.Data()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, data, test.ShouldResemble, []byte{0x10, 0x27})
}

func TestVideoMode(t *testing.T) {
	color := VideoMode{Width: 640, Height: 480, FPS: 30, Mirrored: true, PixelFormat: PixelFormatRGB888}
	test.That(t, color.FrameSize(), test.ShouldEqual, 640*480*3)
	test.That(t, color.Matches(VideoMode{Width: 640, Height: 480, FPS: 30, PixelFormat: PixelFormatRGB888}), test.ShouldBeTrue)
	test.That(t, color.Matches(VideoMode{Width: 640, Height: 480, FPS: 15, PixelFormat: PixelFormatRGB888}), test.ShouldBeFalse)
	test.That(t, color.String(), test.ShouldEqual, "640x480@30fps mirrored=true format=rgb888")

	test.That(t, DefaultPixelFormat(Depth), test.ShouldEqual, PixelFormatDepth1MM)
	test.That(t, DefaultPixelFormat(Color), test.ShouldEqual, PixelFormatRGB888)
	test.That(t, PixelFormat("yuyv").BytesPerPixel(), test.ShouldEqual, 0)
	test.That(t, RegistrationDepthToColor.String(), test.ShouldEqual, "depth_to_color")
}

func TestErrorConstructors(t *testing.T) {
	err := NewDeviceNotFoundError(AnyDevice)
	test.That(t, errors.Is(err, ErrDeviceNotFound), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no devices available")

	err = NewDeviceBusyError("fake://0")
	test.That(t, errors.Is(err, ErrDeviceBusy), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"fake://0"`)

	err = NewUnsupportedModeError(Depth, VideoMode{Width: 1, Height: 1, FPS: 1})
	test.That(t, errors.Is(err, ErrUnsupportedMode), test.ShouldBeTrue)

	err = NewStreamStartError(Color, errors.New("usb reset"))
	test.That(t, errors.Is(err, ErrStreamStart), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "usb reset")
}

type stubDriver struct {
	name string
}

func (d *stubDriver) Name() string { return d.name }

func (d *stubDriver) Discover(ctx context.Context) ([]DeviceInfo, error) { return nil, nil }

func (d *stubDriver) Open(ctx context.Context, uri string, logger logging.Logger) (Device, error) {
	return nil, NewDeviceNotFoundError(uri)
}

func TestRegistry(t *testing.T) {
	driver := &stubDriver{name: "stub-registry-test"}
	RegisterDriver(driver)
	defer deregisterDriver(driver.name)

	found, err := LookupDriver(driver.name)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, found, test.ShouldEqual, driver)
	test.That(t, RegisteredDrivers(), test.ShouldContain, driver.name)

	test.That(t, func() { RegisterDriver(driver) }, test.ShouldPanic)

	_, err = LookupDriver("nope")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `unknown sensor driver "nope"`)
}
