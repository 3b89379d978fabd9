package webcam

import (
	"context"
	"encoding/binary"
	"image"
	"slices"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/sensor"
)

type readResult struct {
	img     image.Image
	release func()
	err     error
}

// pendingRead is one reader.Read call. done is closed once res is set; claim hands res to
// exactly one consumer, which then owns its release.
type pendingRead struct {
	done    chan struct{}
	res     readResult
	claimed atomic.Bool
}

func (p *pendingRead) claim() bool {
	return p.claimed.CompareAndSwap(false, true)
}

// A Stream reads one webcam node.
type Stream struct {
	device *Device
	node   *node
	logger logging.Logger

	mu        sync.Mutex
	mode      sensor.VideoMode
	reader    video.Reader
	pending   *pendingRead
	destroyed bool
	sequence  uint64
	buf       sensor.FrameBuffer
}

// Sensor implements sensor.Stream.
func (s *Stream) Sensor() sensor.Type {
	return s.node.sensor
}

// SupportedModes implements sensor.Stream.
func (s *Stream) SupportedModes() []sensor.VideoMode {
	return slices.Clone(s.node.modes)
}

// VideoMode implements sensor.Stream.
func (s *Stream) VideoMode() sensor.VideoMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetVideoMode implements sensor.Stream.
func (s *Stream) SetVideoMode(mode sensor.VideoMode) error {
	if mode.PixelFormat == "" {
		mode.PixelFormat = sensor.DefaultPixelFormat(s.node.sensor)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return errors.Wrap(sensor.ErrClosed, "stream")
	}
	if s.reader != nil {
		return errors.Errorf("can not change the mode of running %s stream", s.node.sensor)
	}
	if !slices.ContainsFunc(s.node.modes, mode.Matches) {
		return sensor.NewUnsupportedModeError(s.node.sensor, mode)
	}
	s.mode = mode
	return nil
}

// Start opens the node and starts recording in the current mode.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return errors.Wrap(sensor.ErrClosed, "stream")
	}
	if s.reader != nil {
		return nil
	}
	recorder, ok := s.node.driver.(driver.VideoRecorder)
	if !ok {
		return errors.Errorf("driver %q can not record video", s.node.label)
	}
	if s.node.driver.Status() == driver.StateClosed {
		if err := s.node.driver.Open(); err != nil {
			return errors.Wrapf(err, "opening %q", s.node.label)
		}
	}
	unmirrored := s.mode
	unmirrored.Mirrored = false
	media := prop.Media{Video: prop.Video{
		Width:       s.mode.Width,
		Height:      s.mode.Height,
		FrameRate:   float32(s.mode.FPS),
		FrameFormat: s.node.formats[unmirrored],
	}}
	reader, err := recorder.VideoRecord(media)
	if err != nil {
		return multierr.Combine(errors.Wrapf(err, "recording %q", s.node.label), s.node.driver.Close())
	}
	s.reader = reader
	s.logger.CDebugw(ctx, "stream started", "node", s.node.label, "mode", s.mode.String())
	return nil
}

// Stop implements sensor.Stream. Closing the node ends the recording.
func (s *Stream) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return errors.Wrap(sensor.ErrClosed, "stream")
	}
	return s.stopLocked()
}

func (s *Stream) stopLocked() error {
	if s.reader == nil {
		return nil
	}
	if pending := s.pending; pending != nil {
		// Release the image unless a ReadFrame still waiting on it takes it first.
		goutils.PanicCapturingGo(func() {
			<-pending.done
			if pending.claim() && pending.res.release != nil {
				pending.res.release()
			}
		})
	}
	s.reader = nil
	s.pending = nil
	s.buf.Invalidate()
	return s.node.driver.Close()
}

// Destroy implements sensor.Stream.
func (s *Stream) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return errors.Wrap(sensor.ErrClosed, "stream")
	}
	s.destroyed = true
	err := s.stopLocked()
	s.mu.Unlock()
	s.device.forget(s.node.sensor)
	return err
}

// ReadFrame waits for the next image from the node. An image still being read when ctx ends
// is delivered to the next call.
func (s *Stream) ReadFrame(ctx context.Context) (*sensor.Frame, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, errors.Wrap(sensor.ErrClosed, "stream")
	}
	if s.reader == nil {
		s.mu.Unlock()
		return nil, errors.Wrapf(sensor.ErrStreamNotStarted, "%s", s.node.sensor)
	}
	if s.pending == nil {
		pending := &pendingRead{done: make(chan struct{})}
		reader := s.reader
		goutils.PanicCapturingGo(func() {
			defer close(pending.done)
			img, release, err := reader.Read()
			pending.res = readResult{img: img, release: release, err: err}
		})
		s.pending = pending
	}
	pending := s.pending
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(sensor.ErrReadTimeout, "%s", s.node.sensor)
		}
		return nil, ctx.Err()
	case <-pending.done:
	}
	if !pending.claim() {
		return nil, errors.Wrapf(sensor.ErrReadTimeout, "%s frame taken by another read", s.node.sensor)
	}
	res := pending.res
	if res.release != nil {
		defer res.release()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == pending {
		s.pending = nil
	}
	if res.err != nil {
		if !s.node.connected() {
			return nil, errors.Wrapf(res.err, "%q is disconnected", s.node.label)
		}
		return nil, res.err
	}
	if s.reader == nil {
		return nil, errors.Wrapf(sensor.ErrStreamNotStarted, "%s", s.node.sensor)
	}
	s.sequence++
	now := s.device.driver.clock.Now()
	if res.img == nil || res.img.Bounds().Empty() {
		return s.buf.PublishEmpty(now, s.sequence), nil
	}
	mode := s.mode
	mode.Width, mode.Height = res.img.Bounds().Dx(), res.img.Bounds().Dy()
	if s.node.sensor == sensor.Depth {
		if err := s.packDepth(res.img, mode); err != nil {
			return nil, err
		}
	} else {
		s.packColor(res.img, mode)
	}
	return s.buf.Publish(mode, mode.Width*mode.PixelFormat.BytesPerPixel(), now, s.sequence), nil
}

// packColor writes img into the frame buffer as packed RGB, flipping it when mirrored.
func (s *Stream) packColor(img image.Image, mode sensor.VideoMode) {
	var nrgba *image.NRGBA
	if mode.Mirrored {
		nrgba = imaging.FlipH(img)
	} else {
		nrgba = imaging.Clone(img)
	}
	dst := s.buf.Acquire(mode.FrameSize())
	for y := 0; y < mode.Height; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+mode.Width*4]
		row := dst[y*mode.Width*3 : (y+1)*mode.Width*3]
		for x := 0; x < mode.Width; x++ {
			copy(row[3*x:3*x+3], src[4*x:4*x+3])
		}
	}
}

// packDepth writes a Z16 image into the frame buffer as little-endian millimeters.
func (s *Stream) packDepth(img image.Image, mode sensor.VideoMode) error {
	gray, ok := img.(*image.Gray16)
	if !ok {
		return errors.Errorf("depth node %q delivered %T, expected *image.Gray16", s.node.label, img)
	}
	dst := s.buf.Acquire(mode.FrameSize())
	bounds := gray.Bounds()
	for y := 0; y < mode.Height; y++ {
		row := dst[y*mode.Width*2 : (y+1)*mode.Width*2]
		for x := 0; x < mode.Width; x++ {
			srcX := x
			if mode.Mirrored {
				srcX = mode.Width - 1 - x
			}
			v := gray.Gray16At(bounds.Min.X+srcX, bounds.Min.Y+y).Y
			binary.LittleEndian.PutUint16(row[2*x:], v)
		}
	}
	return nil
}
