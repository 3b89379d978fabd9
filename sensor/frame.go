package sensor

import (
	"sync/atomic"
	"time"
)

// A Frame is a borrowed view of one raw sensor frame. Its storage belongs to the stream that
// produced it and is recycled by that stream's next read, after which Data fails with
// ErrFrameInvalidated.
type Frame struct {
	mode      VideoMode
	stride    int
	timestamp time.Time
	sequence  uint64
	data      []byte

	owner      *FrameBuffer
	generation uint64
}

// NewFrame returns a frame that owns data and is never invalidated. Drivers use FrameBuffer
// instead; NewFrame is for frames built outside a stream.
func NewFrame(mode VideoMode, data []byte, timestamp time.Time, sequence uint64) *Frame {
	return &Frame{
		mode:      mode,
		stride:    mode.Width * mode.PixelFormat.BytesPerPixel(),
		timestamp: timestamp,
		sequence:  sequence,
		data:      data,
	}
}

// VideoMode returns the mode the frame was captured in.
func (f *Frame) VideoMode() VideoMode {
	return f.mode
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.mode.Width
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.mode.Height
}

// Stride returns the number of bytes between the start of two rows.
func (f *Frame) Stride() int {
	return f.stride
}

// Timestamp returns the capture time of the frame.
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Sequence returns the per-device capture counter. Synchronized color and depth frames from the
// same capture share a sequence number.
func (f *Frame) Sequence() uint64 {
	return f.sequence
}

// Valid reports whether the frame's storage still holds this frame.
func (f *Frame) Valid() bool {
	return f.owner == nil || f.owner.generation.Load() == f.generation
}

// Data returns the raw pixel bytes. A nil slice with a nil error means the sensor delivered an
// empty frame.
func (f *Frame) Data() ([]byte, error) {
	if !f.Valid() {
		return nil, ErrFrameInvalidated
	}
	return f.data, nil
}

// A FrameBuffer is the recycled storage behind a stream's frames. Each Acquire invalidates the
// frame previously published from it.
type FrameBuffer struct {
	buf        []byte
	generation atomic.Uint64
}

// Acquire invalidates the last published frame and returns storage of n bytes for the next one.
func (b *FrameBuffer) Acquire(n int) []byte {
	b.generation.Add(1)
	if cap(b.buf) < n {
		b.buf = make([]byte, n)
	}
	b.buf = b.buf[:n]
	return b.buf
}

// Publish returns a view over the storage last returned by Acquire.
func (b *FrameBuffer) Publish(mode VideoMode, stride int, timestamp time.Time, sequence uint64) *Frame {
	return &Frame{
		mode:       mode,
		stride:     stride,
		timestamp:  timestamp,
		sequence:   sequence,
		data:       b.buf,
		owner:      b,
		generation: b.generation.Load(),
	}
}

// PublishEmpty invalidates the last published frame and returns a frame without data, as
// sensors deliver right after starting.
func (b *FrameBuffer) PublishEmpty(timestamp time.Time, sequence uint64) *Frame {
	b.generation.Add(1)
	return &Frame{
		timestamp:  timestamp,
		sequence:   sequence,
		owner:      b,
		generation: b.generation.Load(),
	}
}

// Invalidate invalidates the last published frame without producing a new one.
func (b *FrameBuffer) Invalidate() {
	b.generation.Add(1)
}
