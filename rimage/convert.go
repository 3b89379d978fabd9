package rimage

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/rgbdview/sensor"
)

// DefaultDepthMaxRange is the raw depth value (millimeters) rendered as full white. Values are
// mapped linearly on a fixed scale so brightness is stable across frames.
const DefaultDepthMaxRange = 10000

var (
	// ErrEmptyFrame is returned for frames without dimensions or data, which sensors deliver
	// transiently right after a stream starts.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrTruncatedFrame is returned when a frame's buffer is shorter than its mode requires.
	ErrTruncatedFrame = errors.New("truncated frame")
)

// frameBytes validates a frame against the expected pixel size and returns its data and stride.
func frameBytes(frame *sensor.Frame, bytesPerPixel int) ([]byte, int, error) {
	if frame == nil || frame.Width() <= 0 || frame.Height() <= 0 {
		return nil, 0, ErrEmptyFrame
	}
	data, err := frame.Data()
	if err != nil {
		return nil, 0, err
	}
	if data == nil {
		return nil, 0, ErrEmptyFrame
	}
	stride := frame.Stride()
	rowBytes := frame.Width() * bytesPerPixel
	if stride < rowBytes {
		stride = rowBytes
	}
	if need := stride*(frame.Height()-1) + rowBytes; len(data) < need {
		return nil, 0, errors.Wrapf(ErrTruncatedFrame, "have %d bytes, %s needs %d", len(data), frame.VideoMode(), need)
	}
	return data, stride, nil
}

// ConvertColor interprets frame as packed RGB888 and returns a BGR24 image of the frame's own
// width and height.
func ConvertColor(frame *sensor.Frame) (*Image, error) {
	data, stride, err := frameBytes(frame, 3)
	if err != nil {
		return nil, err
	}

	img := NewImage(FormatBGR24, frame.Width(), frame.Height())
	for y := 0; y < img.Height; y++ {
		src := data[y*stride : y*stride+img.Width*3]
		dst := img.Pix[y*img.Stride : y*img.Stride+img.Width*3]
		for i := 0; i < len(src); i += 3 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
		}
	}
	return img, nil
}

// SwapRB exchanges the first and third channel of every pixel of a BGR24 image in place,
// turning BGR into RGB and back.
func SwapRB(img *Image) {
	if img.Format != FormatBGR24 {
		return
	}
	for y := 0; y < img.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+img.Width*3]
		for i := 0; i < len(row); i += 3 {
			row[i], row[i+2] = row[i+2], row[i]
		}
	}
}

// DepthConverter maps 16-bit depth to 8-bit intensity with a fixed linear scale.
type DepthConverter struct {
	maxRange int
	invert   bool
	lut      []uint8
}

// NewDepthConverter returns a converter mapping 0 to black and maxRange or more to white. When
// invert is set near objects are white instead.
func NewDepthConverter(maxRange int, invert bool) (*DepthConverter, error) {
	if maxRange <= 0 || maxRange > math.MaxUint16 {
		return nil, errors.Errorf("depth max range must be in (0, %d], got %d", math.MaxUint16, maxRange)
	}
	lut := make([]uint8, math.MaxUint16+1)
	for v := range lut {
		lut[v] = DepthToGray(uint16(v), maxRange)
		if invert {
			lut[v] = 255 - lut[v]
		}
	}
	return &DepthConverter{maxRange: maxRange, invert: invert, lut: lut}, nil
}

// MaxRange returns the raw value rendered as saturation.
func (c *DepthConverter) MaxRange() int {
	return c.maxRange
}

// Convert interprets frame as little-endian uint16 depth and returns a Gray8 image of the
// frame's own width and height.
func (c *DepthConverter) Convert(frame *sensor.Frame) (*Image, error) {
	data, stride, err := frameBytes(frame, 2)
	if err != nil {
		return nil, err
	}

	img := NewImage(FormatGray8, frame.Width(), frame.Height())
	for y := 0; y < img.Height; y++ {
		src := data[y*stride : y*stride+img.Width*2]
		dst := img.Pix[y*img.Stride : y*img.Stride+img.Width]
		for x := range dst {
			dst[x] = c.lut[binary.LittleEndian.Uint16(src[2*x:])]
		}
	}
	return img, nil
}

// DepthToGray returns min(255, round(v*255/maxRange)), rounding halves up.
func DepthToGray(v uint16, maxRange int) uint8 {
	if int(v) >= maxRange {
		return 255
	}
	return uint8((int(v)*255*2 + maxRange) / (2 * maxRange))
}

var defaultDepthConverter = func() *DepthConverter {
	c, err := NewDepthConverter(DefaultDepthMaxRange, false)
	if err != nil {
		panic(err)
	}
	return c
}()

// ConvertDepth converts frame with DefaultDepthMaxRange and no inversion.
func ConvertDepth(frame *sensor.Frame) (*Image, error) {
	return defaultDepthConverter.Convert(frame)
}
