package fake

import (
	"encoding/binary"
	"math"

	"go.viam.com/rgbdview/sensor"
)

// The synthetic scene is a gradient wall with a box in front of it. Coordinates are normalized
// to [0, 1) in the color sensor's frame.
const (
	boxMinU, boxMaxU = 0.4, 0.6
	boxMinV, boxMaxV = 0.35, 0.65

	// BoxDepth is the distance to the box in millimeters.
	BoxDepth = 800
	// WallNearDepth and WallFarDepth bound the wall, which recedes from left to right. The far
	// end is beyond the default render range so saturation is visible.
	WallNearDepth = 0
	WallFarDepth  = 12000

	// depthBaseline is the horizontal offset between the depth and color sensors, in normalized
	// units. Registration removes it.
	depthBaseline = 0.025
)

// BoxColor is the RGB color of the box.
var BoxColor = [3]byte{220, 40, 40}

func inBox(u, v float64) bool {
	return u >= boxMinU && u < boxMaxU && v >= boxMinV && v < boxMaxV
}

func sceneColor(u, v float64) [3]byte {
	if inBox(u, v) {
		return BoxColor
	}
	dist := math.Sqrt(u*u+v*v) / math.Sqrt2
	return [3]byte{uint8(255 - 255*dist), uint8(255 - 255*dist), uint8(255 * dist)}
}

func sceneDepth(u, v float64) uint16 {
	if inBox(u, v) {
		return BoxDepth
	}
	if u < 0 || u >= 1 {
		return 0
	}
	return uint16(WallNearDepth + u*(WallFarDepth-WallNearDepth))
}

// sampleU maps pixel column x of a width-wide image to a normalized scene coordinate.
func sampleU(x, width int, mirrored bool) float64 {
	u := (float64(x) + 0.5) / float64(width)
	if mirrored {
		u = 1 - u
	}
	return u
}

// renderColor draws the scene as packed RGB888.
func renderColor(mode sensor.VideoMode) []byte {
	out := make([]byte, mode.FrameSize())
	for y := 0; y < mode.Height; y++ {
		v := (float64(y) + 0.5) / float64(mode.Height)
		for x := 0; x < mode.Width; x++ {
			c := sceneColor(sampleU(x, mode.Width, mode.Mirrored), v)
			i := (y*mode.Width + x) * 3
			out[i], out[i+1], out[i+2] = c[0], c[1], c[2]
		}
	}
	return out
}

// renderDepth draws the scene as little-endian uint16 millimeters. Unregistered depth is seen
// from the depth sensor's position, offset by the baseline.
func renderDepth(mode sensor.VideoMode, registered bool) []byte {
	out := make([]byte, mode.FrameSize())
	offset := depthBaseline
	if registered {
		offset = 0
	}
	for y := 0; y < mode.Height; y++ {
		v := (float64(y) + 0.5) / float64(mode.Height)
		for x := 0; x < mode.Width; x++ {
			u := sampleU(x, mode.Width, mode.Mirrored) + offset
			binary.LittleEndian.PutUint16(out[(y*mode.Width+x)*2:], sceneDepth(u, v))
		}
	}
	return out
}
