// Package rimage converts raw sensor frames into display-ready 8-bit images.
package rimage

import (
	"image"
	"image/color"
)

// PixelFormat is the layout of a rendered image.
type PixelFormat int

const (
	// FormatBGR24 is three 8-bit channels per pixel in B, G, R order.
	FormatBGR24 PixelFormat = iota
	// FormatGray8 is one 8-bit channel per pixel.
	FormatGray8
)

// Channels returns the number of bytes per pixel.
func (f PixelFormat) Channels() int {
	if f == FormatGray8 {
		return 1
	}
	return 3
}

func (f PixelFormat) String() string {
	if f == FormatGray8 {
		return "gray8"
	}
	return "bgr24"
}

// Image is a display-ready buffer. Pixel (x, y) starts at Pix[y*Stride+x*Format.Channels()].
type Image struct {
	Format PixelFormat
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewImage allocates a tightly packed image.
func NewImage(format PixelFormat, width, height int) *Image {
	stride := width * format.Channels()
	return &Image{
		Format: format,
		Width:  width,
		Height: height,
		Stride: stride,
		Pix:    make([]byte, stride*height),
	}
}

// Rows returns the number of rows.
func (img *Image) Rows() int {
	return img.Height
}

// Cols returns the number of columns.
func (img *Image) Cols() int {
	return img.Width
}

// ColorModel implements image.Image.
func (img *Image) ColorModel() color.Model {
	if img.Format == FormatGray8 {
		return color.GrayModel
	}
	return color.RGBAModel
}

// Bounds implements image.Image.
func (img *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, img.Width, img.Height)
}

// At implements image.Image. BGR pixels are reported in the standard RGBA model.
func (img *Image) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= img.Width || y >= img.Height {
		if img.Format == FormatGray8 {
			return color.Gray{}
		}
		return color.RGBA{}
	}
	i := y*img.Stride + x*img.Format.Channels()
	if img.Format == FormatGray8 {
		return color.Gray{Y: img.Pix[i]}
	}
	return color.RGBA{R: img.Pix[i+2], G: img.Pix[i+1], B: img.Pix[i], A: 0xff}
}
