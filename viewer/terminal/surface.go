// Package terminal renders viewer images in a truecolor terminal and reads keys from it.
//
// Each window is a panel of half-block cells: the upper half of a cell shows one pixel row and
// the lower half the next, so a panel of w by h cells shows a w by 2h image. Panels are laid out
// left to right in the order windows are first presented.
package terminal

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fatih/color"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/rimage"
	"go.viam.com/rgbdview/utils"
)

// Palette selects how single channel images are colored.
type Palette string

// The depth palettes.
const (
	PaletteGray Palette = "gray"
	PaletteHeat Palette = "heat"
)

const (
	upperHalfBlock = "▀"
	panelGap       = 2
	headerRows     = 1
	resizeInterval = 500 * time.Millisecond
)

// SurfaceOptions configure a Surface.
type SurfaceOptions struct {
	// PanelWidth is the width of each panel in cells. Zero divides the terminal width between
	// two panels, or uses 80 columns when the size is unknown.
	PanelWidth int
	// Palette colors gray images; defaults to PaletteGray.
	Palette Palette
	// SizeFD is the terminal whose size is tracked when PanelWidth is zero. Negative disables
	// tracking.
	SizeFD int
}

// A Surface draws images as colored half blocks on a terminal.
type Surface struct {
	out     io.Writer
	logger  logging.Logger
	palette [256]colorful.Color
	workers utils.StoppableWorkers

	mu          sync.Mutex
	panelWidth  int
	panelHeight int
	order       []string
	cleared     bool
}

// NewSurface returns a surface writing to out.
func NewSurface(ctx context.Context, out io.Writer, opts SurfaceOptions, logger logging.Logger) (*Surface, error) {
	palette, err := buildPalette(opts.Palette)
	if err != nil {
		return nil, err
	}
	s := &Surface{
		out:        out,
		logger:     logger.Sublogger("terminal"),
		palette:    palette,
		panelWidth: opts.PanelWidth,
	}
	if s.panelWidth <= 0 {
		s.panelWidth = 80
		if opts.SizeFD >= 0 && term.IsTerminal(opts.SizeFD) {
			s.resize(opts.SizeFD)
			s.workers = utils.NewStoppableWorkers(ctx, func(ctx context.Context) {
				ticker := time.NewTicker(resizeInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						s.resize(opts.SizeFD)
					}
				}
			})
		}
	}
	return s, nil
}

// resize fits two panels side by side in the terminal's current width.
func (s *Surface) resize(fd int) {
	width, height, err := term.GetSize(fd)
	if err != nil {
		s.logger.Debugw("can not read terminal size", "error", err)
		return
	}
	panelWidth := (width - panelGap) / 2
	if panelWidth < 8 {
		panelWidth = 8
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if panelWidth != s.panelWidth || height-headerRows != s.panelHeight {
		s.panelWidth = panelWidth
		s.panelHeight = height - headerRows
		s.cleared = false
	}
}

func buildPalette(p Palette) ([256]colorful.Color, error) {
	var palette [256]colorful.Color
	switch p {
	case "", PaletteGray:
		for i := range palette {
			v := float64(i) / 255
			palette[i] = colorful.Color{R: v, G: v, B: v}
		}
	case PaletteHeat:
		// Black stays black so missing depth is visible; the rest runs from blue to red.
		for i := 1; i < len(palette); i++ {
			palette[i] = colorful.Hsv(240*(1-float64(i)/255), 1, 1)
		}
	default:
		return palette, errors.Errorf("unknown palette %q, expected %q or %q", p, PaletteGray, PaletteHeat)
	}
	return palette, nil
}

// panelIndex returns the column slot of window name. It must be called with s.mu held.
func (s *Surface) panelIndex(name string) int {
	for i, n := range s.order {
		if n == name {
			return i
		}
	}
	s.order = append(s.order, name)
	return len(s.order) - 1
}

// cellSize returns the panel size in cells for an image, keeping its aspect ratio.
func cellSize(panelWidth, panelHeight int, img *rimage.Image) (int, int) {
	cols := panelWidth
	rows := (cols*img.Height/img.Width + 1) / 2
	if panelHeight > 0 && rows > panelHeight {
		rows = panelHeight
		cols = rows * 2 * img.Width / img.Height
	}
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols, rows
}

// Present draws img in the panel of window name.
func (s *Surface) Present(ctx context.Context, name string, img *rimage.Image) error {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil
	}
	s.mu.Lock()
	idx := s.panelIndex(name)
	panelWidth, panelHeight := s.panelWidth, s.panelHeight
	first := !s.cleared
	s.cleared = true
	s.mu.Unlock()

	cols, rows := cellSize(panelWidth, panelHeight, img)
	scaled := imaging.Resize(img, cols, rows*2, imaging.Box)

	var buf bytes.Buffer
	if first {
		buf.WriteString("\x1b[2J\x1b[?25l")
	}
	left := 1 + idx*(panelWidth+panelGap)
	fmt.Fprintf(&buf, "\x1b[1;%dH\x1b[1m%-*s\x1b[0m", left, panelWidth, truncate(name, panelWidth))
	for row := 0; row < rows; row++ {
		fmt.Fprintf(&buf, "\x1b[%d;%dH", row+1+headerRows, left)
		for col := 0; col < cols; col++ {
			buf.WriteString(halfBlock(s.pixel(scaled, col, 2*row, img.Format), s.pixel(scaled, col, 2*row+1, img.Format)))
		}
	}
	buf.WriteString("\x1b[0m")

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.out.Write(buf.Bytes())
	return err
}

// pixel returns the display color of a scaled pixel, applying the palette to gray images.
func (s *Surface) pixel(img *image.NRGBA, x, y int, format rimage.PixelFormat) colorful.Color {
	i := img.PixOffset(x, y)
	r, g, b := img.Pix[i], img.Pix[i+1], img.Pix[i+2]
	if format == rimage.FormatGray8 {
		return s.palette[r]
	}
	return colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255}
}

// halfBlock returns a cell showing top in its upper and bottom in its lower half.
func halfBlock(top, bottom colorful.Color) string {
	tr, tg, tb := top.RGB255()
	br, bg, bb := bottom.RGB255()
	cell := color.RGB(int(tr), int(tg), int(tb)).AddBgRGB(int(br), int(bg), int(bb))
	// Color is decided by the surface, not by whether stdout looks like a terminal.
	cell.EnableColor()
	return cell.Sprint(upperHalfBlock)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Close stops size tracking, resets colors and shows the cursor again.
func (s *Surface) Close() error {
	if s.workers != nil {
		s.workers.Stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.panelHeight
	if rows <= 0 {
		rows = s.panelWidth
	}
	_, err := fmt.Fprintf(s.out, "\x1b[0m\x1b[?25h\x1b[%d;1H\n", rows+headerRows+1)
	return err
}
