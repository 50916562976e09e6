// Package escpos encodes raster images into ESC/POS command streams for
// 203 DPI thermal receipt printers.
package escpos

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

const (
	LF  = 0x0A
	DLE = 0x10
	EOT = 0x04
	ESC = 0x1B
	GS  = 0x1D
)

var (
	CmdInit          = []byte{ESC, '@'}
	CmdPrinterStatus = []byte{DLE, EOT, 1}
	CmdPaperStatus   = []byte{DLE, EOT, 4}
	CmdCut           = []byte{GS, 'V', 66, 0}
)

// Luminance below this prints as a black dot.
const threshold = 128

type Options struct {
	// Width is the printable width in dots.
	Width int
	// Margin is left blank on each side, in dots.
	Margin    int
	FeedLines int
	Cut       bool
}

func DecodePNG(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode png: %w", err)
	}
	return img, nil
}

// Encode builds a complete job: init, the image as a GS v 0 raster, paper
// feed and an optional partial cut.
func Encode(img image.Image, opts Options) []byte {
	var buf bytes.Buffer
	buf.Write(CmdInit)
	buf.Write(Raster(Layout(img, opts.Width, opts.Margin)))

	feed := opts.FeedLines
	if feed <= 0 {
		feed = 4
	}
	buf.Write(bytes.Repeat([]byte{LF}, feed))
	if opts.Cut {
		buf.Write(CmdCut)
	}
	return buf.Bytes()
}

// Layout flattens img onto white, scales it down to fit inside the margins
// and returns a canvas exactly width dots wide. A non-positive width keeps
// the image's own width.
func Layout(img image.Image, width, margin int) *image.Gray {
	src := flatten(img)
	if width <= 0 {
		return src
	}
	if margin < 0 || 2*margin >= width {
		margin = 0
	}

	content := width - 2*margin
	if src.Bounds().Dx() > content {
		src = resize(src, content)
	}

	b := src.Bounds()
	canvas := image.NewGray(image.Rect(0, 0, width, b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(margin, 0, margin+b.Dx(), b.Dy()), src, b.Min, draw.Src)
	return canvas
}

// flatten composites img over a white background and converts it to gray,
// so transparent areas print as paper.
func flatten(img image.Image) *image.Gray {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Over)

	gray := image.NewGray(rgba.Bounds())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Set(x, y, color.GrayModel.Convert(rgba.At(x, y)))
		}
	}
	return gray
}

// resize scales src to width with nearest-neighbour sampling.
func resize(src *image.Gray, width int) *image.Gray {
	b := src.Bounds()
	ratio := float64(b.Dx()) / float64(width)
	height := int(float64(b.Dy()) / ratio)
	if height < 1 {
		height = 1
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst.SetGray(x, y, src.GrayAt(b.Min.X+int(float64(x)*ratio), b.Min.Y+int(float64(y)*ratio)))
		}
	}
	return dst
}

// Raster encodes img as GS v 0 m xL xH yL yH d1...dk, one bit per dot, most
// significant bit leftmost. Rows are padded to a whole byte.
func Raster(img *image.Gray) []byte {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	rowBytes := (width + 7) / 8

	out := make([]byte, 8, 8+rowBytes*height)
	copy(out, []byte{
		GS, 'v', '0', 0,
		byte(rowBytes), byte(rowBytes >> 8),
		byte(height), byte(height >> 8),
	})

	row := make([]byte, rowBytes)
	for y := 0; y < height; y++ {
		for i := range row {
			row[i] = 0
		}
		for x := 0; x < width; x++ {
			if img.GrayAt(b.Min.X+x, b.Min.Y+y).Y < threshold {
				row[x/8] |= 1 << uint(7-x%8)
			}
		}
		out = append(out, row...)
	}
	return out
}

type Status struct {
	Online   bool `json:"online"`
	PaperLow bool `json:"paper_low"`
	PaperOut bool `json:"paper_out"`
}

// ParseStatus reads the replies to DLE EOT 1 (printer) and DLE EOT 4 (roll
// sensor). It reports false if printer is not a valid status byte.
func ParseStatus(printer, paper byte) (Status, bool) {
	// fixed bits: 0 and 7 clear, 1 and 4 set
	if printer&0x93 != 0x12 {
		return Status{}, false
	}
	return Status{
		Online:   printer&0x08 == 0,
		PaperLow: paper&0x0C != 0,
		PaperOut: paper&0x60 != 0,
	}, true
}

func (s Status) CanPrint() bool {
	return s.Online && !s.PaperOut
}
