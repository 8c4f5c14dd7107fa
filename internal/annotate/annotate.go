// Package annotate renders classified regions onto frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"gocv.io/x/gocv"

	"github.com/grocky/ripeness-detector/internal/ripeness"
)

var labelColors = map[ripeness.Label]color.RGBA{
	ripeness.Unripe:   {50, 205, 50, 255},
	ripeness.Ripe:     {255, 215, 0, 255},
	ripeness.Overripe: {139, 69, 19, 255},
}

// Writer saves the latest annotated frame as a JPEG, replacing the previous
// one.
type Writer struct {
	path    string
	quality int
}

// NewWriter returns a writer saving to path.
func NewWriter(path string) *Writer {
	return &Writer{path: path, quality: 90}
}

// Path returns the output file.
func (w *Writer) Path() string {
	return w.path
}

// Observe draws every result onto a copy of frame and saves it.
func (w *Writer) Observe(n int, frame gocv.Mat, results []ripeness.Result) error {
	if frame.Empty() {
		return fmt.Errorf("frame %d: empty", n)
	}
	img, err := frame.ToImage()
	if err != nil {
		return fmt.Errorf("frame %d: converting to image: %w", n, err)
	}
	out := Draw(img, results)

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create annotate directory: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := gg.SaveJPG(tmp, out, w.quality); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("frame %d: saving annotated frame: %w", n, err)
	}
	return os.Rename(tmp, w.path)
}

// Draw returns img with a colored box and caption for each result.
func Draw(img image.Image, results []ripeness.Result) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)

	for _, r := range results {
		c, ok := labelColors[r.Label]
		if !ok {
			c = color.RGBA{255, 255, 255, 255}
		}
		rect := r.Region.Rect()
		x, y := float64(rect.Min.X), float64(rect.Min.Y)

		dc.SetStrokeStyle(gg.NewSolidPattern(c))
		dc.DrawRectangle(x, y, float64(rect.Dx()), float64(rect.Dy()))
		dc.Stroke()

		caption := fmt.Sprintf("%s %.2f", r.Label, r.Score)
		tw, th := dc.MeasureString(caption)
		ty := y - th - 4
		if ty < 0 {
			ty = y
		}
		dc.SetColor(c)
		dc.DrawRectangle(x, ty, tw+4, th+4)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(caption, x+2, ty+2, 0, 1)
	}
	return dc.Image()
}
