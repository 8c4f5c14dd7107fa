package source

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"

	"github.com/grocky/ripeness-detector/internal/config"
)

type grabFunc func(image.Rectangle) (*image.RGBA, error)

// Capture grabs a fixed rectangle of a local display on every call. It never
// ends; failed grabs are transient.
type Capture struct {
	rect image.Rectangle
	grab grabFunc
}

func openCapture(cfg config.CaptureConfig, o options) (*Capture, error) {
	grab := o.grab
	var rect image.Rectangle
	if grab == nil {
		grab = screenshot.CaptureRect
		n := screenshot.NumActiveDisplays()
		if cfg.Display < 0 || cfg.Display >= n {
			return nil, fmt.Errorf("display %d not available (%d active)", cfg.Display, n)
		}
		rect = screenshot.GetDisplayBounds(cfg.Display)
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		rect = image.Rect(cfg.X, cfg.Y, cfg.X+cfg.Width, cfg.Y+cfg.Height)
	}
	if rect.Empty() {
		return nil, fmt.Errorf("empty capture region %v", rect)
	}
	return &Capture{rect: rect, grab: grab}, nil
}

// Region returns the captured rectangle in screen coordinates.
func (c *Capture) Region() image.Rectangle {
	return c.rect
}

// Next grabs the region and converts it to a BGR frame.
func (c *Capture) Next(_ context.Context) (gocv.Mat, error) {
	img, err := c.grab(c.rect)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: grabbing %v: %v", ErrTransient, c.rect, err)
	}
	frame, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: converting grab: %v", ErrTransient, err)
	}
	return frame, nil
}

// Close is a no-op; grabs hold no handle between calls.
func (c *Capture) Close() error {
	return nil
}
