// Package detect adapts external object detectors to a uniform list of
// regions per frame.
package detect

import (
	"context"
	"image"

	"gocv.io/x/gocv"
)

// Region is a detected bounding box in frame pixel coordinates. Confidence
// is 0 when the backend reports none.
type Region struct {
	X1, Y1, X2, Y2 int
	Confidence     float64
	Label          string
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// Valid reports whether x1 < x2 and y1 < y2.
func (r Region) Valid() bool {
	return r.X1 < r.X2 && r.Y1 < r.Y2
}

// Sanitize clips regions to bounds and drops those left with no area,
// including regions entirely outside the frame.
func Sanitize(regions []Region, bounds image.Rectangle) []Region {
	out := regions[:0:0]
	for _, r := range regions {
		if !r.Valid() {
			continue
		}
		clipped := r.Rect().Intersect(bounds)
		if clipped.Empty() {
			continue
		}
		r.X1, r.Y1, r.X2, r.Y2 = clipped.Min.X, clipped.Min.Y, clipped.Max.X, clipped.Max.Y
		out = append(out, r)
	}
	return out
}

// Detector finds objects of interest in a BGR frame. An error means the
// detector failed for this frame only.
type Detector interface {
	Detect(ctx context.Context, frame gocv.Mat) ([]Region, error)
}

// Func adapts a plain function to Detector.
type Func func(ctx context.Context, frame gocv.Mat) ([]Region, error)

func (f Func) Detect(ctx context.Context, frame gocv.Mat) ([]Region, error) {
	return f(ctx, frame)
}

func frameBounds(frame gocv.Mat) image.Rectangle {
	return image.Rect(0, 0, frame.Cols(), frame.Rows())
}

// encodeJPEG encodes a frame the way detector services expect to receive it.
func encodeJPEG(frame gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
