// Package enhance applies the saturation correction every frame goes
// through before detection.
package enhance

import (
	"fmt"
	"runtime"

	"gocv.io/x/gocv"
)

// Enhancer boosts saturation by Gain and damps it by Damping on pixels
// brighter than Threshold, working in HSV space. It holds no state.
type Enhancer struct {
	Gain      float64
	Damping   float64
	Threshold uint8
}

// New returns an Enhancer with the given constants.
func New(gain, damping float64, threshold uint8) Enhancer {
	return Enhancer{Gain: gain, Damping: damping, Threshold: threshold}
}

// Default returns the reference constants: gain 1.3, damping 0.9 above
// value 220.
func Default() Enhancer {
	return New(1.3, 0.9, 220)
}

// Saturation returns the corrected saturation for one pixel. The result is
// clamped to [0, 255] and truncated.
func (e Enhancer) Saturation(s, v uint8) uint8 {
	x := float64(s) * e.Gain
	if v > e.Threshold {
		x *= e.Damping
	}
	switch {
	case x <= 0:
		return 0
	case x >= 255:
		return 255
	}
	return uint8(x)
}

// Enhance returns a new BGR frame with corrected saturation. The input is
// not modified and the caller owns the result.
func (e Enhancer) Enhance(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.NewMat(), fmt.Errorf("cannot enhance empty frame")
	}
	if frame.Type() != gocv.MatTypeCV8UC3 {
		return gocv.NewMat(), fmt.Errorf("unsupported frame type %v", frame.Type())
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	if err := gocv.CvtColor(frame, &hsv, gocv.ColorBGRToHSV); err != nil {
		return gocv.NewMat(), fmt.Errorf("converting to hsv: %w", err)
	}

	data := hsv.ToBytes()
	for i := 0; i+2 < len(data); i += 3 {
		data[i+1] = e.Saturation(data[i+1], data[i+2])
	}

	adjusted, err := gocv.NewMatFromBytes(hsv.Rows(), hsv.Cols(), gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("rebuilding hsv frame: %w", err)
	}
	defer adjusted.Close()

	out := gocv.NewMat()
	if err := gocv.CvtColor(adjusted, &out, gocv.ColorHSVToBGR); err != nil {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("converting to bgr: %w", err)
	}
	// adjusted may share memory with data
	runtime.KeepAlive(data)
	return out, nil
}
