// Package ripeness classifies detected fruit by the mean hue of its bounding
// box using a fuzzy model of hue categories.
package ripeness

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/grocky/ripeness-detector/internal/detect"
	"github.com/grocky/ripeness-detector/internal/fuzzy"
)

// MaxHue is the exclusive upper bound of OpenCV's 8-bit hue channel.
const MaxHue = 180

// Params configures the hue model. Hue triangles are on the OpenCV scale
// [0, 180); ripeness triangles are on the ordinal axis [0, 2].
type Params struct {
	Brown  fuzzy.Triangle
	Green  fuzzy.Triangle
	Yellow fuzzy.Triangle

	Unripe   fuzzy.Triangle
	Ripe     fuzzy.Triangle
	Overripe fuzzy.Triangle

	Thresholds Thresholds

	// Fallback is the crisp value used when no rule fires, e.g. for hues
	// outside every category.
	Fallback float64

	// Resolution is the number of points sampled on the ripeness axis.
	Resolution int

	// SampleSize is the edge length crops are resized to before averaging.
	SampleSize int
}

// DefaultParams returns the reference model.
func DefaultParams() Params {
	return Params{
		Brown:      fuzzy.Triangle{A: 0, B: 15, C: 30},
		Green:      fuzzy.Triangle{A: 30, B: 55, C: 80},
		Yellow:     fuzzy.Triangle{A: 70, B: 100, C: 130},
		Unripe:     fuzzy.Triangle{A: 0, B: 0, C: 1},
		Ripe:       fuzzy.Triangle{A: 0, B: 1, C: 2},
		Overripe:   fuzzy.Triangle{A: 1, B: 2, C: 2},
		Thresholds: DefaultThresholds,
		Fallback:   1,
		Resolution: fuzzy.DefaultResolution,
		SampleSize: 64,
	}
}

// Result is the outcome of classifying one region.
type Result struct {
	Region detect.Region
	Hue    float64
	Score  float64
	Label  Label
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	model  *fuzzy.Model
	params Params
}

// NewClassifier builds the fuzzy model once.
func NewClassifier(p Params) (*Classifier, error) {
	if err := p.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if p.SampleSize <= 0 {
		return nil, fmt.Errorf("sample size must be positive, got %d", p.SampleSize)
	}

	hue := fuzzy.Variable{
		Name: "hue", Min: 0, Max: MaxHue,
		Terms: []fuzzy.Term{
			{Name: "brown", MF: p.Brown},
			{Name: "green", MF: p.Green},
			{Name: "yellow", MF: p.Yellow},
		},
	}
	ripeness := fuzzy.Variable{
		Name: "ripeness", Min: 0, Max: 2,
		Terms: []fuzzy.Term{
			{Name: Unripe.String(), MF: p.Unripe},
			{Name: Ripe.String(), MF: p.Ripe},
			{Name: Overripe.String(), MF: p.Overripe},
		},
	}
	model, err := fuzzy.NewModel(hue, ripeness, []fuzzy.Rule{
		{If: "green", Then: Unripe.String()},
		{If: "yellow", Then: Ripe.String()},
		{If: "brown", Then: Overripe.String()},
	}, p.Resolution)
	if err != nil {
		return nil, fmt.Errorf("building ripeness model: %w", err)
	}
	return &Classifier{model: model, params: p}, nil
}

// Score returns the defuzzified ripeness of a hue sample. Hues wrap modulo
// MaxHue.
func (c *Classifier) Score(hue float64) float64 {
	if math.IsNaN(hue) || math.IsInf(hue, 0) {
		return c.params.Fallback
	}
	hue = math.Mod(hue, MaxHue)
	if hue < 0 {
		hue += MaxHue
	}
	v, ok := c.model.Infer(hue)
	if !ok {
		return c.params.Fallback
	}
	return v
}

// ClassifyHue labels a hue sample.
func (c *Classifier) ClassifyHue(hue float64) Label {
	return c.params.Thresholds.Decide(c.Score(hue))
}

// HueSample returns the mean hue of the frame inside r after resizing the
// crop to SampleSize x SampleSize. ok is false when the crop is empty.
func (c *Classifier) HueSample(frame gocv.Mat, r image.Rectangle) (hue float64, ok bool, err error) {
	if frame.Empty() {
		return 0, false, nil
	}
	r = r.Canon().Intersect(image.Rect(0, 0, frame.Cols(), frame.Rows()))
	if r.Empty() {
		return 0, false, nil
	}

	crop := frame.Region(r)
	defer crop.Close()

	small := gocv.NewMat()
	defer small.Close()
	size := image.Pt(c.params.SampleSize, c.params.SampleSize)
	if err := gocv.Resize(crop, &small, size, 0, 0, gocv.InterpolationLinear); err != nil {
		return 0, false, fmt.Errorf("resizing crop: %w", err)
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	if err := gocv.CvtColor(small, &hsv, gocv.ColorBGRToHSV); err != nil {
		return 0, false, fmt.Errorf("converting crop to hsv: %w", err)
	}

	return hsv.Mean().Val1, true, nil
}

// ClassifyRegion samples and labels one detected region. ok is false for
// degenerate regions, which must not be counted.
func (c *Classifier) ClassifyRegion(frame gocv.Mat, region detect.Region) (Result, bool, error) {
	if !region.Valid() {
		return Result{}, false, nil
	}
	hue, ok, err := c.HueSample(frame, region.Rect())
	if err != nil || !ok {
		return Result{}, false, err
	}
	score := c.Score(hue)
	return Result{
		Region: region,
		Hue:    hue,
		Score:  score,
		Label:  c.params.Thresholds.Decide(score),
	}, true, nil
}
