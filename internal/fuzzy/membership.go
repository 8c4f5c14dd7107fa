// Package fuzzy implements a small Mamdani inference engine: triangular
// membership functions, single-input rules, max aggregation and centroid
// defuzzification.
package fuzzy

import "fmt"

// Triangle is a triangular membership function with support [A, C] and
// peak B. A == B or B == C give a shoulder that is 1 at the peak.
type Triangle struct {
	A, B, C float64
}

// NewTriangle builds a Triangle from a three element slice.
func NewTriangle(points []float64) (Triangle, error) {
	if len(points) != 3 {
		return Triangle{}, fmt.Errorf("triangle needs 3 points, got %d", len(points))
	}
	t := Triangle{points[0], points[1], points[2]}
	if err := t.Validate(); err != nil {
		return Triangle{}, err
	}
	return t, nil
}

// Validate checks a <= b <= c and a < c.
func (t Triangle) Validate() error {
	if t.A > t.B || t.B > t.C || t.A == t.C {
		return fmt.Errorf("invalid triangle [%g %g %g]", t.A, t.B, t.C)
	}
	return nil
}

// Degree returns the membership of x, in [0, 1].
func (t Triangle) Degree(x float64) float64 {
	if x < t.A || x > t.C {
		return 0
	}
	if x == t.B {
		return 1
	}
	if x < t.B {
		return (x - t.A) / (t.B - t.A)
	}
	return (t.C - x) / (t.C - t.B)
}
