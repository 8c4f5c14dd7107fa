package ripeness

import (
	"fmt"
	"strings"
)

// Label is the ripeness class of a single detected fruit.
type Label int

const (
	Unripe Label = iota
	Ripe
	Overripe
)

// Labels lists every label in ordinal order.
var Labels = []Label{Unripe, Ripe, Overripe}

func (l Label) String() string {
	switch l {
	case Unripe:
		return "unripe"
	case Ripe:
		return "ripe"
	case Overripe:
		return "overripe"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// ParseLabel is the inverse of Label.String.
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unripe":
		return Unripe, nil
	case "ripe":
		return Ripe, nil
	case "overripe":
		return Overripe, nil
	}
	return 0, fmt.Errorf("unknown ripeness label %q", s)
}

// Thresholds cut the crisp ripeness axis into labels.
type Thresholds struct {
	UnripeBelow  float64
	OverripeFrom float64
}

// DefaultThresholds bisect the consequent peaks at 0, 1 and 2.
var DefaultThresholds = Thresholds{UnripeBelow: 0.5, OverripeFrom: 1.5}

// Validate requires UnripeBelow <= OverripeFrom.
func (t Thresholds) Validate() error {
	if t.UnripeBelow > t.OverripeFrom {
		return fmt.Errorf("unripe cut %g above overripe cut %g", t.UnripeBelow, t.OverripeFrom)
	}
	return nil
}

// Decide maps a crisp ripeness value to a label.
func (t Thresholds) Decide(v float64) Label {
	switch {
	case v < t.UnripeBelow:
		return Unripe
	case v < t.OverripeFrom:
		return Ripe
	default:
		return Overripe
	}
}
