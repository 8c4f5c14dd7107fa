package fuzzy

import (
	"errors"
	"fmt"
	"math"
)

// DefaultResolution is the number of sample points used across the output
// universe when none is given.
const DefaultResolution = 201

// Term is a named linguistic category of a Variable.
type Term struct {
	Name string
	MF   Triangle
}

// Variable is a linguistic variable over the closed range [Min, Max].
type Variable struct {
	Name     string
	Min, Max float64
	Terms    []Term
}

func (v Variable) term(name string) (int, bool) {
	for i, t := range v.Terms {
		if t.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Rule fires the output term Then at the strength of the input term If.
type Rule struct {
	If   string
	Then string
}

type compiledRule struct {
	in  int
	out int
}

// Model is an immutable single-input single-output Mamdani system. It is
// safe for concurrent use.
type Model struct {
	input    Variable
	output   Variable
	rules    []compiledRule
	universe []float64
	// shapes[i][j] is the membership of output term i at universe[j].
	shapes [][]float64
}

// NewModel validates the variables and rules and precomputes the sampled
// output shapes. resolution <= 1 selects DefaultResolution.
func NewModel(input, output Variable, rules []Rule, resolution int) (*Model, error) {
	if resolution <= 1 {
		resolution = DefaultResolution
	}
	if input.Max <= input.Min {
		return nil, fmt.Errorf("input %q: empty range", input.Name)
	}
	if output.Max <= output.Min {
		return nil, fmt.Errorf("output %q: empty range", output.Name)
	}
	if len(rules) == 0 {
		return nil, errors.New("no rules")
	}
	for _, v := range []Variable{input, output} {
		for _, t := range v.Terms {
			if err := t.MF.Validate(); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", v.Name, t.Name, err)
			}
		}
	}

	m := &Model{
		input:  copyVariable(input),
		output: copyVariable(output),
	}
	for _, r := range rules {
		in, ok := m.input.term(r.If)
		if !ok {
			return nil, fmt.Errorf("rule %s -> %s: unknown input term", r.If, r.Then)
		}
		out, ok := m.output.term(r.Then)
		if !ok {
			return nil, fmt.Errorf("rule %s -> %s: unknown output term", r.If, r.Then)
		}
		m.rules = append(m.rules, compiledRule{in: in, out: out})
	}

	step := (output.Max - output.Min) / float64(resolution-1)
	m.universe = make([]float64, resolution)
	for i := range m.universe {
		m.universe[i] = output.Min + float64(i)*step
	}
	m.universe[resolution-1] = output.Max

	m.shapes = make([][]float64, len(m.output.Terms))
	for i, t := range m.output.Terms {
		shape := make([]float64, resolution)
		for j, y := range m.universe {
			shape[j] = t.MF.Degree(y)
		}
		m.shapes[i] = shape
	}
	return m, nil
}

func copyVariable(v Variable) Variable {
	v.Terms = append([]Term(nil), v.Terms...)
	return v
}

// Input returns the input variable.
func (m *Model) Input() Variable { return copyVariable(m.input) }

// Output returns the output variable.
func (m *Model) Output() Variable { return copyVariable(m.output) }

// Fuzzify returns the membership of x in every input term, keyed by name.
func (m *Model) Fuzzify(x float64) map[string]float64 {
	out := make(map[string]float64, len(m.input.Terms))
	for _, t := range m.input.Terms {
		out[t.Name] = t.MF.Degree(x)
	}
	return out
}

// Strengths returns the firing strength of each rule, in rule order.
func (m *Model) Strengths(x float64) []float64 {
	s := make([]float64, len(m.rules))
	for i, r := range m.rules {
		s[i] = m.input.Terms[r.in].MF.Degree(x)
	}
	return s
}

// Infer clips each rule's consequent at its firing strength, aggregates the
// clipped shapes with max and returns the centroid. ok is false when no rule
// fires, in which case the centroid is undefined and 0 is returned.
func (m *Model) Infer(x float64) (centroid float64, ok bool) {
	strengths := m.Strengths(x)

	var num, den float64
	for j, y := range m.universe {
		var mu float64
		for i, r := range m.rules {
			mu = math.Max(mu, math.Min(strengths[i], m.shapes[r.out][j]))
		}
		num += y * mu
		den += mu
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}
