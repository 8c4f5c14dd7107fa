package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(t *testing.T) *Model {
	t.Helper()
	hue := Variable{
		Name: "hue", Min: 0, Max: 180,
		Terms: []Term{
			{"brown", Triangle{0, 15, 30}},
			{"green", Triangle{30, 55, 80}},
			{"yellow", Triangle{70, 100, 130}},
		},
	}
	ripeness := Variable{
		Name: "ripeness", Min: 0, Max: 2,
		Terms: []Term{
			{"unripe", Triangle{0, 0, 1}},
			{"ripe", Triangle{0, 1, 2}},
			{"overripe", Triangle{1, 2, 2}},
		},
	}
	m, err := NewModel(hue, ripeness, []Rule{
		{If: "green", Then: "unripe"},
		{If: "yellow", Then: "ripe"},
		{If: "brown", Then: "overripe"},
	}, 0)
	require.NoError(t, err)
	return m
}

func TestTriangleDegree(t *testing.T) {
	tri := Triangle{30, 55, 80}
	cases := []struct {
		x    float64
		want float64
	}{
		{55, 1},
		{42.5, 0.5},
		{67.5, 0.5},
		{30, 0},
		{80, 0},
		{10, 0},
		{100, 0},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, tri.Degree(c.x), 1e-12, "x=%v", c.x)
	}
}

func TestTriangleShoulders(t *testing.T) {
	left := Triangle{0, 0, 1}
	assert.Equal(t, 1.0, left.Degree(0))
	assert.InDelta(t, 0.5, left.Degree(0.5), 1e-12)
	assert.Equal(t, 0.0, left.Degree(-0.1))

	right := Triangle{1, 2, 2}
	assert.Equal(t, 1.0, right.Degree(2))
	assert.InDelta(t, 0.25, right.Degree(1.25), 1e-12)
	assert.Equal(t, 0.0, right.Degree(2.5))
}

func TestNewTriangle(t *testing.T) {
	tri, err := NewTriangle([]float64{70, 100, 130})
	require.NoError(t, err)
	assert.Equal(t, Triangle{70, 100, 130}, tri)

	_, err = NewTriangle([]float64{1, 2})
	assert.Error(t, err)
	_, err = NewTriangle([]float64{3, 2, 1})
	assert.Error(t, err)
	_, err = NewTriangle([]float64{1, 1, 1})
	assert.Error(t, err)
}

func TestInferSingleRuleCentroids(t *testing.T) {
	m := testModel(t)

	c, ok := m.Infer(55)
	require.True(t, ok)
	assert.InDelta(t, 1.0/3, c, 0.01)

	c, ok = m.Infer(100)
	require.True(t, ok)
	assert.InDelta(t, 1.0, c, 1e-9)

	c, ok = m.Infer(15)
	require.True(t, ok)
	assert.InDelta(t, 5.0/3, c, 0.01)
}

func TestInferBlendsOverlappingTerms(t *testing.T) {
	m := testModel(t)

	// green and yellow overlap on [70, 80]
	s := m.Strengths(75)
	assert.InDelta(t, 0.2, s[0], 1e-12)
	assert.InDelta(t, 5.0/30, s[1], 1e-12)
	assert.Equal(t, 0.0, s[2])

	c, ok := m.Infer(75)
	require.True(t, ok)
	assert.Greater(t, c, 1.0/3)
	assert.Less(t, c, 1.0)
}

func TestInferNoRuleFires(t *testing.T) {
	m := testModel(t)
	for _, x := range []float64{0, 30, 150, 180} {
		_, ok := m.Infer(x)
		assert.False(t, ok, "x=%v", x)
	}
}

func TestInferDeterministic(t *testing.T) {
	m := testModel(t)
	for x := 0.0; x < 180; x += 0.5 {
		a, okA := m.Infer(x)
		b, okB := m.Infer(x)
		assert.Equal(t, okA, okB)
		assert.Equal(t, a, b)
	}
}

func TestFuzzify(t *testing.T) {
	m := testModel(t)
	deg := m.Fuzzify(42.5)
	assert.InDelta(t, 0.5, deg["green"], 1e-12)
	assert.Equal(t, 0.0, deg["yellow"])
	assert.Equal(t, 0.0, deg["brown"])
}

func TestNewModelRejectsUnknownTerms(t *testing.T) {
	in := Variable{Name: "in", Min: 0, Max: 1, Terms: []Term{{"a", Triangle{0, 0.5, 1}}}}
	out := Variable{Name: "out", Min: 0, Max: 1, Terms: []Term{{"b", Triangle{0, 0.5, 1}}}}

	_, err := NewModel(in, out, []Rule{{If: "x", Then: "b"}}, 0)
	assert.Error(t, err)
	_, err = NewModel(in, out, []Rule{{If: "a", Then: "x"}}, 0)
	assert.Error(t, err)
	_, err = NewModel(in, out, nil, 0)
	assert.Error(t, err)
}

func TestModelIsImmutable(t *testing.T) {
	m := testModel(t)
	in := m.Input()
	in.Terms[0].MF = Triangle{100, 110, 120}

	c, ok := m.Infer(15)
	require.True(t, ok)
	assert.InDelta(t, 5.0/3, c, 0.01)
}
