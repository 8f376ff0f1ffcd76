package quant

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
	"github.com/thanadol-git/deep-mrm-KTH/internal/model"
)

func TestAxis(t *testing.T) {
	time := []float64{0, 1, 3, 6, 10}
	a, err := NewAxis(time)
	require.NoError(t, err)

	tests := []struct {
		index float64
		want  float64
	}{
		{0, 0},
		{0.5, 0.5},
		{1.5, 2},
		{2.25, 3.75},
		{4, 10},
		{-2, 0},
		{7, 10},
	}
	for _, test := range tests {
		if got := a.TimeAt(test.index); math.Abs(got-test.want) > 1e-12 {
			t.Errorf("TimeAt(%f): %f, should be %f", test.index, got, test.want)
		}
	}

	// Mapping an index to time and back recovers the index
	for i := range time {
		require.Equal(t, i, a.Index(a.TimeAt(float64(i))))
	}
	// Fractional indices are recovered within one grid step
	for _, idx := range []float64{0.3, 1.6, 2.5, 3.9} {
		got := a.Index(a.TimeAt(idx))
		require.LessOrEqual(t, math.Abs(float64(got)-idx), 1.0)
	}

	one, err := NewAxis([]float64{42})
	require.NoError(t, err)
	require.Equal(t, 42.0, one.TimeAt(3))
	_, err = NewAxis(nil)
	require.ErrorIs(t, err, ErrEmptyAxis)
}

func TestSelect(t *testing.T) {
	tests := []struct {
		quality []float64
		th      float64
		want    []int
	}{
		{[]float64{0.2, 0.9, 0.6}, 0.5, []int{1, 2}},
		{[]float64{0.2, 0.4, 0.1}, 0.5, []int{1}},
		{[]float64{0.3, 0.3, 0.1}, 0.5, []int{0}},
		{[]float64{0.5}, 0.5, []int{0}},
		{nil, 0.5, nil},
	}
	for _, test := range tests {
		got := Select(test.quality, test.th)
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("Select(%v, %f) mismatch (-want +got):\n%s", test.quality, test.th, diff)
		}
		// Same input, same selection
		if diff := cmp.Diff(got, Select(test.quality, test.th)); diff != "" {
			t.Errorf("Select(%v, %f) not deterministic:\n%s", test.quality, test.th, diff)
		}
	}
	require.InDelta(t, 0.75, Score([]float64{0.2, 0.9, 0.6}, []int{1, 2}), 1e-12)
	require.Equal(t, 0.0, Score(nil, nil))
}

func TestArea(t *testing.T) {
	time := []float64{0, 1, 2, 3, 4, 5}
	y := []float64{2, 4, 10, 10, 6, 2}

	area, bg := Area(time, y, 1, 4, Mean)
	require.InDelta(t, 7+10+8, area, 1e-12)
	require.InDelta(t, 2*3, bg, 1e-12)

	// Window touching the left end uses its own first point
	area, bg = Area(time, y, 0, 2, Mean)
	require.InDelta(t, 3+7, area, 1e-12)
	require.InDelta(t, (2+10)/2.0*2, bg, 1e-12)
	_, bg = Area(time, y, 0, 2, Min)
	require.InDelta(t, 2*2, bg, 1e-12)

	// Whole grid
	_, bg = Area(time, y, -3, 99, Mean)
	require.InDelta(t, 2*5, bg, 1e-12)

	// Zero width, reversed and empty input
	area, bg = Area(time, y, 2, 2, Mean)
	require.Zero(t, area)
	require.Zero(t, bg)
	area, bg = Area(time, y, 2.2, 2.9, Mean)
	require.Zero(t, area)
	require.Zero(t, bg)
	area, _ = Area(time, y, 4, 1, Mean)
	require.InDelta(t, 25, area, 1e-12)
	area, bg = Area(nil, nil, 0, 1, Mean)
	require.Zero(t, area)
	require.Zero(t, bg)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		start, end float64
		s, e       int
	}{
		{1, 3, 1, 3},
		{1.6, 3.6, 1, 3},
		{0.99, 2.01, 0, 2},
		{-2.5, 1.5, 0, 1},
		{4.2, 9.7, 4, 6},
		{3.9, 1.1, 1, 3},
	}
	for _, test := range tests {
		s, e := Window(7, test.start, test.end)
		if s != test.s || e != test.e {
			t.Errorf("Window(7, %g, %g) = %d, %d; want %d, %d",
				test.start, test.end, s, e, test.s, test.e)
		}
	}

	// Fractional endpoints integrate over the truncated window
	time := []float64{0, 1, 2, 3, 4, 5, 6}
	y := []float64{0, 50, 50, 100, 100, 0, 0}
	area, _ := Area(time, y, 1.6, 3.6, Mean)
	require.InDelta(t, 125, area, 1e-12)
}

// gaussSample returns a sample holding a Gaussian peak of height 1000 on a
// baseline of 10, centred at 12.5 s with its half maximum width inside
// 10..15 s, sampled every 0.1 s
func gaussSample(transitions int) *encode.Sample {
	const sigma = 0.625
	s := &encode.Sample{PeptideID: "GAUSS"}
	for i := 0; i <= 300; i++ {
		s.Time = append(s.Time, float64(i)*0.1)
	}
	for c := range s.XIC {
		for k := 0; k < transitions; k++ {
			row := make([]float64, len(s.Time))
			for i, x := range s.Time {
				z := (x - 12.5) / sigma
				row[i] = 10 + 1000*math.Exp(-0.5*z*z)
			}
			s.XIC[c] = append(s.XIC[c], row)
		}
	}
	return s
}

func TestProcessGaussian(t *testing.T) {
	const sigma = 0.625
	s := gaussSample(2)
	// Box covering 10..15 s
	boxes := []model.Box{{Start: 100, End: 150, Score: 0.9, Quality: []float64{0.8, 0.1}}}
	res, err := Process(s, boxes, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res, 1)
	r := res[0]

	require.InDelta(t, 10, r.RTStart, 1e-9)
	require.InDelta(t, 15, r.RTEnd, 1e-9)
	require.Equal(t, []int{0}, r.Selected)
	require.InDelta(t, 0.8, r.QuantificationScore, 1e-12)

	analytic := 1000 * sigma * math.Sqrt(2*math.Pi)
	require.InEpsilon(t, analytic, r.LightArea-r.LightBackground, 0.05)
	require.InEpsilon(t, analytic, r.HeavyArea-r.HeavyBackground, 0.05)
	require.InDelta(t, 10*5, r.LightBackground, 1)
}

func TestProcessNoBoxes(t *testing.T) {
	res, err := Process(gaussSample(1), nil, DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("MIN")
	require.NoError(t, err)
	require.Equal(t, Min, p)
	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, Mean, p)
	_, err = ParsePolicy("median")
	require.Error(t, err)
}
