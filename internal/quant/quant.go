// Package quant converts detector boxes into retention time boundaries and
// integrates the light and heavy peak areas inside them.
package quant

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/interp"

	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
	"github.com/thanadol-git/deep-mrm-KTH/internal/model"
)

// DefaultQualityThresh is the quality a transition needs to be selected
const DefaultQualityThresh = 0.5

// Policy decides how the background level is derived from the two samples
// just outside the peak window
type Policy int

// Background policies
const (
	Mean Policy = iota
	Min
)

func (p Policy) String() string {
	if p == Min {
		return "min"
	}
	return "mean"
}

// ParsePolicy parses "mean" or "min"
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "mean":
		return Mean, nil
	case "min":
		return Min, nil
	}
	return Mean, fmt.Errorf("unknown background policy %q", s)
}

// ErrEmptyAxis is returned for a time axis without points
var ErrEmptyAxis = errors.New("empty time axis")

// Axis maps fractional grid indices to retention times
type Axis struct {
	time []float64
	pl   interp.PiecewiseLinear
}

// NewAxis returns the index/time mapping of a grid
func NewAxis(time []float64) (*Axis, error) {
	a := &Axis{time: time}
	switch len(time) {
	case 0:
		return nil, ErrEmptyAxis
	case 1:
		return a, nil
	}
	xs := make([]float64, len(time))
	for i := range xs {
		xs[i] = float64(i)
	}
	if err := a.pl.Fit(xs, time); err != nil {
		return nil, err
	}
	return a, nil
}

// TimeAt linearly interpolates the time at a fractional index. Indices
// outside the grid are clamped to its ends.
func (a *Axis) TimeAt(index float64) float64 {
	n := len(a.time)
	if n == 1 || index <= 0 {
		return a.time[0]
	}
	if index >= float64(n-1) {
		return a.time[n-1]
	}
	return a.pl.Predict(index)
}

// Index returns the grid index closest to time t
func (a *Axis) Index(t float64) int {
	best := 0
	for i, x := range a.time {
		if math.Abs(x-t) < math.Abs(a.time[best]-t) {
			best = i
		}
	}
	return best
}

// Select returns the transitions whose quality reaches th, in ascending
// order. If none does, the single best transition is returned, the lowest
// index on ties.
func Select(quality []float64, th float64) []int {
	var sel []int
	for i, q := range quality {
		if q >= th {
			sel = append(sel, i)
		}
	}
	if len(sel) > 0 || len(quality) == 0 {
		return sel
	}
	best := 0
	for i, q := range quality {
		if q > quality[best] {
			best = i
		}
	}
	return []int{best}
}

// Score is the mean quality of the selected transitions
func Score(quality []float64, selected []int) float64 {
	if len(selected) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range selected {
		sum += quality[i]
	}
	return sum / float64(len(selected))
}

// Window truncates box endpoints to grid indices, clamped to the grid and
// ordered
func Window(n int, start, end float64) (int, int) {
	clamp := func(x float64) int {
		i := int(math.Floor(x))
		if i < 0 {
			return 0
		}
		if i > n-1 {
			return n - 1
		}
		return i
	}
	s, e := clamp(start), clamp(end)
	if s > e {
		s, e = e, s
	}
	return s, e
}

// Area integrates y over the box with the trapezoidal rule and estimates
// the background under it. The background level is taken from the points
// directly left and right of the window; a side touching the end of the
// grid uses its own endpoint instead. Zero width windows have no area.
func Area(time, y []float64, start, end float64, policy Policy) (area, background float64) {
	n := len(time)
	if n == 0 || len(y) != n {
		return 0, 0
	}
	s, e := Window(n, start, end)
	if s == e {
		return 0, 0
	}
	area = integrate.Trapezoidal(time[s:e+1], y[s:e+1])

	left, right := y[s], y[e]
	if s > 0 {
		left = y[s-1]
	}
	if e < n-1 {
		right = y[e+1]
	}
	level := (left + right) / 2
	if policy == Min {
		level = math.Min(left, right)
	}
	return area, level * (time[e] - time[s])
}

// SumTraces adds the selected transition traces point by point
func SumTraces(traces [][]float64, selected []int, n int) []float64 {
	sum := make([]float64, n)
	for _, t := range selected {
		for i, v := range traces[t] {
			sum[i] += v
		}
	}
	return sum
}

// Options of the post-processing
type Options struct {
	QualityThresh float64
	Background    Policy
}

// DefaultOptions returns a quality threshold of 0.5 and mean background
func DefaultOptions() Options {
	return Options{QualityThresh: DefaultQualityThresh, Background: Mean}
}

// Result is one quantified candidate peak
type Result struct {
	RTStart             float64
	RTEnd               float64
	Score               float64
	Quality             []float64
	QuantificationScore float64
	Selected            []int
	LightArea           float64
	LightBackground     float64
	HeavyArea           float64
	HeavyBackground     float64
}

// Process quantifies all boxes of a sample. Results keep the order of
// boxes.
func Process(s *encode.Sample, boxes []model.Box, opts Options) ([]Result, error) {
	axis, err := NewAxis(s.Time)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.PeptideID, err)
	}
	results := make([]Result, 0, len(boxes))
	for _, b := range boxes {
		sel := Select(b.Quality, opts.QualityThresh)
		r := Result{
			RTStart:             axis.TimeAt(b.Start),
			RTEnd:               axis.TimeAt(b.End),
			Score:               b.Score,
			Quality:             b.Quality,
			QuantificationScore: Score(b.Quality, sel),
			Selected:            sel,
		}
		light := SumTraces(s.XIC[encode.Light], sel, s.Len())
		r.LightArea, r.LightBackground = Area(s.Time, light, b.Start, b.End, opts.Background)
		heavy := SumTraces(s.XIC[encode.Heavy], sel, s.Len())
		r.HeavyArea, r.HeavyBackground = Area(s.Time, heavy, b.Start, b.End, opts.Background)
		results = append(results, r)
	}
	return results, nil
}
