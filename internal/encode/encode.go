// Package encode puts the light and heavy traces of a peptide onto one
// common time grid and builds the normalized feature matrix the boundary
// detector works on.
package encode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"

	"github.com/thanadol-git/deep-mrm-KTH/internal/mzml"
	"github.com/thanadol-git/deep-mrm-KTH/internal/xic"
)

// Channels of a sample
const (
	Light = 0
	Heavy = 1
)

// Maximum relative deviation of the sampling step for an axis to count as
// uniform
const uniformTol = 0.01

var (
	// ErrTooFewPoints means the traces do not overlap in at least two points
	ErrTooFewPoints = errors.New("too few time points")
	// ErrNotIncreasing means a trace has non-increasing time values
	ErrNotIncreasing = errors.New("time values not strictly increasing")
	// ErrShape means light and heavy transition counts differ
	ErrShape = errors.New("light and heavy traces differ in number")
)

// Sample is one peptide on a common grid. XIC[c][t][i] is the intensity of
// channel c, transition t at grid point i, Time[i] its retention time.
type Sample struct {
	PeptideID string
	Time      []float64
	XIC       [2][][]float64
	// Features holds one max-normalized row per channel and transition
	// (light rows first), plus a normalized time row if UseRT was set
	Features *mat.Dense
	// Resampled is false if the input axis was used unchanged
	Resampled bool
}

// NumTransitions returns the number of transition pairs
func (s *Sample) NumTransitions() int {
	return len(s.XIC[Light])
}

// Len returns the number of grid points
func (s *Sample) Len() int {
	return len(s.Time)
}

// Encoder converts traces to samples
type Encoder struct {
	// Length is the number of grid points when resampling, 0 means the
	// length of the longest trace
	Length int
	// ForceResampling resamples even if all traces share a uniform axis
	ForceResampling bool
	// UseRT adds normalized retention time as an extra feature row
	UseRT bool
}

// EncodePeptide encodes the traces of an extracted peptide
func (e Encoder) EncodePeptide(p *xic.Peptide) (Sample, error) {
	return e.Encode(p.ID, p.Light, p.Heavy)
}

// Encode puts light[t] and heavy[t] on one grid. Traces with fewer than two
// points are treated as absent and become zero rows.
func (e Encoder) Encode(id string, light, heavy [][]mzml.TimePoint) (Sample, error) {
	if len(light) != len(heavy) {
		return Sample{}, fmt.Errorf("%s: %w (%d light, %d heavy)", id, ErrShape, len(light), len(heavy))
	}
	s := Sample{PeptideID: id}
	traces := [2][][]mzml.TimePoint{light, heavy}
	var usable [][]mzml.TimePoint
	for _, ch := range traces {
		for t, tr := range ch {
			for i := 1; i < len(tr); i++ {
				if !(tr[i].Time > tr[i-1].Time) {
					return s, fmt.Errorf("%s transition %d: %w at %g", id, t, ErrNotIncreasing, tr[i].Time)
				}
			}
			if len(tr) >= 2 {
				usable = append(usable, tr)
			}
		}
	}
	if len(usable) == 0 {
		return s, fmt.Errorf("%s: %w", id, ErrTooFewPoints)
	}

	if axis, ok := sharedUniformAxis(usable); ok && !e.ForceResampling {
		s.Time = axis
		for c, ch := range traces {
			s.XIC[c] = make([][]float64, len(ch))
			for t, tr := range ch {
				row := make([]float64, len(axis))
				if len(tr) >= 2 {
					for i, tp := range tr {
						row[i] = tp.Intens
					}
				}
				s.XIC[c][t] = row
			}
		}
	} else {
		if err := e.resample(&s, traces, usable); err != nil {
			return s, err
		}
	}
	s.Features = e.features(&s)
	return s, nil
}

// resample interpolates all traces onto a uniform grid spanning the time
// range covered by every usable trace
func (e Encoder) resample(s *Sample, traces [2][][]mzml.TimePoint, usable [][]mzml.TimePoint) error {
	lo, hi := math.Inf(-1), math.Inf(1)
	n := e.Length
	longest := 0
	for _, tr := range usable {
		lo = math.Max(lo, tr[0].Time)
		hi = math.Min(hi, tr[len(tr)-1].Time)
		if len(tr) > longest {
			longest = len(tr)
		}
	}
	if n <= 0 {
		n = longest
	}
	if !(hi > lo) || n < 2 {
		return fmt.Errorf("%s: %w (overlap %g..%g, %d grid points)", s.PeptideID, ErrTooFewPoints, lo, hi, n)
	}
	s.Time = make([]float64, n)
	floats.Span(s.Time, lo, hi)
	s.Resampled = true

	for c, ch := range traces {
		s.XIC[c] = make([][]float64, len(ch))
		for t, tr := range ch {
			row := make([]float64, n)
			if len(tr) >= 2 {
				xs := make([]float64, len(tr))
				ys := make([]float64, len(tr))
				for i, tp := range tr {
					xs[i] = tp.Time
					ys[i] = tp.Intens
				}
				var pl interp.PiecewiseLinear
				if err := pl.Fit(xs, ys); err != nil {
					return fmt.Errorf("%s transition %d: %w", s.PeptideID, t, err)
				}
				for i, x := range s.Time {
					row[i] = pl.Predict(x)
				}
			}
			s.XIC[c][t] = row
		}
	}
	return nil
}

func (e Encoder) features(s *Sample) *mat.Dense {
	nt := s.NumTransitions()
	rows := 2 * nt
	if e.UseRT {
		rows++
	}
	n := s.Len()
	f := mat.NewDense(rows, n, nil)
	for c := Light; c <= Heavy; c++ {
		for t, row := range s.XIC[c] {
			norm := make([]float64, n)
			copy(norm, row)
			if m := floats.Max(norm); m > 0 {
				floats.Scale(1/m, norm)
			}
			f.SetRow(c*nt+t, norm)
		}
	}
	if e.UseRT {
		rt := make([]float64, n)
		span := s.Time[n-1] - s.Time[0]
		for i, x := range s.Time {
			rt[i] = (x - s.Time[0]) / span
		}
		f.SetRow(rows-1, rt)
	}
	return f
}

// sharedUniformAxis returns the common time axis if all traces have
// identical and uniformly spaced time values
func sharedUniformAxis(traces [][]mzml.TimePoint) ([]float64, bool) {
	first := traces[0]
	for _, tr := range traces[1:] {
		if len(tr) != len(first) {
			return nil, false
		}
		for i := range tr {
			if tr[i].Time != first[i].Time {
				return nil, false
			}
		}
	}
	axis := make([]float64, len(first))
	for i, tp := range first {
		axis[i] = tp.Time
	}
	step := (axis[len(axis)-1] - axis[0]) / float64(len(axis)-1)
	for i := 1; i < len(axis); i++ {
		if math.Abs(axis[i]-axis[i-1]-step) > uniformTol*step {
			return nil, false
		}
	}
	return axis, true
}
