package model

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
)

// Lower bound of the noise estimate, in units of the normalized trace
const minNoise = 1e-3

// ProfileDetector finds peaks in the consensus trace of a sample: the
// smoothed mean of all max-normalized light and heavy traces. Every local
// maximum is widened to a box and scored by how well a Gaussian fits it.
type ProfileDetector struct {
	DetectorSpec
	ScoreThresh float64
	NMSThresh   float64
}

// NewProfileDetector returns a detector with the default thresholds
func NewProfileDetector(spec DetectorSpec) *ProfileDetector {
	return &ProfileDetector{
		DetectorSpec: spec,
		ScoreThresh:  DefaultScoreThresh,
		NMSThresh:    DefaultNMSThresh,
	}
}

// WithThresholds implements BoundaryDetector
func (d *ProfileDetector) WithThresholds(scoreThresh, nmsThresh float64) BoundaryDetector {
	c := *d
	c.ScoreThresh = scoreThresh
	c.NMSThresh = nmsThresh
	return &c
}

// Detect implements BoundaryDetector
func (d *ProfileDetector) Detect(ctx context.Context, samples []*encode.Sample) ([][]Box, error) {
	result := make([][]Box, len(samples))
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result[i] = d.detect(s)
	}
	return result, nil
}

func (d *ProfileDetector) detect(s *encode.Sample) []Box {
	trace := smooth(consensus(s, 0, s.Len()-1), d.SmoothWindow)
	n := len(trace)
	if n < 3 {
		return []Box{}
	}
	sorted := append([]float64(nil), trace...)
	sort.Float64s(sorted)
	baseline := stat.Quantile(d.BaselineQuantile, stat.Empirical, sorted, nil)
	noise := math.Max(noiseLevel(trace), minNoise)

	var boxes []Box
	for apex := 1; apex < n-1; apex++ {
		if !(trace[apex] >= trace[apex-1] && trace[apex] > trace[apex+1]) {
			continue
		}
		height := trace[apex] - baseline
		if height < d.MinHeight || height <= 0 {
			continue
		}
		edge := d.EdgeFraction * height
		l := apex
		for l > 0 && trace[l]-baseline > edge && trace[l-1] <= trace[l] {
			l--
		}
		r := apex
		for r < n-1 && trace[r]-baseline > edge && trace[r+1] <= trace[r] {
			r++
		}
		if r-l+1 < 4 {
			continue
		}
		r2 := gaussianFit(trace[l:r+1], float64(apex-l), height, baseline)
		snr := height / noise
		score := r2 * (1 - math.Exp(-snr/d.SNRScale))
		if score > d.ScoreThresh {
			boxes = append(boxes, Box{Start: float64(l), End: float64(r), Score: score})
		}
	}
	boxes = NMS(boxes, d.NMSThresh)
	if d.MaxPeaks > 0 && len(boxes) > d.MaxPeaks {
		boxes = boxes[:d.MaxPeaks]
	}
	return boxes
}

// consensus returns the mean of the normalized traces of all transitions
// between grid index from and to
func consensus(s *encode.Sample, from, to int) []float64 {
	rows := 2 * s.NumTransitions()
	c := make([]float64, to-from+1)
	if rows == 0 {
		return c
	}
	for r := 0; r < rows; r++ {
		row := s.Features.RawRowView(r)
		for i := from; i <= to; i++ {
			c[i-from] += row[i]
		}
	}
	for i := range c {
		c[i] /= float64(rows)
	}
	return c
}

// smooth applies a centered moving average, truncated at the ends
func smooth(x []float64, window int) []float64 {
	if window <= 1 {
		return x
	}
	half := window / 2
	out := make([]float64, len(x))
	for i := range x {
		lo, hi := i-half, i+half
		if lo < 0 {
			lo = 0
		}
		if hi > len(x)-1 {
			hi = len(x) - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += x[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// noiseLevel is the median absolute first difference
func noiseLevel(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	d := make([]float64, len(x)-1)
	for i := 1; i < len(x); i++ {
		d[i-1] = math.Abs(x[i] - x[i-1])
	}
	sort.Float64s(d)
	return stat.Quantile(0.5, stat.Empirical, d, nil)
}

func gaussian(x float64, p []float64) float64 {
	amp, mu, sigma, offset := p[0], p[1], math.Abs(p[2])+1e-9, p[3]
	z := (x - mu) / sigma
	return offset + amp*math.Exp(-0.5*z*z)
}

// gaussianFit fits a Gaussian plus offset to y and returns the coefficient
// of determination, clipped to [0,1]
func gaussianFit(y []float64, apex, height, baseline float64) float64 {
	mean := stat.Mean(y, nil)
	ssTot := 0.0
	for _, v := range y {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		return 0
	}
	ssRes := func(p []float64) float64 {
		sum := 0.0
		for i, v := range y {
			d := v - gaussian(float64(i), p)
			sum += d * d
		}
		return sum
	}
	// We use the gonum.optimize package to find the best parameters:
	// https://pkg.go.dev/gonum.org/v1/gonum/optimize#Minimize
	problem := optimize.Problem{Func: ssRes}
	p0 := []float64{height, apex, math.Max(float64(len(y))/6, 0.5), baseline}
	res, err := optimize.Minimize(problem, p0, nil, nil)
	best := ssRes(p0)
	if err == nil && res != nil && res.F < best {
		best = res.F
	}
	r2 := 1 - best/ssTot
	return math.Min(math.Max(r2, 0), 1)
}
