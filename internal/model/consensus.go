package model

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
)

// ConsensusScorer rates each transition pair by how well its light and
// heavy traces follow the consensus peak shape inside a box
type ConsensusScorer struct {
	// Pad widens the box by this many grid points on both sides
	Pad int
}

// Score implements QualityScorer
func (q *ConsensusScorer) Score(ctx context.Context, samples []*encode.Sample, boxes [][]Box) error {
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return err
		}
		for b := range boxes[i] {
			boxes[i][b].Quality = q.quality(s, boxes[i][b])
		}
	}
	return nil
}

func (q *ConsensusScorer) quality(s *encode.Sample, b Box) []float64 {
	nt := s.NumTransitions()
	quality := make([]float64, nt)
	from := int(math.Round(b.Start)) - q.Pad
	to := int(math.Round(b.End)) + q.Pad
	if from < 0 {
		from = 0
	}
	if to > s.Len()-1 {
		to = s.Len() - 1
	}
	if to-from < 1 {
		return quality
	}
	cons := consensus(s, from, to)
	for t := 0; t < nt; t++ {
		light := s.Features.RawRowView(encode.Light*nt + t)[from : to+1]
		heavy := s.Features.RawRowView(encode.Heavy*nt + t)[from : to+1]
		v := (corr(light, cons) + corr(heavy, cons) + corr(light, heavy)) / 3
		quality[t] = math.Min(math.Max(v, 0), 1)
	}
	return quality
}

// corr is the Pearson correlation, 0 if undefined
func corr(x, y []float64) float64 {
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}
