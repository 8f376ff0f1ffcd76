// Package xic extracts light/heavy ion chromatograms of targeted peptides
// from an mzML run, either from SRM chromatograms (MRM) or by building
// chromatograms from MS2 spectra (PRM).
package xic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thanadol-git/deep-mrm-KTH/internal/mzml"
	"github.com/thanadol-git/deep-mrm-KTH/internal/transition"
)

// ErrNoData means none of the peptides could be found in the run
var ErrNoData = errors.New("no chromatograms found for any peptide")

// Peptide holds the extracted traces of one peptide. Light[k] and Heavy[k]
// belong to Pairs[k]. A transition that was not found has an empty trace.
type Peptide struct {
	ID    string
	RefRT float64
	Pairs []transition.Pair
	Light [][]mzml.TimePoint
	Heavy [][]mzml.TimePoint
}

// Empty reports whether no trace of the peptide holds any data point
func (p *Peptide) Empty() bool {
	for k := range p.Pairs {
		if len(p.Light[k]) > 0 || len(p.Heavy[k]) > 0 {
			return false
		}
	}
	return true
}

// RTRange restricts extraction to retention times in [Min, Max] seconds.
// Max <= 0 means no upper limit.
type RTRange struct {
	Min float64
	Max float64
}

func (r RTRange) contains(rt float64) bool {
	return rt >= r.Min && (r.Max <= 0 || rt <= r.Max)
}

// Options controls extraction
type Options struct {
	// RTWindow keeps only points within RefRT +/- RTWindow seconds of
	// peptides with a known reference retention time (0: disabled)
	RTWindow float64
	RTRange  RTRange
	// Workers is the number of peptides extracted in parallel
	Workers int
	Log     logrus.FieldLogger
}

// Extract returns the traces for all peptides of the transition table, in
// table order. Peptides without any data are dropped with a warning.
func Extract(ctx context.Context, run *mzml.MzML, exp mzml.ExperimentType,
	tab transition.Table, tol Tolerance, opts Options) ([]Peptide, error) {

	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	var src source
	var err error
	switch exp {
	case mzml.MRM:
		src, err = newChromSource(run, tol, log)
	case mzml.PRM:
		src, err = newSpecSource(run, tol, log)
	default:
		err = fmt.Errorf("unknown experiment type %v", exp)
	}
	if err != nil {
		return nil, err
	}

	peptides := make([]Peptide, len(tab.Peptides))
	g, ctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i := range tab.Peptides {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := extractPeptide(src, tab.Peptides[i], opts)
			if err != nil {
				return fmt.Errorf("peptide %s: %w", tab.Peptides[i].ID, err)
			}
			peptides[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := peptides[:0]
	for _, p := range peptides {
		if p.Empty() {
			log.WithField("peptide", p.ID).Warn("no chromatogram data found, peptide skipped")
			continue
		}
		result = append(result, p)
	}
	if len(result) == 0 && len(tab.Peptides) > 0 {
		return nil, ErrNoData
	}
	return result, nil
}

func extractPeptide(src source, pep transition.Peptide, opts Options) (Peptide, error) {
	p := Peptide{
		ID:    pep.ID,
		RefRT: pep.RefRT,
		Pairs: pep.Pairs,
		Light: make([][]mzml.TimePoint, len(pep.Pairs)),
		Heavy: make([][]mzml.TimePoint, len(pep.Pairs)),
	}
	keep := func(rt float64) bool {
		if !opts.RTRange.contains(rt) {
			return false
		}
		if opts.RTWindow > 0 && !math.IsNaN(pep.RefRT) {
			return math.Abs(rt-pep.RefRT) <= opts.RTWindow
		}
		return true
	}
	for k, pair := range pep.Pairs {
		var err error
		if p.Light[k], err = src.trace(pair.Light); err != nil {
			return p, err
		}
		if p.Heavy[k], err = src.trace(pair.Heavy); err != nil {
			return p, err
		}
		p.Light[k] = filterTime(p.Light[k], keep)
		p.Heavy[k] = filterTime(p.Heavy[k], keep)
	}
	return p, nil
}

func filterTime(points []mzml.TimePoint, keep func(float64) bool) []mzml.TimePoint {
	out := make([]mzml.TimePoint, 0, len(points))
	for _, tp := range points {
		if keep(tp.Time) {
			out = append(out, tp)
		}
	}
	return out
}

// source returns the trace of a single transition
type source interface {
	trace(t transition.Transition) ([]mzml.TimePoint, error)
}

// chromSource matches transitions to SRM chromatograms
type chromSource struct {
	run   *mzml.MzML
	tol   Tolerance
	chrom []chromInfo // sorted by q1
}

type chromInfo struct {
	index  int
	q1, q3 float64
}

func newChromSource(run *mzml.MzML, tol Tolerance, log logrus.FieldLogger) (*chromSource, error) {
	s := &chromSource{run: run, tol: tol}
	for i := 0; i < run.NumChromatograms(); i++ {
		q1, q3, ok, err := run.ChromatogramTransition(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			// TIC and other non-SRM chromatograms
			id, _ := run.ChromatogramID(i)
			log.WithField("chromatogram", id).Debug("no transition, chromatogram ignored")
			continue
		}
		s.chrom = append(s.chrom, chromInfo{index: i, q1: q1, q3: q3})
	}
	sort.Slice(s.chrom, func(i, j int) bool { return s.chrom[i].q1 < s.chrom[j].q1 })
	return s, nil
}

// trace returns the chromatogram whose Q1 and Q3 both match, the closest
// one if several do
func (s *chromSource) trace(t transition.Transition) ([]mzml.TimePoint, error) {
	lo, hi := s.tol.Window(t.PrecursorMz)
	i1 := sort.Search(len(s.chrom), func(i int) bool { return s.chrom[i].q1 >= lo })
	i2 := sort.Search(len(s.chrom), func(i int) bool { return s.chrom[i].q1 > hi })

	best := -1
	bestErr := math.Inf(1)
	for i := i1; i < i2; i++ {
		c := s.chrom[i]
		if !s.tol.Match(t.ProductMz, c.q3) {
			continue
		}
		e := math.Abs(c.q1-t.PrecursorMz) + math.Abs(c.q3-t.ProductMz)
		if e < bestErr || (e == bestErr && c.index < best) {
			best, bestErr = c.index, e
		}
	}
	if best < 0 {
		return nil, nil
	}
	points, err := s.run.ReadChromatogram(best)
	if err != nil {
		return nil, fmt.Errorf("chromatogram %d: %w", best, err)
	}
	return points, nil
}

// specSource builds chromatograms from MS2 spectra
type specSource struct {
	run  *mzml.MzML
	tol  Tolerance
	spec []specInfo // sorted by retention time
}

type specInfo struct {
	index       int
	rt          float64
	precursorMz float64
}

func newSpecSource(run *mzml.MzML, tol Tolerance, log logrus.FieldLogger) (*specSource, error) {
	s := &specSource{run: run, tol: tol}
	profile := 0
	for i := 0; i < run.NumSpecs(); i++ {
		msLevel, err := run.MSLevel(i)
		if err != nil {
			return nil, err
		}
		if msLevel < 2 {
			continue
		}
		mz, ok, err := run.PrecursorMz(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rt, err := run.RetentionTime(i)
		if err != nil {
			return nil, err
		}
		if centroid, err := run.Centroid(i); err == nil && !centroid {
			if profile == 0 {
				id, _ := run.ScanID(i)
				log.WithField("spectrum", id).Warn("MS2 spectra are not centroided, using the highest profile point per window")
			}
			profile++
		}
		s.spec = append(s.spec, specInfo{index: i, rt: rt, precursorMz: mz})
	}
	sort.SliceStable(s.spec, func(i, j int) bool { return s.spec[i].rt < s.spec[j].rt })
	return s, nil
}

// trace returns, for every MS2 spectrum of the transition's precursor, the
// highest peak within tolerance of the product m/z. Spectra with equal
// retention time are merged.
func (s *specSource) trace(t transition.Transition) ([]mzml.TimePoint, error) {
	var points []mzml.TimePoint
	lo, hi := s.tol.Window(t.ProductMz)
	for _, info := range s.spec {
		if !s.tol.Match(t.PrecursorMz, info.precursorMz) {
			continue
		}
		peaks, err := s.run.ReadScan(info.index)
		if err != nil {
			return nil, fmt.Errorf("spectrum %d: %w", info.index, err)
		}
		if !sort.SliceIsSorted(peaks, func(i, j int) bool { return peaks[i].Mz < peaks[j].Mz }) {
			sort.Slice(peaks, func(i, j int) bool { return peaks[i].Mz < peaks[j].Mz })
		}
		peak := maxPeakInMzWindow(lo, hi, peaks)
		n := len(points)
		if n > 0 && points[n-1].Time == info.rt {
			points[n-1].Intens = math.Max(points[n-1].Intens, peak.Intens)
			continue
		}
		points = append(points, mzml.TimePoint{Time: info.rt, Intens: peak.Intens})
	}
	return points, nil
}

// maxPeakInMzWindow returns the highest intensity peak in a given mz window.
// Peaks must be ordered by mz prior to calling this function.
// If no peak was found, peak.Intens will be 0
func maxPeakInMzWindow(mzMin, mzMax float64, peaks []mzml.Peak) mzml.Peak {
	i1 := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz >= mzMin })
	i2 := sort.Search(len(peaks), func(i int) bool { return peaks[i].Mz > mzMax })

	var peak mzml.Peak
	for i := i1; i < i2; i++ {
		if peaks[i].Intens > peak.Intens {
			peak = peaks[i]
		}
	}
	return peak
}
