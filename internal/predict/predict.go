// Package predict runs the DeepMRM pipeline: extract the chromatograms of
// targeted peptides, encode them, detect and score peaks and quantify them.
package predict

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
	"github.com/thanadol-git/deep-mrm-KTH/internal/model"
	"github.com/thanadol-git/deep-mrm-KTH/internal/mzml"
	"github.com/thanadol-git/deep-mrm-KTH/internal/quant"
	"github.com/thanadol-git/deep-mrm-KTH/internal/report"
	"github.com/thanadol-git/deep-mrm-KTH/internal/transition"
	"github.com/thanadol-git/deep-mrm-KTH/internal/xic"
)

// DebugFunc receives the intermediate results of a sample. i is the sample
// index for Run and the transition table index of the peptide for RunMzML.
type DebugFunc func(i int, s *encode.Sample, boxes []model.Box, results []quant.Result)

// Options of a pipeline run
type Options struct {
	Encoder   encode.Encoder
	Quant     quant.Options
	Tolerance xic.Tolerance
	Extract   xic.Options
	// XICPath, if set, receives the extracted chromatograms as mzML
	XICPath string
	Debug   DebugFunc
	Log     logrus.FieldLogger
}

// DefaultOptions returns the default settings
func DefaultOptions() Options {
	return Options{
		Quant:     quant.DefaultOptions(),
		Tolerance: xic.DefaultTolerance,
		Extract:   xic.Options{Workers: 1},
	}
}

func (o *Options) logger() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}

// Result of a run on one mzML file
type Result struct {
	Experiment       mzml.ExperimentType
	NumChromatograms int
	NumSpectra       int
	Peptides         []report.PeptideResult
}

// Run detects, scores and quantifies peaks in encoded samples. The
// results are in sample order.
func Run(ctx context.Context, pair *model.Pair, samples []*encode.Sample, opts Options) ([]report.PeptideResult, error) {
	boxes, err := pair.Predict(ctx, samples)
	if err != nil {
		return nil, err
	}
	results := make([]report.PeptideResult, len(samples))
	for i, s := range samples {
		res, err := quant.Process(s, boxes[i], opts.Quant)
		if err != nil {
			return nil, err
		}
		results[i] = report.PeptideResult{PeptideID: s.PeptideID, Candidates: res}
		if opts.Debug != nil {
			opts.Debug(i, s, boxes[i], res)
		}
	}
	return results, nil
}

// RunMzML runs the pipeline on an mzML file. The experiment type is
// determined once from the file content and decides how chromatograms are
// extracted. Peptides whose traces cannot be encoded are reported without
// candidates.
func RunMzML(ctx context.Context, pair *model.Pair, mzMLPath string,
	tab transition.Table, opts Options) (Result, error) {

	log := opts.logger().WithField("file", mzMLPath)
	var result Result

	start := time.Now()
	f, err := os.Open(mzMLPath)
	if err != nil {
		return result, err
	}
	run, err := mzml.Read(f)
	f.Close()
	if err != nil {
		return result, fmt.Errorf("%s: %w", mzMLPath, err)
	}
	result.Experiment = run.Classify()
	result.NumChromatograms = run.NumChromatograms()
	result.NumSpectra = run.NumSpecs()
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Infof(
		"Mass-spec data contains %d chromatograms and %d spectra (%s)",
		result.NumChromatograms, result.NumSpectra, result.Experiment)

	log.Info("Start extracting chromatograms for targeted peptides")
	extractOpts := opts.Extract
	extractOpts.Log = log
	peptides, err := xic.Extract(ctx, &run, result.Experiment, tab, opts.Tolerance, extractOpts)
	if err != nil {
		return result, err
	}
	log.WithField("peptides", len(peptides)).Info("Complete extracting chromatograms for targeted peptides")

	if opts.XICPath != "" {
		if err := WriteXICs(opts.XICPath, mzMLPath, peptides); err != nil {
			return result, err
		}
	}

	samples := make([]*encode.Sample, 0, len(peptides))
	var failed []string
	for i := range peptides {
		s, err := opts.Encoder.EncodePeptide(&peptides[i])
		if err != nil {
			log.WithField("peptide", peptides[i].ID).Warnf("cannot encode chromatograms: %v", err)
			failed = append(failed, peptides[i].ID)
			continue
		}
		samples = append(samples, &s)
	}

	runOpts := opts
	if opts.Debug != nil {
		tableIndex := make(map[string]int, len(tab.Peptides))
		for i, p := range tab.Peptides {
			tableIndex[p.ID] = i
		}
		runOpts.Debug = func(_ int, s *encode.Sample, boxes []model.Box, res []quant.Result) {
			opts.Debug(tableIndex[s.PeptideID], s, boxes, res)
		}
	}
	predicted, err := Run(ctx, pair, samples, runOpts)
	if err != nil {
		return result, err
	}
	byID := make(map[string]report.PeptideResult, len(predicted))
	for _, p := range predicted {
		byID[p.PeptideID] = p
	}
	for _, p := range peptides {
		if r, ok := byID[p.ID]; ok {
			result.Peptides = append(result.Peptides, r)
		} else {
			result.Peptides = append(result.Peptides, report.PeptideResult{PeptideID: p.ID})
		}
	}
	log.WithFields(logrus.Fields{
		"peptides": len(result.Peptides),
		"failed":   len(failed),
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("Complete predictions")
	return result, nil
}

// WriteXICs stores the extracted light and heavy chromatograms of all
// peptides as SRM chromatograms in an mzML file
func WriteXICs(path, source string, peptides []xic.Peptide) error {
	out := mzml.New(source)
	out.AppendSoftwareInfo("DeepMRM", Version)
	out.AppendDataProcessing(xicProcessing)
	for _, p := range peptides {
		for k, pair := range p.Pairs {
			id := fmt.Sprintf("%s light %d Q1=%g Q3=%g", p.ID, k, pair.Light.PrecursorMz, pair.Light.ProductMz)
			if err := out.AddChromatogram(id, pair.Light.PrecursorMz, pair.Light.ProductMz, p.Light[k]); err != nil {
				return err
			}
			id = fmt.Sprintf("%s heavy %d Q1=%g Q3=%g", p.ID, k, pair.Heavy.PrecursorMz, pair.Heavy.ProductMz)
			if err := out.AddChromatogram(id, pair.Heavy.PrecursorMz, pair.Heavy.ProductMz, p.Heavy[k]); err != nil {
				return err
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := out.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// Version is reported in written mzML files; set by the main package
var Version = "Unknown"

// Data processing step added to the XIC mzML file
var xicProcessing = mzml.DataProcessing{
	ID: "DeepMRM",
	ProcessingMeth: []mzml.ProcessingMethod{
		{
			Count:       0,
			SoftwareRef: "DeepMRM",
			CvPar: []mzml.CVParam{
				{
					Accession: `MS:1000544`,
					Name:      `Conversion to mzML`,
				},
			},
		},
	},
}
