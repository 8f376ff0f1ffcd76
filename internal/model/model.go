// Package model holds the boundary detector and quality scorer used for
// peak picking, and the handle that ties a loaded pair of them together.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
)

// SpecFile is the name of the model description inside a model directory
const SpecFile = "model.yml"

// Default knob values
const (
	DefaultScoreThresh = 0.05
	DefaultNMSThresh   = 0.3
)

var (
	// ErrDeviceUnavailable is returned when an accelerator is requested
	ErrDeviceUnavailable = errors.New("compute device not available")
	// ErrUnknownKind means model.yml names a detector or scorer that does not exist
	ErrUnknownKind = errors.New("unknown model kind")
)

// Box is a candidate peak in grid index space
type Box struct {
	Start float64
	End   float64
	Score float64
	// Quality holds one peak quality value per transition pair, filled in
	// by the quality scorer
	Quality []float64
}

// BoundaryDetector proposes candidate peak boxes for each sample, ordered by
// descending score
type BoundaryDetector interface {
	Detect(ctx context.Context, samples []*encode.Sample) ([][]Box, error)
	// WithThresholds returns a detector with the given score filter and NMS
	// overlap threshold; the receiver is left unchanged
	WithThresholds(scoreThresh, nmsThresh float64) BoundaryDetector
}

// QualityScorer fills in Box.Quality for the boxes of every sample
type QualityScorer interface {
	Score(ctx context.Context, samples []*encode.Sample, boxes [][]Box) error
}

// Options are applied to a pair each time it is obtained
type Options struct {
	ScoreThresh float64
	NMSThresh   float64
	Device      string
}

// DefaultOptions returns the default thresholds on the CPU
func DefaultOptions() Options {
	return Options{ScoreThresh: DefaultScoreThresh, NMSThresh: DefaultNMSThresh, Device: "cpu"}
}

// CheckDevice accepts "cpu" and "auto" (which resolves to the CPU)
func CheckDevice(device string) error {
	switch strings.ToLower(device) {
	case "", "cpu", "auto":
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
}

// Pair is a loaded detector and scorer. It is owned by the caller and
// passed to every prediction.
type Pair struct {
	Dir      string
	Detector BoundaryDetector
	Scorer   QualityScorer
}

// Apply replaces the detector of p by one using the thresholds of opts
func (p *Pair) Apply(opts Options) error {
	if err := CheckDevice(opts.Device); err != nil {
		return err
	}
	p.Detector = p.Detector.WithThresholds(opts.ScoreThresh, opts.NMSThresh)
	return nil
}

// Predict runs the detector followed by the quality scorer
func (p *Pair) Predict(ctx context.Context, samples []*encode.Sample) ([][]Box, error) {
	boxes, err := p.Detector.Detect(ctx, samples)
	if err != nil {
		return nil, fmt.Errorf("boundary detector: %w", err)
	}
	if err := p.Scorer.Score(ctx, samples, boxes); err != nil {
		return nil, fmt.Errorf("quality scorer: %w", err)
	}
	return boxes, nil
}

// Spec is the content of model.yml
type Spec struct {
	Detector DetectorSpec `yaml:"detector"`
	Scorer   ScorerSpec   `yaml:"scorer"`
}

// DetectorSpec configures the profile detector
type DetectorSpec struct {
	Kind             string  `yaml:"kind" validate:"required"`
	SmoothWindow     int     `yaml:"smooth_window" validate:"gte=1"`
	BaselineQuantile float64 `yaml:"baseline_quantile" validate:"gte=0,lte=1"`
	MinHeight        float64 `yaml:"min_height" validate:"gte=0,lte=1"`
	EdgeFraction     float64 `yaml:"edge_fraction" validate:"gte=0,lt=1"`
	SNRScale         float64 `yaml:"snr_scale" validate:"gt=0"`
	MaxPeaks         int     `yaml:"max_peaks" validate:"gte=1"`
}

// ScorerSpec configures the consensus scorer
type ScorerSpec struct {
	Kind string `yaml:"kind" validate:"required"`
	Pad  int    `yaml:"pad" validate:"gte=0"`
}

// DefaultSpec returns the bundled profile/consensus model
func DefaultSpec() Spec {
	return Spec{
		Detector: DetectorSpec{
			Kind:             "profile",
			SmoothWindow:     5,
			BaselineQuantile: 0.1,
			MinHeight:        0.05,
			EdgeFraction:     0.01,
			SNRScale:         3,
			MaxPeaks:         10,
		},
		Scorer: ScorerSpec{
			Kind: "consensus",
			Pad:  2,
		},
	}
}

// ReadSpec reads model.yml from a model directory. Missing keys keep their
// default values.
func ReadSpec(dir string) (Spec, error) {
	spec := DefaultSpec()
	b, err := os.ReadFile(filepath.Join(dir, SpecFile))
	if err != nil {
		return spec, err
	}
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return spec, fmt.Errorf("%s: %w", SpecFile, err)
	}
	if err := validator.New().Struct(spec); err != nil {
		return spec, fmt.Errorf("%s: %w", SpecFile, err)
	}
	return spec, nil
}

// WriteSpec writes model.yml into dir, creating it if needed
func WriteSpec(dir string, spec Spec) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SpecFile), b, 0o644)
}

// New builds a pair from a spec
func New(dir string, spec Spec) (*Pair, error) {
	p := &Pair{Dir: dir}
	switch spec.Detector.Kind {
	case "profile":
		p.Detector = NewProfileDetector(spec.Detector)
	default:
		return nil, fmt.Errorf("%w: detector %q", ErrUnknownKind, spec.Detector.Kind)
	}
	switch spec.Scorer.Kind {
	case "consensus":
		p.Scorer = &ConsensusScorer{Pad: spec.Scorer.Pad}
	default:
		return nil, fmt.Errorf("%w: scorer %q", ErrUnknownKind, spec.Scorer.Kind)
	}
	return p, nil
}

// Load reads the model in dir
func Load(dir string) (*Pair, error) {
	spec, err := ReadSpec(dir)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", dir, err)
	}
	return New(dir, spec)
}
