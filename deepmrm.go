// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thanadol-git/deep-mrm-KTH/internal/concat"
	"github.com/thanadol-git/deep-mrm-KTH/internal/config"
	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
	"github.com/thanadol-git/deep-mrm-KTH/internal/model"
	"github.com/thanadol-git/deep-mrm-KTH/internal/predict"
	"github.com/thanadol-git/deep-mrm-KTH/internal/quant"
	"github.com/thanadol-git/deep-mrm-KTH/internal/report"
	"github.com/thanadol-git/deep-mrm-KTH/internal/store"
	"github.com/thanadol-git/deep-mrm-KTH/internal/transition"
	"github.com/thanadol-git/deep-mrm-KTH/internal/xic"
)

// Program name and version, appended to software list in mzML output
const progName = "DeepMRM"

var progVersion = `Unknown`

// ErrRangeSpec is returned for a range with min > max
var ErrRangeSpec = errors.New("invalid range specified")

// Command line parameters that are not part of the configuration
type params struct {
	configFile  string
	envFile     string
	transitions string
	xicFile     string
	cfg         config.Config
}

var par params

// Parse string like "10:20" into 2 values, 10 and 20
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "10:"), the default is assigned
func parseIntRange(r string, min int, max int) (int, int, error) {
	re := regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// Parse string like "-12.01e1:+6" into 2 values, -120.1 and 6.0
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "-12.01e1:"), the default is assigned
func parseFloat64Range(r string, min float64, max float64) (
	float64, float64, error) {
	re := regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
	m := re.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.ParseFloat(m[1], 64)
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 4 && m[3] != "" {
		maxOut, _ = strconv.ParseFloat(m[3], 64)
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

var rootCmd = &cobra.Command{
	Use:   "deepmrm",
	Short: "DeepMRM - peak detection and quantification for targeted proteomics",
	Long: `DeepMRM finds the elution peak of every targeted peptide in MRM and PRM
data, and quantifies its light and heavy (internal standard) signal.

For each mzML file, two tables are written to the output directory:
  DeepMRM_<name>.csv       all candidate peaks, best first
  DeepMRM_<name>_top1.csv  the best peak of each peptide

Settings are read from config.yml (or --config), a .env file and
DEEPMRM_* environment variables. Command line flags override all of these.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var predictCmd = &cobra.Command{
	Use:   "predict --transitions <file> <mzMLfile>...",
	Short: "Detect and quantify peaks in mzML files",
	Long: `Detect and quantify peaks of the peptides in a transition table.

The transition table is a CSV (or tab separated .tsv) file with columns
peptide_id, precursor_mz, product_mz, is_heavy and optionally ref_rt.

Examples:
  # MRM data with the default model
  deepmrm predict -t transitions.csv sample1.mzML sample2.mzML

  # PRM data, 20 ppm tolerance, results also stored in SQLite
  deepmrm predict -t transitions.tsv --tolerance 20 --db results.db prm.mzML

ENVIRONMENT VARIABLES:
  When DEEPMRM_DEBUG=1, intermediate results of all peptides are printed.`,
	Args: cobra.MinimumNArgs(1),
}

var concatCmd = &cobra.Command{
	Use:   "concat <input_directory> <output_directory>",
	Short: "Concatenate DeepMRM result tables of a directory",
	Long: `Concatenate all DeepMRM csv files of a directory into top1.csv and
all.csv, with an extra File_Name column naming the source file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := setup(cmd)
		if err != nil {
			return err
		}
		return concat.Run(args[0], args[1], log)
	},
}

var modelCmd = &cobra.Command{
	Use:   "init-model <directory>",
	Short: "Write the default model description to a model directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := model.WriteSpec(args[0], model.DefaultSpec()); err != nil {
			return err
		}
		fmt.Printf("Model written to %s\n", args[0])
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs <database>",
	Short: "List the runs stored in a results database",
	Long: `List the runs stored by 'predict --db': run id, date, experiment type,
input file and number of candidate peaks. With --top1, print the top-1
table of one run instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runRuns,
}

var showRun string // Run id for which the top-1 table is printed

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show software version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		v := progVersion
		if v == `Unknown` {
			v = `Unknown
Build with -ldflags "-X main.progVersion=$(git describe --tags)" to show the git version here.`
		}
		fmt.Fprintf(os.Stderr, "%s version %s\n", progName, v)
	},
}

func init() {
	predictCmd.RunE = runPredict
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(concatCmd)
	rootCmd.AddCommand(modelCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&par.configFile, "config", "", "config `file` (default config.yml if present)")
	pf.StringVar(&par.envFile, "env-file", ".env", "`file` with environment variables")
	pf.String("log-level", "", "log level: trace, debug, info, warn or error")
	pf.Bool("log-json", false, "log in JSON format")

	f := predictCmd.Flags()
	f.StringVarP(&par.transitions, "transitions", "t", "", "transition table `file` (required)")
	f.StringP("model-dir", "m", "", "model `directory`")
	f.StringP("output-dir", "o", "", "output `directory`")
	f.String("db", "", "also store results in this SQLite `file`")
	f.Float64("score-thresh", 0, "minimum boundary score of a candidate peak")
	f.Float64("nms-thresh", 0, "IoU above which overlapping candidates are suppressed")
	f.Float64("quality-thresh", 0, "minimum peak quality of a transition used for quantification")
	f.String("device", "", "inference device: cpu or auto")
	f.Float64("tolerance", 0, "m/z tolerance for matching transitions")
	f.String("tolerance-unit", "", "unit of the m/z tolerance: ppm or Da")
	f.Float64("rt-window", 0, "extract only this many seconds around the reference RT (0: all)")
	f.String("rt-range", "", "retention time `range` in seconds to extract, e.g. 300:1800")
	f.Int("workers", 0, "number of extraction workers")
	f.Int("resample-length", 0, "number of grid points when resampling (0: longest trace)")
	f.Bool("force-resampling", false, "always resample traces onto a common grid")
	f.Bool("use-rt", false, "add retention time as an input feature")
	f.String("background", "", "background policy: mean or min")
	f.StringVar(&par.xicFile, "xic", "", "write the extracted chromatograms to this mzML `file`")
	f.StringVar(&debugPeptides, "debug", "",
		"Print debug output for given peptide index `range` e.g. 3:6")
	predictCmd.MarkFlagRequired("transitions")

	runsCmd.Flags().StringVar(&showRun, "top1", "", "print the top-1 table of run `id`")
}

// setup loads the configuration, applies the flags that were set and
// creates the logger
func setup(cmd *cobra.Command) (*logrus.Logger, error) {
	if err := config.LoadDotEnv(par.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(par.configFile)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	par.cfg = cfg
	return config.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	str := func(name string, dst *string) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetString(name)
		}
	}
	float := func(name string, dst *float64) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetFloat64(name)
		}
	}
	integer := func(name string, dst *int) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetInt(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if err == nil && f.Changed(name) {
			*dst, err = f.GetBool(name)
		}
	}
	str("log-level", &cfg.LogLevel)
	boolean("log-json", &cfg.LogJSON)
	if cmd != predictCmd {
		return err
	}
	str("model-dir", &cfg.ModelDir)
	str("output-dir", &cfg.OutputDir)
	str("db", &cfg.DB)
	float("score-thresh", &cfg.ScoreThresh)
	float("nms-thresh", &cfg.NMSThresh)
	float("quality-thresh", &cfg.QualityThresh)
	str("device", &cfg.Device)
	float("tolerance", &cfg.Tolerance)
	str("tolerance-unit", &cfg.ToleranceUnit)
	float("rt-window", &cfg.RTWindow)
	str("rt-range", &cfg.RTRange)
	integer("workers", &cfg.Workers)
	integer("resample-length", &cfg.Length)
	boolean("force-resampling", &cfg.ForceResampling)
	boolean("use-rt", &cfg.UseRT)
	str("background", &cfg.Background)
	return err
}

// predictOptions converts the configuration to pipeline options
func predictOptions(cfg config.Config) (predict.Options, error) {
	opts := predict.DefaultOptions()
	unit, err := xic.ParseUnit(cfg.ToleranceUnit)
	if err != nil {
		return opts, err
	}
	opts.Tolerance = xic.Tolerance{Value: cfg.Tolerance, Unit: unit}
	opts.Extract.RTWindow = cfg.RTWindow
	opts.Extract.Workers = cfg.Workers
	if cfg.RTRange != "" {
		lo, hi, err := parseFloat64Range(cfg.RTRange, 0, math.MaxFloat64)
		if err != nil {
			return opts, fmt.Errorf("rt range %q: %w", cfg.RTRange, err)
		}
		if hi == math.MaxFloat64 {
			hi = 0
		}
		opts.Extract.RTRange = xic.RTRange{Min: lo, Max: hi}
	}
	opts.Encoder = encode.Encoder{
		Length:          cfg.Length,
		ForceResampling: cfg.ForceResampling,
		UseRT:           cfg.UseRT,
	}
	opts.Quant.QualityThresh = cfg.QualityThresh
	if opts.Quant.Background, err = quant.ParsePolicy(cfg.Background); err != nil {
		return opts, err
	}
	return opts, nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	log, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg := par.cfg
	opts, err := predictOptions(cfg)
	if err != nil {
		return err
	}
	opts.Log = log
	opts.Debug = debugFunc()
	predict.Version = progVersion

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tab, err := transition.Load(par.transitions)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"peptides":    len(tab.Peptides),
		"transitions": tab.NumTransitions(),
	}).Info("Read transition table")

	cache := model.NewCache(nil)
	pair, err := cache.Get(cfg.ModelDir, model.Options{
		ScoreThresh: cfg.ScoreThresh,
		NMSThresh:   cfg.NMSThresh,
		Device:      cfg.Device,
	})
	if err != nil {
		return err
	}

	var db *store.Store
	if cfg.DB != "" {
		if db, err = store.Open(cfg.DB); err != nil {
			return err
		}
		defer db.Close()
	}

	for i, mzMLPath := range args {
		fileOpts := opts
		if par.xicFile != "" && len(args) > 1 {
			fileOpts.XICPath = fmt.Sprintf("%s.%d", par.xicFile, i)
		} else {
			fileOpts.XICPath = par.xicFile
		}
		res, err := predict.RunMzML(ctx, pair, mzMLPath, tab, fileOpts)
		if err != nil {
			return err
		}
		all, top1, err := report.WriteFiles(cfg.OutputDir, mzMLPath, res.Peptides)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"all": all, "top1": top1}).Info("Results written")
		if db != nil {
			id, err := db.SaveRun(store.Run{
				InputPath:     mzMLPath,
				Experiment:    res.Experiment.String(),
				ModelDir:      cfg.ModelDir,
				ScoreThresh:   cfg.ScoreThresh,
				NMSThresh:     cfg.NMSThresh,
				QualityThresh: cfg.QualityThresh,
				CreatedAt:     time.Now(),
			}, res.Peptides)
			if err != nil {
				return err
			}
			log.WithField("run", id).Infof("Results stored in %s", cfg.DB)
		}
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err != nil {
		return err
	}
	db, err := store.Open(args[0])
	if err != nil {
		return err
	}
	defer db.Close()
	out := cmd.OutOrStdout()

	if showRun != "" {
		rows, err := db.Top1(showRun)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("no top-1 rows for run %s", showRun)
		}
		return report.WriteTop1(out, rows)
	}

	runs, err := db.Runs()
	if err != nil {
		return err
	}
	for _, r := range runs {
		n, err := db.CountCandidates(r.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%d\n", r.ID,
			r.CreatedAt.Format(time.RFC3339), r.Experiment, r.InputPath, n)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
