// Package report builds the result tables: every candidate peak of every
// peptide, and the best candidate per peptide.
package report

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/thanadol-git/deep-mrm-KTH/internal/quant"
)

// Prefix of all result files
const Prefix = "DeepMRM_"

// Top-1 table columns
var Top1Header = []string{
	"peptide_id",
	"rt_start_in_seconds",
	"rt_end_in_seconds",
	"light_area",
	"heavy_area",
	"boundary_score",
	"quantification_score",
}

// Candidate table columns
var CandidateHeader = []string{
	"peptide_id",
	"rank",
	"rt_start_in_seconds",
	"rt_end_in_seconds",
	"boundary_score",
	"quantification_score",
	"selected_transitions",
	"peak_quality",
	"light_area",
	"light_background",
	"heavy_area",
	"heavy_background",
}

// PeptideResult holds the candidates of one peptide, best first
type PeptideResult struct {
	PeptideID  string
	Candidates []quant.Result
}

// Top1 is the reported peak of a peptide. Boundaries and areas are null
// when no peak was found.
type Top1 struct {
	PeptideID           string
	RTStart             sql.NullFloat64
	RTEnd               sql.NullFloat64
	LightArea           sql.NullFloat64
	HeavyArea           sql.NullFloat64
	BoundaryScore       float64
	QuantificationScore float64
}

func valid(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// Top1Rows reduces every peptide to its first candidate. Peptides without
// candidates are kept with null boundaries and zero scores.
func Top1Rows(results []PeptideResult) []Top1 {
	rows := make([]Top1, len(results))
	for i, r := range results {
		rows[i].PeptideID = r.PeptideID
		if len(r.Candidates) == 0 {
			continue
		}
		c := r.Candidates[0]
		rows[i].RTStart = valid(c.RTStart)
		rows[i].RTEnd = valid(c.RTEnd)
		rows[i].LightArea = valid(c.LightArea)
		rows[i].HeavyArea = valid(c.HeavyArea)
		rows[i].BoundaryScore = c.Score
		rows[i].QuantificationScore = c.QuantificationScore
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNull(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}

func formatInts(v []int) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.Itoa(x)
	}
	return strings.Join(s, ";")
}

func formatFloats(v []float64) string {
	s := make([]string, len(v))
	for i, x := range v {
		s[i] = strconv.FormatFloat(x, 'f', 4, 64)
	}
	return strings.Join(s, ";")
}

// WriteTop1 writes the top-1 table as CSV; nulls are empty cells
func WriteTop1(w io.Writer, rows []Top1) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Top1Header); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.PeptideID,
			formatNull(r.RTStart),
			formatNull(r.RTEnd),
			formatNull(r.LightArea),
			formatNull(r.HeavyArea),
			formatFloat(r.BoundaryScore),
			formatFloat(r.QuantificationScore),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCandidates writes one CSV row per candidate peak. Rank 0 is the
// best candidate of a peptide.
func WriteCandidates(w io.Writer, results []PeptideResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CandidateHeader); err != nil {
		return err
	}
	for _, r := range results {
		for rank, c := range r.Candidates {
			rec := []string{
				r.PeptideID,
				strconv.Itoa(rank),
				formatFloat(c.RTStart),
				formatFloat(c.RTEnd),
				formatFloat(c.Score),
				formatFloat(c.QuantificationScore),
				formatInts(c.Selected),
				formatFloats(c.Quality),
				formatFloat(c.LightArea),
				formatFloat(c.LightBackground),
				formatFloat(c.HeavyArea),
				formatFloat(c.HeavyBackground),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileNames returns the candidate and top-1 file names for an input file
func FileNames(outDir, inputPath string) (string, string) {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	all := filepath.Join(outDir, Prefix+stem+".csv")
	top1 := filepath.Join(outDir, Prefix+stem+"_top1.csv")
	return all, top1
}

// WriteFiles writes both tables for inputPath into outDir and returns
// their paths
func WriteFiles(outDir, inputPath string, results []PeptideResult) (string, string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", err
	}
	allPath, top1Path := FileNames(outDir, inputPath)
	if err := writeFile(allPath, func(w io.Writer) error { return WriteCandidates(w, results) }); err != nil {
		return "", "", err
	}
	if err := writeFile(top1Path, func(w io.Writer) error { return WriteTop1(w, Top1Rows(results)) }); err != nil {
		return "", "", err
	}
	return allPath, top1Path, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}
