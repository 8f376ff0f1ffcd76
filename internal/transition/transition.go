// Package transition reads the targeted transition list: which precursor and
// product ion pairs are monitored for each peptide, in light and heavy form.
package transition

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Column names of the transition table
const (
	ColPeptideID   = "peptide_id"
	ColPrecursorMz = "precursor_mz"
	ColProductMz   = "product_mz"
	ColIsHeavy     = "is_heavy"
	ColRefRT       = "ref_rt"
)

var (
	// ErrMissingColumn means a required column is not in the header
	ErrMissingColumn = errors.New("transition: missing column")
	// ErrUnpaired means a peptide has different numbers of light and heavy transitions
	ErrUnpaired = errors.New("transition: light and heavy transitions do not pair up")
	// ErrEmpty means the table holds no transitions
	ErrEmpty = errors.New("transition: no transitions")
)

// Transition is a single monitored precursor/product ion pair
type Transition struct {
	PeptideID   string
	PrecursorMz float64
	ProductMz   float64
	Heavy       bool
	RefRT       float64 // expected retention time in seconds, NaN if unknown
}

// Pair couples the light transition with its heavy labelled counterpart
type Pair struct {
	Light Transition
	Heavy Transition
}

// Peptide holds all transition pairs of one peptide
type Peptide struct {
	ID    string
	RefRT float64 // NaN if unknown
	Pairs []Pair
}

// Table is the transition list, peptides in order of first appearance
type Table struct {
	Peptides []Peptide
}

// NumTransitions returns the number of transitions (light + heavy)
func (t *Table) NumTransitions() int {
	n := 0
	for _, p := range t.Peptides {
		n += 2 * len(p.Pairs)
	}
	return n
}

// Load reads a transition table from file. Files ending in .tsv or .txt are
// tab separated, everything else comma separated.
func Load(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()
	comma := ','
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".txt":
		comma = '\t'
	}
	t, err := Read(f, comma)
	if err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Read parses a transition table. Light and heavy transitions of a peptide
// are paired in file order: the k-th light row belongs to the k-th heavy row.
func Read(r io.Reader, comma rune) (Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.TrimLeadingSpace = comma != '\t'
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return Table{}, ErrEmpty
		}
		return Table{}, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range []string{ColPeptideID, ColPrecursorMz, ColProductMz, ColIsHeavy} {
		if _, ok := col[c]; !ok {
			return Table{}, fmt.Errorf("%w %q", ErrMissingColumn, c)
		}
	}
	refCol, hasRef := col[ColRefRT]

	type group struct {
		light, heavy []Transition
	}
	var order []string
	groups := make(map[string]*group)

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return Table{}, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		field := func(name string) string {
			i := col[name]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		var tr Transition
		tr.PeptideID = field(ColPeptideID)
		if tr.PeptideID == "" {
			return Table{}, fmt.Errorf("line %d: empty %s", line, ColPeptideID)
		}
		if tr.PrecursorMz, err = strconv.ParseFloat(field(ColPrecursorMz), 64); err != nil {
			return Table{}, fmt.Errorf("line %d: invalid %s: %w", line, ColPrecursorMz, err)
		}
		if tr.ProductMz, err = strconv.ParseFloat(field(ColProductMz), 64); err != nil {
			return Table{}, fmt.Errorf("line %d: invalid %s: %w", line, ColProductMz, err)
		}
		if tr.Heavy, err = parseBool(field(ColIsHeavy)); err != nil {
			return Table{}, fmt.Errorf("line %d: invalid %s: %w", line, ColIsHeavy, err)
		}
		tr.RefRT = math.NaN()
		if hasRef && refCol < len(rec) && strings.TrimSpace(rec[refCol]) != "" {
			if tr.RefRT, err = strconv.ParseFloat(strings.TrimSpace(rec[refCol]), 64); err != nil {
				return Table{}, fmt.Errorf("line %d: invalid %s: %w", line, ColRefRT, err)
			}
		}

		g, ok := groups[tr.PeptideID]
		if !ok {
			g = &group{}
			groups[tr.PeptideID] = g
			order = append(order, tr.PeptideID)
		}
		if tr.Heavy {
			g.heavy = append(g.heavy, tr)
		} else {
			g.light = append(g.light, tr)
		}
	}
	if len(order) == 0 {
		return Table{}, ErrEmpty
	}

	t := Table{Peptides: make([]Peptide, 0, len(order))}
	for _, id := range order {
		g := groups[id]
		if len(g.light) != len(g.heavy) || len(g.light) == 0 {
			return Table{}, fmt.Errorf("peptide %s: %w (%d light, %d heavy)",
				id, ErrUnpaired, len(g.light), len(g.heavy))
		}
		p := Peptide{ID: id, RefRT: math.NaN(), Pairs: make([]Pair, len(g.light))}
		for k := range g.light {
			p.Pairs[k] = Pair{Light: g.light[k], Heavy: g.heavy[k]}
			if math.IsNaN(p.RefRT) {
				if !math.IsNaN(g.light[k].RefRT) {
					p.RefRT = g.light[k].RefRT
				} else if !math.IsNaN(g.heavy[k].RefRT) {
					p.RefRT = g.heavy[k].RefRT
				}
			}
		}
		t.Peptides = append(t.Peptides, p)
	}
	return t, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "y", "heavy":
		return true, nil
	case "no", "n", "light", "":
		return false, nil
	}
	return strconv.ParseBool(s)
}
