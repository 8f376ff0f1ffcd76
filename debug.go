// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"
	"math"
	"os"

	"github.com/thanadol-git/deep-mrm-KTH/internal/encode"
	"github.com/thanadol-git/deep-mrm-KTH/internal/model"
	"github.com/thanadol-git/deep-mrm-KTH/internal/predict"
	"github.com/thanadol-git/deep-mrm-KTH/internal/quant"
)

var debugPeptides string // Print debug output for given peptide range

// debugFunc returns the per-peptide debug printer, or nil if debug output
// is off. DEEPMRM_DEBUG=1 enables it for all peptides.
func debugFunc() predict.DebugFunc {
	r := debugPeptides
	if r == `` && os.Getenv("DEEPMRM_DEBUG") == `1` {
		r = `:`
	}
	if r == `` {
		return nil
	}
	debugMin, debugMax, _ := parseIntRange(r, 0, math.MaxInt32)
	return func(i int, s *encode.Sample, boxes []model.Box, results []quant.Result) {
		if i >= debugMin && i <= debugMax {
			debugLogSample(i, s, boxes, results)
		}
	}
}

func debugLogSample(i int, s *encode.Sample, boxes []model.Box, results []quant.Result) {
	fmt.Printf("Peptide:%d %s transitions:%d points:%d resampled:%t",
		i, s.PeptideID, s.NumTransitions(), s.Len(), s.Resampled)
	if s.Len() > 0 {
		fmt.Printf(" rt:%f-%f", s.Time[0], s.Time[s.Len()-1])
	}
	fmt.Printf("\n")
	for j, b := range boxes {
		fmt.Printf("%d box:%0.1f-%0.1f score:%f quality:[", j, b.Start, b.End, b.Score)
		for k, q := range b.Quality {
			used := `-`
			if j < len(results) && contains(results[j].Selected, k) {
				used = `+`
			}
			fmt.Printf(" %d:%0.3f%s", k, q, used)
		}
		fmt.Printf(" ]")
		if j < len(results) {
			r := results[j]
			fmt.Printf(" rt:%f-%f light:%f(bg %f) heavy:%f(bg %f)",
				r.RTStart, r.RTEnd,
				r.LightArea, r.LightBackground,
				r.HeavyArea, r.HeavyBackground)
		}
		fmt.Printf("\n")
	}
}

func contains(v []int, x int) bool {
	for _, e := range v {
		if e == x {
			return true
		}
	}
	return false
}
