package model

import "sort"

// IoU returns the intersection over union of two boxes on the index axis
func IoU(a, b Box) float64 {
	lo := a.Start
	if b.Start > lo {
		lo = b.Start
	}
	hi := a.End
	if b.End < hi {
		hi = b.End
	}
	inter := hi - lo
	if inter < 0 {
		inter = 0
	}
	union := (a.End - a.Start) + (b.End - b.Start) - inter
	if union <= 0 {
		if a.Start == b.Start && a.End == b.End {
			return 1
		}
		return 0
	}
	return inter / union
}

// NMS sorts boxes by descending score (ties by start) and drops every box
// that overlaps an already kept box by more than thresh
func NMS(boxes []Box, thresh float64) []Box {
	sorted := append([]Box(nil), boxes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Start < sorted[j].Start
	})
	kept := make([]Box, 0, len(sorted))
	for _, b := range sorted {
		keep := true
		for _, k := range kept {
			if IoU(b, k) > thresh {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, b)
		}
	}
	return kept
}
