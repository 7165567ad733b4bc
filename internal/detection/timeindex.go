package detection

import (
	"math"

	"golang.org/x/text/cases"
)

// ActiveWindow is the half-width, in seconds, of the band around the playback
// position inside which a detection is considered visible.
const ActiveWindow = 0.5

// ActiveAt returns the detections whose timestamp lies strictly within
// ActiveWindow of t, preserving input order. The result is never nil.
func ActiveAt(dets []Detection, t float64) []Detection {
	active := make([]Detection, 0)
	for _, d := range dets {
		if math.Abs(d.Timestamp-t) < ActiveWindow {
			active = append(active, d)
		}
	}
	return active
}

// UniqueEntities counts distinct case-folded labels across dets.
func UniqueEntities(dets []Detection) int {
	folder := cases.Fold()
	seen := make(map[string]struct{}, len(dets))
	for _, d := range dets {
		seen[folder.String(d.Label)] = struct{}{}
	}
	return len(seen)
}
