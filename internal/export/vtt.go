// Package export renders detections into formats a video player can load.
package export

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/heimdex/heimdex-intel/internal/detection"
)

// Cue is one timed entry of a text track.
type Cue struct {
	Index   int
	StartMs int
	EndMs   int
	Text    string
}

// BuildCues turns detections into cues covering each detection's active
// window, sorted by start time. Detections sharing a start keep input order.
func BuildCues(dets []detection.Detection) []Cue {
	windowMs := int(math.Round(detection.ActiveWindow * 1000))

	cues := make([]Cue, 0, len(dets))
	for _, d := range dets {
		centerMs := int(math.Round(d.Timestamp * 1000))
		start := centerMs - windowMs
		if start < 0 {
			start = 0
		}
		text := d.Label
		if d.Sentiment == detection.SentimentBad {
			text += " [bad]"
		}
		cues = append(cues, Cue{
			StartMs: start,
			EndMs:   centerMs + windowMs,
			Text:    SanitizeCueText(text),
		})
	}

	sort.SliceStable(cues, func(i, j int) bool {
		return cues[i].StartMs < cues[j].StartMs
	})
	for i := range cues {
		cues[i].Index = i + 1
	}
	return cues
}

// GenerateVTT renders detections as a WebVTT track.
func GenerateVTT(dets []detection.Detection) string {
	lines := []string{"WEBVTT", ""}
	for _, c := range BuildCues(dets) {
		lines = append(lines,
			fmt.Sprintf("%d", c.Index),
			fmt.Sprintf("%s --> %s", msToTimecode(c.StartMs), msToTimecode(c.EndMs)),
			c.Text,
			"",
		)
	}
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int) string {
	if ms < 0 {
		ms = 0
	}
	millis := ms % 1000
	totalSeconds := ms / 1000
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
