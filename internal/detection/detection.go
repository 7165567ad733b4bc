// Package detection turns model output into typed detections and answers
// playback-time queries over them.
package detection

import "strings"

// Sentiment is a coarse two-valued risk flag attached to a detection.
type Sentiment string

const (
	SentimentGood Sentiment = "good"
	SentimentBad  Sentiment = "bad"
)

// BoxScale is the upper bound of the point-scale coordinate system used by Box.
const BoxScale = 1000.0

// Box holds [yMin, xMin, yMax, xMax] on a 0-1000 scale, as reported by the
// model. The values are not guaranteed to be ordered or in range.
type Box [4]float64

// Normalized returns the box with each axis ordered and clamped to [0, BoxScale].
func (b Box) Normalized() Box {
	yMin, yMax := order(b[0], b[2])
	xMin, xMax := order(b[1], b[3])
	return Box{clamp(yMin), clamp(xMin), clamp(yMax), clamp(xMax)}
}

func order(a, b float64) (float64, float64) {
	if a > b {
		return b, a
	}
	return a, b
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > BoxScale {
		return BoxScale
	}
	return v
}

// Detection is one observed entity at one instant.
type Detection struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Timestamp float64   `json:"timestamp"`
	Box       Box       `json:"box"`
	Sentiment Sentiment `json:"sentiment"`
}

// AnalysisResult is one completed analysis: cleaned narrative plus detections
// in the order they appeared in the source text.
type AnalysisResult struct {
	Narrative  string      `json:"narrative"`
	Detections []Detection `json:"detections"`
}

// ParseStats describes what the parser saw in one response.
type ParseStats struct {
	BlockFound bool `json:"block_found"`
	Fragments  int  `json:"fragments"`
	Accepted   int  `json:"accepted"`
	Dropped    int  `json:"dropped"`
}

const (
	CategoryAlert   = "alert"
	CategoryVehicle = "vehicle"
	CategoryPerson  = "person"
	CategoryObject  = "object"
)

// Category returns a rendering hint for the overlay layer.
func Category(d Detection) string {
	if d.Sentiment == SentimentBad {
		return CategoryAlert
	}
	l := strings.ToLower(d.Label)
	switch {
	case strings.Contains(l, "car"), strings.Contains(l, "vehicle"),
		strings.Contains(l, "truck"), strings.Contains(l, "bus"):
		return CategoryVehicle
	case strings.Contains(l, "person"), strings.Contains(l, "man"), strings.Contains(l, "woman"):
		return CategoryPerson
	default:
		return CategoryObject
	}
}
