package detection

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

var (
	blockPattern  = regexp.MustCompile(`(?is)\[DETECTIONS\](.*?)\[/DETECTIONS\]`)
	markerPattern = regexp.MustCompile(`(?i)\[/?DETECTIONS\]`)
	fencePattern  = regexp.MustCompile("(?s)```.*?```")
	headerPattern = regexp.MustCompile(`(?i)^(?:\d+\.|\*|-)?\s*(?:summary|narrative|analysis|protocol|intel)\b[:\s]*`)
)

// boxAliases lists the accepted box field names, most preferred first.
var boxAliases = []string{"box_2d", "box", "bbox"}

// Parse extracts the narrative and detections from one model response.
// It never fails: malformed fragments are dropped and a missing detection
// block yields an empty detection list.
func Parse(raw string) AnalysisResult {
	result, _ := ParseWithStats(raw)
	return result
}

// ParseWithStats is Parse plus counters describing the detection block.
func ParseWithStats(raw string) (AnalysisResult, ParseStats) {
	var stats ParseStats
	result := AnalysisResult{Detections: []Detection{}}

	rest := raw
	if loc := blockPattern.FindStringSubmatchIndex(raw); loc != nil {
		stats.BlockFound = true
		body := raw[loc[2]:loc[3]]

		for _, span := range fragmentSpans(body) {
			stats.Fragments++
			d, ok := decodeFragment(body[span[0]:span[1]])
			if !ok {
				stats.Dropped++
				continue
			}
			result.Detections = append(result.Detections, d)
		}
		stats.Accepted = len(result.Detections)
		rest = raw[:loc[0]] + raw[loc[1]:]
	}

	result.Narrative = cleanNarrative(rest)
	return result, stats
}

func decodeFragment(fragment string) (Detection, bool) {
	if !gjson.Valid(fragment) {
		return Detection{}, false
	}
	obj := gjson.Parse(fragment)
	if !obj.IsObject() {
		return Detection{}, false
	}

	label := obj.Get("label")
	if label.Type != gjson.String || strings.TrimSpace(label.Str) == "" {
		return Detection{}, false
	}

	box, ok := decodeBox(obj)
	if !ok {
		return Detection{}, false
	}

	sentiment := SentimentGood
	if s := obj.Get("sentiment"); s.Type == gjson.String && s.Str == string(SentimentBad) {
		sentiment = SentimentBad
	}

	return Detection{
		ID:        uuid.NewString(),
		Label:     label.Str,
		Timestamp: decodeTimestamp(obj.Get("timestamp")),
		Box:       box,
		Sentiment: sentiment,
	}, true
}

// decodeBox returns the first alias holding exactly four numbers.
func decodeBox(obj gjson.Result) (Box, bool) {
	for _, alias := range boxAliases {
		v := obj.Get(alias)
		if !v.IsArray() {
			continue
		}
		elems := v.Array()
		if len(elems) != 4 {
			continue
		}
		var box Box
		valid := true
		for i, e := range elems {
			if e.Type != gjson.Number {
				valid = false
				break
			}
			box[i] = e.Num
		}
		if valid {
			return box, true
		}
	}
	return Box{}, false
}

func decodeTimestamp(v gjson.Result) float64 {
	var ts float64
	switch v.Type {
	case gjson.Number:
		ts = v.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err == nil {
			ts = f
		}
	}
	if ts < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return 0
	}
	return ts
}

func cleanNarrative(s string) string {
	s = fencePattern.ReplaceAllString(s, "")
	s = removeFragments(s)
	for markerPattern.MatchString(s) {
		s = markerPattern.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(s)
	s = headerPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func removeFragments(s string) string {
	spans := fragmentSpans(s)
	if len(spans) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, span := range spans {
		b.WriteString(s[last:span[0]])
		last = span[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// fragmentSpans returns the [start, end) offsets of every outermost balanced
// brace fragment in s, in source order. Quoted strings inside a fragment are
// skipped so braces in labels do not break nesting; a raw newline ends a
// string since JSON strings cannot contain one. An opening brace that never
// closes is dropped and the fragments nested inside it are kept.
func fragmentSpans(s string) [][2]int {
	var spans [][2]int
	var open []int
	inString, escaped := false, false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case c == '\n':
				inString, escaped = false, false
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if len(open) > 0 {
				inString = true
			}
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			// Spans closed earlier inside this one are superseded by it.
			for len(spans) > 0 && spans[len(spans)-1][0] > start {
				spans = spans[:len(spans)-1]
			}
			spans = append(spans, [2]int{start, i + 1})
		}
	}
	return spans
}
