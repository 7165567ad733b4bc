package export

import (
	"path/filepath"
	"strings"
	"unicode"
)

var cueEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// SanitizeCueText makes text safe for a single-line cue payload.
func SanitizeCueText(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return cueEscaper.Replace(strings.Join(strings.Fields(b.String()), " "))
}

func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// TrackFileName derives a download name for the text track of a video,
// e.g. "Street Cam.mp4" → "Street Cam.vtt".
func TrackFileName(videoName string) string {
	base := strings.TrimSuffix(filepath.Base(videoName), filepath.Ext(videoName))
	name := SanitizeName(base, 120)
	if name == "" || name == "." {
		name = "detections"
	}
	return name + ".vtt"
}
