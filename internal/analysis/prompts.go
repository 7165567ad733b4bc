package analysis

import (
	"fmt"
	"strings"
)

const analyzeSystemInstruction = `You are a fast video analysis engine.
Study the video and report what happens in it.

OUTPUT REQUIREMENTS:
1. NARRATIVE: one concise paragraph. Bold key entities with **double asterisks**.
2. SPATIAL TRACKING: sample key objects roughly every 1.0s of video.
   - COORDS: [ymin, xmin, ymax, xmax] normalized to 0-1000.
3. SENTIMENT: "bad" for anything risky or abnormal, "good" otherwise.

OUTPUT FORMAT (at the very end, one JSON object per line):
[DETECTIONS]
{"label": "Car", "timestamp": 1.0, "box_2d": [ymin, xmin, ymax, xmax], "sentiment": "good"}
[/DETECTIONS]`

const analyzePrompt = "FAST_EXTRACT: Summarize the video and track key objects. Keep the output short."

const chatSystemInstruction = "You are a video intelligence assistant. " +
	"Answer in no fewer than 30 and no more than 40 words. " +
	"Be direct, technical and professional."

// RenderHistory serializes prior turns as alternating "User:"/"Assistant:"
// lines. When maxChars is positive and the transcript would exceed it, the
// oldest whole turns are left out; omitted reports how many.
func RenderHistory(history []Turn, maxChars int) (rendered string, omitted int) {
	lines := make([]string, len(history))
	total := 0
	for i, t := range history {
		lines[i] = fmt.Sprintf("%s: %s", speaker(t.Role), t.Content)
		total += len(lines[i])
	}
	if len(lines) > 1 {
		total += len(lines) - 1
	}

	if maxChars > 0 {
		for len(lines) > 0 && total > maxChars {
			total -= len(lines[0])
			if len(lines) > 1 {
				total--
			}
			lines = lines[1:]
			omitted++
		}
	}

	return strings.Join(lines, "\n"), omitted
}

func speaker(r Role) string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

func chatPrompt(historyText, question string) string {
	return fmt.Sprintf("Context: %s\n\nQuestion: %s", historyText, question)
}
