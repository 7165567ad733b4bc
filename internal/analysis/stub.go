package analysis

import (
	"context"
	"log/slog"

	"github.com/heimdex/heimdex-intel/internal/detection"
)

const stubAnalysisResponse = `Summary: Offline mode. A **vehicle** crosses the frame while a **person** waits at the kerb.
[DETECTIONS]
{"label": "Vehicle", "timestamp": 1.0, "box_2d": [420, 120, 640, 380], "sentiment": "good"}
{"label": "Person", "timestamp": 1.0, "box_2d": [300, 700, 820, 790], "sentiment": "good"}
{"label": "Vehicle", "timestamp": 2.0, "box_2d": [420, 360, 640, 620], "sentiment": "good"}
[/DETECTIONS]`

const stubChatResponse = "Offline mode is active, so no hosted model was consulted for this question. " +
	"Configure a Gemini API key to receive grounded answers about the uploaded video instead of this fixed placeholder reply."

// StubClient is used when no model credentials are configured. It answers
// every call with fixed text so the rest of the service can be exercised.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (c *StubClient) Analyze(ctx context.Context, media Media) (*Analysis, error) {
	c.logger.Info("analysis stub: returning canned response", "mime_type", media.MIMEType, "payload_chars", len(media.Data))
	result, stats := detection.ParseWithStats(stubAnalysisResponse)
	return &Analysis{AnalysisResult: result, Stats: stats}, nil
}

func (c *StubClient) Chat(ctx context.Context, media Media, question string, history []Turn) (string, error) {
	c.logger.Info("analysis stub: returning canned chat reply", "history_turns", len(history))
	return stubChatResponse, nil
}
