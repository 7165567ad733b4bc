package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/heimdex/heimdex-intel/internal/detection"
)

const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel       = "gemini-3-flash-preview"
	DefaultTemperature = 0.1
	DefaultTimeout     = 5 * time.Minute

	apiKeyHeader    = "x-goog-api-key"
	maxErrorBodyLen = 4096
)

// ErrEmptyAPIKey is returned by NewGeminiClient when no key is configured.
var ErrEmptyAPIKey = errors.New("gemini api key is empty")

// APIError is a non-2xx reply from the Gemini API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini api error: HTTP %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini api error: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a caller-side retry could succeed. The client
// itself never retries.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int
	HistoryMaxChars   int
	Logger            *slog.Logger
}

// GeminiClient talks to the generateContent REST endpoint.
type GeminiClient struct {
	apiKey          string
	baseURL         string
	model           string
	temperature     float64
	historyMaxChars int
	httpClient      *http.Client
	limiter         *rate.Limiter
	logger          *slog.Logger
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrEmptyAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &GeminiClient{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		historyMaxChars: cfg.HistoryMaxChars,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		logger:          cfg.Logger,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// Model returns the model identifier requests are sent to.
func (c *GeminiClient) Model() string {
	return c.model
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature *float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type errorResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Analyze sends the video with the fixed analysis instruction and parses the
// reply. Any transport or protocol failure is returned as *AnalysisFailure.
func (c *GeminiClient) Analyze(ctx context.Context, media Media) (*Analysis, error) {
	temp := c.temperature
	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: analyzeSystemInstruction}}},
		Contents:          []content{mediaContent(media, analyzePrompt)},
		GenerationConfig:  generationConfig{Temperature: &temp},
	}

	start := time.Now()
	text, err := c.generate(ctx, req)
	if err != nil {
		c.logger.Error("analysis request failed", "model", c.model, "error", err)
		return nil, &AnalysisFailure{Err: err}
	}

	result, stats := detection.ParseWithStats(text)
	c.logger.Info("analysis completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_chars", len(text),
		"detections", stats.Accepted,
		"dropped_fragments", stats.Dropped,
		"block_found", stats.BlockFound,
	)
	return &Analysis{AnalysisResult: result, Stats: stats}, nil
}

// Chat asks a follow-up question about the video, replaying history as text.
// Failures are returned as *ChatFailure.
func (c *GeminiClient) Chat(ctx context.Context, media Media, question string, history []Turn) (string, error) {
	historyText, omitted := RenderHistory(history, c.historyMaxChars)
	if omitted > 0 {
		c.logger.Warn("chat history exceeds limit, oldest turns omitted",
			"omitted_turns", omitted,
			"limit_chars", c.historyMaxChars,
		)
	}

	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: chatSystemInstruction}}},
		Contents:          []content{mediaContent(media, chatPrompt(historyText, question))},
	}

	text, err := c.generate(ctx, req)
	if err != nil {
		c.logger.Error("chat request failed", "model", c.model, "error", err)
		return "", &ChatFailure{Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return NoAnswerFallback, nil
	}
	return text, nil
}

func mediaContent(media Media, text string) content {
	return content{
		Role: "user",
		Parts: []part{
			{InlineData: &inlineData{MimeType: media.MIMEType, Data: media.Data}},
			{Text: text},
		},
	}
}

func (c *GeminiClient) generate(ctx context.Context, payload generateRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	c.logger.Debug("sending generateContent request", "url", url, "body_bytes", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodeAPIError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(out.Candidates) == 0 {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", out.PromptFeedback.BlockReason)
		}
		return "", nil
	}

	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil {
		apiErr.Status = parsed.Error.Status
		apiErr.Message = parsed.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
