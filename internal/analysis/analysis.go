// Package analysis wraps the hosted multimodal model behind two one-shot
// operations: analyzing an uploaded video and answering a follow-up question
// about it. Every call carries its full context; the client keeps no state
// between calls.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/heimdex/heimdex-intel/internal/detection"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NoAnswerFallback is returned by Chat when the model replies with no text.
const NoAnswerFallback = "No analysis available."

// Media is an uploaded video ready for transport: base64 payload plus MIME type.
type Media struct {
	MIMEType string
	Data     string
}

// Turn is one side of a chat exchange.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Analysis is the parsed outcome of one analyze call.
type Analysis struct {
	detection.AnalysisResult
	Stats detection.ParseStats
}

// Client is the request/response contract with the external model.
type Client interface {
	Analyze(ctx context.Context, media Media) (*Analysis, error)
	Chat(ctx context.Context, media Media, question string, history []Turn) (string, error)
}

// AnalysisFailure reports that an analyze call could not complete.
type AnalysisFailure struct {
	Err error
}

func (e *AnalysisFailure) Error() string {
	return fmt.Sprintf("analysis failed: %v", e.Err)
}

func (e *AnalysisFailure) Unwrap() error {
	return e.Err
}

// ChatFailure reports that a chat call could not complete.
type ChatFailure struct {
	Err error
}

func (e *ChatFailure) Error() string {
	return fmt.Sprintf("chat failed: %v", e.Err)
}

func (e *ChatFailure) Unwrap() error {
	return e.Err
}
