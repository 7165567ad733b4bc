// Package session owns the upload → analyze → active → chat lifecycle of one
// uploaded video. A Controller is the only mutable state in the service; HTTP
// handlers and the CLI read it through immutable Snapshots.
package session

import (
	"errors"
	"time"

	"github.com/heimdex/heimdex-intel/internal/detection"
)

// State is the lifecycle position of a session.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StateAnalyzing State = "analyzing"
	StateActive    State = "active"
	StateError     State = "error"
)

// Busy reports whether the session is still working towards a result.
func (s State) Busy() bool {
	return s == StateUploading || s == StateAnalyzing
}

var (
	ErrNotActive         = errors.New("session is not active")
	ErrChatBusy          = errors.New("a chat request is already in flight")
	ErrInvalidTransition = errors.New("session is in error state; reset required")
	ErrEmptyQuestion     = errors.New("question is empty")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSuperseded        = errors.New("session was reset or replaced while the request was in flight")
	ErrClosed            = errors.New("session is closed")
)

// Recorder receives lifecycle measurements. A nil Recorder is allowed.
type Recorder interface {
	AnalysisCompleted(elapsed time.Duration, stats detection.ParseStats, err error)
	ChatCompleted(elapsed time.Duration, err error)
	SessionsActive(n int)
}

type nopRecorder struct{}

func (nopRecorder) AnalysisCompleted(time.Duration, detection.ParseStats, error) {}
func (nopRecorder) ChatCompleted(time.Duration, error)                           {}
func (nopRecorder) SessionsActive(int)                                           {}
