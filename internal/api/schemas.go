package api

import (
	"github.com/heimdex/heimdex-intel/internal/analysis"
	"github.com/heimdex/heimdex-intel/internal/detection"
	"github.com/heimdex/heimdex-intel/internal/session"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	Model    string `json:"model"`
	Sessions int    `json:"sessions"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type UploadResponse struct {
	SessionID string        `json:"session_id"`
	State     session.State `json:"state"`
	FileName  string        `json:"file_name"`
	MIMEType  string        `json:"mime_type"`
	Bytes     int           `json:"bytes"`
}

// OverlayDetection is a detection as the player draws it: the raw box as
// reported, the ordered and clamped box to render, and a category hint.
type OverlayDetection struct {
	detection.Detection
	BoxNormalized detection.Box `json:"box_normalized"`
	Category      string        `json:"category"`
}

type DetectionsResponse struct {
	Time           *float64           `json:"t,omitempty"`
	Detections     []OverlayDetection `json:"detections"`
	Count          int                `json:"count"`
	UniqueEntities int                `json:"unique_entities"`
}

type ChatRequest struct {
	Question string `json:"question"`
}

type ChatResponse struct {
	Turn analysis.Turn `json:"turn"`
}

type LogsResponse struct {
	Logs []session.LogEntry `json:"logs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// SyncRequest is a playback position report from the player.
type SyncRequest struct {
	T *float64 `json:"t"`
}

// SyncFrame is pushed over the sync socket. Type is "detections" in reply to
// a position report, "state" when the session changes, or "error". Only
// detections frames carry the detections field, as an array even when empty.
type SyncFrame struct {
	Type       string             `json:"type"`
	T          *float64           `json:"t,omitempty"`
	Detections []OverlayDetection `json:"detections,omitzero"`
	Session    *session.Snapshot  `json:"session,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// ToOverlay projects detections for rendering. The result is never nil.
func ToOverlay(dets []detection.Detection) []OverlayDetection {
	out := make([]OverlayDetection, 0, len(dets))
	for _, d := range dets {
		out = append(out, OverlayDetection{
			Detection:     d,
			BoxNormalized: d.Box.Normalized(),
			Category:      detection.Category(d),
		})
	}
	return out
}

func UploadToResponse(s session.Snapshot) UploadResponse {
	return UploadResponse{
		SessionID: s.ID,
		State:     s.State,
		FileName:  s.FileName,
		MIMEType:  s.MIMEType,
		Bytes:     s.MediaBytes,
	}
}
