package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-intel/internal/analysis"
	"github.com/heimdex/heimdex-intel/internal/config"
	"github.com/heimdex/heimdex-intel/internal/detection"
	"github.com/heimdex/heimdex-intel/internal/export"
	"github.com/heimdex/heimdex-intel/internal/session"
)

const (
	uploadFieldName   = "video"
	multipartOverhead = 1 << 20
	maxChatBodyBytes  = 64 << 10
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", createSessionHandler(cfg))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getSessionHandler(cfg))
			r.Delete("/", deleteSessionHandler(cfg))
			r.Post("/reset", resetSessionHandler(cfg))
			r.Post("/upload", uploadHandler(cfg))
			r.Get("/detections", detectionsHandler(cfg))
			r.Get("/detections.vtt", detectionsVTTHandler(cfg))
			r.Post("/chat", chatHandler(cfg))
			r.Get("/logs", logsHandler(cfg))
			r.Get("/media", mediaHandler(cfg))
			r.Head("/media", mediaHandler(cfg))
			r.Get("/sync", syncHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = config.Version
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  version,
			UptimeS:  int64(time.Since(cfg.StartTime).Seconds()),
			Model:    cfg.Model,
			Sessions: cfg.Sessions.Len(),
		})
	}
}

// sessionFromRequest resolves the {id} URL parameter, writing a 404 when the
// session does not exist.
func sessionFromRequest(w http.ResponseWriter, r *http.Request, cfg ServerConfig) (*session.Controller, bool) {
	ctrl, err := cfg.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
		return nil, false
	}
	return ctrl, true
}

func createSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl := cfg.Sessions.Create()
		w.Header().Set("Location", "/sessions/"+ctrl.ID())
		WriteJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: ctrl.ID()})
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

func deleteSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func resetSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}
		ctrl.Reset()
		WriteJSON(w, http.StatusOK, ctrl.Snapshot())
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}

		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+multipartOverhead)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "expected multipart/form-data body", "BAD_REQUEST")
			return
		}

		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				WriteError(w, http.StatusBadRequest, "missing form field \""+uploadFieldName+"\"", "BAD_REQUEST")
				return
			}
			if err != nil {
				writeUploadError(w, err)
				return
			}
			if part.FormName() != uploadFieldName {
				part.Close()
				continue
			}

			err = ctrl.Upload(r.Context(), part.FileName(), part.Header.Get("Content-Type"), part)
			part.Close()
			if err != nil {
				writeUploadError(w, err)
				return
			}
			WriteJSON(w, http.StatusAccepted, UploadToResponse(ctrl.Snapshot()))
			return
		}
	}
}

func writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	var decode *session.MediaDecodeFailure
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, session.ErrMediaTooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, err.Error(), "TOO_LARGE")
	case errors.As(err, &decode):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "MEDIA_DECODE_FAILED")
	case errors.Is(err, session.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, session.ErrSuperseded):
		WriteError(w, http.StatusConflict, err.Error(), "SUPERSEDED")
	case errors.Is(err, session.ErrClosed):
		WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
	default:
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	}
}

// parsePlaybackTime reads the t query parameter; ok is false when absent.
func parsePlaybackTime(r *http.Request) (t float64, ok bool, err error) {
	raw := r.URL.Query().Get("t")
	if raw == "" {
		return 0, false, nil
	}
	t, err = strconv.ParseFloat(raw, 64)
	if err != nil || t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, false, errors.New("t must be a non-negative number of seconds")
	}
	return t, true, nil
}

func detectionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}

		t, hasTime, err := parsePlaybackTime(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		snap := ctrl.Snapshot()
		dets := snap.Detections
		resp := DetectionsResponse{UniqueEntities: snap.UniqueEntities}
		if hasTime {
			resp.Time = &t
			dets = detection.ActiveAt(dets, t)
		}
		resp.Detections = ToOverlay(dets)
		resp.Count = len(resp.Detections)
		WriteJSON(w, http.StatusOK, resp)
	}
}

func detectionsVTTHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}

		snap := ctrl.Snapshot()
		if snap.State != session.StateActive {
			WriteError(w, http.StatusConflict, session.ErrNotActive.Error(), "NOT_ACTIVE")
			return
		}

		w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
		w.Header().Set("Content-Disposition", "inline; filename=\""+export.TrackFileName(snap.FileName)+"\"")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, export.GenerateVTT(snap.Detections))
	}
}

func chatHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}

		var req ChatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		turn, err := ctrl.Chat(r.Context(), req.Question)
		if err != nil {
			var failure *analysis.ChatFailure
			switch {
			case errors.Is(err, session.ErrEmptyQuestion):
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			case errors.Is(err, session.ErrNotActive):
				WriteError(w, http.StatusConflict, err.Error(), "NOT_ACTIVE")
			case errors.Is(err, session.ErrChatBusy):
				WriteError(w, http.StatusConflict, err.Error(), "CHAT_BUSY")
			case errors.Is(err, session.ErrSuperseded):
				WriteError(w, http.StatusConflict, err.Error(), "SUPERSEDED")
			case errors.Is(err, session.ErrClosed):
				WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			case errors.As(err, &failure):
				WriteError(w, http.StatusBadGateway, err.Error(), "CHAT_FAILED")
			default:
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}

		WriteJSON(w, http.StatusOK, ChatResponse{Turn: turn})
	}
}

func logsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, LogsResponse{Logs: ctrl.Snapshot().Logs})
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}

		name, mimeType, data, ok := ctrl.Media()
		if !ok {
			WriteError(w, http.StatusNotFound, "no media uploaded", "NO_MEDIA")
			return
		}

		if err := cfg.PlaybackServer.ServeContent(w, r, name, mimeType, bytes.NewReader(data), int64(len(data))); err != nil {
			cfg.Logger.Error("media playback failed", "session_id", ctrl.ID(), "error", err)
			WriteError(w, http.StatusInternalServerError, "playback failed", "INTERNAL_ERROR")
		}
	}
}
