package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	syncWriteWait      = 5 * time.Second
	syncPongWait       = 60 * time.Second
	syncPingPeriod     = (syncPongWait * 9) / 10
	syncMaxMessageSize = 1024
)

// syncHandler streams detections for the player's reported position and
// pushes a state frame whenever the session changes.
func syncHandler(cfg ServerConfig) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || isAllowedOrigin(origin, cfg.AllowedOrigins...)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, ok := sessionFromRequest(w, r, cfg)
		if !ok {
			return
		}
		id := chi.URLParam(r, "id")

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			cfg.Logger.Debug("sync upgrade failed", "session_id", id, "error", err)
			return
		}
		defer ws.Close()

		logger := cfg.Logger.With("session_id", id)
		logger.Debug("sync client connected", "remote", r.RemoteAddr)

		positions := make(chan float64, 1)
		readErrs := make(chan error, 1)
		done := make(chan struct{})
		defer close(done)

		ws.SetReadLimit(syncMaxMessageSize)
		ws.SetReadDeadline(time.Now().Add(syncPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(syncPongWait))
		})

		go func() {
			for {
				_, msg, err := ws.ReadMessage()
				if err != nil {
					readErrs <- err
					return
				}
				var req SyncRequest
				if err := json.Unmarshal(msg, &req); err != nil || req.T == nil || *req.T < 0 || math.IsNaN(*req.T) || math.IsInf(*req.T, 0) {
					readErrs <- errBadPosition
					return
				}
				// Keep only the newest position when the writer falls behind.
				select {
				case <-positions:
				default:
				}
				select {
				case positions <- *req.T:
				case <-done:
					return
				}
			}
		}()

		write := func(frame SyncFrame) error {
			ws.SetWriteDeadline(time.Now().Add(syncWriteWait))
			return ws.WriteJSON(frame)
		}

		changed := ctrl.Changed()
		snap := ctrl.Snapshot()
		if err := write(SyncFrame{Type: "state", Session: &snap}); err != nil {
			return
		}

		ticker := time.NewTicker(syncPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case t := <-positions:
				// A live player counts as activity for the idle sweeper.
				if _, err := cfg.Sessions.Get(id); err != nil {
					write(SyncFrame{Type: "error", Error: "session not found"})
					return
				}
				if err := write(SyncFrame{Type: "detections", T: &t, Detections: ToOverlay(ctrl.ActiveAt(t))}); err != nil {
					return
				}

			case <-changed:
				changed = ctrl.Changed()
				if _, err := cfg.Sessions.Get(id); err != nil {
					write(SyncFrame{Type: "error", Error: "session not found"})
					return
				}
				snap := ctrl.Snapshot()
				if err := write(SyncFrame{Type: "state", Session: &snap}); err != nil {
					return
				}

			case err := <-readErrs:
				if errors.Is(err, errBadPosition) {
					write(SyncFrame{Type: "error", Error: err.Error()})
					ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseUnsupportedData, err.Error()),
						time.Now().Add(syncWriteWait))
					return
				}
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("sync client read failed", "error", err)
				}
				return

			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(syncWriteWait)); err != nil {
					return
				}

			case <-r.Context().Done():
				return
			}
		}
	}
}

var errBadPosition = errors.New(`expected {"t": <non-negative seconds>}`)
