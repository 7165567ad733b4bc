package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
)

// Server writes in-memory media with Range support.
type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeContent writes size bytes of content, or the requested sub-range. A
// malformed Range header is ignored and the full body is sent, matching what
// browsers expect from static file servers.
func (s *Server) ServeContent(w http.ResponseWriter, r *http.Request, name, contentType string, content io.ReadSeeker, size int64) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-store")
	if name != "" {
		h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	}

	parsedRange, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	if err != nil {
		s.logger.Debug("ignoring malformed range header", "range", r.Header.Get("Range"))
		parsedRange = nil
	}

	start, length, status := int64(0), size, http.StatusOK
	if parsedRange != nil {
		start, length, status = parsedRange.Start, parsedRange.ContentLength(), http.StatusPartialContent
		h.Set("Content-Range", parsedRange.ContentRange(size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))

	if _, err := content.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := io.CopyN(w, content, length); err != nil {
		// Players routinely abort range requests mid-body when seeking.
		s.logger.Debug("media copy interrupted", "error", err)
	}
	return nil
}
