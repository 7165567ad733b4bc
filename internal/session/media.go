package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/heimdex/heimdex-intel/internal/analysis"
)

// DefaultMaxMediaBytes bounds an upload held in memory.
const DefaultMaxMediaBytes int64 = 200 << 20

// VideoExtensions maps accepted file extensions to their MIME type.
var VideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
}

var (
	ErrEmptyMedia       = errors.New("media is empty")
	ErrMediaTooLarge    = errors.New("media exceeds size limit")
	ErrUnsupportedMedia = errors.New("unsupported media type")
)

// MediaDecodeFailure reports that an upload could not be turned into a
// transport payload.
type MediaDecodeFailure struct {
	Name string
	Err  error
}

func (e *MediaDecodeFailure) Error() string {
	return fmt.Sprintf("media decode failed for %q: %v", e.Name, e.Err)
}

func (e *MediaDecodeFailure) Unwrap() error {
	return e.Err
}

// IsVideoFile reports whether filename carries a known video extension.
func IsVideoFile(filename string) bool {
	_, ok := VideoExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// DetectMIMEType resolves the MIME type of an upload from the declared
// content type, falling back to the file extension when the declaration is
// missing or generic.
func DetectMIMEType(name, declared string) (string, error) {
	if declared != "" {
		mt, _, err := mime.ParseMediaType(declared)
		if err == nil {
			mt = strings.ToLower(mt)
			if strings.HasPrefix(mt, "video/") {
				return mt, nil
			}
			if mt != "application/octet-stream" {
				return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, mt)
			}
		}
	}

	if mt, ok := VideoExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		return mt, nil
	}
	return "", fmt.Errorf("%w: cannot infer type of %q", ErrUnsupportedMedia, name)
}

// readMedia reads at most maxBytes from r and prepares the transport payload.
// Content sniffing is the last resort when neither the declared type nor the
// extension identify a video.
func readMedia(r io.Reader, name, declared string, maxBytes int64) ([]byte, analysis.Media, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxMediaBytes
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, analysis.Media{}, &MediaDecodeFailure{Name: name, Err: fmt.Errorf("read upload: %w", err)}
	}
	if len(data) == 0 {
		return nil, analysis.Media{}, &MediaDecodeFailure{Name: name, Err: ErrEmptyMedia}
	}
	if int64(len(data)) > maxBytes {
		return nil, analysis.Media{}, &MediaDecodeFailure{Name: name, Err: fmt.Errorf("%w (%d bytes)", ErrMediaTooLarge, maxBytes)}
	}

	mt, err := DetectMIMEType(name, declared)
	if err != nil {
		sniffed := http.DetectContentType(data)
		if !strings.HasPrefix(sniffed, "video/") {
			return nil, analysis.Media{}, &MediaDecodeFailure{Name: name, Err: err}
		}
		mt = sniffed
	}

	return data, analysis.Media{
		MIMEType: mt,
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}
