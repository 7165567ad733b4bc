// Package playback serves uploaded media to a browser video element,
// including the byte-range requests players issue when seeking.
package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// Range is an inclusive byte range.
type Range struct {
	Start int64
	End   int64
}

func (r Range) ContentLength() int64 {
	return r.End - r.Start + 1
}

func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses a Range header against a resource of the given size.
// An empty header yields (nil, nil). Only the first range of a multi-range
// request is honoured.
func ParseRange(header string, size int64) (*Range, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(rangeSet, ","); multi {
		rangeSet = first
	}

	startText, endText, ok := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !ok {
		return nil, ErrInvalidRange
	}
	startText = strings.TrimSpace(startText)
	endText = strings.TrimSpace(endText)

	var start, end int64
	if startText == "" {
		suffixLen, err := strconv.ParseInt(endText, 10, 64)
		if err != nil || suffixLen <= 0 {
			return nil, ErrInvalidRange
		}
		if size <= 0 {
			return nil, ErrUnsatisfiable
		}
		start = max(size-suffixLen, 0)
		end = size - 1
	} else {
		var err error
		start, err = strconv.ParseInt(startText, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}

		if endText == "" {
			end = size - 1
		} else {
			end, err = strconv.ParseInt(endText, 10, 64)
			if err != nil {
				return nil, ErrInvalidRange
			}
		}
	}

	if start > end || start >= size {
		return nil, ErrUnsatisfiable
	}

	return &Range{Start: start, End: min(end, size-1)}, nil
}
