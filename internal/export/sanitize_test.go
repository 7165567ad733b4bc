package export

import (
	"strings"
	"testing"
)

func TestSanitizeName_ControlChars(t *testing.T) {
	got := SanitizeName(" A\nB\rC\tD\x00 ", 100)
	if strings.ContainsAny(got, "\n\r\t\x00") {
		t.Fatalf("sanitize output contains control chars: %q", got)
	}
	if got != "ABCD" {
		t.Fatalf("SanitizeName control char behavior mismatch, got %q", got)
	}
}

func TestSanitizeName_MaxLength(t *testing.T) {
	got := SanitizeName("abcdefghijklmnopqrstuvwxyz", 10)
	if len([]rune(got)) != 10 {
		t.Fatalf("expected length 10, got %d (%q)", len([]rune(got)), got)
	}
}

func TestSanitizeName_ReplacesDisallowed(t *testing.T) {
	got := SanitizeName("bad<>|\"name", 100)
	if got != "bad____name" {
		t.Fatalf("SanitizeName disallowed replacement mismatch: got %q", got)
	}
}

func TestSanitizeCueText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Car", "Car"},
		{"  Red\tcar\r\n", "Red car"},
		{"A & B", "A &amp; B"},
		{"<v Person>", "&lt;v Person&gt;"},
	}

	for _, tc := range tests {
		if got := SanitizeCueText(tc.in); got != tc.want {
			t.Errorf("SanitizeCueText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTrackFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Street Cam.mp4", "Street Cam.vtt"},
		{"/uploads/clip.final.mov", "clip.final.vtt"},
		{"bad|name?.webm", "bad_name_.vtt"},
		{"", "detections.vtt"},
		{"\x00.mp4", "detections.vtt"},
	}

	for _, tc := range tests {
		if got := TrackFileName(tc.in); got != tc.want {
			t.Errorf("TrackFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
