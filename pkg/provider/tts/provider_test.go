package tts_test

import (
	"errors"
	"testing"

	"github.com/lkeff/voicerelay/pkg/provider/tts"
)

func TestCheckText(t *testing.T) {
	if err := tts.CheckText(""); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("empty: err = %v", err)
	}
	if err := tts.CheckText(" \t"); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("blank: err = %v", err)
	}
	if err := tts.CheckText("hi there"); err != nil {
		t.Errorf("valid: err = %v", err)
	}
}

func TestRateFromFormat(t *testing.T) {
	tests := []struct {
		format string
		want   int
	}{
		{"pcm_16000", 16000},
		{"pcm_24000", 24000},
		{"pcm", 22050},
		{"mp3_44100_128", 22050},
		{"pcm_abc", 22050},
	}
	for _, tc := range tests {
		if got := tts.RateFromFormat(tc.format, 22050); got != tc.want {
			t.Errorf("RateFromFormat(%q) = %d, want %d", tc.format, got, tc.want)
		}
	}
}
