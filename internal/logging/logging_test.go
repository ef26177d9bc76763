package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := New(c.in, false).GetLevel(); got != c.want {
			t.Errorf("New(%q) level = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestNewPretty(t *testing.T) {
	// Pretty mode swaps the writer; it must not affect the level.
	if got := New("debug", true).GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("pretty logger level = %s, want debug", got)
	}
}
