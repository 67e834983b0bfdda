package tui

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAppendTranscript(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("breathe in slowly ", 12) // 216 chars

	tests := []struct {
		name  string
		cur   string
		delta string
		check func(t *testing.T, got string)
	}{
		{
			name: "short text is kept",
			cur:  "Hello ", delta: "there.",
			check: func(t *testing.T, got string) {
				if got != "Hello there." {
					t.Errorf("got %q", got)
				}
			},
		},
		{
			name: "empty delta clears",
			cur:  "something", delta: "",
			check: func(t *testing.T, got string) {
				if got != "" {
					t.Errorf("got %q, want empty", got)
				}
			},
		},
		{
			name: "long text keeps the tail behind an ellipsis",
			cur:  "", delta: long,
			check: func(t *testing.T, got string) {
				if !strings.HasPrefix(got, "... ") {
					t.Errorf("got %q, want ellipsis prefix", got)
				}
				if !strings.HasSuffix(got, "breathe in slowly ") {
					t.Errorf("tail lost: %q", got)
				}
				if n := utf8.RuneCountInString(got); n > transcriptWindow+3 {
					t.Errorf("length %d exceeds window", n)
				}
			},
		},
		{
			name: "no nearby space keeps the raw tail",
			cur:  strings.Repeat("x", 170), delta: strings.Repeat("y", 30),
			check: func(t *testing.T, got string) {
				if utf8.RuneCountInString(got) != transcriptWindow || strings.HasPrefix(got, "...") {
					t.Errorf("got %q", got)
				}
			},
		},
		{
			name: "counts runes not bytes",
			cur:  strings.Repeat("ä", 179), delta: "ö",
			check: func(t *testing.T, got string) {
				if utf8.RuneCountInString(got) != transcriptWindow || !utf8.ValidString(got) {
					t.Errorf("got %d runes, valid=%v", utf8.RuneCountInString(got), utf8.ValidString(got))
				}
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.check(t, appendTranscript(tc.cur, tc.delta))
		})
	}
}

func TestAppendTranscript_Sliding(t *testing.T) {
	t.Parallel()

	var got string
	for range 50 {
		got = appendTranscript(got, "inhale for four, ")
	}
	if n := utf8.RuneCountInString(got); n > transcriptWindow+3 {
		t.Fatalf("window grew to %d runes", n)
	}
	if !strings.HasSuffix(got, "inhale for four, ") {
		t.Errorf("latest fragment missing: %q", got)
	}
}
