package tui

import "strings"

const (
	// transcriptWindow is the number of characters of model speech shown.
	transcriptWindow = 180

	// ellipsisReach is how far into the window the first space may be for
	// the cut to move to it.
	ellipsisReach = 20
)

// appendTranscript adds delta to the displayed transcript. The empty delta
// clears it. Once the text exceeds the window only its tail is kept; when
// the tail starts mid-word and a space follows soon, the partial word is
// replaced by an ellipsis.
func appendTranscript(cur, delta string) string {
	if delta == "" {
		return ""
	}
	next := []rune(cur + delta)
	if len(next) <= transcriptWindow {
		return string(next)
	}
	tail := string(next[len(next)-transcriptWindow:])
	if i := strings.IndexRune(tail, ' '); i > 0 && len([]rune(tail[:i])) < ellipsisReach {
		return "..." + tail[i:]
	}
	return tail
}
