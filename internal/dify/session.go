package dify

import "strings"

// overlapWindow is how many characters of already-accumulated text are
// searched for at the head of a continuation turn. The service tends to
// restate a short tail of the previous turn to anchor the continuation.
const overlapWindow = 100

// session is the ephemeral state of one translation call. It is created at
// the start of Translate and discarded when the call returns; only the
// final text and usage survive it. Usage always starts from zero so a turn
// without a usage payload can never inherit values from an earlier call.
type session struct {
	conversationID string
	text           strings.Builder
	usage          Usage
	turns          int
}

// minOverlap is the shortest seam worth deduplicating; anything shorter is
// as likely to be a coincidental character match as a restated tail.
const minOverlap = 4

// append adds one turn's text to the accumulated buffer, removing the
// overlap a continuation turn may restate. The final overlapWindow
// characters of the accumulated text are searched as a literal substring of
// the new text (covers continuations restating more than the window); then
// the longest window suffix found at the head of the new text (covers
// shorter restatements). On a miss the text is appended unmodified, no
// semantic stitching is attempted.
func (s *session) append(turnText string) {
	if s.text.Len() == 0 {
		s.text.WriteString(turnText)
		return
	}

	tail := lastChars(s.text.String(), overlapWindow)
	if idx := strings.Index(turnText, tail); idx >= 0 {
		s.text.WriteString(turnText[idx+len(tail):])
		return
	}

	runes := []rune(tail)
	for k := len(runes) - 1; k >= minOverlap; k-- {
		suffix := string(runes[len(runes)-k:])
		if strings.HasPrefix(turnText, suffix) {
			s.text.WriteString(turnText[len(suffix):])
			return
		}
	}

	s.text.WriteString(turnText)
}

// lastChars returns the final n characters (runes, not bytes) of s.
func lastChars(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
