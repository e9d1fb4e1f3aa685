package iteration

import (
	"regexp"
	"strings"
)

// markerPattern matches a completion marker that appears alone on its own
// line: <promise>DONE_xxxxxxxx</promise>, case-insensitive, with optional
// whitespace inside the tags. Requiring the marker to stand alone on a
// line (rather than matching anywhere in the text) is what keeps an agent
// that merely *mentions* the marker format in passing from falsely
// triggering completion.
var markerPattern = regexp.MustCompile(`(?im)^\s*<promise>\s*(DONE_[a-z0-9]{8})\s*</promise>\s*$`)

// fencedCodeBlock matches a ``` ... ``` fenced block, including the
// fences themselves, so a marker quoted inside example code never
// triggers detection.
var fencedCodeBlock = regexp.MustCompile("(?s)```.*?```")

// inlineCode matches `...` inline code spans.
var inlineCode = regexp.MustCompile("`[^`\n]*`")

// DetectMarker scans assistant-role text for the specific per-run
// completion marker built from expectedSuffix and returns it if found.
// Fenced and inline code spans are stripped before matching, so a marker
// an agent pastes as an example inside a code block is never mistaken
// for the real signal. A marker-shaped string with a different suffix -
// whether hallucinated or left over from a different run - is ignored:
// only the exact marker this run handed the agent can complete it.
func DetectMarker(expectedSuffix, text string) (marker string, found bool) {
	stripped := fencedCodeBlock.ReplaceAllString(text, "")
	stripped = inlineCode.ReplaceAllString(stripped, "")

	want := "done_" + strings.ToLower(expectedSuffix)

	matches := markerPattern.FindAllStringSubmatch(stripped, -1)
	// The last matching standalone marker wins: an agent that
	// second-guesses itself and emits a corrected marker later in the
	// same message should have the later one take effect.
	for i := len(matches) - 1; i >= 0; i-- {
		if strings.ToLower(matches[i][1]) == want {
			return matches[i][1], true
		}
	}
	return "", false
}

// NewExpectedMarker returns the exact marker string
// (<promise>DONE_xxxxxxxx</promise>) the Iteration Engine should instruct
// the agent to emit for one run, given an 8-character lowercase
// alphanumeric suffix.
func NewExpectedMarker(suffix string) string {
	return "<promise>DONE_" + suffix + "</promise>"
}
