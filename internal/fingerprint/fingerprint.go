package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

const VersionV1 = "v1"

// Lines containing these markers change on every build and never count as content.
var volatileMarkers = []string{"Build Number", "Build URL"}

// Description digests an issue description with build linkage lines removed.
func Description(text string) string {
	h := sha1.New()
	for _, line := range Normalize(text) {
		fmt.Fprintf(h, "%d:%s\n", len(line), line)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize returns the description lines that take part in the digest.
func Normalize(text string) []string {
	// Jira hands descriptions back with LF line ends, so CRLF and LF compare equal.
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if isVolatile(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func Matches(oldText, newText string) bool {
	return Description(oldText) == Description(newText)
}

func isVolatile(line string) bool {
	for _, m := range volatileMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}
