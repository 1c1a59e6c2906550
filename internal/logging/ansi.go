package logging

import "regexp"

// ANSI color sequences used for bracketed status tags in audit reports.
// Companion tooling matches report lines by regex, so color always wraps
// the tag alone and StripANSI must recover the plain text exactly.
const (
	ansiRed    = "\033[1;31m"
	ansiGreen  = "\033[1;32m"
	ansiYellow = "\033[1;33m"
	ansiPurple = "\033[1;34m"
	ansiReset  = "\033[0m"
)

var ansiPattern = regexp.MustCompile(`\033\[[0-9;]*m`)

// StripANSI removes every ANSI escape sequence from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// ColorTag wraps a bracketed status tag such as "[IDLE]" in the color
// conventionally used for it. Unknown tags are returned unchanged.
func ColorTag(tag string) string {
	switch tag {
	case "[IDLE]":
		return ansiGreen + tag + ansiReset
	case "[BUSY]":
		return ansiPurple + tag + ansiReset
	case "[SSH_FAIL]", "[ERROR]":
		return ansiRed + tag + ansiReset
	case "[TIMEOUT]", "[DELETE]":
		return ansiYellow + tag + ansiReset
	default:
		return tag
	}
}
