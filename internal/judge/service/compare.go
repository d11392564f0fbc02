package service

import "strings"

// NormalizeOutput folds line endings to LF, strips trailing whitespace on
// each line and drops trailing blank lines.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\f\v")
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}

// OutputMatches compares actual and expected after normalization.
func OutputMatches(actual, expected string) bool {
	return NormalizeOutput(actual) == NormalizeOutput(expected)
}
