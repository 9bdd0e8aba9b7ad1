package sse

import "strings"

// SplitLines appends fragment to residual and splits the result on "\n".
// Every complete line is returned in wire order. The trailing element,
// possibly empty, is never complete and is returned as the new residual.
//
// A single trailing "\r" is removed from each complete line so CRLF framed
// streams classify the same as LF framed ones.
func SplitLines(residual, fragment string) ([]string, string) {
	parts := strings.Split(residual+fragment, "\n")
	rest := parts[len(parts)-1]
	lines := parts[:len(parts)-1]
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	if len(lines) == 0 {
		return nil, rest
	}
	return lines, rest
}
