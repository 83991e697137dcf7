package wire

import "strings"

// SplitLines breaks one websocket text frame into IRC lines. The server may
// batch several lines into a frame separated by CRLF; empty fragments are
// dropped and order is preserved.
func SplitLines(frame []byte) []string {
	parts := strings.Split(string(frame), "\n")
	lines := parts[:0]
	for _, p := range parts {
		p = strings.TrimRight(p, "\r")
		if p == "" {
			continue
		}
		lines = append(lines, p)
	}
	return lines
}
