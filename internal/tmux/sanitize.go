package tmux

import "strings"

// Sanitize normalizes captured pane content for comparison and display:
// ANSI escape/control sequences and carriage returns are stripped and
// each line is right-trimmed, while blank lines are preserved because the
// line structure matters for downstream display. Idempotent.
func Sanitize(content string) string {
	content = StripANSI(content)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		line = strings.ReplaceAll(line, "\r", "")
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// StripANSI removes ANSI escape codes from content in a single O(n) pass.
// Regex is deliberately avoided: complex ANSI patterns can backtrack
// catastrophically on malformed escape sequences.
func StripANSI(content string) string {
	// Fast path: no ESC and no 8-bit CSI means nothing to strip.
	if strings.IndexByte(content, '\x1b') < 0 && strings.IndexByte(content, '\x9b') < 0 {
		return content
	}

	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		if content[i] == '\x1b' {
			// CSI sequence: ESC [ ... letter
			if i+1 < len(content) && content[i+1] == '[' {
				j := i + 2
				for j < len(content) {
					c := content[j]
					if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
						j++
						break
					}
					j++
				}
				i = j
				continue
			}
			// OSC sequence: ESC ] ... BEL or ST
			if i+1 < len(content) && content[i+1] == ']' {
				if bell := strings.Index(content[i:], "\x07"); bell != -1 {
					i += bell + 1
					continue
				}
				if st := strings.Index(content[i:], "\x1b\\"); st != -1 {
					i += st + 2
					continue
				}
			}
			// Other escape: ESC plus one char
			if i+1 < len(content) {
				i += 2
				continue
			}
		}
		// 8-bit CSI (0x9B) without ESC
		if content[i] == '\x9b' {
			j := i + 1
			for j < len(content) {
				c := content[j]
				if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
					j++
					break
				}
				j++
			}
			i = j
			continue
		}
		b.WriteByte(content[i])
		i++
	}

	return b.String()
}
