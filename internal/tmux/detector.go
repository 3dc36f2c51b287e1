package tmux

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
)

var detectLog = logging.ForComponent(logging.CompDetect)

// Pane is the read side of an execution target, as much of it as
// completion detection needs. *Target satisfies it; tests use fakes.
type Pane interface {
	Capture() (string, error)
	HasActiveChildWork() (bool, error)
}

// IsComplete reports whether the most recently dispatched command on the
// pane has finished.
//
// The primary signal is process state: an idle shell (no child
// processes) means the command is done. It is immune to prompt-format
// variation and to output that merely resembles a prompt. When the
// process check is unavailable (pane PID unresolvable, inspection
// error), detection falls back to prompt heuristics on the visible
// content. Empty output is never complete.
func IsComplete(p Pane) bool {
	busy, err := p.HasActiveChildWork()
	if err == nil {
		return !busy
	}

	detectLog.Debug("process_detection_unavailable", slog.String("error", err.Error()))

	content, err := p.Capture()
	if err != nil {
		return false
	}
	return PromptVisible(Sanitize(content))
}

// Shell-prompt-ending heuristics, matched against the last non-empty
// line. Tuned to common interactive shells; unusual prompts without a
// $/#/>/% ending will not match, which is an accepted approximation.
var promptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$\s*$`), // bash/zsh user prompt
	regexp.MustCompile(`#\s*$`),  // root prompt
	regexp.MustCompile(`>\s*$`),  // windows-style prompt
	regexp.MustCompile(`%\s*$`),  // zsh/csh prompt
}

// PromptVisible reports whether the last non-empty line of sanitized
// content ends like a shell prompt. Branch decorations such as
// "user@host (main)$" match naturally since only the ending is checked.
func PromptVisible(content string) bool {
	lastLine := lastNonEmptyLine(content)
	if lastLine == "" {
		return false
	}
	for _, re := range promptPatterns {
		if re.MatchString(lastLine) {
			return true
		}
	}
	return false
}

func lastNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Patterns that indicate a command is waiting for human input. Checked
// against the tail of sanitized output, independent of completion: a
// command can look interactive while still running.
var interactivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[sudo\] password for`),
	regexp.MustCompile(`(?i)password\s*:\s*$`),
	regexp.MustCompile(`(?i)passphrase.*:\s*$`),
	regexp.MustCompile(`(?i)are you sure.*\?`),
	regexp.MustCompile(`\((?i:y(es)?/n(o)?)\)`),
	regexp.MustCompile(`\[(?i:y(es)?/n(o)?)\]`),
	regexp.MustCompile(`(?i)do you want to continue`),
	regexp.MustCompile(`(?i)press any key to continue`),
	regexp.MustCompile(`(?i)press enter to continue`),
	regexp.MustCompile(`(?i)waiting for.*confirmation`),
}

// interactiveScanLines bounds how far back LooksInteractive searches so
// a confirmation prompt scrolled far off-tail does not keep firing.
const interactiveScanLines = 5

// LooksInteractive reports whether the sanitized output tail matches a
// password, confirmation, or press-any-key prompt.
func LooksInteractive(content string) bool {
	content = Sanitize(content)
	lines := strings.Split(content, "\n")
	start := len(lines) - interactiveScanLines
	if start < 0 {
		start = 0
	}
	tail := strings.Join(lines[start:], "\n")

	for _, re := range interactivePatterns {
		if re.MatchString(tail) {
			return true
		}
	}
	return false
}
