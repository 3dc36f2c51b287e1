// Package classify derives execution metadata from raw command text.
// Classification is a pure function of the trimmed command string:
// identical input always yields identical output, and no input fails.
package classify

import (
	"regexp"
	"strings"
)

// Category is the broad kind of work a command performs.
type Category string

const (
	CategoryPackageManager Category = "package-manager"
	CategoryBuild          Category = "build"
	CategoryContainer      Category = "container"
	CategoryTesting        Category = "testing"
	CategoryVersionControl Category = "version-control"
	CategoryFileSystem     Category = "file-system"
	CategoryNetwork        Category = "network"
	CategorySystem         Category = "system"
	CategoryGeneral        Category = "general"
)

// Strategy is the synchronous wait policy derived from a classification.
type Strategy string

const (
	// StrategyQuick waits up to 5s before handing off to the background.
	StrategyQuick Strategy = "quick"
	// StrategyExtended waits up to 30s.
	StrategyExtended Strategy = "extended"
	// StrategyAsync hands off after a short grace wait.
	StrategyAsync Strategy = "async"
	// StrategyNoTimeout never auto-polls past the first check; the
	// human drives the command.
	StrategyNoTimeout Strategy = "no-timeout"
)

// SpecialFlag marks a command that needs a human-facing mode.
type SpecialFlag string

const (
	SpecialEditor  SpecialFlag = "editor"
	SpecialShell   SpecialFlag = "shell"
	SpecialREPL    SpecialFlag = "repl"
	SpecialPager   SpecialFlag = "pager"
	SpecialMonitor SpecialFlag = "monitor"
)

// Classification describes how a command should be executed and observed.
type Classification struct {
	Category      Category
	EstimatedSecs int
	LongRunning   bool
	Interactive   bool
	RequiresSudo  bool
	Special       []SpecialFlag
	Hint          string
}

// HasSpecial reports whether the classification carries the given flag.
func (c Classification) HasSpecial(flag SpecialFlag) bool {
	for _, f := range c.Special {
		if f == flag {
			return true
		}
	}
	return false
}

// NeedsDelegation reports whether the command must be handed to the human
// immediately: editors, REPLs, monitors and anything interactive or
// needing a password would otherwise sit idle under automated polling.
func (c Classification) NeedsDelegation() bool {
	return c.Interactive || c.RequiresSudo ||
		c.HasSpecial(SpecialEditor) || c.HasSpecial(SpecialREPL) ||
		c.HasSpecial(SpecialMonitor)
}

// TimeoutStrategy derives the synchronous wait policy.
func (c Classification) TimeoutStrategy() Strategy {
	switch {
	case c.Interactive:
		return StrategyNoTimeout
	case c.EstimatedSecs > 300:
		return StrategyAsync
	case c.EstimatedSecs > 30:
		return StrategyExtended
	default:
		return StrategyQuick
	}
}

// Each axis is an independent ordered rule table: first match wins within
// the axis, and every axis has a total default. Keeping the axes separate
// (rather than one cascading match) lets a command be long-running AND
// privileged AND categorized, and lets each table be tested in isolation.

type categoryRule struct {
	re       *regexp.Regexp
	category Category
}

type durationRule struct {
	re   *regexp.Regexp
	secs int
}

type specialRule struct {
	re   *regexp.Regexp
	flag SpecialFlag
	hint string
}

var sudoRe = regexp.MustCompile(`(?:^|[;&|]\s*)sudo\b`)

var longRunningRules = []*regexp.Regexp{
	regexp.MustCompile(`^(npm|yarn|pnpm)\s+(install|ci|upgrade|update)\b`),
	regexp.MustCompile(`^pip3?\s+install\b`),
	regexp.MustCompile(`^(apt|apt-get|yum|dnf)\s+(install|upgrade|dist-upgrade|full-upgrade)\b`),
	regexp.MustCompile(`^brew\s+(install|upgrade)\b`),
	regexp.MustCompile(`^(docker|podman)\s+(build|pull|push)\b`),
	regexp.MustCompile(`^docker-compose\s+(build|up)\b`),
	regexp.MustCompile(`^cargo\s+(build|install)\b`),
	regexp.MustCompile(`^(make|cmake|mvn|gradle|bazel)\b`),
	regexp.MustCompile(`^go\s+(build|install)\b`),
	regexp.MustCompile(`^git\s+clone\b`),
	regexp.MustCompile(`\b(pytest|jest|rspec)\b`),
	regexp.MustCompile(`^(npm|yarn)\s+(test|run\s+build)\b`),
	regexp.MustCompile(`^go\s+test\b`),
	regexp.MustCompile(`^rsync\b.*\s-\w*[az]`),
	regexp.MustCompile(`^(tar|zip|unzip|gzip)\b.*\s\S+`),
	regexp.MustCompile(`^find\s+/\s`),
}

var interactiveRules = []*regexp.Regexp{
	regexp.MustCompile(`^(vim?|nvim|nano|emacs|pico|helix|hx)\b`),
	regexp.MustCompile(`^(python3?|ipython|node|irb|pry|ghci|iex|erl|lua|R)\s*$`),
	regexp.MustCompile(`^(mysql|psql|sqlite3|redis-cli|mongosh?)\b`),
	regexp.MustCompile(`^(top|htop|btop|watch|iotop|iftop)\b`),
	regexp.MustCompile(`^tail\s+(-\w*f|\-\-follow)\b`),
	regexp.MustCompile(`^(less|more|man)\b`),
	regexp.MustCompile(`^(bash|zsh|sh|fish)\s*$`),
	regexp.MustCompile(`^ssh\s+(?:[^-]\S*)\s*$`),
	regexp.MustCompile(`^(tmux|screen)\b`),
	regexp.MustCompile(`^(gdb|lldb)\b`),
}

var categoryRules = []categoryRule{
	{regexp.MustCompile(`^(apt|apt-get|yum|dnf|pacman|brew|snap)\b`), CategoryPackageManager},
	{regexp.MustCompile(`^(npm|yarn|pnpm|pip3?|gem|cargo\s+install|composer)\b`), CategoryPackageManager},
	{regexp.MustCompile(`^(docker|podman|docker-compose|kubectl|helm|minikube)\b`), CategoryContainer},
	{regexp.MustCompile(`\b(pytest|jest|rspec|phpunit)\b`), CategoryTesting},
	{regexp.MustCompile(`^(go|cargo|npm|yarn|mvn|gradle|make)\s+test\b`), CategoryTesting},
	{regexp.MustCompile(`^(make|cmake|mvn|gradle|bazel|ninja)\b`), CategoryBuild},
	{regexp.MustCompile(`^(go|cargo)\s+(build|install)\b`), CategoryBuild},
	{regexp.MustCompile(`^(npm|yarn)\s+run\s+build\b`), CategoryBuild},
	{regexp.MustCompile(`^(gcc|g\+\+|clang|rustc|javac|tsc)\b`), CategoryBuild},
	{regexp.MustCompile(`^(git|svn|hg)\b`), CategoryVersionControl},
	{regexp.MustCompile(`^(ls|ll|cd|pwd|cp|mv|rm|mkdir|rmdir|touch|cat|head|tail|find|tree|du|df|ln|chmod|chown|stat)\b`), CategoryFileSystem},
	{regexp.MustCompile(`^(curl|wget|ping|ssh|scp|rsync|netstat|dig|nslookup|traceroute|nc|telnet)\b`), CategoryNetwork},
	{regexp.MustCompile(`^(ps|top|htop|kill|killall|systemctl|journalctl|service|uname|whoami|uptime|free|lsof|env|export)\b`), CategorySystem},
}

// Duration buckets in priority order: the first matching bucket wins.
var durationRules = []durationRule{
	// Very long: installs with fresh dependency resolution, release
	// builds, image builds.
	{regexp.MustCompile(`^(npm|yarn|pnpm)\s+(install|ci)\s*$`), 600},
	{regexp.MustCompile(`^pip3?\s+install\s+-r\b`), 600},
	{regexp.MustCompile(`^(apt|apt-get|yum|dnf)\s+(upgrade|dist-upgrade|full-upgrade)\b`), 600},
	{regexp.MustCompile(`^cargo\s+build\s+--release\b`), 600},
	{regexp.MustCompile(`^(docker|podman)\s+build\b`), 600},
	{regexp.MustCompile(`^docker-compose\s+build\b`), 600},
	// Long: generic builds, test suites, repository clones.
	{regexp.MustCompile(`^(make|cmake|mvn|gradle|bazel)\b`), 180},
	{regexp.MustCompile(`^git\s+clone\b`), 180},
	{regexp.MustCompile(`\b(pytest|jest|rspec)\b`), 180},
	{regexp.MustCompile(`^(go|npm|yarn|cargo)\s+test\b`), 180},
	{regexp.MustCompile(`^(apt|apt-get|yum|dnf)\s+install\b`), 180},
	// Medium: scoped dependency installs, language-specific builds.
	{regexp.MustCompile(`^(npm|yarn|pnpm)\s+(install|add)\s+\S`), 90},
	{regexp.MustCompile(`^pip3?\s+install\s+\S`), 90},
	{regexp.MustCompile(`^brew\s+(install|upgrade)\b`), 90},
	{regexp.MustCompile(`^(go|cargo)\s+(build|install)\b`), 90},
	{regexp.MustCompile(`^(npm|yarn)\s+run\s+build\b`), 90},
	{regexp.MustCompile(`^(tsc|rustc|javac)\b`), 90},
	// Short: scoped package-manager sub-commands, simple remote sync.
	{regexp.MustCompile(`^(npm|yarn|pnpm)\s+(ls|list|outdated|audit|view|info)\b`), 15},
	{regexp.MustCompile(`^(apt|apt-get)\s+(update|list|search)\b`), 15},
	{regexp.MustCompile(`^brew\s+(list|info|search)\b`), 15},
	{regexp.MustCompile(`^pip3?\s+(list|show|freeze)\b`), 15},
	{regexp.MustCompile(`^git\s+(fetch|pull|push)\b`), 15},
	{regexp.MustCompile(`^(curl|wget)\b`), 15},
}

const defaultDurationSecs = 3

var specialRules = []specialRule{
	{regexp.MustCompile(`^(vim?|nvim|nano|emacs|pico|helix|hx)\b`), SpecialEditor,
		"editor opened - switch panes to edit, the command will wait for you"},
	{regexp.MustCompile(`^(python3?|ipython|node|irb|pry|ghci|iex|erl|lua|R)\s*$`), SpecialREPL,
		"REPL started - it stays running until you exit it"},
	{regexp.MustCompile(`^(mysql|psql|sqlite3|redis-cli|mongosh?)\b`), SpecialREPL,
		"interactive client started - exit it to resume"},
	{regexp.MustCompile(`^(top|htop|btop|watch|iotop|iftop)\b`), SpecialMonitor,
		"monitor running - it needs a manual stop (q or ctrl+c)"},
	{regexp.MustCompile(`^tail\s+(-\w*f|\-\-follow)\b`), SpecialMonitor,
		"following output - stop it with ctrl+c when done"},
	{regexp.MustCompile(`^(less|more|man)\b`), SpecialPager,
		"pager opened - press q to leave it"},
	{regexp.MustCompile(`^(bash|zsh|sh|fish)\s*$`), SpecialShell,
		"nested shell started - exit to return"},
	{regexp.MustCompile(`^(tmux|screen)\b`), SpecialShell,
		"terminal multiplexer started - detach to return"},
}

const sudoHint = "elevated privileges requested - a password prompt is expected, switch panes to enter it"

// Classify derives a Classification from raw command text. It never fails:
// unmatched input falls back to the most conservative estimate.
func Classify(command string) Classification {
	cmd := strings.TrimSpace(command)

	c := Classification{
		Category:      CategoryGeneral,
		EstimatedSecs: defaultDurationSecs,
	}
	if cmd == "" {
		return c
	}

	c.RequiresSudo = sudoRe.MatchString(cmd)

	// The remaining axes classify the underlying command, not the sudo
	// wrapper, so strip the prefix for them.
	bare := stripSudo(cmd)

	for _, re := range longRunningRules {
		if re.MatchString(bare) {
			c.LongRunning = true
			break
		}
	}

	for _, re := range interactiveRules {
		if re.MatchString(bare) {
			c.Interactive = true
			break
		}
	}

	for _, rule := range categoryRules {
		if rule.re.MatchString(bare) {
			c.Category = rule.category
			break
		}
	}

	for _, rule := range durationRules {
		if rule.re.MatchString(bare) {
			c.EstimatedSecs = rule.secs
			break
		}
	}

	for _, rule := range specialRules {
		if rule.re.MatchString(bare) {
			c.Special = append(c.Special, rule.flag)
			c.Hint = rule.hint
			break
		}
	}

	// The password prompt hint wins regardless of other matches: it is
	// the first thing the human will face.
	if c.RequiresSudo {
		c.Hint = sudoHint
	}

	return c
}

// stripSudo removes a leading "sudo" (with flags like -E or -u user) so
// the other axes can see the real command.
var sudoPrefixRe = regexp.MustCompile(`^sudo\s+(?:-u\s+\S+\s+)?(?:-[A-Za-z]+\s+)*`)

func stripSudo(cmd string) string {
	return sudoPrefixRe.ReplaceAllString(cmd, "")
}
