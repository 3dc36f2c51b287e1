package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyListing(t *testing.T) {
	c := Classify("ls -la")

	assert.Equal(t, CategoryFileSystem, c.Category)
	assert.Equal(t, 3, c.EstimatedSecs)
	assert.Equal(t, StrategyQuick, c.TimeoutStrategy())
	assert.False(t, c.LongRunning)
	assert.False(t, c.Interactive)
	assert.False(t, c.RequiresSudo)
	assert.Empty(t, c.Special)
}

func TestClassifyNpmInstall(t *testing.T) {
	c := Classify("npm install")

	assert.True(t, c.LongRunning)
	assert.Equal(t, 600, c.EstimatedSecs)
	assert.Equal(t, StrategyAsync, c.TimeoutStrategy())
	assert.Equal(t, CategoryPackageManager, c.Category)
}

func TestClassifySudo(t *testing.T) {
	c := Classify("sudo apt update")

	assert.True(t, c.RequiresSudo)
	assert.True(t, c.NeedsDelegation())
	assert.Contains(t, c.Hint, "password")
	// The underlying command still classifies normally.
	assert.Equal(t, CategoryPackageManager, c.Category)
	assert.Equal(t, 15, c.EstimatedSecs)
}

func TestClassifySudoWithFlags(t *testing.T) {
	c := Classify("sudo -E apt-get install build-essential")

	assert.True(t, c.RequiresSudo)
	assert.Equal(t, CategoryPackageManager, c.Category)
	assert.True(t, c.LongRunning)
}

func TestClassifyDurationBuckets(t *testing.T) {
	tests := []struct {
		command string
		secs    int
	}{
		{"npm install", 600},
		{"pip install -r requirements.txt", 600},
		{"cargo build --release", 600},
		{"docker build -t app .", 600},
		{"make all", 180},
		{"git clone https://example.com/repo.git", 180},
		{"go test ./...", 180},
		{"npm install express", 90},
		{"go build ./cmd/server", 90},
		{"brew install jq", 90},
		{"npm ls", 15},
		{"apt update", 15},
		{"git pull", 15},
		{"echo hello", 3},
		{"ls", 3},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.secs, Classify(tt.command).EstimatedSecs)
		})
	}
}

func TestClassifyStrategyDerivation(t *testing.T) {
	tests := []struct {
		command  string
		strategy Strategy
	}{
		{"npm install", StrategyAsync}, // 600s
		{"make", StrategyExtended},     // 180s
		{"git fetch", StrategyQuick},   // 15s
		{"pwd", StrategyQuick},         // default
		{"vim notes.txt", StrategyNoTimeout},
		{"python", StrategyNoTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.strategy, Classify(tt.command).TimeoutStrategy())
		})
	}
}

func TestClassifySpecialHandling(t *testing.T) {
	tests := []struct {
		command string
		flag    SpecialFlag
	}{
		{"vim main.go", SpecialEditor},
		{"nano /etc/hosts", SpecialEditor},
		{"python", SpecialREPL},
		{"node", SpecialREPL},
		{"psql -U postgres", SpecialREPL},
		{"top", SpecialMonitor},
		{"watch df -h", SpecialMonitor},
		{"tail -f /var/log/syslog", SpecialMonitor},
		{"less README.md", SpecialPager},
		{"man tmux", SpecialPager},
		{"bash", SpecialShell},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			c := Classify(tt.command)
			assert.True(t, c.HasSpecial(tt.flag), "expected %s flag", tt.flag)
			assert.NotEmpty(t, c.Hint)
		})
	}
}

func TestClassifyNonREPLInvocationsAreNotSpecial(t *testing.T) {
	// A script run is not a REPL; only a bare interpreter is.
	c := Classify("python script.py")
	assert.False(t, c.Interactive)
	assert.Empty(t, c.Special)

	c = Classify("node server.js")
	assert.False(t, c.Interactive)
}

func TestClassifyAxesAreIndependent(t *testing.T) {
	c := Classify("sudo apt-get install nginx")

	// Long-running AND privileged AND categorized at the same time.
	assert.True(t, c.LongRunning)
	assert.True(t, c.RequiresSudo)
	assert.Equal(t, CategoryPackageManager, c.Category)
}

func TestClassifyDeterministicAndTotal(t *testing.T) {
	inputs := []string{
		"", "   ", "ls -la", "npm install", "sudo rm -rf /tmp/x",
		"vim", "some-unknown-binary --with --flags", "docker build .",
		"echo 'quotes \" and ; semicolons | pipes'", "\t\nnpm ci\n",
		"🚀 weird unicode", "a", "((((", "-----",
	}

	for _, in := range inputs {
		first := Classify(in)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, Classify(in), "input %q must classify deterministically", in)
		}
		// Totality: category and duration always have a value.
		assert.NotEmpty(t, first.Category)
		assert.Greater(t, first.EstimatedSecs, 0)
	}
}

func TestClassifyTrimsInput(t *testing.T) {
	assert.Equal(t, Classify("npm install"), Classify("  npm install  \n"))
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		command  string
		category Category
	}{
		{"apt install curl", CategoryPackageManager},
		{"docker ps", CategoryContainer},
		{"kubectl get pods", CategoryContainer},
		{"pytest tests/", CategoryTesting},
		{"go test ./...", CategoryTesting},
		{"make build", CategoryBuild},
		{"gcc -o main main.c", CategoryBuild},
		{"git status", CategoryVersionControl},
		{"cp a b", CategoryFileSystem},
		{"curl https://example.com", CategoryNetwork},
		{"ping -c 3 host", CategoryNetwork},
		{"ps aux", CategorySystem},
		{"systemctl status nginx", CategorySystem},
		{"frobnicate --all", CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			assert.Equal(t, tt.category, Classify(tt.command).Category)
		})
	}
}
