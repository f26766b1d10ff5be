package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultMaxTurns bounds a single agent invocation.
const DefaultMaxTurns = 100

// Spec describes one headless agent invocation.
type Spec struct {
	Command  string // binary to run, "claude" when empty
	Prompt   string
	Dir      string // working directory for the run
	LogPath  string // stdout and stderr go here
	MaxTurns int
	Model    string
	// SkipPermissions maps to --dangerously-skip-permissions; unattended
	// sessions need it since nobody is there to approve tool calls.
	SkipPermissions bool
}

// filteredEnv returns os.Environ() with the named keys removed. CLAUDECODE is
// stripped so child agents do not refuse to start when the coordinator itself
// runs inside one.
func filteredEnv(remove ...string) []string {
	skip := make(map[string]bool, len(remove))
	for _, k := range remove {
		skip[k] = true
	}
	env := os.Environ()
	out := make([]string, 0, len(env))
	for _, e := range env {
		if idx := strings.IndexByte(e, '='); idx > 0 && skip[e[:idx]] {
			continue
		}
		out = append(out, e)
	}
	return out
}

// childEnv returns the environment for agent child processes. The directory
// of the running lh binary is prepended to PATH so agents can call lh
// subcommands without it being installed system-wide.
func childEnv() []string {
	env := filteredEnv("CLAUDECODE")
	exe, err := os.Executable()
	if err != nil {
		return env // graceful fallback: PATH unchanged
	}
	binDir := filepath.Dir(exe)
	for i, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			env[i] = "PATH=" + binDir + string(os.PathListSeparator) + e[len("PATH="):]
			return env
		}
	}
	return append(env, "PATH="+binDir)
}

// buildArgs returns the CLI args for a spec. Extracted for testability.
// --verbose is required when using --print with --output-format=stream-json.
func buildArgs(spec Spec) []string {
	maxTurns := spec.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	args := []string{
		"-p", spec.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(maxTurns),
	}
	if spec.Model != "" {
		args = append(args, "--model", spec.Model)
	}
	if spec.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	return args
}

// Start launches the agent and returns the running process. Output is
// redirected to spec.LogPath; the caller owns waiting via Supervise.
func Start(spec Spec) (*os.Process, error) {
	command := spec.Command
	if command == "" {
		command = "claude"
	}

	logFile, err := os.Create(spec.LogPath)
	if err != nil {
		return nil, fmt.Errorf("creating agent log: %w", err)
	}

	cmd := exec.Command(command, buildArgs(spec)...)
	cmd.Dir = spec.Dir
	cmd.Env = childEnv()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}

	// Close in parent; the child holds its own handle.
	logFile.Close()

	return cmd.Process, nil
}
