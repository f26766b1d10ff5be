package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Per-call-class timeouts. Every external VCS call is bounded so no tick of
// the coordinator can block indefinitely.
const (
	OpTimeout    = 60 * time.Second
	FetchTimeout = 60 * time.Second
	PushTimeout  = 120 * time.Second
	CloneTimeout = 300 * time.Second
)

// run executes a git command in the given directory and returns stdout.
func run(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w\n%s", strings.Join(args, " "), err, errBuf.String())
	}
	return strings.TrimSpace(out.String()), nil
}

// runAllowFail executes a git command and returns (stdout, exitCode, error).
func runAllowFail(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			return "", -1, err
		}
	}
	return strings.TrimSpace(out.String()), code, nil
}

// Head returns the current HEAD SHA.
func Head(ctx context.Context, dir string) (string, error) {
	return run(ctx, OpTimeout, dir, "rev-parse", "HEAD")
}

// CurrentBranch returns the current branch name in the repo.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	return run(ctx, OpTimeout, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists returns true if the branch exists in the repo.
func BranchExists(ctx context.Context, dir, branch string) bool {
	_, err := run(ctx, OpTimeout, dir, "rev-parse", "--verify", branch)
	return err == nil
}

// Fetch updates the named remote branch ref.
func Fetch(ctx context.Context, dir, remote, branch string) error {
	_, err := run(ctx, FetchTimeout, dir, "fetch", remote, branch)
	return err
}

// Push pushes the branch to the remote. History is append-only; there is
// deliberately no force variant.
func Push(ctx context.Context, dir, remote, branch string) error {
	_, err := run(ctx, PushTimeout, dir, "push", remote, branch)
	return err
}

// UnpushedSHAs lists commits on HEAD not yet on remote/branch, oldest first.
// This is the fallback discovery path when the post-commit hook's queue was
// lost. Callers should Fetch first so the comparison is against fresh refs.
func UnpushedSHAs(ctx context.Context, dir, remote, branch string) ([]string, error) {
	out, err := run(ctx, OpTimeout, dir, "rev-list", "--reverse", remote+"/"+branch+"..HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitAll stages everything and commits. Returns the new HEAD SHA, or ""
// with nil error when there was nothing to commit.
func CommitAll(ctx context.Context, dir, message string) (string, error) {
	if _, err := run(ctx, OpTimeout, dir, "add", "-A"); err != nil {
		return "", err
	}
	out, code, err := runAllowFail(ctx, OpTimeout, dir, "commit", "-m", message)
	if err != nil {
		return "", err
	}
	if code != 0 {
		// "nothing to commit" exits 1; anything else is a real failure.
		if strings.Contains(out, "nothing to commit") {
			return "", nil
		}
		return "", fmt.Errorf("git commit: exit %d\n%s", code, out)
	}
	return Head(ctx, dir)
}

// Clone clones a repository.
func Clone(ctx context.Context, url, dir string) error {
	_, err := run(ctx, CloneTimeout, "", "clone", url, dir)
	return err
}

// Init initializes a new repository with the given initial branch.
func Init(ctx context.Context, dir, branch string) error {
	_, err := run(ctx, OpTimeout, dir, "init", "-b", branch)
	return err
}

// ConfigIdentity sets the committer identity for unattended sessions.
func ConfigIdentity(ctx context.Context, dir, name, email string) error {
	if _, err := run(ctx, OpTimeout, dir, "config", "user.name", name); err != nil {
		return err
	}
	_, err := run(ctx, OpTimeout, dir, "config", "user.email", email)
	return err
}

// CommitEmpty creates an empty commit, useful for seeding test repos.
func CommitEmpty(ctx context.Context, dir, message string) error {
	_, err := run(ctx, OpTimeout, dir, "commit", "--allow-empty", "-m", message)
	return err
}
