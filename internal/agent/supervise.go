package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// DefaultKillGrace is how long a signalled agent gets to exit cleanly before
// it is killed outright.
const DefaultKillGrace = 30 * time.Second

// waitResult holds the outcome of an os.Process.Wait call.
type waitResult struct {
	state *os.ProcessState
	err   error
}

// Supervise blocks until the process exits or ctx ends. On cancellation the
// process gets SIGTERM, then SIGKILL after grace, and the wait is always
// drained so no zombie is left behind. A non-zero exit is an error.
func Supervise(ctx context.Context, proc *os.Process, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	ch := make(chan waitResult, 1)
	go func() {
		state, err := proc.Wait()
		ch <- waitResult{state, err}
	}()

	var result waitResult
	select {
	case result = <-ch:
	case <-ctx.Done():
		slog.Info("stopping agent", slog.Int("pid", proc.Pid))
		_ = proc.Signal(syscall.SIGTERM)
		select {
		case result = <-ch:
		case <-time.After(grace):
			slog.Warn("agent ignored SIGTERM, killing", slog.Int("pid", proc.Pid))
			_ = proc.Kill()
			result = <-ch
		}
		if result.err == nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w (agent stopped: %v)", ctx.Err(), result.err)
	}

	if result.err != nil {
		return fmt.Errorf("agent wait: %w", result.err)
	}
	if result.state != nil && !result.state.Success() {
		return fmt.Errorf("agent exited with code %d", result.state.ExitCode())
	}
	return nil
}

// Run starts the agent and supervises it to completion.
func Run(ctx context.Context, spec Spec, grace time.Duration) error {
	proc, err := Start(spec)
	if err != nil {
		return err
	}
	return Supervise(ctx, proc, grace)
}
