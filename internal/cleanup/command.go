//go:build !windows

package cleanup

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// SafeCommand creates an exec.Cmd in its own process group so the whole
// subprocess tree can be terminated on cancellation.
func SafeCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	// Detach stdin and force a dumb terminal so psql/mysql never try to
	// open /dev/tty for password prompts.
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), "TERM=dumb")

	return cmd
}

// KillCommandGroup terminates a command's process group: SIGTERM first,
// SIGKILL after a short grace period.
func KillCommandGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Process already gone
		return
	}

	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
}

// TerminateProcess sends SIGTERM to a process by pid, escalating to SIGKILL
// if it has not exited within the grace period. Used for tunnel teardown
// where we own the pid but not an exec.Cmd.
func TerminateProcess(pid int, grace time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if err == os.ErrProcessDone || err == syscall.ESRCH {
			return nil
		}
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		// Signal 0 probes for existence without delivering anything
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	return proc.Kill()
}
