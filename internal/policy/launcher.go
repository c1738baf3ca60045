package policy

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// UserEnv names the environment variable carrying the over-limit user to
// the launched command.
const UserEnv = "KTIMER_USER"

// ErrNoCommand is returned when launching an empty command
var ErrNoCommand = errors.New("policy command not configured")

// Launcher starts a policy command
type Launcher interface {
	Launch(ctx context.Context, cmd Command, user string) error
}

// ExecLauncher starts the command as a detached child process. It returns
// once the process has started and never waits for it to finish.
type ExecLauncher struct{}

// Launch starts cmd with UserEnv set to user. The child is not tied to ctx,
// so cancelling the cycle does not kill it.
func (ExecLauncher) Launch(_ context.Context, cmd Command, user string) error {
	if cmd.IsZero() {
		return ErrNoCommand
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Env = append(os.Environ(), UserEnv+"="+user)
	if err := c.Start(); err != nil {
		return err
	}

	// Reap the child so it does not linger as a zombie
	go func() { _ = c.Wait() }()
	return nil
}
