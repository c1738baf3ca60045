package identity

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single host enumeration command.
const DefaultCommandTimeout = 10 * time.Second

// CommandSource enumerates sessions by running a command such as who(1) and
// taking the first whitespace-separated field of every output line.
type CommandSource struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// ActiveUsers runs the configured command and parses its output.
func (s *CommandSource) ActiveUsers(ctx context.Context) ([]string, error) {
	if s.Command == "" {
		return nil, fmt.Errorf("host command not configured")
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.Command, s.Args...).Output()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", s.Command, err)
	}
	return ParseSessionList(out), nil
}

// ParseSessionList extracts the login name column from who-style output.
func ParseSessionList(out []byte) []string {
	var users []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		users = append(users, fields[0])
	}
	return users
}
