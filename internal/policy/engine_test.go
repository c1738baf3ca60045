package policy

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/rs/zerolog"
)

type recordingLauncher struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (r *recordingLauncher) Launch(_ context.Context, _ Command, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, user)
	return r.err
}

var today = calendar.MustParseDate("2024-05-01")

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		limit  quota.Limit
		used   int
		action Action
	}{
		{"unmonitored", quota.Unmonitored, 500, ActionSkip},
		{"under limit", quota.Limit{Minutes: 60, Monitored: true}, 59, ActionAllow},
		{"at limit", quota.Limit{Minutes: 60, Monitored: true}, 60, ActionAllow},
		{"one over", quota.Limit{Minutes: 60, Monitored: true}, 61, ActionEnforce},
		{"zero limit", quota.Limit{Minutes: 0, Monitored: true}, 1, ActionEnforce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate("alice", today, tt.limit, tt.used)
			if d.Action != tt.action {
				t.Errorf("Expected %s, got %s (%s)", tt.action, d.Action, d.Reason)
			}
		})
	}
}

func newTestEngine(t *testing.T, launcher Launcher) *Engine {
	t.Helper()

	e, err := NewEngine(launcher, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return e
}

func TestEngine_Decide(t *testing.T) {
	e := newTestEngine(t, &recordingLauncher{})

	tests := []struct {
		name   string
		limit  quota.Limit
		used   int
		action Action
	}{
		{"unmonitored", quota.Unmonitored, 500, ActionSkip},
		{"unmonitored no usage", quota.Unmonitored, 0, ActionSkip},
		{"under limit", quota.Limit{Minutes: 60, Monitored: true}, 59, ActionAllow},
		{"at limit", quota.Limit{Minutes: 60, Monitored: true}, 60, ActionAllow},
		{"one over", quota.Limit{Minutes: 60, Monitored: true}, 61, ActionEnforce},
		{"zero limit unused", quota.Limit{Minutes: 0, Monitored: true}, 0, ActionAllow},
		{"zero limit", quota.Limit{Minutes: 0, Monitored: true}, 1, ActionEnforce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Decide(context.Background(), "alice", today, tt.limit, tt.used)
			want := Evaluate("alice", today, tt.limit, tt.used)
			if got != want {
				t.Errorf("Decide() = %+v, want %+v", got, want)
			}
			if got.Action != tt.action {
				t.Errorf("Expected %s, got %s (%s)", tt.action, got.Action, got.Reason)
			}
		})
	}
}

func TestEvaluator_UnknownAction(t *testing.T) {
	ev, err := newEvaluator("package ktimer\n\naction = \"MAYBE\"\n", zerolog.Nop())
	if err != nil {
		t.Fatalf("newEvaluator failed: %v", err)
	}

	_, err = ev.Decide(context.Background(), "alice", today, quota.Limit{Minutes: 60, Monitored: true}, 10)
	if err == nil || !strings.Contains(err.Error(), "MAYBE") {
		t.Fatalf("expected unknown action error, got %v", err)
	}
}

func TestEvaluator_InvalidModule(t *testing.T) {
	if _, err := newEvaluator("package ktimer\n\naction = {", zerolog.Nop()); err == nil {
		t.Fatal("expected compile error for invalid module")
	}
}

func TestEngine_Enforce(t *testing.T) {
	launcher := &recordingLauncher{}
	e := newTestEngine(t, launcher)
	cmd := Command{Path: "/bin/true"}
	ctx := context.Background()

	allow := Evaluate("alice", today, quota.Limit{Minutes: 60, Monitored: true}, 10)
	if err := e.Enforce(ctx, allow, cmd); err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if len(launcher.users) != 0 {
		t.Fatalf("ALLOW must not launch, got %v", launcher.users)
	}

	over := Evaluate("bob", today, quota.Limit{Minutes: 60, Monitored: true}, 61)
	if err := e.Enforce(ctx, over, cmd); err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if len(launcher.users) != 1 || launcher.users[0] != "bob" {
		t.Fatalf("expected launch for bob, got %v", launcher.users)
	}

	// No command configured: logged only
	if err := e.Enforce(ctx, over, Command{}); err != nil {
		t.Fatalf("Enforce without command failed: %v", err)
	}
	if len(launcher.users) != 1 {
		t.Fatalf("empty command must not launch, got %v", launcher.users)
	}
}

func TestEngine_EnforceLaunchError(t *testing.T) {
	boom := errors.New("boom")
	e := newTestEngine(t, &recordingLauncher{err: boom})

	over := Evaluate("bob", today, quota.Limit{Minutes: 0, Monitored: true}, 1)
	err := e.Enforce(context.Background(), over, Command{Path: "/bin/true"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped launch error, got %v", err)
	}
}

func TestExecLauncher_EmptyCommand(t *testing.T) {
	err := ExecLauncher{}.Launch(context.Background(), Command{}, "alice")
	if !errors.Is(err, ErrNoCommand) {
		t.Fatalf("expected ErrNoCommand, got %v", err)
	}
}

func TestExecLauncher_MissingBinary(t *testing.T) {
	err := ExecLauncher{}.Launch(context.Background(), Command{Path: "/nonexistent/ktimer-action"}, "alice")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestExecLauncher_PassesUser(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	out := filepath.Join(t.TempDir(), "user")
	cmd := Command{Path: "/bin/sh", Args: []string{"-c", `printf %s "$` + UserEnv + `" > "$0"`, out}}

	if err := (ExecLauncher{}).Launch(context.Background(), cmd, "carol"); err != nil {
		t.Fatalf("Launch failed: %v", err)
	}

	// Launch does not wait; poll for the child's output
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(out)
		if err == nil && strings.TrimSpace(string(data)) == "carol" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("child did not record the user")
}

func TestAction_JSON(t *testing.T) {
	var a Action
	if err := json.Unmarshal([]byte(`"enforce"`), &a); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if a != ActionEnforce {
		t.Fatalf("expected ENFORCE, got %s", a)
	}
	if err := json.Unmarshal([]byte(`"block"`), &a); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestCommand_String(t *testing.T) {
	c := Command{Path: "/sbin/shutdown", Args: []string{"-h", "now"}}
	if got := c.String(); got != "/sbin/shutdown -h now" {
		t.Fatalf("unexpected command string %q", got)
	}
}
