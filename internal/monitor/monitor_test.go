package monitor

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/ledger"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/goodtune/ktimer/internal/storage"
	"github.com/goodtune/ktimer/internal/storage/file"
	"github.com/rs/zerolog"
)

type recordingNotifier struct {
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.notices = append(r.notices, n)
}

var testNow = time.Date(2024, time.May, 1, 18, 0, 0, 0, time.UTC)

func setup(t *testing.T, limit int) (*Monitor, *file.Store, *recordingNotifier) {
	t.Helper()

	store, err := file.Open(filepath.Join(t.TempDir(), "ledger.tsv"))
	if err != nil {
		t.Fatalf("file.Open failed: %v", err)
	}

	quotas := func(context.Context) (quota.Resolver, error) {
		snap := quota.NewSnapshot()
		snap.Add("alice", quota.Policy{Weekly: quota.WeeklySchedule{limit, limit, limit, limit, limit, limit, limit}})
		return snap, nil
	}

	notifier := &recordingNotifier{}
	m := New(ledger.New(store, zerolog.Nop()), quotas, "alice", []int{10, 5, 2, 1}, notifier, zerolog.Nop())
	m.SetClock(&calendar.TestClock{CurrentTime: testNow})
	return m, store, notifier
}

func writeUsage(t *testing.T, store *file.Store, minutes int) {
	t.Helper()
	err := store.Save(context.Background(), []storage.UsageRecord{
		{Date: calendar.DateOf(testNow), User: "alice", Minutes: minutes},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestCheck_Warnings(t *testing.T) {
	tests := []struct {
		used  int
		want  bool
		level Level
	}{
		{used: 40, want: false},
		{used: 50, want: true, level: LevelWarning},
		{used: 55, want: true, level: LevelWarning},
		{used: 57, want: false},
		{used: 58, want: true, level: LevelWarning},
		{used: 59, want: true, level: LevelFinal},
		{used: 60, want: false},
		{used: 61, want: false},
	}

	for _, tt := range tests {
		m, store, notifier := setup(t, 60)
		writeUsage(t, store, tt.used)

		status, err := m.Check(context.Background())
		if err != nil {
			t.Fatalf("used %d: Check failed: %v", tt.used, err)
		}
		if status.Used != tt.used {
			t.Fatalf("used %d: status reports %d", tt.used, status.Used)
		}
		if got := len(notifier.notices) == 1; got != tt.want {
			t.Fatalf("used %d: expected notice=%v, got %v", tt.used, tt.want, notifier.notices)
		}
		if tt.want && notifier.notices[0].Level != tt.level {
			t.Errorf("used %d: expected level %s, got %s", tt.used, tt.level, notifier.notices[0].Level)
		}
	}
}

func TestCheck_WarnsOncePerValue(t *testing.T) {
	m, store, notifier := setup(t, 60)
	writeUsage(t, store, 50)

	for i := 0; i < 3; i++ {
		if _, err := m.Check(context.Background()); err != nil {
			t.Fatalf("Check failed: %v", err)
		}
	}
	if len(notifier.notices) != 1 {
		t.Fatalf("expected a single notice, got %d", len(notifier.notices))
	}

	writeUsage(t, store, 55)
	if _, err := m.Check(context.Background()); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if len(notifier.notices) != 2 {
		t.Fatalf("expected a second notice, got %d", len(notifier.notices))
	}
}

func TestCheck_NoRecordOrUnmonitored(t *testing.T) {
	m, _, notifier := setup(t, 60)

	status, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status.Tracked {
		t.Fatal("expected untracked status without a record")
	}
	if !strings.Contains(status.String(), "No time limit") {
		t.Errorf("unexpected status line %q", status.String())
	}
	if len(notifier.notices) != 0 {
		t.Fatalf("expected no notices, got %v", notifier.notices)
	}
}

func TestCheck_ConfigFailure(t *testing.T) {
	m, store, notifier := setup(t, 60)
	m.quotas = func(context.Context) (quota.Resolver, error) {
		return nil, errors.New("unreadable")
	}
	writeUsage(t, store, 59)

	status, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if status.Limit.Monitored {
		t.Fatal("expected unmonitored on config failure")
	}
	if len(notifier.notices) != 0 {
		t.Fatalf("expected no notices, got %v", notifier.notices)
	}
}

func TestStatus_String(t *testing.T) {
	limit := quota.Limit{Minutes: 60, Monitored: true}
	tests := []struct {
		status Status
		want   string
	}{
		{Status{Used: 30, Limit: limit, Tracked: true}, "30 of 60 minutes used"},
		{Status{Used: 90, Limit: limit, Tracked: true}, "60 of 60 minutes used"},
		{Status{Used: 1, Limit: limit, Tracked: true}, "Today's limit: 60 minutes"},
		{Status{Used: 30, Limit: quota.Unmonitored, Tracked: true}, "No time limit is active right now"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &WriterNotifier{Out: &buf}
	n.Notify(Notice{User: "alice", Remaining: 5, Message: "Only 5 minutes left!"})

	if !strings.Contains(buf.String(), "Only 5 minutes left!") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	m, store, _ := setup(t, 60)
	writeUsage(t, store, 10)

	ctx, cancel := context.WithCancel(context.Background())
	statuses := make(chan Status, 4)

	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, time.Hour, func(s Status) { statuses <- s })
	}()

	select {
	case s := <-statuses:
		if s.Used != 10 {
			t.Errorf("expected 10 used, got %d", s.Used)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first poll")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
