package accrual

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/identity"
	"github.com/goodtune/ktimer/internal/ledger"
	"github.com/goodtune/ktimer/internal/policy"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/goodtune/ktimer/internal/storage/file"
	"github.com/rs/zerolog"
)

// Wednesday
var testNow = time.Date(2024, time.May, 1, 15, 30, 0, 0, time.UTC)

type recordingLauncher struct {
	mu    sync.Mutex
	users []string
	fail  map[string]bool
}

func (r *recordingLauncher) Launch(_ context.Context, _ policy.Command, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, user)
	if r.fail[user] {
		return errors.New("launch failed")
	}
	return nil
}

type failingSource struct{}

func (failingSource) ActiveUsers(context.Context) ([]string, error) {
	return nil, errors.New("host unavailable")
}

type fixture struct {
	engine   *Engine
	ledger   *ledger.Ledger
	launcher *recordingLauncher
	clock    *calendar.TestClock
	path     string
}

func weekdays(minutes int) quota.WeeklySchedule {
	return quota.WeeklySchedule{minutes, minutes, minutes, minutes, minutes, 0, 0}
}

func newFixture(t *testing.T, source identity.Source, settings SettingsLoader, interval int) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.tsv")
	store, err := file.Open(path)
	if err != nil {
		t.Fatalf("file.Open failed: %v", err)
	}

	logger := zerolog.Nop()
	l := ledger.New(store, logger)
	launcher := &recordingLauncher{fail: map[string]bool{}}
	collector := identity.NewCollector(source, logger).WithOwner(func() string { return "owner" })

	pe, err := policy.NewEngine(launcher, logger)
	if err != nil {
		t.Fatalf("policy.NewEngine failed: %v", err)
	}

	engine, err := NewEngine(l, collector, settings, pe, interval, logger)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	clock := &calendar.TestClock{CurrentTime: testNow}
	engine.SetClock(clock)

	return &fixture{engine: engine, ledger: l, launcher: launcher, clock: clock, path: path}
}

func staticSettings(policies map[string]quota.Policy) SettingsLoader {
	return func(context.Context) (Settings, error) {
		snap := quota.NewSnapshot()
		for user, p := range policies {
			snap.Add(user, p)
		}
		return Settings{Quotas: snap, Command: policy.Command{Path: "/sbin/shutdown"}}, nil
	}
}

// reload reads the persisted ledger into a fresh Ledger
func reload(t *testing.T, path string) *ledger.Ledger {
	t.Helper()
	store, err := file.Open(path)
	if err != nil {
		t.Fatalf("file.Open failed: %v", err)
	}
	l := ledger.New(store, zerolog.Nop())
	if _, err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return l
}

func TestNewEngine_InvalidInterval(t *testing.T) {
	_, err := NewEngine(nil, nil, nil, nil, 0, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestRunCycle_MonotonicAccrual(t *testing.T) {
	f := newFixture(t,
		identity.StaticSource{"alice"},
		staticSettings(map[string]quota.Policy{"alice": {Weekly: weekdays(600)}}),
		3,
	)

	const cycles = 5
	for i := 0; i < cycles; i++ {
		result := f.engine.RunCycle(context.Background())
		if len(result.Errors) != 0 {
			t.Fatalf("cycle %d: unexpected errors %v", i, result.Errors)
		}
		if !result.Saved {
			t.Fatalf("cycle %d: ledger not saved", i)
		}
	}

	today := calendar.DateOf(testNow)
	if got := reload(t, f.path).Used("alice", today); got != cycles*3 {
		t.Fatalf("expected %d minutes, got %d", cycles*3, got)
	}
}

func TestRunCycle_StrictBoundary(t *testing.T) {
	f := newFixture(t,
		identity.StaticSource{"alice"},
		staticSettings(map[string]quota.Policy{"alice": {Weekly: weekdays(3)}}),
		1,
	)
	ctx := context.Background()

	// Minutes reach 1, 2, 3: at the limit nothing fires
	for i := 0; i < 3; i++ {
		result := f.engine.RunCycle(ctx)
		if len(result.Overruns) != 0 {
			t.Fatalf("cycle %d: unexpected overrun", i)
		}
	}
	if len(f.launcher.users) != 0 {
		t.Fatalf("expected no launches at the limit, got %v", f.launcher.users)
	}

	// 4 > 3 fires, and keeps firing while over
	for i := 0; i < 2; i++ {
		result := f.engine.RunCycle(ctx)
		if len(result.Overruns) != 1 || result.Overruns[0] != "alice" {
			t.Fatalf("expected alice overrun, got %v", result.Overruns)
		}
	}
	if len(f.launcher.users) != 2 {
		t.Fatalf("expected 2 launches, got %v", f.launcher.users)
	}

	// Minutes keep growing past the limit
	if got := reload(t, f.path).Used("alice", calendar.DateOf(testNow)); got != 5 {
		t.Fatalf("expected 5 minutes, got %d", got)
	}
}

func TestRunCycle_UnmonitoredSkipped(t *testing.T) {
	f := newFixture(t,
		identity.StaticSource{"alice", "guest"},
		staticSettings(map[string]quota.Policy{"alice": {Weekly: weekdays(60)}}),
		1,
	)

	result := f.engine.RunCycle(context.Background())
	if len(result.Decisions) != 1 || result.Decisions[0].User != "alice" {
		t.Fatalf("expected one decision for alice, got %+v", result.Decisions)
	}

	l := reload(t, f.path)
	if l.Len() != 1 {
		t.Fatalf("expected only alice in ledger, got %d records", l.Len())
	}
	if _, err := l.Find("guest", calendar.DateOf(testNow)); err == nil {
		t.Fatal("unmonitored user must not get a record")
	}
}

func TestRunCycle_ZeroLimitIsMonitored(t *testing.T) {
	f := newFixture(t,
		identity.StaticSource{"alice"},
		staticSettings(map[string]quota.Policy{"alice": {Weekly: quota.WeeklySchedule{}}}),
		1,
	)

	result := f.engine.RunCycle(context.Background())
	if len(result.Overruns) != 1 {
		t.Fatalf("expected overrun with a zero limit, got %+v", result)
	}
}

func TestRunCycle_OverrideApplies(t *testing.T) {
	today := calendar.DateOf(testNow)
	f := newFixture(t,
		identity.StaticSource{"alice"},
		staticSettings(map[string]quota.Policy{"alice": {
			Weekly:    weekdays(60),
			Overrides: quota.Overrides{today: 1},
		}}),
		2,
	)

	result := f.engine.RunCycle(context.Background())
	if len(result.Overruns) != 1 {
		t.Fatalf("expected override limit of 1 to be exceeded, got %+v", result.Decisions)
	}
}

func TestRunCycle_TriggerFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t,
		identity.StaticSource{"alice", "bob"},
		staticSettings(map[string]quota.Policy{
			"alice": {Weekly: quota.WeeklySchedule{}},
			"bob":   {Weekly: quota.WeeklySchedule{}},
		}),
		1,
	)
	f.launcher.fail["alice"] = true

	result := f.engine.RunCycle(context.Background())
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}
	if len(f.launcher.users) != 2 {
		t.Fatalf("expected both users to be enforced, got %v", f.launcher.users)
	}
	if !result.Saved {
		t.Fatal("ledger must still be saved")
	}
	if result.Status() != "error" {
		t.Fatalf("expected error status, got %s", result.Status())
	}
}

func TestRunCycle_ConfigFailureLeavesEveryoneUnmonitored(t *testing.T) {
	failing := func(context.Context) (Settings, error) {
		return Settings{}, errors.New("config unreadable")
	}
	f := newFixture(t, identity.StaticSource{"alice"}, failing, 1)

	result := f.engine.RunCycle(context.Background())
	if !result.Degraded {
		t.Fatal("expected degraded cycle")
	}
	if len(result.Decisions) != 0 || len(f.launcher.users) != 0 {
		t.Fatalf("expected no accrual, got %+v", result)
	}
	if !result.Saved {
		t.Fatal("ledger must still be saved")
	}
	if reload(t, f.path).Len() != 0 {
		t.Fatal("expected empty ledger")
	}
}

func TestRunCycle_HostFailureFallsBackToOwner(t *testing.T) {
	f := newFixture(t,
		failingSource{},
		staticSettings(map[string]quota.Policy{"owner": {Weekly: weekdays(60)}}),
		1,
	)

	result := f.engine.RunCycle(context.Background())
	if len(result.Users) != 1 || result.Users[0] != "owner" {
		t.Fatalf("expected fallback to owner, got %v", result.Users)
	}
	if got := reload(t, f.path).Used("owner", calendar.DateOf(testNow)); got != 1 {
		t.Fatalf("expected owner accrual of 1, got %d", got)
	}
}

func TestRunCycle_NewDayStartsFresh(t *testing.T) {
	f := newFixture(t,
		identity.StaticSource{"alice"},
		staticSettings(map[string]quota.Policy{"alice": {Weekly: weekdays(60)}}),
		1,
	)
	ctx := context.Background()

	f.engine.RunCycle(ctx)
	f.clock.Advance(24 * time.Hour)
	f.engine.RunCycle(ctx)

	l := reload(t, f.path)
	if l.Len() != 2 {
		t.Fatalf("expected one record per day, got %d", l.Len())
	}
	if got := l.Used("alice", calendar.DateOf(testNow).AddDays(1)); got != 1 {
		t.Fatalf("expected 1 minute on the new day, got %d", got)
	}
}
