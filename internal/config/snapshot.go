package config

import (
	"fmt"
	"time"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/identity"
	"github.com/goodtune/ktimer/internal/policy"
	"github.com/goodtune/ktimer/internal/quota"
)

// Schedule converts the per-day limits into a weekly schedule.
func (l LimitsConfig) Schedule() (quota.WeeklySchedule, error) {
	var s quota.WeeklySchedule
	values := [calendar.DaysPerWeek]int{
		l.Monday, l.Tuesday, l.Wednesday, l.Thursday, l.Friday, l.Saturday, l.Sunday,
	}
	for i, day := range calendar.Weekdays {
		if err := s.Set(day, values[i]); err != nil {
			return s, fmt.Errorf("limits.%s: %w", day, err)
		}
	}
	return s, nil
}

// Snapshot builds the quota view of every configured user. Repeated
// exception days are not an error: the last one wins and a warning is
// returned for each repeat.
func (c *Config) Snapshot() (*quota.Snapshot, []string, error) {
	snap := quota.NewSnapshot()
	var warnings []string

	for _, u := range c.Users {
		weekly, err := u.Limits.Schedule()
		if err != nil {
			return nil, warnings, fmt.Errorf("user %s: %w", u.Name, err)
		}

		overrides := make(quota.Overrides, len(u.Exceptions))
		for _, e := range u.Exceptions {
			day, err := calendar.ParseDate(e.Day)
			if err != nil {
				return nil, warnings, fmt.Errorf("user %s: exception day: %w", u.Name, err)
			}
			replaced, err := overrides.Set(day, e.Minutes)
			if err != nil {
				return nil, warnings, fmt.Errorf("user %s: exception %s: %w", u.Name, e.Day, err)
			}
			if replaced {
				warnings = append(warnings, fmt.Sprintf("user %s: exception day %s listed more than once, using %d minutes", u.Name, day, e.Minutes))
			}
		}

		snap.Add(u.Name, quota.Policy{Weekly: weekly, Overrides: overrides})
	}

	return snap, warnings, nil
}

// PolicyCommand returns the configured overrun command.
func (c *Config) PolicyCommand() policy.Command {
	return policy.Command{Path: c.Policy.Command, Args: c.Policy.Args}
}

// HostSource returns the active-user source described by the host section.
func (c *Config) HostSource() identity.Source {
	timeout := identity.DefaultCommandTimeout
	if d, err := time.ParseDuration(c.Host.Timeout); err == nil && d > 0 {
		timeout = d
	}
	return &identity.CommandSource{
		Command: c.Host.Command,
		Args:    c.Host.Args,
		Timeout: timeout,
	}
}

// PollInterval returns the monitor poll interval, one minute if unset.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Monitor.PollInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

func normalizeName(name string) string {
	return identity.Normalize(name)
}
