package report

import (
	"sort"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/goodtune/ktimer/internal/storage"
)

// Row is one day of a user's history
type Row struct {
	Date      calendar.Date    `json:"date" yaml:"date"`
	Weekday   calendar.Weekday `json:"-" yaml:"-"`
	Limit     int              `json:"limit" yaml:"limit"`
	Used      int              `json:"used" yaml:"used"`
	Remaining int              `json:"remaining" yaml:"remaining"`
	Percent   int              `json:"remaining_percent" yaml:"remaining_percent"`
	Monitored bool             `json:"monitored" yaml:"monitored"`
	Weekend   bool             `json:"weekend" yaml:"weekend"`
}

// Report is the per-day history of one user, newest day first
type Report struct {
	User string `json:"user" yaml:"user"`
	Rows []Row  `json:"rows" yaml:"rows"`
}

// Build produces the report for user covering every day from the earliest
// ledger date up to today. An empty ledger yields a single row for today.
// Unmonitored days show a limit of zero.
func Build(user string, records []storage.UsageRecord, resolver quota.Resolver, today calendar.Date) Report {
	used := make(map[calendar.Date]int)
	start := today
	for _, r := range records {
		if r.Date.Before(start) {
			start = r.Date
		}
		if r.User == user {
			used[r.Date] = r.Minutes
		}
	}

	report := Report{User: user}
	for day := today; !day.Before(start); day = day.AddDays(-1) {
		limit := resolver.Resolve(user, day)
		row := Row{
			Date:      day,
			Weekday:   day.Weekday(),
			Limit:     limit.Minutes,
			Used:      used[day],
			Monitored: limit.Monitored,
			Weekend:   day.Weekday().IsWeekend(),
		}
		if row.Limit > row.Used {
			row.Remaining = row.Limit - row.Used
		}
		if row.Limit > 0 {
			row.Percent = row.Remaining * 100 / row.Limit
		}
		report.Rows = append(report.Rows, row)
	}
	return report
}

// Users lists everyone who appears in the ledger or the configuration,
// ledger users first in order of appearance, then configured users sorted.
func Users(records []storage.UsageRecord, configured []string) []string {
	seen := make(map[string]bool)
	var users []string
	for _, r := range records {
		if !seen[r.User] {
			seen[r.User] = true
			users = append(users, r.User)
		}
	}

	rest := make([]string, 0, len(configured))
	for _, u := range configured {
		if !seen[u] {
			seen[u] = true
			rest = append(rest, u)
		}
	}
	sort.Strings(rest)
	return append(users, rest...)
}
