package quota

import (
	"sort"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/identity"
)

// Limit is the outcome of resolving a user's quota for one date.
type Limit struct {
	Minutes   int
	Monitored bool
}

// Unmonitored is the Limit of a user outside quota enforcement.
var Unmonitored = Limit{}

// Exceeded reports whether used minutes strictly exceed a monitored limit.
func (l Limit) Exceeded(used int) bool {
	return l.Monitored && used > l.Minutes
}

// Remaining returns the minutes left before the limit, never below zero.
func (l Limit) Remaining(used int) int {
	if !l.Monitored || used >= l.Minutes {
		return 0
	}
	return l.Minutes - used
}

// Resolver returns the effective limit of a user on a date.
type Resolver interface {
	Resolve(user string, date calendar.Date) Limit
}

// Snapshot is a point-in-time view of every user's quota. It is built once
// per accounting cycle and treated as read-only afterwards.
type Snapshot struct {
	policies map[string]Policy
}

// NewSnapshot returns an empty snapshot in which every user is unmonitored.
func NewSnapshot() *Snapshot {
	return &Snapshot{policies: make(map[string]Policy)}
}

// Add registers the policy of user, replacing any earlier one.
func (s *Snapshot) Add(user string, p Policy) {
	if p.Overrides == nil {
		p.Overrides = Overrides{}
	}
	s.policies[identity.Normalize(user)] = p
}

// Policy returns the policy of user if one is configured.
func (s *Snapshot) Policy(user string) (Policy, bool) {
	if s == nil {
		return Policy{}, false
	}
	p, ok := s.policies[identity.Normalize(user)]
	return p, ok
}

// Users returns the normalized names of all monitored users, sorted.
func (s *Snapshot) Users() []string {
	if s == nil {
		return nil
	}
	users := make([]string, 0, len(s.policies))
	for name := range s.policies {
		users = append(users, name)
	}
	sort.Strings(users)
	return users
}

// Resolve implements Resolver. A nil snapshot treats everyone as unmonitored.
func (s *Snapshot) Resolve(user string, date calendar.Date) Limit {
	p, ok := s.Policy(user)
	if !ok {
		return Unmonitored
	}
	return Limit{Minutes: p.LimitFor(date), Monitored: true}
}
