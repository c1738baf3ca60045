package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/goodtune/ktimer/internal/calendar"
)

var (
	// ErrFieldCount marks an entry without exactly date, user and minutes.
	ErrFieldCount = errors.New("expected 3 fields")

	// ErrInvalidDate marks an entry whose date is not in calendar.Layout form.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidMinutes marks an entry whose minutes are not a non-negative integer.
	ErrInvalidMinutes = errors.New("invalid minutes")

	// ErrDuplicateKey marks an entry repeating an earlier (user, date) pair.
	ErrDuplicateKey = errors.New("duplicate user and date")

	// ErrInvalidUser marks an identity that cannot be stored as one field.
	ErrInvalidUser = errors.New("invalid user")
)

// ValidateUser rejects identities that would not survive a save and load:
// the table separates fields with spaces and tabs.
func ValidateUser(user string) error {
	if user == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUser)
	}
	if strings.IndexFunc(user, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidUser, user)
	}
	return nil
}

// UsageRecord is the accrued minutes of one user on one day.
type UsageRecord struct {
	Date    calendar.Date `json:"date"`
	User    string        `json:"user"`
	Minutes int           `json:"minutes"`
}

// Key returns the identity of the record within a ledger.
func (r UsageRecord) Key() RecordKey {
	return RecordKey{User: r.User, Date: r.Date}
}

// RecordKey identifies a record: one per user per day.
type RecordKey struct {
	User string
	Date calendar.Date
}

// String renders the key as "date/user".
func (k RecordKey) String() string {
	return k.Date.String() + "/" + k.User
}

// LoadResult is the outcome of reading a persisted ledger.
type LoadResult struct {
	Records []UsageRecord
	Skipped []*ParseError

	// Positions holds the 1-based source position of each record, parallel
	// to Records. It may be nil when the store has no ordering to report.
	Positions []int
}

// Add appends a decoded record read at position.
func (r *LoadResult) Add(record UsageRecord, position int) {
	r.Records = append(r.Records, record)
	r.Positions = append(r.Positions, position)
}

// Position returns the source position of record i, falling back to its
// index when none was recorded.
func (r *LoadResult) Position(i int) int {
	if i < len(r.Positions) {
		return r.Positions[i]
	}
	return i + 1
}

// ParseError describes one persisted entry that was skipped while loading.
type ParseError struct {
	Line int    // 1-based line, or entry position for non-text stores
	Text string // raw entry as stored
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("entry %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseRecord decodes the three textual fields of a ledger entry.
func ParseRecord(date, user, minutes string) (UsageRecord, error) {
	d, err := calendar.ParseDate(date)
	if err != nil {
		return UsageRecord{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if user == "" {
		return UsageRecord{}, fmt.Errorf("%w: empty user", ErrFieldCount)
	}
	if err := ValidateUser(user); err != nil {
		return UsageRecord{}, err
	}
	m, err := strconv.Atoi(minutes)
	if err != nil {
		return UsageRecord{}, fmt.Errorf("%w: %q", ErrInvalidMinutes, minutes)
	}
	if m < 0 {
		return UsageRecord{}, fmt.Errorf("%w: %d is negative", ErrInvalidMinutes, m)
	}
	return UsageRecord{Date: d, User: user, Minutes: m}, nil
}
