package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/storage"
	"github.com/rs/zerolog"
)

// Ledger is the in-memory record set of a LedgerStore. Records keep the
// order they were loaded or created in, and no two share a user and date.
type Ledger struct {
	store   storage.LedgerStore
	records []*storage.UsageRecord
	index   map[storage.RecordKey]*storage.UsageRecord
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates an empty ledger backed by store
func New(store storage.LedgerStore, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		index:  make(map[storage.RecordKey]*storage.UsageRecord),
		logger: logger.With().Str("component", "ledger").Str("location", store.Location()).Logger(),
	}
}

// Load replaces the in-memory records with the persisted table. Entries the
// store could not decode, and entries repeating an earlier user and date,
// are logged and returned; they never fail the load.
func (l *Ledger) Load(ctx context.Context) ([]*storage.ParseError, error) {
	result, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	records := make([]*storage.UsageRecord, 0, len(result.Records))
	index := make(map[storage.RecordKey]*storage.UsageRecord, len(result.Records))
	skipped := result.Skipped

	for i := range result.Records {
		r := result.Records[i]
		if _, exists := index[r.Key()]; exists {
			skipped = append(skipped, &storage.ParseError{
				Line: result.Position(i),
				Text: r.Key().String(),
				Err:  storage.ErrDuplicateKey,
			})
			continue
		}
		records = append(records, &r)
		index[r.Key()] = &r
	}

	for _, pe := range skipped {
		l.logger.Warn().
			Int("line", pe.Line).
			Str("text", pe.Text).
			Err(pe.Err).
			Msg("Skipped ledger entry")
	}

	l.mu.Lock()
	l.records = records
	l.index = index
	l.mu.Unlock()

	l.logger.Debug().
		Int("records", len(records)).
		Int("skipped", len(skipped)).
		Msg("Ledger loaded")

	return skipped, nil
}

// Save writes every record back to the store, replacing its contents.
func (l *Ledger) Save(ctx context.Context) error {
	snapshot := l.Records()
	if err := l.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	l.logger.Debug().Int("records", len(snapshot)).Msg("Ledger saved")
	return nil
}

// Find returns the record for user on date.
func (l *Ledger) Find(user string, date calendar.Date) (*storage.UsageRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.index[storage.RecordKey{User: user, Date: date}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r, nil
}

// Create appends a zero-minute record for user on date. It fails if one
// already exists.
func (l *Ledger) Create(user string, date calendar.Date) (*storage.UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.createLocked(user, date)
}

// FindOrCreate returns the existing record for user on date, creating it if
// needed. created reports whether a new record was added.
func (l *Ledger) FindOrCreate(user string, date calendar.Date) (r *storage.UsageRecord, created bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.index[storage.RecordKey{User: user, Date: date}]; ok {
		return r, false, nil
	}
	r, err = l.createLocked(user, date)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// Add increases the minutes of user on date by delta, creating the record
// when it does not exist, and returns the new total.
func (l *Ledger) Add(user string, date calendar.Date, delta int) (int, error) {
	if delta < 0 {
		return 0, fmt.Errorf("add %d minutes: %w", delta, storage.ErrInvalidMinutes)
	}

	r, _, err := l.FindOrCreate(user, date)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	r.Minutes += delta
	return r.Minutes, nil
}

// Used returns the minutes recorded for user on date, zero when absent.
func (l *Ledger) Used(user string, date calendar.Date) int {
	r, err := l.Find(user, date)
	if err != nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return r.Minutes
}

// Records returns a copy of every record in ledger order.
func (l *Ledger) Records() []storage.UsageRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]storage.UsageRecord, len(l.records))
	for i, r := range l.records {
		out[i] = *r
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Location describes the backing store.
func (l *Ledger) Location() string {
	return l.store.Location()
}

func (l *Ledger) createLocked(user string, date calendar.Date) (*storage.UsageRecord, error) {
	if user == "" {
		return nil, fmt.Errorf("create record: %w", storage.ErrFieldCount)
	}
	if err := storage.ValidateUser(user); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	key := storage.RecordKey{User: user, Date: date}
	if _, exists := l.index[key]; exists {
		return nil, fmt.Errorf("create record %s: %w", key, storage.ErrDuplicateKey)
	}

	r := &storage.UsageRecord{Date: date, User: user}
	l.records = append(l.records, r)
	l.index[key] = r
	return r, nil
}
