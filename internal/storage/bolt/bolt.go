package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/goodtune/ktimer/internal/storage"
	"go.etcd.io/bbolt"
)

const bucketLedger = "ledger"

// lockTimeout bounds the wait for the file lock held by another process.
const lockTimeout = 2 * time.Second

// Store implements storage.LedgerStore on a bbolt database. The database is
// opened for the duration of each Load or Save only, so monitor and report
// processes can read between accounting cycles.
type Store struct {
	path string
}

// Open returns a bbolt-backed ledger store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// Location returns the database path.
func (s *Store) Location() string { return s.path }

// Close is a no-op; the database is closed after every operation.
func (s *Store) Close() error { return nil }

func (s *Store) withDB(readOnly bool, fn func(db *bbolt.DB) error) error {
	db, err := bbolt.Open(s.path, 0600, &bbolt.Options{Timeout: lockTimeout, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("open bolt db: %w", err)
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

// Load reads every record of the ledger bucket in key order.
func (s *Store) Load(ctx context.Context) (storage.LoadResult, error) {
	var result storage.LoadResult

	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}

	err := s.withDB(true, func(db *bbolt.DB) error {
		return db.View(func(tx *bbolt.Tx) error {
			b := tx.Bucket([]byte(bucketLedger))
			if b == nil {
				return nil
			}
			entry := 0
			return b.ForEach(func(k, v []byte) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				entry++
				record, err := decodeRecord(v)
				if err != nil {
					result.Skipped = append(result.Skipped, &storage.ParseError{Line: entry, Text: string(k), Err: err})
					return nil
				}
				result.Add(record, entry)
				return nil
			})
		})
	})
	if err != nil {
		return storage.LoadResult{}, err
	}
	return result, nil
}

// Save recreates the ledger bucket with records inside one transaction.
func (s *Store) Save(ctx context.Context, records []storage.UsageRecord) error {
	return s.withDB(false, func(db *bbolt.DB) error {
		return db.Update(func(tx *bbolt.Tx) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := tx.DeleteBucket([]byte(bucketLedger)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("clear bucket %s: %w", bucketLedger, err)
			}
			b, err := tx.CreateBucket([]byte(bucketLedger))
			if err != nil {
				return fmt.Errorf("create bucket %s: %w", bucketLedger, err)
			}
			for _, r := range records {
				data, err := marshal(storedRecord{Date: r.Date.String(), User: r.User, Minutes: r.Minutes})
				if err != nil {
					return err
				}
				if err := b.Put([]byte(r.Key().String()), data); err != nil {
					return fmt.Errorf("put %s: %w", r.Key(), err)
				}
			}
			return nil
		})
	})
}

// storedRecord keeps the fields textual so malformed values surface as parse
// errors instead of failing the whole load.
type storedRecord struct {
	Date    string `json:"date"`
	User    string `json:"user"`
	Minutes int    `json:"minutes"`
}

func decodeRecord(data []byte) (storage.UsageRecord, error) {
	var stored storedRecord
	if err := unmarshal(data, &stored); err != nil {
		return storage.UsageRecord{}, err
	}
	return storage.ParseRecord(stored.Date, stored.User, strconv.Itoa(stored.Minutes))
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
