package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/ktimer/internal/config"
	"github.com/goodtune/ktimer/internal/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the hash holding the ledger when none is configured.
const DefaultKey = "ktimer:ledger"

// Store implements storage.LedgerStore as a single Redis hash whose fields
// are "date/user" and whose values are accrued minutes.
type Store struct {
	client *redis.Client
	key    string
}

// Open creates a new Redis-backed ledger store
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	return &Store{client: client, key: key}, nil
}

// Location returns the hash key.
func (s *Store) Location() string {
	return fmt.Sprintf("redis://%s/%s", s.client.Options().Addr, s.key)
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Load reads the ledger hash. Fields are returned sorted by key.
func (s *Store) Load(ctx context.Context) (storage.LoadResult, error) {
	var result storage.LoadResult

	data, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return result, fmt.Errorf("read ledger hash: %w", err)
	}

	for i, field := range sortedFields(data) {
		record, err := parseLedgerField(field, data[field])
		if err != nil {
			result.Skipped = append(result.Skipped, &storage.ParseError{
				Line: i + 1,
				Text: field + "=" + data[field],
				Err:  err,
			})
			continue
		}
		result.Add(record, i+1)
	}
	return result, nil
}

// Save swaps the ledger hash in a single script execution so readers never
// observe a partially written table.
func (s *Store) Save(ctx context.Context, records []storage.UsageRecord) error {
	script := redis.NewScript(replaceLedgerScript)

	args := make([]interface{}, 0, len(records)*2)
	for _, r := range records {
		args = append(args, r.Key().String(), r.Minutes)
	}

	if err := script.Run(ctx, s.client, []string{s.key}, args...).Err(); err != nil {
		return fmt.Errorf("replace ledger hash: %w", err)
	}
	return nil
}
