package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/goodtune/ktimer/internal/storage"
	"github.com/google/renameio/v2"
)

const (
	// FileMode is the permission of a newly written ledger file.
	FileMode = 0644

	// MaxLineLength bounds one table line in bytes. Longer lines are skipped.
	MaxLineLength = 4096

	// skippedTextLength is how much of an oversize line is kept for reporting.
	skippedTextLength = 64
)

// Store keeps the ledger as a UTF-8 text table, one record per line:
// date, user and minutes separated by a tab.
type Store struct {
	path string
}

// Open returns a store for the table at path. The file itself is created on
// the first Save.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := storage.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Store{path: path}, nil
}

// Location returns the table path.
func (s *Store) Location() string { return s.path }

// Close is a no-op; the file is only open during Load and Save.
func (s *Store) Close() error { return nil }

// Load reads the table. Malformed lines are skipped and reported.
func (s *Store) Load(ctx context.Context) (storage.LoadResult, error) {
	var result storage.LoadResult

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := bufio.NewReader(f)
	lineNo := 0
	for {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		line, oversize, err := readLine(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read ledger: %w", err)
		}
		lineNo++
		if oversize {
			result.Skipped = append(result.Skipped, &storage.ParseError{
				Line: lineNo,
				Text: line[:skippedTextLength],
				Err:  fmt.Errorf("%w: line longer than %d bytes", storage.ErrFieldCount, MaxLineLength),
			})
			continue
		}
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		record, err := ParseLine(line)
		if err != nil {
			result.Skipped = append(result.Skipped, &storage.ParseError{Line: lineNo, Text: line, Err: err})
			continue
		}
		result.Add(record, lineNo)
	}
	return result, nil
}

// readLine returns the next line without its terminator. Past MaxLineLength
// the rest of the line is consumed and discarded, and oversize is set.
func readLine(r *bufio.Reader) (line string, oversize bool, err error) {
	var buf []byte
	started := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if err == io.EOF && started {
				return string(buf), oversize, nil
			}
			return "", false, err
		}
		started = true
		if !oversize {
			buf = append(buf, chunk...)
			if len(buf) > MaxLineLength {
				buf = buf[:MaxLineLength]
				oversize = true
			}
		}
		if !isPrefix {
			return string(buf), oversize, nil
		}
	}
}

// Save writes records to a temporary file next to the table and renames it
// over the previous contents, so readers see either the old or the new table.
func (s *Store) Save(ctx context.Context, records []storage.UsageRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var buf bytes.Buffer
	for _, r := range records {
		buf.WriteString(FormatLine(r))
		buf.WriteByte('\n')
	}
	if err := renameio.WriteFile(s.path, buf.Bytes(), FileMode); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// FormatLine renders a record in table form without the line terminator.
func FormatLine(r storage.UsageRecord) string {
	return r.Date.String() + "\t" + r.User + "\t" + strconv.Itoa(r.Minutes)
}

// ParseLine decodes one table line. Fields may be separated by any run of
// tabs and spaces.
func ParseLine(line string) (storage.UsageRecord, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == '\t' || r == ' '
	})
	if len(fields) != 3 {
		return storage.UsageRecord{}, fmt.Errorf("%w, got %d", storage.ErrFieldCount, len(fields))
	}
	return storage.ParseRecord(fields[0], fields[1], fields[2])
}
