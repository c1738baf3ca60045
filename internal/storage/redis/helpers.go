package redis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goodtune/ktimer/internal/storage"
)

// parseLedgerField converts one hash field and value to a UsageRecord
func parseLedgerField(field, value string) (storage.UsageRecord, error) {
	date, user, ok := strings.Cut(field, "/")
	if !ok {
		return storage.UsageRecord{}, fmt.Errorf("%w: field %q", storage.ErrFieldCount, field)
	}
	return storage.ParseRecord(date, user, value)
}

func sortedFields(data map[string]string) []string {
	fields := make([]string, 0, len(data))
	for field := range data {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
