package identity

import (
	"context"
	"os"
	"os/user"
	"strings"

	"github.com/goodtune/ktimer/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
)

// Normalize turns a host identity into the key used throughout ktimer:
// surrounding space is trimmed, a DOMAIN\ qualifier is dropped and the
// remainder is case-folded.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '\\'); i >= 0 {
		name = name[i+1:]
	}
	return folder.String(name)
}

var folder = cases.Fold()

// Source reports the identities currently using the host.
type Source interface {
	ActiveUsers(ctx context.Context) ([]string, error)
}

// StaticSource always reports the same identities.
type StaticSource []string

// ActiveUsers returns the fixed identity list.
func (s StaticSource) ActiveUsers(context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// ProcessOwner returns the normalized identity the current process runs as.
func ProcessOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return Normalize(u.Username)
	}
	for _, key := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			return Normalize(v)
		}
	}
	return ""
}

// Collector obtains the normalized active-user set for one accounting cycle.
type Collector struct {
	source Source
	owner  func() string
	logger zerolog.Logger
}

// NewCollector creates a collector reading from source.
func NewCollector(source Source, logger zerolog.Logger) *Collector {
	return &Collector{
		source: source,
		owner:  ProcessOwner,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// WithOwner replaces the fallback identity lookup.
func (c *Collector) WithOwner(owner func() string) *Collector {
	c.owner = owner
	return c
}

// Collect returns normalized, de-duplicated active identities in first-seen
// order. When the source fails, the owning process identity is used alone so
// the cycle can still make progress.
func (c *Collector) Collect(ctx context.Context) []string {
	var raw []string
	var err error
	if c.source != nil {
		raw, err = c.source.ActiveUsers(ctx)
	}
	if c.source == nil || err != nil {
		owner := c.owner()
		c.logger.Warn().
			Err(err).
			Str("fallback_user", owner).
			Msg("Failed to enumerate active users, falling back to process owner")
		if !c.valid(owner) {
			return nil
		}
		return []string{owner}
	}

	seen := make(map[string]struct{}, len(raw))
	users := make([]string, 0, len(raw))
	for _, name := range raw {
		n := Normalize(name)
		if !c.valid(n) {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		users = append(users, n)
	}
	return users
}

// valid reports whether a normalized identity can be accounted. Names with
// embedded whitespace cannot be stored in the ledger table.
func (c *Collector) valid(name string) bool {
	if name == "" {
		return false
	}
	if err := storage.ValidateUser(name); err != nil {
		c.logger.Warn().Err(err).Str("user", name).Msg("Ignoring identity that cannot be stored")
		return false
	}
	return true
}
