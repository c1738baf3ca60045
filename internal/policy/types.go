package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goodtune/ktimer/internal/calendar"
)

// Action represents the policy decision for one user on one day
type Action string

const (
	ActionAllow   Action = "ALLOW"
	ActionEnforce Action = "ENFORCE"
	ActionSkip    Action = "SKIP"
)

// UnmarshalJSON implements json.Unmarshaler to normalize action to uppercase.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Action(strings.ToUpper(s))

	switch normalized {
	case ActionAllow, ActionEnforce, ActionSkip:
		*a = normalized
		return nil
	default:
		return fmt.Errorf("invalid action: %s (must be ALLOW, ENFORCE, or SKIP)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// Decision is the outcome of evaluating a user's usage against their limit
type Decision struct {
	User      string        `json:"user"`
	Date      calendar.Date `json:"date"`
	Action    Action        `json:"action"`
	Used      int           `json:"used"`
	Limit     int           `json:"limit"`
	Monitored bool          `json:"monitored"`
	Reason    string        `json:"reason"`
}

// Command is the configured action launched on overrun
type Command struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"`
}

// IsZero reports whether no command is configured.
func (c Command) IsZero() bool {
	return c.Path == ""
}

// String renders the command line for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}
