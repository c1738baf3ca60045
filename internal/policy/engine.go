package policy

import (
	"context"
	"fmt"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/rs/zerolog"
)

// Engine turns accrued usage into decisions and launches the configured
// command for every overrun.
type Engine struct {
	evaluator *Evaluator
	launcher  Launcher
	logger    zerolog.Logger
}

// NewEngine creates a policy engine with the built-in decision module. A nil
// launcher uses ExecLauncher.
func NewEngine(launcher Launcher, logger zerolog.Logger) (*Engine, error) {
	if launcher == nil {
		launcher = ExecLauncher{}
	}

	evaluator, err := NewEvaluator(logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		evaluator: evaluator,
		launcher:  launcher,
		logger:    logger.With().Str("component", "policy").Logger(),
	}, nil
}

// Decide evaluates the decision module for user on date. If evaluation
// fails the built-in comparison of Evaluate is used instead.
func (e *Engine) Decide(ctx context.Context, user string, date calendar.Date, limit quota.Limit, used int) Decision {
	d, err := e.evaluator.Decide(ctx, user, date, limit, used)
	if err != nil {
		e.logger.Warn().Err(err).Str("user", user).Msg("Policy evaluation failed, using built-in comparison")
		return Evaluate(user, date, limit, used)
	}
	return d
}

// Evaluate decides what to do for user on date having used minutes.
// Usage equal to the limit is still allowed; only exceeding it enforces.
func Evaluate(user string, date calendar.Date, limit quota.Limit, used int) Decision {
	var action Action
	switch {
	case !limit.Monitored:
		action = ActionSkip
	case limit.Exceeded(used):
		action = ActionEnforce
	default:
		action = ActionAllow
	}
	return newDecision(user, date, limit, used, action)
}

func newDecision(user string, date calendar.Date, limit quota.Limit, used int, action Action) Decision {
	d := Decision{
		User:      user,
		Date:      date,
		Action:    action,
		Used:      used,
		Limit:     limit.Minutes,
		Monitored: limit.Monitored,
	}

	switch action {
	case ActionSkip:
		d.Reason = "no schedule configured"
	case ActionEnforce:
		d.Reason = fmt.Sprintf("used %d of %d minutes", used, limit.Minutes)
	default:
		d.Reason = fmt.Sprintf("%d minutes remaining", limit.Remaining(used))
	}
	return d
}

// Enforce launches cmd for an ENFORCE decision. Other decisions are a no-op.
// An empty command only logs the overrun.
func (e *Engine) Enforce(ctx context.Context, d Decision, cmd Command) error {
	if d.Action != ActionEnforce {
		return nil
	}

	if cmd.IsZero() {
		e.logger.Warn().
			Str("user", d.User).
			Int("used", d.Used).
			Int("limit", d.Limit).
			Msg("Limit exceeded, no policy command configured")
		return nil
	}

	if err := e.launcher.Launch(ctx, cmd, d.User); err != nil {
		return fmt.Errorf("launch %q for %s: %w", cmd.Path, d.User, err)
	}

	e.logger.Info().
		Str("user", d.User).
		Int("used", d.Used).
		Int("limit", d.Limit).
		Str("command", cmd.String()).
		Msg("Limit exceeded, policy command launched")
	return nil
}
