package policy

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/quota"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

//go:embed rules/ktimer.rego
var decisionModule string

const decisionQuery = "data.ktimer.action"

// Evaluator decides actions with a compiled Rego module.
type Evaluator struct {
	query  rego.PreparedEvalQuery
	logger zerolog.Logger
}

// NewEvaluator compiles the built-in decision module.
func NewEvaluator(logger zerolog.Logger) (*Evaluator, error) {
	return newEvaluator(decisionModule, logger)
}

func newEvaluator(module string, logger zerolog.Logger) (*Evaluator, error) {
	r := rego.New(
		rego.Query(decisionQuery),
		rego.Module("ktimer.rego", module),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare decision query: %w", err)
	}

	return &Evaluator{
		query:  query,
		logger: logger.With().Str("component", "opa").Logger(),
	}, nil
}

// Decide evaluates the module for one user and day.
func (ev *Evaluator) Decide(ctx context.Context, user string, date calendar.Date, limit quota.Limit, used int) (Decision, error) {
	startTime := time.Now()

	input := map[string]interface{}{
		"user":      user,
		"date":      date.String(),
		"used":      used,
		"limit":     limit.Minutes,
		"monitored": limit.Monitored,
	}

	results, err := ev.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("decision query evaluation failed: %w", err)
	}

	ev.logger.Debug().Dur("duration_ms", time.Since(startTime)).Str("user", user).Msg("Decision query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("no results from decision query")
	}

	s, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return Decision{}, fmt.Errorf("decision is not a string: %T", results[0].Expressions[0].Value)
	}

	action := Action(s)
	switch action {
	case ActionAllow, ActionEnforce, ActionSkip:
	default:
		return Decision{}, fmt.Errorf("unknown action %q", s)
	}
	return newDecision(user, date, limit, used, action), nil
}
