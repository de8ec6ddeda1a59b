package tasks

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"codeshare/internal/state"
	"codeshare/pkg/types"
)

// Engine grades submissions against the catalog's rule sets and
// applies the idempotent point award through session state.
type Engine struct {
	catalog *Catalog
	regex   map[string]*regexp.Regexp
	log     zerolog.Logger
}

// Outcome describes the state-changing side of a submission.
type Outcome struct {
	Task         types.Task
	Points       int // student's new total
	CompletedNow bool
	Record       types.ProgressRecord
}

// NewEngine precompiles every regex rule in the catalog so evaluation
// stays allocation-light and a malformed pattern fails at startup
// rather than mid-class.
func NewEngine(catalog *Catalog, log zerolog.Logger) (*Engine, error) {
	compiled := make(map[string]*regexp.Regexp)
	for _, t := range catalog.List() {
		for _, rule := range t.Rules {
			if rule.Kind != types.RuleRegex {
				continue
			}
			if _, ok := compiled[rule.Pattern]; ok {
				continue
			}
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("task %d: bad rule pattern %q: %w", t.ID, rule.Pattern, err)
			}
			compiled[rule.Pattern] = re
		}
	}
	return &Engine{
		catalog: catalog,
		regex:   compiled,
		log:     log.With().Str("component", "tasks").Logger(),
	}, nil
}

// Catalog returns the engine's task catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Evaluate runs a task's ordered rules against code and computes the
// score. It has no side effects.
func (e *Engine) Evaluate(taskID int, code string) (types.ValidationResult, types.Task, error) {
	task, ok := e.catalog.Get(taskID)
	if !ok {
		return types.ValidationResult{}, types.Task{}, types.NotFoundf("task %d not found", taskID)
	}
	if strings.TrimSpace(code) == "" {
		return types.ValidationResult{}, types.Task{}, types.InvalidInputf("submitted code is empty")
	}

	results := make([]types.RuleResult, len(task.Rules))
	passedCount := 0
	for i, rule := range task.Rules {
		ok := e.checkRule(rule, code)
		if ok {
			passedCount++
		}
		results[i] = types.RuleResult{Passed: ok, Message: rule.Message}
	}

	score := int(math.Round(100 * float64(passedCount) / float64(len(task.Rules))))
	return types.ValidationResult{
		Passed:  passedCount == len(task.Rules),
		Score:   score,
		Results: results,
	}, task, nil
}

// Submit grades a submission and records it on the session: every
// attempt bumps the progress record, and the first passing attempt for
// a task awards its points exactly once.
func (e *Engine) Submit(sess *state.Session, studentID string, taskID int, code string) (types.ValidationResult, Outcome, error) {
	result, task, err := e.Evaluate(taskID, code)
	if err != nil {
		return types.ValidationResult{}, Outcome{}, err
	}

	completedNow, rec, err := sess.RecordAttempt(studentID, taskID, result.Score, result.Passed)
	if err != nil {
		return types.ValidationResult{}, Outcome{}, err
	}

	outcome := Outcome{Task: task, CompletedNow: completedNow, Record: rec}
	if completedNow {
		total, err := sess.AddPoints(studentID, task.Points)
		if err != nil {
			return types.ValidationResult{}, Outcome{}, err
		}
		outcome.Points = total
		e.log.Info().Str("session", sess.ID()).Str("student", studentID).
			Int("task", taskID).Int("points", total).Msg("task completed")
	} else if st, ok := sess.Student(studentID); ok {
		outcome.Points = st.Points
	}

	return result, outcome, nil
}

func (e *Engine) checkRule(rule types.ValidationRule, code string) bool {
	switch rule.Kind {
	case types.RuleContains:
		return strings.Contains(strings.ToLower(code), strings.ToLower(rule.Pattern))
	case types.RuleRegex:
		re, ok := e.regex[rule.Pattern]
		return ok && re.MatchString(code)
	case types.RuleMinCount:
		return strings.Count(strings.ToLower(code), strings.ToLower(rule.Pattern)) >= rule.Min
	default:
		return false
	}
}
