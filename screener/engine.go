package screener

import (
	"fmt"
	"log/slog"
	"sync"
)

const (
	SummaryIncomplete = "Please complete all required questions correctly."
	SummaryOKToUse    = "Based on your answers, you are eligible to use this medication. A verification code has been generated for you."
	SummaryAskADoctor = "Based on your answers, please consult your healthcare provider before using this medication."
	SummaryDoNotUse   = "Based on your answers, this medication is not recommended for you. Please consult your healthcare provider."
	SummaryUnknown    = "We were unable to determine an outcome. Please consult your healthcare provider."
)

// RuleError reports a rule whose condition could not be evaluated. The
// rule is treated as not matching.
type RuleError struct {
	Index     int
	Condition string
	Kind      ConditionErrorKind
	Err       error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.Index, e.Err)
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger that receives rule diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(en *Engine) {
		if logger != nil {
			en.logger = logger
		}
	}
}

// WithRuleErrorHook registers a callback invoked for every rule that fails
// to compile or evaluate. The hook must be safe for concurrent use.
func WithRuleErrorHook(hook func(RuleError)) Option {
	return func(en *Engine) {
		en.onRuleError = hook
	}
}

// WithCostLimit overrides the per-condition CEL cost limit
func WithCostLimit(limit uint64) Option {
	return func(en *Engine) {
		en.costLimit = limit
	}
}

// conditionChecker is satisfied by *ConditionEvaluator
type conditionChecker interface {
	Check(condition string, answers AnswerSet) (bool, error)
	Compile(condition string) error
}

// Engine evaluates screener definitions against answer sets. It holds no
// per-evaluation state and is safe for concurrent use; the only shared
// data is the compiled condition cache.
type Engine struct {
	conditions  conditionChecker
	logger      *slog.Logger
	onRuleError func(RuleError)
	costLimit   uint64
}

// NewEngine creates an engine
func NewEngine(opts ...Option) (*Engine, error) {
	en := &Engine{
		logger:    discardLogger(),
		costLimit: DefaultCostLimit,
	}
	for _, opt := range opts {
		opt(en)
	}

	conditions, err := NewConditionEvaluator(en.logger, en.costLimit)
	if err != nil {
		return nil, err
	}
	en.conditions = conditions

	return en, nil
}

// Evaluate validates answers and, when they are complete and well formed,
// resolves the outcome from the definition's rules. Incomplete or invalid
// answers yield ask_a_doctor with the validation details attached.
// Evaluate never fails: broken rules are reported and skipped.
func (en *Engine) Evaluate(def *Definition, answers AnswerSet) EvaluationResult {
	v := ValidateAnswers(def, answers)
	if !v.Valid {
		return EvaluationResult{
			Outcome:          OutcomeAskADoctor,
			MissingRequired:  v.MissingRequired,
			ValidationErrors: v.ValidationErrors,
		}
	}
	return en.resolve(def, coerceAnswers(def, answers))
}

// coerceAnswers returns a copy of answers in which numeric questions carry
// float64 values, so "145" and 145 compare the same way in conditions.
func coerceAnswers(def *Definition, answers AnswerSet) AnswerSet {
	out := make(AnswerSet, len(answers))
	for k, v := range answers {
		out[k] = v
	}
	for _, q := range def.Questions {
		if q.Type != QuestionNumeric {
			continue
		}
		if n, ok := toNumber(out[q.ID]); ok {
			out[q.ID] = n
		}
	}
	return out
}

// resolve applies the rules in authored order; the first matching rule
// decides the outcome. If none match the default outcome is returned.
func (en *Engine) resolve(def *Definition, answers AnswerSet) EvaluationResult {
	for i, rule := range def.Logic.Rules {
		if !en.matches(i, rule, answers) {
			continue
		}
		return EvaluationResult{
			Outcome: rule.Outcome,
			MatchedRule: &MatchedRule{
				Condition: rule.Condition,
				Message:   rule.Message,
			},
		}
	}
	return EvaluationResult{Outcome: def.Logic.DefaultOutcome}
}

// matches evaluates a single rule. Errors and panics count as no match.
func (en *Engine) matches(index int, rule Rule, answers AnswerSet) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			en.report(RuleError{
				Index:     index,
				Condition: rule.Condition,
				Kind:      ErrKindPanic,
				Err:       fmt.Errorf("panic: %v", r),
			})
		}
	}()

	ok, err := en.conditions.Check(rule.Condition, answers)
	if err != nil {
		en.report(RuleError{
			Index:     index,
			Condition: rule.Condition,
			Kind:      errorKind(err),
			Err:       err,
		})
		return false
	}
	return ok
}

func (en *Engine) report(re RuleError) {
	en.logger.Warn("screener rule skipped",
		"rule_index", re.Index,
		"condition", re.Condition,
		"kind", re.Kind,
		"error", re.Err,
	)
	if en.onRuleError != nil {
		en.onRuleError(re)
	}
}

// OutcomeSummary returns the consumer-facing text for a result
func OutcomeSummary(result EvaluationResult) string {
	if result.Undetermined() {
		return SummaryIncomplete
	}

	switch result.Outcome {
	case OutcomeOKToUse:
		return SummaryOKToUse
	case OutcomeAskADoctor:
		return SummaryAskADoctor
	case OutcomeDoNotUse:
		return SummaryDoNotUse
	default:
		return SummaryUnknown
	}
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// Evaluate runs def against answers with a shared engine that logs nothing.
// Use NewEngine to attach a logger or rule error hook.
func Evaluate(def *Definition, answers AnswerSet) EvaluationResult {
	defaultEngineOnce.Do(func() {
		en, err := NewEngine()
		if err != nil {
			panic(fmt.Sprintf("screener: default engine: %v", err))
		}
		defaultEngine = en
	})
	return defaultEngine.Evaluate(def, answers)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
