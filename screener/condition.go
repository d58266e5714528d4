package screener

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
)

// DefaultCostLimit bounds the runtime cost of a single condition
const DefaultCostLimit uint64 = 100000

// maxCachedPrograms caps the compiled program cache; it is cleared when full.
const maxCachedPrograms = 4096

// undefinedIdent is always bound to null so conditions written as
// `q3 == undefined` keep working.
const undefinedIdent = "undefined"

// reservedWords are never treated as question ids
var reservedWords = map[string]bool{
	"true":      true,
	"false":     true,
	"null":      true,
	"undefined": true,
	"and":       true,
	"or":        true,
	"not":       true,
	"in":        true,
}

// ConditionErrorKind classifies why a condition could not be evaluated
type ConditionErrorKind string

const (
	ErrKindCompile    ConditionErrorKind = "compile"
	ErrKindEval       ConditionErrorKind = "eval"
	ErrKindNonBoolean ConditionErrorKind = "non_boolean"
	ErrKindPanic      ConditionErrorKind = "panic"
)

// ConditionError describes a condition that failed to compile or evaluate
type ConditionError struct {
	Kind      ConditionErrorKind
	Condition string
	Err       error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("%s error in condition %q: %v", e.Kind, e.Condition, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

// compiled is a cache entry; a failed compilation is cached as well so
// a broken rule is not recompiled on every evaluation.
type compiled struct {
	prog   cel.Program
	idents []string
	err    error
}

// ConditionEvaluator compiles rule conditions with CEL and evaluates them
// against an answer set. The CEL grammar has no access to the host
// process; conditions can only compare, combine and test membership of the
// answers they name.
//
// Safe for concurrent use.
type ConditionEvaluator struct {
	env       *cel.Env
	costLimit uint64
	logger    *slog.Logger
	programs  map[string]*compiled
	mu        sync.RWMutex
}

// NewConditionEvaluator creates an evaluator with the base CEL environment
func NewConditionEvaluator(logger *slog.Logger, costLimit uint64) (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.CrossTypeNumericComparisons(true),
		cel.Variable(undefinedIdent, cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	if logger == nil {
		logger = discardLogger()
	}
	if costLimit == 0 {
		costLimit = DefaultCostLimit
	}

	return &ConditionEvaluator{
		env:       env,
		costLimit: costLimit,
		logger:    logger,
		programs:  make(map[string]*compiled),
	}, nil
}

// Evaluate returns whether condition holds for answers. Any failure yields
// false and is logged; it is never returned to the caller.
func (ce *ConditionEvaluator) Evaluate(condition string, answers AnswerSet) bool {
	matched, err := ce.Check(condition, answers)
	if err != nil {
		ce.logger.Warn("condition evaluation failed",
			"condition", condition,
			"kind", errorKind(err),
			"error", err,
		)
		return false
	}
	return matched
}

// Check is like Evaluate but reports the failure. matched is always false
// when err is non-nil.
func (ce *ConditionEvaluator) Check(condition string, answers AnswerSet) (matched bool, err error) {
	c := ce.compile(condition)
	if c.err != nil {
		return false, c.err
	}

	out, _, evalErr := c.prog.Eval(activation(c.idents, answers))
	if evalErr != nil {
		return false, &ConditionError{Kind: ErrKindEval, Condition: condition, Err: evalErr}
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, &ConditionError{
			Kind:      ErrKindNonBoolean,
			Condition: condition,
			Err:       fmt.Errorf("condition produced %T, want bool", out.Value()),
		}
	}
	return b, nil
}

// Compile validates that condition compiles without evaluating it
func (ce *ConditionEvaluator) Compile(condition string) error {
	return ce.compile(condition).err
}

func (ce *ConditionEvaluator) compile(condition string) *compiled {
	ce.mu.RLock()
	c, ok := ce.programs[condition]
	ce.mu.RUnlock()
	if ok {
		return c
	}

	c = ce.build(condition)

	ce.mu.Lock()
	if len(ce.programs) >= maxCachedPrograms {
		ce.programs = make(map[string]*compiled)
	}
	ce.programs[condition] = c
	ce.mu.Unlock()

	return c
}

func (ce *ConditionEvaluator) build(condition string) *compiled {
	fail := func(err error) *compiled {
		return &compiled{err: &ConditionError{Kind: ErrKindCompile, Condition: condition, Err: err}}
	}

	idents := ExtractIdentifiers(condition)

	opts := make([]cel.EnvOption, 0, len(idents))
	for _, id := range idents {
		opts = append(opts, cel.Variable(id, cel.DynType))
	}
	env, err := ce.env.Extend(opts...)
	if err != nil {
		return fail(err)
	}

	ast, issues := env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return fail(issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(ce.costLimit))
	if err != nil {
		return fail(err)
	}

	return &compiled{prog: prog, idents: idents}
}

// activation binds exactly the identifiers a condition mentions. Missing
// answers are bound to null. Values are copied so the caller's answer set
// is never retained.
func activation(idents []string, answers AnswerSet) map[string]any {
	vars := make(map[string]any, len(idents)+1)
	vars[undefinedIdent] = nil
	for _, id := range idents {
		vars[id] = normalize(answers[id])
	}
	return vars
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

// ExtractIdentifiers returns the sorted, de-duplicated bare identifiers
// referenced by condition. String literals, reserved words, field
// selections (x.y) and function names (f(...)) are skipped.
func ExtractIdentifiers(condition string) []string {
	seen := make(map[string]bool)
	s := condition
	n := len(s)

	for i := 0; i < n; {
		ch := s[i]
		switch {
		case ch == '\'' || ch == '"':
			i = skipString(s, i)

		case isDigit(ch):
			for i < n && (isIdentPart(s[i]) || s[i] == '.') {
				i++
			}

		case isIdentStart(ch):
			start := i
			for i < n && isIdentPart(s[i]) {
				i++
			}
			word := s[start:i]
			if reservedWords[word] || prevNonSpace(s, start) == '.' || nextNonSpace(s, i) == '(' {
				continue
			}
			seen[word] = true

		default:
			i++
		}
	}

	idents := make([]string, 0, len(seen))
	for id := range seen {
		idents = append(idents, id)
	}
	sort.Strings(idents)
	return idents
}

// skipString returns the index just past the quoted literal starting at i
func skipString(s string, i int) int {
	quote := s[i]
	i++
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		}
		i++
	}
	return len(s)
}

func prevNonSpace(s string, i int) byte {
	for i--; i >= 0; i-- {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

func nextNonSpace(s string, i int) byte {
	for ; i < len(s); i++ {
		if !isSpace(s[i]) {
			return s[i]
		}
	}
	return 0
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func errorKind(err error) ConditionErrorKind {
	var ce *ConditionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindEval
}
