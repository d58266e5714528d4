package screener

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
)

const (
	msgInvalidNumber = "Must be a valid number"
	msgInvalidFormat = "Invalid format"
	msgInvalidOption = "Invalid option selected"
)

// ValidateAnswers checks answers against the questions of def in document
// order. Required questions without an answer are collected in
// MissingRequired; type and format failures in ValidationErrors.
func ValidateAnswers(def *Definition, answers AnswerSet) ValidationResult {
	var missing []string
	errs := make(map[string]string)

	for _, q := range def.Questions {
		value, present := answers[q.ID]
		if !present || isBlank(value) {
			if q.Required {
				missing = append(missing, q.ID)
			}
			continue
		}

		if msg, ok := validateAnswer(q, value); !ok {
			errs[q.ID] = msg
		}
	}

	result := ValidationResult{
		Valid:           len(missing) == 0 && len(errs) == 0,
		MissingRequired: missing,
	}
	if len(errs) > 0 {
		result.ValidationErrors = errs
	}
	return result
}

// validateAnswer applies the type-specific checks for a present answer.
func validateAnswer(q Question, value any) (string, bool) {
	switch q.Type {
	case QuestionNumeric:
		n, ok := toNumber(value)
		if !ok {
			return msgInvalidNumber, false
		}
		if q.Validation == nil {
			return "", true
		}
		// Both bounds are checked; with min > max the max message wins.
		msg, valid := "", true
		if q.Validation.Min != nil && n < *q.Validation.Min {
			msg, valid = "Must be at least "+formatNumber(*q.Validation.Min), false
		}
		if q.Validation.Max != nil && n > *q.Validation.Max {
			msg, valid = "Must be at most "+formatNumber(*q.Validation.Max), false
		}
		return msg, valid

	case QuestionText:
		if q.Validation == nil || q.Validation.Regex == "" {
			return "", true
		}
		re, err := compilePattern(q.Validation.Regex)
		if err != nil || !re.MatchString(stringify(value)) {
			return msgInvalidFormat, false
		}
		return "", true

	case QuestionMultipleChoice:
		if list, ok := toStringList(value); ok {
			for _, v := range list {
				if !slices.Contains(q.Options, v) {
					return msgInvalidOption, false
				}
			}
			return "", true
		}
		if !slices.Contains(q.Options, stringify(value)) {
			return msgInvalidOption, false
		}
		return "", true
	}

	// yes_no and unknown types only take part in the required check
	return "", true
}

// isBlank reports whether an answer counts as not given. An empty
// selection list is blank.
func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// patterns caches compiled text patterns, failures included. It is
// cleared when it reaches maxCachedPrograms entries.
var patterns = struct {
	byExpr map[string]compiledPattern
	mu     sync.RWMutex
}{byExpr: make(map[string]compiledPattern)}

func compilePattern(expr string) (*regexp.Regexp, error) {
	patterns.mu.RLock()
	c, ok := patterns.byExpr[expr]
	patterns.mu.RUnlock()
	if ok {
		return c.re, c.err
	}

	re, err := regexp.Compile(expr)
	c = compiledPattern{re: re, err: err}

	patterns.mu.Lock()
	if len(patterns.byExpr) >= maxCachedPrograms {
		patterns.byExpr = make(map[string]compiledPattern)
	}
	patterns.byExpr[expr] = c
	patterns.mu.Unlock()

	return c.re, c.err
}

// toNumber coerces native numbers and numeric strings to float64
func toNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int8:
		n = float64(x)
	case int16:
		n = float64(x)
	case int32:
		n = float64(x)
	case int64:
		n = float64(x)
	case uint:
		n = float64(x)
	case uint8:
		n = float64(x)
	case uint16:
		n = float64(x)
	case uint32:
		n = float64(x)
	case uint64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// stringify renders an answer the way it is compared against options and
// patterns. Lists are joined with commas.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return formatNumber(x)
	case float32:
		return formatNumber(float64(x))
	case []string:
		return strings.Join(x, ",")
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func toStringList(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			out[i] = stringify(e)
		}
		return out, true
	}
	return nil, false
}
