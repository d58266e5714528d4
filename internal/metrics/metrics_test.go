package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/liamcoop/screener/screener"
)

func TestObserveEvaluation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveEvaluation(screener.EvaluationResult{Outcome: screener.OutcomeOKToUse}, time.Now())
	m.ObserveEvaluation(screener.EvaluationResult{
		Outcome:         screener.OutcomeAskADoctor,
		MissingRequired: []string{"q1"},
	}, time.Now())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("ok_to_use", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("ask_a_doctor", "true")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EvaluationDuration))
}

func TestRuleError(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RuleError(screener.RuleError{Index: 0, Condition: "q1 ==", Kind: screener.ErrKindCompile, Err: errors.New("syntax")})
	m.RuleError(screener.RuleError{Index: 1, Condition: "ldl > 'x'", Kind: screener.ErrKindEval, Err: errors.New("no such overload")})
	m.RuleError(screener.RuleError{Index: 2, Condition: "q1 ==", Kind: screener.ErrKindCompile, Err: errors.New("syntax")})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RuleErrors.WithLabelValues("compile")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleErrors.WithLabelValues("eval")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation(screener.EvaluationResult{}, time.Now())
		m.RuleError(screener.RuleError{})
		m.SetRejectedVersions(3)
	})
}
