package screener

import (
	"errors"
	"reflect"
	"testing"
)

func newTestConditionEvaluator(t *testing.T) *ConditionEvaluator {
	t.Helper()
	ce, err := NewConditionEvaluator(nil, 0)
	if err != nil {
		t.Fatalf("NewConditionEvaluator() failed: %v", err)
	}
	return ce
}

// TestConditionEvaluate verifies the supported grammar against answer values
func TestConditionEvaluate(t *testing.T) {
	ce := newTestConditionEvaluator(t)

	testCases := []struct {
		name      string
		condition string
		answers   AnswerSet
		want      bool
	}{
		{"Single quoted equality", `q1 == 'yes'`, AnswerSet{"q1": "yes"}, true},
		{"Double quoted equality", `q1 == "yes"`, AnswerSet{"q1": "yes"}, true},
		{"Equality mismatch", `q1 == 'yes'`, AnswerSet{"q1": "no"}, false},
		{"Inequality", `q1 != 'yes'`, AnswerSet{"q1": "no"}, true},
		{"Greater than double", `q5_ldl > 130`, AnswerSet{"q5_ldl": 145.0}, true},
		{"Greater than int", `q5_ldl > 130`, AnswerSet{"q5_ldl": 145}, true},
		{"Not greater", `q5_ldl > 130`, AnswerSet{"q5_ldl": 120.5}, false},
		{"Inclusive range", `ldl >= 130 && ldl <= 190`, AnswerSet{"ldl": 130.0}, true},
		{"Less than", `age < 18`, AnswerSet{"age": 17.0}, true},
		{"And", `q1 == 'yes' && q5_ldl > 130`, AnswerSet{"q1": "yes", "q5_ldl": 145.0}, true},
		{"Or", `q1 == 'yes' || q5_ldl > 130`, AnswerSet{"q1": "no", "q5_ldl": 100.0}, false},
		{"Not", `!(q1 == 'yes')`, AnswerSet{"q1": "no"}, true},
		{"Parentheses", `(q1 == 'yes' || q2 == 'yes') && q3 == 'no'`, AnswerSet{"q1": "no", "q2": "yes", "q3": "no"}, true},
		{"Boolean answer", `q1 == true`, AnswerSet{"q1": true}, true},
		{"List membership", `'nsaid' in meds`, AnswerSet{"meds": []string{"statin", "nsaid"}}, true},
		{"List membership any", `'nsaid' in meds`, AnswerSet{"meds": []any{"statin"}}, false},
		{"Missing answer equality", `q99 == 'x'`, AnswerSet{}, false},
		{"Missing answer inequality", `q99 != 'x'`, AnswerSet{}, true},
		{"Undefined sentinel", `q3 == undefined`, AnswerSet{}, true},
		{"Literal true", `true`, AnswerSet{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ce.Check(tc.condition, tc.answers)
			if err != nil {
				t.Fatalf("Check(%q) failed: %v", tc.condition, err)
			}
			if got != tc.want {
				t.Errorf("Check(%q) = %v, want %v", tc.condition, got, tc.want)
			}
			if got := ce.Evaluate(tc.condition, tc.answers); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.condition, got, tc.want)
			}
		})
	}
}

// TestConditionFailures verifies every failure evaluates to false with a classified error
func TestConditionFailures(t *testing.T) {
	ce := newTestConditionEvaluator(t)

	testCases := []struct {
		name      string
		condition string
		answers   AnswerSet
		wantKind  ConditionErrorKind
	}{
		{"Syntax error", `q1 ==`, AnswerSet{"q1": "yes"}, ErrKindCompile},
		{"Invalid operator", `q1 === 'yes'`, AnswerSet{"q1": "yes"}, ErrKindCompile},
		{"Mismatched parens", `(q1 == 'yes'`, AnswerSet{"q1": "yes"}, ErrKindCompile},
		{"Word operators", `q1 == 'yes' and q2 == 'no'`, AnswerSet{"q1": "yes"}, ErrKindCompile},
		{"Unknown function", `exec('ls')`, AnswerSet{}, ErrKindCompile},
		{"Empty condition", ``, AnswerSet{}, ErrKindCompile},
		{"Type mismatch", `q1 > 5`, AnswerSet{"q1": "yes"}, ErrKindEval},
		{"Null ordering", `q99 > 5`, AnswerSet{}, ErrKindEval},
		{"Non boolean", `ldl`, AnswerSet{"ldl": 145.0}, ErrKindNonBoolean},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ce.Check(tc.condition, tc.answers)
			if got {
				t.Errorf("Check(%q) = true, want false", tc.condition)
			}
			if err == nil {
				t.Fatalf("Check(%q) should return an error", tc.condition)
			}

			var condErr *ConditionError
			if !errors.As(err, &condErr) {
				t.Fatalf("error %v is not a *ConditionError", err)
			}
			if condErr.Kind != tc.wantKind {
				t.Errorf("Kind = %s, want %s (err: %v)", condErr.Kind, tc.wantKind, err)
			}

			if ce.Evaluate(tc.condition, tc.answers) {
				t.Errorf("Evaluate(%q) = true, want false", tc.condition)
			}
		})
	}
}

// TestConditionCompileCached verifies failed compilations are cached too
func TestConditionCompileCached(t *testing.T) {
	ce := newTestConditionEvaluator(t)

	first := ce.compile(`q1 ==`)
	second := ce.compile(`q1 ==`)
	if first != second {
		t.Error("compile() should return the cached entry")
	}
	if first.err == nil {
		t.Error("cached entry should carry the compile error")
	}

	if err := ce.Compile(`q1 == 'yes'`); err != nil {
		t.Errorf("Compile() failed: %v", err)
	}
	if len(ce.programs) != 2 {
		t.Errorf("cache holds %d programs, want 2", len(ce.programs))
	}
}

// TestExtractIdentifiers verifies free variables are found and literals skipped
func TestExtractIdentifiers(t *testing.T) {
	testCases := []struct {
		condition string
		want      []string
	}{
		{`q1 == 'yes' && q5_ldl > 130`, []string{"q1", "q5_ldl"}},
		{`q1 == 'q2 is quoted'`, []string{"q1"}},
		{`q1 == "it's \"quoted\" q3"`, []string{"q1"}},
		{`size(meds) > 2 && true`, []string{"meds"}},
		{`a.b == 1`, []string{"a"}},
		{`1e5 > x && 0x1F < y`, []string{"x", "y"}},
		{`not q1 and q2 or undefined == null`, []string{"q1", "q2"}},
		{`'x' in meds || q1 == q1`, []string{"meds", "q1"}},
		{`false`, []string{}},
	}

	for _, tc := range testCases {
		t.Run(tc.condition, func(t *testing.T) {
			got := ExtractIdentifiers(tc.condition)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ExtractIdentifiers(%q) = %v, want %v", tc.condition, got, tc.want)
			}
		})
	}
}
