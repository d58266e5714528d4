package screener

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity of a lint issue
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// LintIssue is a structural problem found in a definition
type LintIssue struct {
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

func (i LintIssue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// LintError wraps the error-severity issues of a definition
type LintError struct {
	Issues []LintIssue
}

func (e *LintError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Path + ": " + issue.Message
	}
	return "invalid screener definition: " + strings.Join(msgs, "; ")
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// celReservedIdentifiers name CEL types and keywords. A question with
// one of these ids cannot be declared as a condition variable.
var celReservedIdentifiers = map[string]bool{
	"bool": true, "bytes": true, "double": true, "dyn": true, "int": true,
	"list": true, "map": true, "null_type": true, "string": true, "type": true,
	"uint": true,
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "namespace": true, "package": true, "return": true,
	"var": true, "void": true, "while": true,
}

// maxIdentifierLength matches the limit used for schema identifiers
const maxIdentifierLength = 100

// Lint checks a definition for authoring defects that the evaluator would
// otherwise tolerate at runtime, such as conditions naming questions that
// do not exist. It is meant to run when a screener version is published.
func (en *Engine) Lint(def *Definition) []LintIssue {
	var issues []LintIssue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, LintIssue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(def.Title) == "" {
		add(SeverityError, "title", "title is required")
	}
	if len(def.Questions) == 0 {
		add(SeverityError, "questions", "screener must contain at least one question")
	}

	ids := make(map[string]bool, len(def.Questions))
	for i, q := range def.Questions {
		path := fmt.Sprintf("questions[%d]", i)

		if err := validateQuestionID(q.ID); err != nil {
			add(SeverityError, path+".id", "invalid question id %q: %v", q.ID, err)
		}
		if ids[q.ID] {
			add(SeverityError, path+".id", "duplicate question id %q", q.ID)
		}
		ids[q.ID] = true

		if !q.Type.IsValid() {
			add(SeverityError, path+".type", "unknown question type %q", q.Type)
		}
		if q.Type == QuestionMultipleChoice && len(q.Options) == 0 {
			add(SeverityError, path+".options", "multiple_choice question requires options")
		}

		if v := q.Validation; v != nil {
			if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
				add(SeverityError, path+".validation", "min %s is greater than max %s", formatNumber(*v.Min), formatNumber(*v.Max))
			}
			if v.Regex != "" {
				if _, err := compilePattern(v.Regex); err != nil {
					add(SeverityError, path+".validation.regex", "pattern does not compile: %v", err)
				}
			}
			if (v.Min != nil || v.Max != nil) && q.Type != QuestionNumeric {
				add(SeverityWarning, path+".validation", "min/max only apply to numeric questions")
			}
			if v.Regex != "" && q.Type != QuestionText {
				add(SeverityWarning, path+".validation.regex", "regex only applies to text questions")
			}
		}
	}

	if len(def.Logic.Rules) == 0 {
		add(SeverityWarning, "logic.rules", "no rules defined; every complete session resolves to %q", def.Logic.DefaultOutcome)
	}
	for i, rule := range def.Logic.Rules {
		path := fmt.Sprintf("logic.rules[%d]", i)

		if !rule.Outcome.IsValid() {
			add(SeverityError, path+".outcome", "unknown outcome %q", rule.Outcome)
		}
		if strings.TrimSpace(rule.Condition) == "" {
			add(SeverityError, path+".condition", "condition is required")
			continue
		}
		if err := en.conditions.Compile(rule.Condition); err != nil {
			add(SeverityError, path+".condition", "condition does not compile: %v", err)
			continue
		}
		for _, id := range ExtractIdentifiers(rule.Condition) {
			if !ids[id] {
				add(SeverityError, path+".condition", "condition references unknown question %q", id)
			}
		}
	}

	if !def.Logic.DefaultOutcome.IsValid() {
		add(SeverityError, "logic.defaultOutcome", "unknown outcome %q", def.Logic.DefaultOutcome)
	}

	return issues
}

// CheckDefinition returns a *LintError when def has error-severity issues
func (en *Engine) CheckDefinition(def *Definition) error {
	var errs []LintIssue
	for _, issue := range en.Lint(def) {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	if len(errs) > 0 {
		return &LintError{Issues: errs}
	}
	return nil
}

func validateQuestionID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(id), maxIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("must match pattern %s", identifierPattern.String())
	}
	if reservedWords[id] || celReservedIdentifiers[id] {
		return fmt.Errorf("cannot use reserved word %q", id)
	}
	return nil
}
