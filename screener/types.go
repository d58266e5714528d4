package screener

import (
	"encoding/json"
	"fmt"
)

// Outcome is the clinical-eligibility verdict produced by a screener
type Outcome string

const (
	OutcomeOKToUse    Outcome = "ok_to_use"
	OutcomeAskADoctor Outcome = "ask_a_doctor"
	OutcomeDoNotUse   Outcome = "do_not_use"
)

// IsValid reports whether o is one of the three known outcomes
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeOKToUse, OutcomeAskADoctor, OutcomeDoNotUse:
		return true
	}
	return false
}

// QuestionType identifies how an answer is validated
type QuestionType string

const (
	QuestionYesNo          QuestionType = "yes_no"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionNumeric        QuestionType = "numeric"
	QuestionText           QuestionType = "text"
)

// IsValid reports whether t is a supported question type
func (t QuestionType) IsValid() bool {
	switch t {
	case QuestionYesNo, QuestionMultipleChoice, QuestionNumeric, QuestionText:
		return true
	}
	return false
}

// Validation holds optional numeric bounds or a text pattern for a question
type Validation struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Regex string   `json:"regex,omitempty"`
}

// Question is a single entry of a screener questionnaire
type Question struct {
	ID         string       `json:"id"`
	Type       QuestionType `json:"type"`
	Text       string       `json:"text"`
	Required   bool         `json:"required"`
	Options    []string     `json:"options,omitempty"`
	Validation *Validation  `json:"validation,omitempty"`
}

// UnmarshalJSON decodes a question, defaulting Required to true when the
// field is omitted.
func (q *Question) UnmarshalJSON(data []byte) error {
	type alias Question
	raw := struct {
		*alias
		Required *bool `json:"required"`
	}{alias: (*alias)(q)}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	q.Required = true
	if raw.Required != nil {
		q.Required = *raw.Required
	}
	return nil
}

// Rule maps a boolean condition over answers to an outcome.
// Rules are evaluated in the order they are authored.
type Rule struct {
	Condition string  `json:"condition"`
	Outcome   Outcome `json:"outcome"`
	Message   string  `json:"message,omitempty"`
}

// Logic is the ordered rule list plus the fallback outcome
type Logic struct {
	Rules          []Rule  `json:"rules"`
	DefaultOutcome Outcome `json:"defaultOutcome"`
}

// Definition is an immutable, versioned screener (the screenerJson document).
// The engine never modifies a Definition.
type Definition struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
	Logic       Logic      `json:"logic"`
	Disclaimers []string   `json:"disclaimers,omitempty"`
}

// Question returns the question with the given id, if any
func (d *Definition) Question(id string) (Question, bool) {
	for _, q := range d.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// ParseDefinition decodes a screenerJson document
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse screener definition: %w", err)
	}
	return &def, nil
}

// AnswerSet maps question ids to answer values. Values may be string,
// a number, bool, or a list of strings.
type AnswerSet map[string]any

// MatchedRule identifies the rule that produced an outcome
type MatchedRule struct {
	Condition string `json:"condition"`
	Message   string `json:"message,omitempty"`
}

// EvaluationResult is the output of a single evaluation
type EvaluationResult struct {
	Outcome          Outcome           `json:"outcome"`
	MatchedRule      *MatchedRule      `json:"matchedRule,omitempty"`
	MissingRequired  []string          `json:"missingRequired,omitempty"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
}

// Undetermined reports whether the result comes from failed answer
// validation rather than from the screener logic. An undetermined result
// is not a final clinical decision even though its outcome is ask_a_doctor.
func (r EvaluationResult) Undetermined() bool {
	return len(r.MissingRequired) > 0 || len(r.ValidationErrors) > 0
}

// ValidationResult is the output of ValidateAnswers
type ValidationResult struct {
	Valid            bool
	MissingRequired  []string
	ValidationErrors map[string]string
}
