package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liamcoop/screener/screener"
)

var (
	okColor     = color.New(color.FgGreen, color.Bold)
	askColor    = color.New(color.FgYellow, color.Bold)
	stopColor   = color.New(color.FgRed, color.Bold)
	detailColor = color.New(color.FgHiBlack)
)

// evalOutput is the --json shape, matching the server's evaluation response
type evalOutput struct {
	EvaluationID     string                `json:"evaluationId"`
	Outcome          screener.Outcome      `json:"outcome"`
	MatchedRule      *screener.MatchedRule `json:"matchedRule,omitempty"`
	MissingRequired  []string              `json:"missingRequired,omitempty"`
	ValidationErrors map[string]string     `json:"validationErrors,omitempty"`
	Undetermined     bool                  `json:"undetermined"`
	Summary          string                `json:"summary"`
}

func newEvalCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate an answer set against a screener definition.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := readDefinition(v.GetString("definition"))
			if err != nil {
				return err
			}

			answers, err := readAnswers(v.GetString("answers"))
			if err != nil {
				return err
			}

			en, err := newEngine(v)
			if err != nil {
				return err
			}

			result := en.Evaluate(def, answers)
			if v.GetBool("json") {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringP("definition", "d", "", "Path to the screener definition JSON")
	cmd.Flags().StringP("answers", "a", "", "Path to the answers JSON object")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("definition")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func readAnswers(path string) (screener.AnswerSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers: %w", err)
	}
	var answers screener.AnswerSet
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("failed to parse answers: %w", err)
	}
	return answers, nil
}

func writeJSON(w io.Writer, result screener.EvaluationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(evalOutput{
		EvaluationID:     uuid.NewString(),
		Outcome:          result.Outcome,
		MatchedRule:      result.MatchedRule,
		MissingRequired:  result.MissingRequired,
		ValidationErrors: result.ValidationErrors,
		Undetermined:     result.Undetermined(),
		Summary:          screener.OutcomeSummary(result),
	})
}

func outcomeLabel(o screener.Outcome) string {
	switch o {
	case screener.OutcomeOKToUse:
		return okColor.Sprint(o)
	case screener.OutcomeAskADoctor:
		return askColor.Sprint(o)
	case screener.OutcomeDoNotUse:
		return stopColor.Sprint(o)
	default:
		return string(o)
	}
}

func printResult(w io.Writer, result screener.EvaluationResult) {
	fmt.Fprintf(w, "Outcome: %s\n", outcomeLabel(result.Outcome))

	if result.MatchedRule != nil {
		fmt.Fprintf(w, "Matched: %s\n", result.MatchedRule.Condition)
		if result.MatchedRule.Message != "" {
			fmt.Fprintf(w, "Message: %s\n", result.MatchedRule.Message)
		}
	}

	if result.Undetermined() {
		fmt.Fprintln(w, detailColor.Sprint("Not a final decision: answers are incomplete or invalid"))
	}
	for _, id := range result.MissingRequired {
		fmt.Fprintf(w, "  missing  %s\n", id)
	}

	ids := make([]string, 0, len(result.ValidationErrors))
	for id := range result.ValidationErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  invalid  %s: %s\n", id, result.ValidationErrors[id])
	}

	fmt.Fprintf(w, "\n%s\n", screener.OutcomeSummary(result))
}
