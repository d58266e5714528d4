package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liamcoop/screener/screener"
)

func newLintCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <definition.json>...",
		Short: "Check screener definitions for authoring defects.",
		Long: `Check screener definitions for authoring defects.

Reports invalid question ids, unknown outcomes, conditions that do not compile,
and conditions that reference questions the definition does not contain.
Exits non-zero when any error-severity issue is found.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			en, err := newEngine(v)
			if err != nil {
				return err
			}

			errRed := color.New(color.FgRed, color.Bold).SprintFunc()
			warnYellow := color.New(color.FgYellow).SprintFunc()
			okGreen := color.New(color.FgGreen).SprintFunc()

			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				def, err := readDefinition(path)
				if err != nil {
					fmt.Fprintf(out, "%s %s: %v\n", errRed("error"), path, err)
					failed = true
					continue
				}

				issues := en.Lint(def)
				if len(issues) == 0 {
					fmt.Fprintf(out, "%s %s\n", okGreen("ok"), path)
					continue
				}
				for _, issue := range issues {
					label := warnYellow(string(issue.Severity))
					if issue.Severity == screener.SeverityError {
						label = errRed(string(issue.Severity))
						failed = true
					}
					fmt.Fprintf(out, "%s %s: %s: %s\n", label, path, issue.Path, issue.Message)
				}
			}

			if failed {
				return errLintFailed
			}
			return nil
		},
	}
}
