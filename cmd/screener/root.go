package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liamcoop/screener/internal/config"
	"github.com/liamcoop/screener/screener"
)

// Set by the linker at build time.
var (
	version = "dev"
	commit  = "none"
)

// errLintFailed signals a lint run that found error issues
var errLintFailed = errors.New("lint found errors")

// newRootCmd builds the command tree with its own viper instance.
func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "screener",
		Short:         "Evaluate and check OTC medication screener definitions.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v.SetEnvPrefix(config.EnvPrefix)
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
				return err
			}
			color.NoColor = color.NoColor || !v.GetBool("color")
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	root.PersistentFlags().Bool("color", true, "Colorize outcomes in text output")
	root.PersistentFlags().Uint64("cost-limit", screener.DefaultCostLimit, "Evaluation cost limit per condition")

	root.AddCommand(newEvalCmd(v), newLintCmd(v), newVersionCmd())
	return root
}

func newEngine(v *viper.Viper) (*screener.Engine, error) {
	return screener.NewEngine(screener.WithCostLimit(v.GetUint64("cost-limit")))
}

func readDefinition(path string) (*screener.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	return screener.ParseDefinition(data)
}

// newVersionCmd shows the build version for diagnostic purposes
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of screener.",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("screener CLI\n")
			cmd.Printf("  Version: %s\n", version)
			cmd.Printf("  Commit:  %s\n", commit)
			cmd.Printf("  Runtime: %s\n", runtime.Version())
		},
	}
}
