// Package cliutil provides the common boilerplate around executing a
// cobra command: flag normalization and consistent error printing
// depending on whether logging has already been set up.
package cliutil

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// wordSepNormalizeFunc normalizes flags containing "_" to use "-" instead,
// so "--log_level" and "--log-level" both resolve to the same flag.
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// Run executes cmd, printing any resulting error to stderr before logging
// is configured and via zap's global logger afterwards, and returns a
// process exit code.
func Run(cmd *cobra.Command) int {
	if logsInitialized, err := run(cmd); err != nil {
		if !logsInitialized {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			zap.S().Errorf("command failed: %v", err)
		}
		return 1
	}
	return 0
}

func run(cmd *cobra.Command) (logsInitialized bool, err error) {
	cmd.SetGlobalNormalizationFunc(wordSepNormalizeFunc)

	if !cmd.SilenceUsage {
		cmd.SilenceUsage = true
		cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
			c.SilenceUsage = false
			return err
		})
	}
	cmd.SilenceErrors = true

	switch {
	case cmd.PersistentPreRun != nil:
		pre := cmd.PersistentPreRun
		cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
			logsInitialized = true
			pre(cmd, args)
		}
	case cmd.PersistentPreRunE != nil:
		pre := cmd.PersistentPreRunE
		cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			logsInitialized = true
			return pre(cmd, args)
		}
	case cmd.PreRun != nil:
		pre := cmd.PreRun
		cmd.PreRun = func(cmd *cobra.Command, args []string) {
			logsInitialized = true
			pre(cmd, args)
		}
	case cmd.PreRunE != nil:
		pre := cmd.PreRunE
		cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
			logsInitialized = true
			return pre(cmd, args)
		}
	}

	err = cmd.Execute()
	return
}
