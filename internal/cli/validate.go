package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/covenant-labs/covenant/internal/compiler"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Validate operator definitions",
		Long: `Validate CUE operator definitions against the policy rules.

All problems are collected and reported in one pass. Exit code 1 means the
definitions compiled but failed validation; exit code 2 means they could not
be loaded at all.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, defsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, err := LoadDefinitions(defsDir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, defsDir)

	verrs := compiler.Validate(result.Definition)
	if len(verrs) > 0 {
		return outputValidationErrors(formatter, verrs)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"operators": len(result.Definition.Operators),
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d operator(s) valid\n", len(result.Definition.Operators))
	return nil
}

// outputValidationErrors emits every validation error. Validation failures
// are test-style failures (exit code 1), not command errors.
func outputValidationErrors(formatter *OutputFormatter, verrs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		details := make([]map[string]string, len(verrs))
		for i, verr := range verrs {
			details[i] = map[string]string{
				"code":    verr.Code,
				"field":   verr.Field,
				"message": verr.Message,
			}
		}
		_ = formatter.Error(verrs[0].Code, verrs[0].Message, details)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(verrs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, verr := range verrs {
		fmt.Fprintf(formatter.Writer, "  [%s] %s\n      %s\n", verr.Code, verr.Field, verr.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(verrs)))
}
