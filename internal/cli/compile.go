package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/covenant-labs/covenant/internal/compiler"
	"github.com/covenant-labs/covenant/internal/operator"
	"github.com/covenant-labs/covenant/internal/registry"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledOperator is one operator in the compile command's output: its
// definition name, content address, and canonical configuration.
type CompiledOperator struct {
	Name    string         `json:"name"`
	Address string         `json:"address"`
	Config  map[string]any `json:"config"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <defs-dir>",
		Short: "Compile operator definitions and print their addresses",
		Long: `Compile CUE operator definitions to their canonical form.

Each operator's address is derived from its configuration alone, so the
addresses printed here are the addresses the operators will register under
when the definitions are loaded against a database.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, defsDir string, cmd *cobra.Command) error {
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

	if verrs := compiler.Validate(result.Definition); len(verrs) > 0 {
		return outputValidationErrors(formatter, verrs)
	}

	compiled, err := compileOperators(result.Definition)
	if err != nil {
		_ = formatter.Error(ErrCodeCompile, err.Error(), nil)
		return WrapExitError(ExitCommandError, "compilation failed", err)
	}

	if opts.Output != "" {
		if err := writeCompiled(compiled, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "write failed", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(compiled)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d operator(s)\n\n", len(compiled))
	for _, op := range compiled {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", op.Name, op.Address)
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote compiled definitions to %s\n", opts.Output)
	}
	return nil
}

// compileOperators computes the content address of every operator, sorted by
// name for stable output.
func compileOperators(def *compiler.Definition) ([]CompiledOperator, error) {
	names := make([]string, 0, len(def.Operators))
	for name := range def.Operators {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled := make([]CompiledOperator, 0, len(names))
	for _, name := range names {
		config := def.Operators[name].EncodeMap()
		address, err := registry.Address(operator.Kind, config)
		if err != nil {
			return nil, fmt.Errorf("operator %q: %w", name, err)
		}
		compiled = append(compiled, CompiledOperator{Name: name, Address: address, Config: config})
	}
	return compiled, nil
}

func writeCompiled(compiled []CompiledOperator, filename string) error {
	data, err := json.MarshalIndent(compiled, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling definitions: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

// outputLoadError emits a load error and wraps it as a command error.
func outputLoadError(formatter *OutputFormatter, err error) error {
	if loadErr, ok := err.(*LoadError); ok {
		_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		return WrapExitError(ExitCommandError, loadErr.Error(), nil)
	}
	_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, err.Error(), nil)
}
