package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/covenant-labs/covenant/internal/store"
)

// FeesOptions holds flags shared by the fees subcommands.
type FeesOptions struct {
	*RootOptions
	Definitions string
	Database    string
	Operator    string
	Token       string
	Caller      string
}

// NewFeesCommand creates the fees command group.
func NewFeesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FeesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Inspect and distribute operator fees",
	}

	cmd.PersistentFlags().StringVar(&opts.Definitions, "defs", "", "path to definitions directory (required)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.Operator, "operator", "", "operator definition name (required)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "asset token (required)")
	_ = cmd.MarkPersistentFlagRequired("defs")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("operator")
	_ = cmd.MarkPersistentFlagRequired("token")

	show := &cobra.Command{
		Use:           "show",
		Short:         "Show an operator's undistributed fees for a token",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeesShow(opts, cmd)
		},
	}

	distribute := &cobra.Command{
		Use:   "distribute",
		Short: "Sweep an operator's fee balance to its recipients",
		Long: `Sweep the operator's account for a token.

The accrued protocol fee share goes to the protocol fee recipient and the
remainder to the operator's fee recipient. A zero balance is a no-op.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeesDistribute(opts, cmd)
		},
	}
	distribute.Flags().StringVar(&opts.Caller, "caller", "", "principal invoking the distribution (required)")
	_ = distribute.MarkFlagRequired("caller")

	cmd.AddCommand(show)
	cmd.AddCommand(distribute)

	return cmd
}

func runFeesShow(opts *FeesOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := LoadRuntime(ctx, opts.Definitions, opts.Database)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	defer rt.Close()

	op, err := rt.Operator(opts.Operator)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	accrued, err := op.AccruedFee(ctx, opts.Token)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading accrued fees", err)
	}
	var balance uint64
	err = rt.Store.View(ctx, func(ctx context.Context, tx *store.Tx) error {
		var err error
		balance, err = tx.Balance(ctx, opts.Token, op.Address())
		return err
	})
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading operator balance", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"operator":         op.Address(),
			"token":            opts.Token,
			"balance":          balance,
			"accrued_protocol": accrued,
		})
	}
	fmt.Fprintf(formatter.Writer, "operator %s\n", op.Address())
	fmt.Fprintf(formatter.Writer, "  balance:          %d %s\n", balance, opts.Token)
	fmt.Fprintf(formatter.Writer, "  accrued protocol: %d %s\n", accrued, opts.Token)
	return nil
}

func runFeesDistribute(opts *FeesOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	configureLogging(opts.Verbose)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := LoadRuntime(ctx, opts.Definitions, opts.Database)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	defer rt.Close()

	op, err := rt.Operator(opts.Operator)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	if err := op.DistributeFees(ctx, opts.Token, opts.Caller); err != nil {
		return outputActionError(formatter, "distribute_fees", "", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"action":   "distribute_fees",
			"operator": op.Address(),
			"token":    opts.Token,
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ distributed %s fees for %s\n", opts.Token, op.Address())
	return nil
}
