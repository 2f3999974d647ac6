package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/covenant-labs/covenant/internal/store"
)

// FundOptions holds flags for the fund command.
type FundOptions struct {
	*RootOptions
	Database string
	Token    string
	Account  string
	Amount   uint64
}

// NewFundCommand creates the fund command. Balances normally arrive from an
// external settlement system; this command credits one directly, for demos
// and local development.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FundOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "fund",
		Short:         "Credit an account balance directly",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFund(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "asset token (required)")
	cmd.Flags().StringVar(&opts.Account, "account", "", "account to credit (required)")
	cmd.Flags().Uint64Var(&opts.Amount, "amount", 0, "amount to credit (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runFund(opts *FundOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, fmt.Sprintf("opening database: %v", err), nil)
		return WrapExitError(ExitCommandError, "database open failed", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	err = st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.AddBalance(ctx, opts.Token, opts.Account, opts.Amount)
	})
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "funding account", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"token":   opts.Token,
			"account": opts.Account,
			"amount":  opts.Amount,
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ credited %d %s to %s\n", opts.Amount, opts.Token, opts.Account)
	return nil
}
