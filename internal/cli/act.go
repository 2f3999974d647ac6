package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/covenant-labs/covenant/internal/operator"
	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/policy"
)

// ActOptions holds flags shared by the lifecycle action commands.
type ActOptions struct {
	*RootOptions
	Definitions string
	Database    string
	Operator    string
	Caller      string
	Amount      uint64
	Source      string
}

// NewActCommand creates the act command group: one subcommand per lifecycle
// action, all sharing the definitions/database/operator/caller flags.
func NewActCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "act",
		Short: "Run a payment lifecycle action",
		Long: `Run one payment lifecycle action against the database.

Every action loads the definitions, rebuilds the named operator at its
content address, and executes inside a single transaction: the escrow
movement, the policy recorder's writes, and the audit row commit together
or not at all.

Example:
  covenant act authorize payment.json --defs ./defs --db ./covenant.db \
      --operator checkout --caller alice --amount 1000`,
	}

	cmd.PersistentFlags().StringVar(&opts.Definitions, "defs", "", "path to definitions directory (required)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.PersistentFlags().StringVar(&opts.Operator, "operator", "", "operator definition name (required)")
	cmd.PersistentFlags().StringVar(&opts.Caller, "caller", "", "principal invoking the action (required)")
	_ = cmd.MarkPersistentFlagRequired("defs")
	_ = cmd.MarkPersistentFlagRequired("db")
	_ = cmd.MarkPersistentFlagRequired("operator")
	_ = cmd.MarkPersistentFlagRequired("caller")

	cmd.AddCommand(newActPaymentCommand(opts, "authorize", "Collect funds into escrow",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.Authorize(ctx, p, o.Amount, o.Source, o.Caller)
		}, true, true))
	cmd.AddCommand(newActPaymentCommand(opts, "charge", "Collect and capture in one action",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.Charge(ctx, p, o.Amount, o.Source, o.Caller)
		}, true, true))
	cmd.AddCommand(newActPaymentCommand(opts, "release", "Capture escrowed funds and pay the receiver",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.Release(ctx, p, o.Amount, o.Caller)
		}, true, false))
	cmd.AddCommand(newActPaymentCommand(opts, "refund", "Return escrowed funds to the payer",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.RefundInEscrow(ctx, p, o.Amount, o.Caller)
		}, true, false))
	cmd.AddCommand(newActPaymentCommand(opts, "refund-post", "Return captured funds to the payer from a named source",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.RefundPostEscrow(ctx, p, o.Amount, o.Source, o.Caller)
		}, true, true))
	cmd.AddCommand(newActPaymentCommand(opts, "void", "Cancel the remaining authorization",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.Void(ctx, p, o.Caller)
		}, false, false))
	cmd.AddCommand(newActPaymentCommand(opts, "freeze", "Set the timelock freeze latch",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.Freeze(ctx, p, o.Caller)
		}, false, false))
	cmd.AddCommand(newActPaymentCommand(opts, "unfreeze", "Lift the timelock freeze latch",
		func(ctx context.Context, op *operator.Operator, p pay.Descriptor, o *ActOptions) error {
			return op.Unfreeze(ctx, p, o.Caller)
		}, false, false))

	return cmd
}

type actionFunc func(ctx context.Context, op *operator.Operator, p pay.Descriptor, opts *ActOptions) error

func newActPaymentCommand(opts *ActOptions, name, short string, fn actionFunc, takesAmount, takesSource bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:           name + " <payment-file>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(opts, name, args[0], fn, cmd)
		},
	}
	if takesAmount {
		cmd.Flags().Uint64Var(&opts.Amount, "amount", 0, "amount to move (required)")
		_ = cmd.MarkFlagRequired("amount")
	}
	if takesSource {
		cmd.Flags().StringVar(&opts.Source, "source", "", "fund source account")
	}
	return cmd
}

func runAction(opts *ActOptions, action, paymentFile string, fn actionFunc, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	configureLogging(opts.Verbose)

	p, err := readDescriptorFile(paymentFile)
	if err != nil {
		_ = formatter.Error(ErrCodeBadPayment, err.Error(), nil)
		return WrapExitError(ExitCommandError, "loading payment descriptor", err)
	}
	hash, err := p.Hash()
	if err != nil {
		_ = formatter.Error(ErrCodeBadPayment, err.Error(), nil)
		return WrapExitError(ExitCommandError, "hashing payment descriptor", err)
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

	if err := fn(ctx, op, p, opts); err != nil {
		return outputActionError(formatter, action, hash, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"action":   action,
			"payment":  hash,
			"operator": op.Address(),
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s %s\n", action, hash)
	return nil
}

// outputActionError maps a policy error onto the CLI's error surface. Policy
// denials and state errors are failures (exit 1); configuration problems are
// command errors (exit 2).
func outputActionError(formatter *OutputFormatter, action, hash string, err error) error {
	code := ErrCodeActionError
	exit := ExitFailure
	if policy.IsConfigError(err) {
		exit = ExitCommandError
	}
	var perr *policy.Error
	if errors.As(err, &perr) {
		code = fmt.Sprintf("%s/%s", ErrCodeActionError, perr.Code)
	}
	_ = formatter.Error(code, err.Error(), map[string]string{"action": action, "payment": hash})
	return WrapExitError(exit, fmt.Sprintf("%s failed", action), err)
}

func configureLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
