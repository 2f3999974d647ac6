package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/store"
)

// PayOptions holds flags shared by the pay subcommands.
type PayOptions struct {
	*RootOptions
	Database string
}

// NewPayCommand creates the pay command group.
func NewPayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Create and inspect payment descriptors",
	}

	cmd.AddCommand(newPayNewCommand(opts))
	cmd.AddCommand(newPayShowCommand(opts))
	cmd.AddCommand(newPayListCommand(opts))

	return cmd
}

// payNewOptions holds the descriptor fields taken as flags.
type payNewOptions struct {
	*PayOptions
	Operator            string
	Payer               string
	Receiver            string
	Token               string
	MaxAmount           uint64
	PreApprovalExpiry   int64
	AuthorizationExpiry int64
	RefundExpiry        int64
	MinFeeBps           uint32
	MaxFeeBps           uint32
	FeeReceiver         string
	Salt                string
	Output              string
}

func newPayNewCommand(payOpts *PayOptions) *cobra.Command {
	opts := &payNewOptions{PayOptions: payOpts}

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Construct a payment descriptor and print its hash",
		Long: `Construct a payment descriptor from flags.

The descriptor is not persisted; it enters the system when the first
lifecycle action runs against it. Write it to a file with --output and pass
that file to the act commands. An omitted salt gets a random UUID, so two
otherwise-identical invocations produce distinct payments.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPayNew(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Operator, "operator", "", "operator address (required)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "payer account (required)")
	cmd.Flags().StringVar(&opts.Receiver, "receiver", "", "receiver account (required)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "asset token (required)")
	cmd.Flags().Uint64Var(&opts.MaxAmount, "max-amount", 0, "authorizable amount cap (required)")
	cmd.Flags().Int64Var(&opts.PreApprovalExpiry, "pre-approval-expiry", 0, "authorize-before timestamp")
	cmd.Flags().Int64Var(&opts.AuthorizationExpiry, "authorization-expiry", 0, "release-before timestamp")
	cmd.Flags().Int64Var(&opts.RefundExpiry, "refund-expiry", 0, "refund-before timestamp")
	cmd.Flags().Uint32Var(&opts.MinFeeBps, "min-fee-bps", 0, "minimum combined fee rate")
	cmd.Flags().Uint32Var(&opts.MaxFeeBps, "max-fee-bps", 0, "maximum combined fee rate")
	cmd.Flags().StringVar(&opts.FeeReceiver, "fee-receiver", "", "payer-designated fee recipient")
	cmd.Flags().StringVar(&opts.Salt, "salt", "", "distinguishing salt (default random)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write descriptor JSON to file")
	_ = cmd.MarkFlagRequired("operator")
	_ = cmd.MarkFlagRequired("payer")
	_ = cmd.MarkFlagRequired("receiver")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("max-amount")

	return cmd
}

func runPayNew(opts *payNewOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	salt := opts.Salt
	if salt == "" {
		salt = uuid.Must(uuid.NewV7()).String()
	}

	p := pay.Descriptor{
		Operator:            opts.Operator,
		Payer:               opts.Payer,
		Receiver:            opts.Receiver,
		Token:               opts.Token,
		MaxAmount:           opts.MaxAmount,
		PreApprovalExpiry:   opts.PreApprovalExpiry,
		AuthorizationExpiry: opts.AuthorizationExpiry,
		RefundExpiry:        opts.RefundExpiry,
		MinFeeBps:           opts.MinFeeBps,
		MaxFeeBps:           opts.MaxFeeBps,
		FeeReceiver:         opts.FeeReceiver,
		Salt:                salt,
	}

	if err := p.Validate(); err != nil {
		_ = formatter.Error(ErrCodeBadPayment, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid payment descriptor", err)
	}
	hash, err := p.Hash()
	if err != nil {
		_ = formatter.Error(ErrCodeBadPayment, err.Error(), nil)
		return WrapExitError(ExitCommandError, "hashing payment descriptor", err)
	}

	canonical, err := p.MarshalCanonical()
	if err != nil {
		_ = formatter.Error(ErrCodeBadPayment, err.Error(), nil)
		return WrapExitError(ExitCommandError, "encoding payment descriptor", err)
	}
	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, canonical, 0644); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing descriptor file: %v", err), nil)
			return WrapExitError(ExitCommandError, "write failed", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"hash": hash, "descriptor": p})
	}
	fmt.Fprintf(formatter.Writer, "payment %s\n%s\n", hash, canonical)
	return nil
}

func newPayShowCommand(opts *PayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show <payment-hash>",
		Short:         "Show a persisted payment and its escrow state",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPayShow(opts, args[0], cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")
	return cmd
}

func runPayShow(opts *PayOptions, hash string, cmd *cobra.Command) error {
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

	var p pay.Descriptor
	var collected, capturable, refundable uint64
	var inEscrow bool
	err = st.View(cmd.Context(), func(ctx context.Context, tx *store.Tx) error {
		var err error
		p, err = tx.GetPayment(ctx, hash)
		if err != nil {
			return err
		}
		collected, capturable, refundable, inEscrow, err = tx.EscrowRecord(ctx, hash)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("no payment %s", hash), nil)
		return NewExitError(ExitFailure, "payment not found")
	}
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "reading payment", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"hash":       hash,
			"descriptor": p,
			"escrow": map[string]any{
				"collected":  collected,
				"capturable": capturable,
				"refundable": refundable,
				"active":     inEscrow,
			},
		})
	}

	canonical, _ := p.MarshalCanonical()
	fmt.Fprintf(formatter.Writer, "payment %s\n%s\n", hash, canonical)
	if inEscrow {
		fmt.Fprintf(formatter.Writer, "escrow: collected=%d capturable=%d refundable=%d\n",
			collected, capturable, refundable)
	} else {
		fmt.Fprintln(formatter.Writer, "escrow: not collected")
	}
	return nil
}

// payListOptions holds flags for the pay list subcommand.
type payListOptions struct {
	*PayOptions
	Payer    string
	Receiver string
	Offset   int
	Count    int
}

func newPayListCommand(payOpts *PayOptions) *cobra.Command {
	opts := &payListOptions{PayOptions: payOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indexed payments for a payer or receiver",
		Long: `List payment hashes indexed under a principal.

Only payments recorded through an index_payment recorder appear here;
indexing is a per-operator policy choice, not automatic.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPayList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Payer, "payer", "", "list payments funded by this account")
	cmd.Flags().StringVar(&opts.Receiver, "receiver", "", "list payments paying this account")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "page offset")
	cmd.Flags().IntVar(&opts.Count, "count", 20, "page size")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runPayList(opts *payListOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	role, principal := "payer", opts.Payer
	switch {
	case opts.Payer != "" && opts.Receiver != "":
		return NewExitError(ExitCommandError, "--payer and --receiver are mutually exclusive")
	case opts.Payer == "" && opts.Receiver == "":
		return NewExitError(ExitCommandError, "one of --payer or --receiver is required")
	case opts.Receiver != "":
		role, principal = "receiver", opts.Receiver
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, fmt.Sprintf("opening database: %v", err), nil)
		return WrapExitError(ExitCommandError, "database open failed", err)
	}
	defer st.Close()

	var page []string
	var total int
	err = st.View(cmd.Context(), func(ctx context.Context, tx *store.Tx) error {
		var err error
		page, total, err = tx.PaymentsByRole(ctx, role, principal, opts.Offset, opts.Count)
		return err
	})
	if err != nil {
		_ = formatter.Error(ErrCodeDatabase, err.Error(), nil)
		return WrapExitError(ExitCommandError, "listing payments", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"role":      role,
			"principal": principal,
			"offset":    opts.Offset,
			"total":     total,
			"payments":  page,
		})
	}

	fmt.Fprintf(formatter.Writer, "%d payment(s) for %s %s\n", total, role, principal)
	for _, hash := range page {
		fmt.Fprintf(formatter.Writer, "  %s\n", hash)
	}
	return nil
}

// readDescriptorFile loads a payment descriptor from a JSON file written by
// pay new.
func readDescriptorFile(path string) (pay.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pay.Descriptor{}, fmt.Errorf("reading descriptor file: %w", err)
	}
	var p pay.Descriptor
	if err := json.Unmarshal(data, &p); err != nil {
		return pay.Descriptor{}, fmt.Errorf("parsing descriptor file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return pay.Descriptor{}, err
	}
	return p, nil
}
