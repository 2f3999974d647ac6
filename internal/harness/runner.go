package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/covenant-labs/covenant/internal/compiler"
	"github.com/covenant-labs/covenant/internal/escrow"
	"github.com/covenant-labs/covenant/internal/operator"
	"github.com/covenant-labs/covenant/internal/pay"
	"github.com/covenant-labs/covenant/internal/policy"
	"github.com/covenant-labs/covenant/internal/store"
	"github.com/covenant-labs/covenant/internal/testutil"
)

// TraceEvent is one executed step in a scenario trace. Every field is a
// deterministic function of the scenario, so traces are stable across runs
// and machines.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Action string `json:"action"`
	Caller string `json:"caller"`
	Amount uint64 `json:"amount,omitempty"`
	Status string `json:"status"` // "ok" or "error"
	Code   string `json:"code,omitempty"`
}

// Result holds a scenario's trace and any assertion failures.
type Result struct {
	Trace    []TraceEvent
	Failures []string
}

// Run executes a scenario on a fresh temporary database under a manual
// clock. Step expectation mismatches abort the run with an error; assertion
// failures are collected in the result instead, so a test can report all of
// them at once.
func Run(scenario *Scenario) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "covenant-harness-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	def, err := compileDefinitions(scenario.Definitions)
	if err != nil {
		return nil, err
	}
	if verrs := compiler.Validate(def); len(verrs) > 0 {
		return nil, fmt.Errorf("definitions failed validation: %v", verrs[0])
	}
	spec, ok := def.Operators[scenario.Operator]
	if !ok {
		return nil, fmt.Errorf("no operator named %q in definitions", scenario.Operator)
	}

	st, err := store.Open(filepath.Join(tmpDir, "covenant.db"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	clock := testutil.NewManualClock(scenario.StartTime)
	ledger := &escrow.StoreLedger{}
	factory := operator.NewFactory(st, ledger, ledger, clock, testutil.NewFixedTokenGenerator())

	op, _, err := factory.Build(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("building operator: %w", err)
	}

	p := pay.Descriptor{
		Operator:            op.Address(),
		Payer:               scenario.Payment.Payer,
		Receiver:            scenario.Payment.Receiver,
		Token:               scenario.Payment.Token,
		MaxAmount:           scenario.Payment.MaxAmount,
		PreApprovalExpiry:   scenario.Payment.PreApprovalExpiry,
		AuthorizationExpiry: scenario.Payment.AuthorizationExpiry,
		RefundExpiry:        scenario.Payment.RefundExpiry,
		MinFeeBps:           scenario.Payment.MinFeeBps,
		MaxFeeBps:           scenario.Payment.MaxFeeBps,
		FeeReceiver:         scenario.Payment.FeeReceiver,
		Salt:                scenario.Payment.Salt,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("scenario payment: %w", err)
	}
	hash, err := p.Hash()
	if err != nil {
		return nil, err
	}

	for _, f := range scenario.Funding {
		err := st.WithTx(ctx, func(ctx context.Context, tx *store.Tx) error {
			return tx.AddBalance(ctx, p.Token, f.Account, f.Amount)
		})
		if err != nil {
			return nil, fmt.Errorf("funding %s: %w", f.Account, err)
		}
	}

	result := &Result{Trace: []TraceEvent{}}
	seq := 0
	for i, step := range scenario.Steps {
		if step.Advance > 0 {
			clock.Advance(step.Advance)
		}
		if step.Action == "" {
			continue
		}
		seq++

		actErr := dispatch(ctx, op, p, step)
		event := TraceEvent{
			Seq:    seq,
			Action: step.Action,
			Caller: step.Caller,
			Amount: step.Amount,
			Status: "ok",
		}
		if actErr != nil {
			event.Status = "error"
			event.Code = errorCode(actErr)
		}
		result.Trace = append(result.Trace, event)

		if step.Expect == "" && actErr != nil {
			return nil, fmt.Errorf("steps[%d] %s: unexpected error: %v", i, step.Action, actErr)
		}
		if step.Expect != "" {
			if actErr == nil {
				return nil, fmt.Errorf("steps[%d] %s: expected %s, succeeded", i, step.Action, step.Expect)
			}
			if code := errorCode(actErr); code != step.Expect {
				return nil, fmt.Errorf("steps[%d] %s: expected %s, got %s: %v", i, step.Action, step.Expect, code, actErr)
			}
		}
	}

	result.Failures = checkAssertions(ctx, scenario, st, op, p.Token, hash, clock.Now())
	return result, nil
}

// compileDefinitions compiles every definition file and merges the operator
// sets. Duplicate operator names across files are an error.
func compileDefinitions(paths []string) (*compiler.Definition, error) {
	merged := &compiler.Definition{Operators: map[string]*compiler.OperatorSpec{}}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading definition file: %w", err)
		}
		def, err := compiler.CompileBytes(data, filepath.Base(path))
		if err != nil {
			return nil, err
		}
		for name, spec := range def.Operators {
			if _, exists := merged.Operators[name]; exists {
				return nil, fmt.Errorf("operator %q defined in more than one file", name)
			}
			merged.Operators[name] = spec
		}
	}
	return merged, nil
}

func dispatch(ctx context.Context, op *operator.Operator, p pay.Descriptor, step Step) error {
	switch step.Action {
	case "authorize":
		return op.Authorize(ctx, p, step.Amount, step.Source, step.Caller)
	case "charge":
		return op.Charge(ctx, p, step.Amount, step.Source, step.Caller)
	case "release":
		return op.Release(ctx, p, step.Amount, step.Caller)
	case "refund_in_escrow":
		return op.RefundInEscrow(ctx, p, step.Amount, step.Caller)
	case "refund_post_escrow":
		return op.RefundPostEscrow(ctx, p, step.Amount, step.Source, step.Caller)
	case "void":
		return op.Void(ctx, p, step.Caller)
	case "freeze":
		return op.Freeze(ctx, p, step.Caller)
	case "unfreeze":
		return op.Unfreeze(ctx, p, step.Caller)
	case "distribute_fees":
		return op.DistributeFees(ctx, p.Token, step.Caller)
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// errorCode maps an action error onto the code recorded in the trace.
func errorCode(err error) string {
	var perr *policy.Error
	if errors.As(err, &perr) {
		return string(perr.Code)
	}
	return "ERROR"
}

// checkAssertions evaluates every assertion and returns descriptions of the
// ones that failed.
func checkAssertions(ctx context.Context, scenario *Scenario, st *store.Store, op *operator.Operator, token, hash string, now int64) []string {
	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	for i, a := range scenario.Assertions {
		switch a.Type {
		case AssertBalance:
			var got uint64
			err := st.View(ctx, func(ctx context.Context, tx *store.Tx) error {
				var err error
				got, err = tx.Balance(ctx, token, a.Account)
				return err
			})
			if err != nil {
				fail("assertions[%d] balance %s: %v", i, a.Account, err)
			} else if got != a.Expect {
				fail("assertions[%d] balance %s: want %d, got %d", i, a.Account, a.Expect, got)
			}
		case AssertEscrowState:
			state, ok, err := op.EscrowState(ctx, hash)
			if err != nil {
				fail("assertions[%d] escrow_state: %v", i, err)
				continue
			}
			if !ok {
				state = escrow.State{}
			}
			if state.Collected != a.Collected || state.Capturable != a.Capturable || state.Refundable != a.Refundable {
				fail("assertions[%d] escrow_state: want collected=%d capturable=%d refundable=%d, got collected=%d capturable=%d refundable=%d",
					i, a.Collected, a.Capturable, a.Refundable, state.Collected, state.Capturable, state.Refundable)
			}
		case AssertAccrued:
			got, err := op.AccruedFee(ctx, token)
			if err != nil {
				fail("assertions[%d] accrued: %v", i, err)
			} else if got != a.Expect {
				fail("assertions[%d] accrued: want %d, got %d", i, a.Expect, got)
			}
		case AssertTVL:
			var got uint64
			err := st.View(ctx, func(ctx context.Context, tx *store.Tx) error {
				var err error
				got, err = tx.TVL(ctx, token)
				return err
			})
			if err != nil {
				fail("assertions[%d] tvl: %v", i, err)
			} else if got != a.Expect {
				fail("assertions[%d] tvl: want %d, got %d", i, a.Expect, got)
			}
		case AssertFrozen:
			var latched bool
			var expiry int64
			err := st.View(ctx, func(ctx context.Context, tx *store.Tx) error {
				var err error
				latched, expiry, err = tx.FreezeRecord(ctx, hash)
				return err
			})
			// An expired latch reads as not frozen, matching release
			// eligibility.
			got := latched && (expiry == 0 || now < expiry)
			if err != nil {
				fail("assertions[%d] frozen: %v", i, err)
			} else if got != a.Frozen {
				fail("assertions[%d] frozen: want %v, got %v", i, a.Frozen, got)
			}
		}
	}

	return failures
}
