// Package policy implements the composable policy-evaluation engine that
// gates payment operator actions.
//
// The engine has two capability interfaces:
//
//   - Condition: a pure boolean predicate over (payment, amount, caller).
//     Conditions never mutate state; they may read it through the Env.
//   - Recorder: a side-effecting hook invoked after a policy check passes.
//     Recorder failure aborts the entire enclosing action.
//
// Arbitrary role/time/limit rules are built by composing atoms
// (payer-is-caller, receiver-is-caller, fixed principal, always-true,
// TVL limit, escrow-period eligibility) with the fixed combinator set
// (And, Or, Not, fan-out). The orchestrator holds only opaque handles and
// never needs modification when a new rule shape is required.
//
// Evaluation is single-threaded and synchronous: all nested checks inside one
// operator action run in-line on the caller's goroutine, and any failure
// unwinds the whole action.
package policy
