// Package harness runs declarative conformance scenarios against the
// payment lifecycle. A scenario names a definitions file, a payment, and a
// sequence of lifecycle steps with expected outcomes; the harness executes
// it on a fresh database under a manual clock and checks assertions over
// the final state. Traces are deterministic, so golden-file comparison
// catches any behavior drift.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions lists CUE definition files to compile, relative to the
	// scenario file location.
	Definitions []string `yaml:"definitions"`

	// Operator names the operator definition the scenario acts through.
	Operator string `yaml:"operator"`

	// Payment holds the descriptor fields. The operator address is filled
	// in by the harness after the operator is built; the scenario only
	// names the definition.
	Payment PaymentSpec `yaml:"payment"`

	// Funding credits account balances before the first step.
	Funding []FundingStep `yaml:"funding,omitempty"`

	// StartTime is the manual clock's initial reading (unix seconds).
	StartTime int64 `yaml:"start_time"`

	// Steps is the lifecycle sequence to execute.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state after all steps ran.
	Assertions []Assertion `yaml:"assertions"`
}

// PaymentSpec is the YAML form of a payment descriptor, minus the operator
// address.
type PaymentSpec struct {
	Payer               string `yaml:"payer"`
	Receiver            string `yaml:"receiver"`
	Token               string `yaml:"token"`
	MaxAmount           uint64 `yaml:"max_amount"`
	PreApprovalExpiry   int64  `yaml:"pre_approval_expiry"`
	AuthorizationExpiry int64  `yaml:"authorization_expiry"`
	RefundExpiry        int64  `yaml:"refund_expiry"`
	MinFeeBps           uint32 `yaml:"min_fee_bps,omitempty"`
	MaxFeeBps           uint32 `yaml:"max_fee_bps,omitempty"`
	FeeReceiver         string `yaml:"fee_receiver,omitempty"`
	Salt                string `yaml:"salt"`
}

// FundingStep credits one account before the scenario starts.
type FundingStep struct {
	Account string `yaml:"account"`
	Amount  uint64 `yaml:"amount"`
}

// Step is one scenario step: either a lifecycle action or a clock advance.
// A step with Advance set and no Action only moves the clock.
type Step struct {
	// Action names the lifecycle action: authorize, charge, release,
	// refund_in_escrow, refund_post_escrow, void, freeze, unfreeze,
	// distribute_fees.
	Action string `yaml:"action,omitempty"`

	// Caller is the principal invoking the action.
	Caller string `yaml:"caller,omitempty"`

	// Amount for actions that take one.
	Amount uint64 `yaml:"amount,omitempty"`

	// Source is the fund source for authorize, charge, and
	// refund_post_escrow.
	Source string `yaml:"source,omitempty"`

	// Advance moves the clock forward by this many seconds before the
	// action runs.
	Advance int64 `yaml:"advance,omitempty"`

	// Expect is the policy error code the step must fail with
	// (POLICY_DENIED, STATE, CONFIGURATION, REENTRANCY, OVERFLOW).
	// Empty means the step must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion validates one aspect of the final state.
type Assertion struct {
	// Type is one of: balance, escrow_state, accrued, tvl, frozen.
	Type string `yaml:"type"`

	// Account for balance assertions.
	Account string `yaml:"account,omitempty"`

	// Expect is the expected amount (balance, accrued, tvl).
	Expect uint64 `yaml:"expect,omitempty"`

	// Collected/Capturable/Refundable for escrow_state assertions.
	Collected  uint64 `yaml:"collected,omitempty"`
	Capturable uint64 `yaml:"capturable,omitempty"`
	Refundable uint64 `yaml:"refundable,omitempty"`

	// Frozen for frozen assertions.
	Frozen bool `yaml:"frozen,omitempty"`
}

// Assertion type constants.
const (
	AssertBalance     = "balance"
	AssertEscrowState = "escrow_state"
	AssertAccrued     = "accrued"
	AssertTVL         = "tvl"
	AssertFrozen      = "frozen"
)

// knownActions maps scenario action names to validity.
var knownActions = map[string]bool{
	"authorize":          true,
	"charge":             true,
	"release":            true,
	"refund_in_escrow":   true,
	"refund_post_escrow": true,
	"void":               true,
	"freeze":             true,
	"unfreeze":           true,
	"distribute_fees":    true,
}

// LoadScenario reads and parses a scenario YAML file. Definition paths are
// resolved relative to the scenario file's directory. Unknown YAML fields
// are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, defPath := range scenario.Definitions {
		if !filepath.IsAbs(defPath) {
			scenario.Definitions[i] = filepath.Join(base, defPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Definitions) == 0 {
		return fmt.Errorf("definitions list is required and must be non-empty")
	}
	if s.Operator == "" {
		return fmt.Errorf("operator is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, defPath := range s.Definitions {
		if _, err := os.Stat(defPath); os.IsNotExist(err) {
			return fmt.Errorf("definition file not found: %s", defPath)
		}
	}

	for i, step := range s.Steps {
		if step.Action == "" {
			if step.Advance <= 0 {
				return fmt.Errorf("steps[%d]: needs an action or a positive advance", i)
			}
			continue
		}
		if !knownActions[step.Action] {
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		if step.Caller == "" {
			return fmt.Errorf("steps[%d]: caller is required", i)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertBalance:
			if a.Account == "" {
				return fmt.Errorf("assertions[%d]: account is required for balance", i)
			}
		case AssertEscrowState, AssertAccrued, AssertTVL, AssertFrozen:
		case "":
			return fmt.Errorf("assertions[%d]: type is required", i)
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
	}

	return nil
}
