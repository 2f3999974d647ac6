package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, "loading %s", path)
		t.Run(scenario.Name, func(t *testing.T) {
			RunWithGolden(t, scenario)
		})
	}
}

func TestLoadScenario_ResolvesDefinitionPaths(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "authorize-release.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "authorize-release", scenario.Name)
	require.Len(t, scenario.Definitions, 1)
	assert.True(t, filepath.IsAbs(scenario.Definitions[0]) || strings.HasPrefix(scenario.Definitions[0], "testdata"),
		"definition path resolved relative to the scenario file: %s", scenario.Definitions[0])
}

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()

	defs := `operator: x: {release: condition: {receiver: true}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "defs.cue"), []byte(defs), 0644))

	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_Validation(t *testing.T) {
	valid := `
name: minimal
description: minimal scenario
definitions: [defs.cue]
operator: x
start_time: 100
payment: {payer: a, receiver: b, token: usd, max_amount: 100, pre_approval_expiry: 1, authorization_expiry: 2, refund_expiry: 3, salt: s}
steps:
  - {action: void, caller: a, expect: STATE}
assertions:
  - {type: tvl, expect: 0}
`
	path := writeScenarioFile(t, valid)
	_, err := LoadScenario(path)
	require.NoError(t, err)

	cases := []struct {
		name    string
		mangle  func(string) string
		wantErr string
	}{
		{"missing name", func(s string) string { return strings.Replace(s, "name: minimal", "name: \"\"", 1) }, "name is required"},
		{"unknown action", func(s string) string { return strings.Replace(s, "action: void", "action: explode", 1) }, "unknown action"},
		{"missing caller", func(s string) string { return strings.Replace(s, ", caller: a", "", 1) }, "caller is required"},
		{"no assertions", func(s string) string { return strings.Split(s, "assertions:")[0] }, "assertions list is required"},
		{"unknown assertion", func(s string) string { return strings.Replace(s, "type: tvl", "type: vibes", 1) }, "unknown assertion type"},
		{"unknown field", func(s string) string { return s + "\nextra: true\n" }, "field extra not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeScenarioFile(t, tc.mangle(valid))
			_, err := LoadScenario(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadScenario_MissingDefinitionFile(t *testing.T) {
	dir := t.TempDir()
	content := `
name: broken
description: refers to a definition that does not exist
definitions: [nope.cue]
operator: x
start_time: 100
payment: {payer: a, receiver: b, token: usd, max_amount: 100, pre_approval_expiry: 1, authorization_expiry: 2, refund_expiry: 3, salt: s}
steps:
  - {action: void, caller: a}
assertions:
  - {type: tvl, expect: 0}
`
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definition file not found")
}

func TestRun_StepExpectationMismatchAborts(t *testing.T) {
	defsDir := filepath.Join("testdata", "definitions")
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "release without authorization must fail",
		Definitions: []string{filepath.Join(defsDir, "checkout.cue")},
		Operator:    "checkout",
		StartTime:   100,
		Payment: PaymentSpec{
			Payer: "alice", Receiver: "bob", Token: "usd",
			MaxAmount: 100, PreApprovalExpiry: 1000,
			AuthorizationExpiry: 2000, RefundExpiry: 3000, Salt: "s-m",
		},
		Steps: []Step{
			{Action: "release", Caller: "bob", Amount: 50},
		},
		Assertions: []Assertion{{Type: AssertTVL, Expect: 0}},
	}
	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected error")
}

func TestRun_AssertionFailuresCollected(t *testing.T) {
	defsDir := filepath.Join("testdata", "definitions")
	scenario := &Scenario{
		Name:        "bad-assertions",
		Description: "every wrong expectation is reported",
		Definitions: []string{filepath.Join(defsDir, "checkout.cue")},
		Operator:    "checkout",
		StartTime:   100,
		Payment: PaymentSpec{
			Payer: "alice", Receiver: "bob", Token: "usd",
			MaxAmount: 10_000, PreApprovalExpiry: 1000,
			AuthorizationExpiry: 2000, RefundExpiry: 3000,
			MaxFeeBps: 500, Salt: "s-a",
		},
		Funding: []FundingStep{{Account: "alice", Amount: 5000}},
		Steps: []Step{
			{Action: "authorize", Caller: "alice", Amount: 1000},
		},
		Assertions: []Assertion{
			{Type: AssertBalance, Account: "alice", Expect: 9999},
			{Type: AssertTVL, Expect: 42},
			{Type: AssertEscrowState, Collected: 1000, Capturable: 1000, Refundable: 0},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0], "want 9999, got 4000")
	assert.Contains(t, result.Failures[1], "want 42, got 1000")
}
