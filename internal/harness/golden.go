package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/covenant-labs/covenant/internal/pay"
)

// TraceSnapshot is the golden-file form of a scenario trace. It serializes
// canonically, so golden files are byte-stable across runs.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":    event.Seq,
			"action": event.Action,
			"caller": event.Caller,
			"status": event.Status,
		}
		if event.Amount > 0 {
			eventMap["amount"] = event.Amount
		}
		if event.Code != "" {
			eventMap["code"] = event.Code
		}
		traceList[i] = eventMap
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares its trace against the
// golden file testdata/golden/{name}.golden. Regenerate golden files with:
//
//	go test ./internal/harness -update
//
// Assertion failures fail the test directly; the golden file covers the
// trace only.
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, failure := range result.Failures {
		t.Errorf("scenario %s: %s", scenario.Name, failure)
	}

	snapshot := TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace}
	traceJSON, err := pay.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		t.Fatalf("scenario %s: marshaling trace: %v", scenario.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
}
