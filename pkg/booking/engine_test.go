package booking

import "testing"

// Outcome resolution itself requires a live Store (the guard lives in SQL),
// so this is a unit-level smoke test of the closed outcome/decision sets;
// full coverage of §8's race property requires a database.

func TestOutcomeValues(t *testing.T) {
	outcomes := []Outcome{OutcomeApplied, OutcomeAlreadyFinalized, OutcomeUnauthorized, OutcomeNotFound}
	seen := map[Outcome]bool{}
	for _, o := range outcomes {
		if seen[o] {
			t.Fatalf("duplicate outcome value %q", o)
		}
		seen[o] = true
	}
}

func TestDecisionValues(t *testing.T) {
	if DecisionAccept == DecisionReject {
		t.Fatal("accept and reject must be distinct")
	}
}
