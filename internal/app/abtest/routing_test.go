package abtest

import (
	"fmt"
	"testing"
)

func TestRouteToChallengerIsStablePerTransaction(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("tx-%d", i)
		first := RouteToChallenger(id, 0.3)
		for j := 0; j < 5; j++ {
			if RouteToChallenger(id, 0.3) != first {
				t.Fatalf("expected RouteToChallenger(%q, 0.3) to be stable across calls", id)
			}
		}
	}
}

func TestRouteToChallengerRespectsBoundaries(t *testing.T) {
	if RouteToChallenger("anything", 0) {
		t.Fatalf("expected a zero split to never route to the challenger")
	}
	if !RouteToChallenger("anything", 1) {
		t.Fatalf("expected a full split to always route to the challenger")
	}
}

func TestRouteToChallengerApproximatesSplitOverManyTransactions(t *testing.T) {
	const n = 5000
	const split = 0.2
	var toChallenger int
	for i := 0; i < n; i++ {
		if RouteToChallenger(fmt.Sprintf("txn-%d", i), split) {
			toChallenger++
		}
	}
	got := float64(toChallenger) / float64(n)
	if got < split-0.05 || got > split+0.05 {
		t.Fatalf("expected roughly %.2f of transactions routed to the challenger, got %.3f", split, got)
	}
}
