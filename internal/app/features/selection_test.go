package features

import (
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
)

func sampleMatrix() Matrix {
	m := Matrix{
		Columns: []string{"amount", "amount_copy", "hour", "constant"},
		Data: map[string][]float64{
			"amount":      {10, 20, 30, 40, 50, 60, 70, 80},
			"amount_copy": {10, 20, 30, 40, 50, 60, 70, 80},
			"hour":        {1, 2, 3, 4, 20, 21, 22, 23},
			"constant":    {1, 1, 1, 1, 1, 1, 1, 1},
		},
		Labels: []float64{0, 0, 0, 0, 1, 1, 1, 1},
	}
	return m
}

func TestSelectDropsZeroVarianceColumn(t *testing.T) {
	m := sampleMatrix()
	result := Select(m, featureset.Config{MaxFeatures: 10})

	for _, f := range result.Selected {
		if f == "constant" {
			t.Fatalf("constant column should have been dropped by the variance filter, got %v", result.Selected)
		}
	}
}

func TestSelectDropsCorrelatedDuplicate(t *testing.T) {
	m := sampleMatrix()
	result := Select(m, featureset.Config{MaxFeatures: 10})

	hasAmount := false
	hasCopy := false
	for _, f := range result.Selected {
		if f == "amount" {
			hasAmount = true
		}
		if f == "amount_copy" {
			hasCopy = true
		}
	}
	if !hasAmount {
		t.Fatalf("expected amount to survive correlation filtering")
	}
	if hasCopy {
		t.Fatalf("expected amount_copy to be dropped as redundant with amount")
	}
	found := false
	for _, d := range result.CorrelationDrop {
		if d == "amount_copy" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected amount_copy recorded in CorrelationDrop, got %v", result.CorrelationDrop)
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	m := sampleMatrix()
	cfg := featureset.Config{MaxFeatures: 10}

	first := Select(m, cfg)
	for i := 0; i < 5; i++ {
		again := Select(m, cfg)
		if len(again.Selected) != len(first.Selected) {
			t.Fatalf("selection size changed across runs")
		}
		for j := range first.Selected {
			if first.Selected[j] != again.Selected[j] {
				t.Fatalf("selection order changed across runs: %v vs %v", first.Selected, again.Selected)
			}
		}
	}
}

func TestSelectRespectsMaxFeatures(t *testing.T) {
	m := sampleMatrix()
	result := Select(m, featureset.Config{MaxFeatures: 1})
	if len(result.Selected) != 1 {
		t.Fatalf("expected exactly 1 selected feature, got %d: %v", len(result.Selected), result.Selected)
	}
}

func TestSchemaHashDeterministic(t *testing.T) {
	a := SchemaHash([]string{"amount", "hour", "user_txn_count"})
	b := SchemaHash([]string{"user_txn_count", "amount", "hour"})
	if a != b {
		t.Fatalf("schema hash should not depend on input order: %s vs %s", a, b)
	}

	c := SchemaHash([]string{"amount", "hour"})
	if a == c {
		t.Fatalf("schema hash should differ for different feature sets")
	}
}
