package monitoring

import "testing"

func TestPSIIsZeroForIdenticalDistributions(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	psi := PSI(sample, sample)
	if psi > 0.01 {
		t.Fatalf("expected near-zero PSI for identical distributions, got %f", psi)
	}
}

func TestPSIDetectsShift(t *testing.T) {
	reference := make([]float64, 100)
	for i := range reference {
		reference[i] = float64(i)
	}
	current := make([]float64, 100)
	for i := range current {
		current[i] = float64(i) + 200
	}
	psi := PSI(reference, current)
	if StatusForPSI(psi) != "CRITICAL" {
		t.Fatalf("expected a large shift to band CRITICAL, got psi=%f", psi)
	}
}

func TestKSIsZeroForIdenticalDistributions(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5}
	stat, _ := KS(sample, sample)
	if stat != 0 {
		t.Fatalf("expected zero KS statistic, got %f", stat)
	}
}

func TestKSDetectsShift(t *testing.T) {
	reference := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	current := []float64{101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	stat, _ := KS(reference, current)
	if stat < 0.9 {
		t.Fatalf("expected a near-complete separation, got %f", stat)
	}
}

func TestChi2IsZeroForIdenticalCounts(t *testing.T) {
	ref := map[string]int{"US": 50, "UK": 50}
	cur := map[string]int{"US": 50, "UK": 50}
	chi2 := Chi2(ref, cur, 1e-3)
	if chi2 > 0.01 {
		t.Fatalf("expected near-zero chi2, got %f", chi2)
	}
}

func TestChi2DetectsSkew(t *testing.T) {
	ref := map[string]int{"US": 500, "UK": 500}
	cur := map[string]int{"US": 950, "UK": 50}
	chi2 := Chi2(ref, cur, 1e-3)
	if chi2 < 100 {
		t.Fatalf("expected a large chi2 for a strong skew, got %f", chi2)
	}
}

func TestRelativeDegradationSignConvention(t *testing.T) {
	if d := RelativeDegradation(0.8, 0.7); d <= 0 {
		t.Fatalf("expected positive degradation when current is worse, got %f", d)
	}
	if d := RelativeDegradation(0.8, 0.9); d >= 0 {
		t.Fatalf("expected negative degradation when current is better, got %f", d)
	}
}

func TestStatusBandsForPSIAndKS(t *testing.T) {
	if StatusForPSI(0.05) != "OK" || StatusForPSI(0.15) != "WARNING" || StatusForPSI(0.3) != "CRITICAL" {
		t.Fatalf("unexpected PSI bands")
	}
	if StatusForKS(0.02) != "OK" || StatusForKS(0.08) != "WARNING" || StatusForKS(0.2) != "CRITICAL" {
		t.Fatalf("unexpected KS bands")
	}
}
