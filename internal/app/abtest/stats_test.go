package abtest

import (
	"math"
	"testing"
)

func TestTwoProportionZTestDetectsLargeDifference(t *testing.T) {
	z, p := TwoProportionZTest(500, 1000, 600, 1000)
	if z == 0 {
		t.Fatalf("expected a nonzero z statistic")
	}
	if p >= 0.05 {
		t.Fatalf("expected a significant p-value for a 10pp difference at n=1000, got %v", p)
	}
}

func TestTwoProportionZTestNoDifference(t *testing.T) {
	_, p := TwoProportionZTest(500, 1000, 505, 1000)
	if p < 0.05 {
		t.Fatalf("expected a non-significant p-value for a near-identical proportion, got %v", p)
	}
}

func TestTwoProportionZTestHandlesEmptySamples(t *testing.T) {
	z, p := TwoProportionZTest(0, 0, 5, 10)
	if z != 0 || p != 1 {
		t.Fatalf("expected a neutral result for an empty sample, got z=%v p=%v", z, p)
	}
}

func TestWelchTTestDetectsShiftedMean(t *testing.T) {
	a := []float64{0.1, 0.12, 0.11, 0.09, 0.1, 0.13, 0.11}
	b := []float64{0.4, 0.42, 0.39, 0.41, 0.43, 0.4, 0.38}
	stat, p, df := WelchTTest(a, b)
	if stat == 0 {
		t.Fatalf("expected a nonzero t statistic")
	}
	if p >= 0.05 {
		t.Fatalf("expected a significant p-value for a clearly shifted mean, got %v", p)
	}
	if df <= 0 {
		t.Fatalf("expected positive degrees of freedom, got %v", df)
	}
}

func TestBootstrapIsDeterministicForSameSeedKey(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	a := Bootstrap(sample, 200, "test-1")
	b := Bootstrap(sample, 200, "test-1")
	if len(a) != len(b) {
		t.Fatalf("expected equal-length bootstrap distributions")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical resamples for the same seed key at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestBootstrapDiffersAcrossSeedKeys(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	a := Bootstrap(sample, 500, "test-1")
	b := Bootstrap(sample, 500, "test-2")
	var diff int
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			diff++
		}
	}
	if diff == 0 {
		t.Fatalf("expected different seed keys to produce different bootstrap resamples")
	}
}
