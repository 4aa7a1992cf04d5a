package training

import "testing"

func imbalancedSample() ([][]float64, []float64) {
	var rows [][]float64
	var labels []float64
	for i := 0; i < 90; i++ {
		rows = append(rows, []float64{float64(i)})
		labels = append(labels, 0)
	}
	for i := 0; i < 10; i++ {
		rows = append(rows, []float64{1000 + float64(i)})
		labels = append(labels, 1)
	}
	return rows, labels
}

func TestClassWeightsBalanceTotalSignal(t *testing.T) {
	rows, labels := imbalancedSample()
	_, _, weights := Apply(StrategyClassWeight, rows, labels, 1)

	var posWeight, negWeight float64
	for i, l := range labels {
		if l > 0 {
			posWeight += weights[i]
		} else {
			negWeight += weights[i]
		}
	}
	if diff := posWeight - negWeight; diff < -0.01 || diff > 0.01 {
		t.Fatalf("expected class-weighted totals to balance, got pos=%v neg=%v", posWeight, negWeight)
	}
}

func TestUndersampleBalancesClassCounts(t *testing.T) {
	rows, labels := imbalancedSample()
	_, outLabels, _ := Apply(StrategyUndersample, rows, labels, 1)

	var pos, neg int
	for _, l := range outLabels {
		if l > 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos != neg {
		t.Fatalf("expected balanced classes after undersampling, got pos=%d neg=%d", pos, neg)
	}
}

func TestSMOTEBalancesClassCounts(t *testing.T) {
	rows, labels := imbalancedSample()
	_, outLabels, _ := Apply(StrategySMOTE, rows, labels, 1)

	var pos, neg int
	for _, l := range outLabels {
		if l > 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos != neg {
		t.Fatalf("expected balanced classes after SMOTE, got pos=%d neg=%d", pos, neg)
	}
}

func TestSMOTEDoesNotTouchTestSplit(t *testing.T) {
	// Apply is only ever meant to run on a training split; this test simply
	// documents that it performs no mutation of its input slices.
	rows, labels := imbalancedSample()
	rowsCopy := append([][]float64(nil), rows...)
	labelsCopy := append([]float64(nil), labels...)

	Apply(StrategySMOTE, rows, labels, 1)

	for i := range rows {
		if rows[i][0] != rowsCopy[i][0] {
			t.Fatalf("Apply must not mutate its input rows in place")
		}
		if labels[i] != labelsCopy[i] {
			t.Fatalf("Apply must not mutate its input labels in place")
		}
	}
}
