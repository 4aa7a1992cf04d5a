package training

import "testing"

type perfectAlgo struct{}

func (perfectAlgo) Fit([][]float64, []float64, []float64, int) error { return nil }
func (perfectAlgo) Score(row []float64) float64                      { return row[0] }
func (perfectAlgo) Importance() []float64                            { return []float64{1} }
func (perfectAlgo) Serialize() ([]byte, error)                       { return nil, nil }

func TestEvaluatePerfectSeparation(t *testing.T) {
	rows := [][]float64{{0.1}, {0.2}, {0.8}, {0.9}}
	labels := []float64{0, 0, 1, 1}

	m := Evaluate(perfectAlgo{}, rows, labels, 0.5)
	if m.Precision != 1 || m.Recall != 1 || m.F1 != 1 {
		t.Fatalf("expected perfect precision/recall/F1, got %+v", m)
	}
	if m.AUCROC != 1 {
		t.Fatalf("expected AUC-ROC of 1 for perfectly separated scores, got %v", m.AUCROC)
	}
	if m.FPR != 0 {
		t.Fatalf("expected 0 FPR, got %v", m.FPR)
	}
}

func TestEvaluateAUCChanceLevelForRandomScores(t *testing.T) {
	rows := [][]float64{{0.5}, {0.5}, {0.5}, {0.5}}
	labels := []float64{0, 1, 0, 1}

	m := Evaluate(perfectAlgo{}, rows, labels, 0.5)
	if m.AUCROC < 0.45 || m.AUCROC > 0.55 {
		t.Fatalf("expected near-chance AUC for tied scores, got %v", m.AUCROC)
	}
}
