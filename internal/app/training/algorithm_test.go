package training

import (
	"testing"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
)

func toyRows() ([][]float64, []float64) {
	rows := [][]float64{
		{1, 1}, {1, 2}, {2, 1}, {1, 1},
		{50, 50}, {48, 52}, {55, 49}, {51, 51},
	}
	labels := []float64{0, 0, 0, 0, 1, 1, 1, 1}
	return rows, labels
}

func TestAlgorithmsFitAndScoreSeparateClasses(t *testing.T) {
	for _, tag := range []model.Algorithm{
		model.AlgorithmSmallNN,
		model.AlgorithmXGBoostLike,
		model.AlgorithmIsolationForest,
	} {
		t.Run(string(tag), func(t *testing.T) {
			rows, labels := toyRows()
			algo, err := NewAlgorithm(tag, 2)
			if err != nil {
				t.Fatalf("new algorithm: %v", err)
			}
			weights := make([]float64, len(rows))
			for i := range weights {
				weights[i] = 1
			}
			if err := algo.Fit(rows, labels, weights, 80); err != nil {
				t.Fatalf("fit: %v", err)
			}

			lowScore := algo.Score([]float64{1, 1})
			highScore := algo.Score([]float64{50, 50})
			if highScore <= lowScore {
				t.Fatalf("expected the anomalous cluster to score higher: low=%v high=%v", lowScore, highScore)
			}

			data, err := algo.Serialize()
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			restored, err := Deserialize(tag, data)
			if err != nil {
				t.Fatalf("deserialize: %v", err)
			}
			if got := restored.Score([]float64{50, 50}); got != highScore {
				t.Fatalf("deserialized algorithm scored differently: %v vs %v", got, highScore)
			}
		})
	}
}

func TestNewAlgorithmRejectsUnknownTag(t *testing.T) {
	_, err := NewAlgorithm(model.Algorithm("bogus"), 2)
	if apperr.CodeOf(err) != apperr.Validation {
		t.Fatalf("expected a Validation-classified error, got %v", err)
	}
}
