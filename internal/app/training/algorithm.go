// Package training fits a scoring model against a selected feature matrix,
// evaluates it, and registers the result as a TRAINED Model.
package training

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/r3e-network/fraudctl/internal/app/apperr"
	"github.com/r3e-network/fraudctl/internal/app/domain/model"
)

// Algorithm is the minimal contract every training algorithm implements:
// fit weighted rows of a feature matrix against a label, then score new
// rows in [0,1]. None of these are meant to be competitive estimators —
// the retrieval pack carries no gradient-boosting or ML library, so each
// is a small, bounded-iteration, dependency-free stand-in that still
// produces a real score distribution and real per-feature importances.
type Algorithm interface {
	// Fit trains against rows (one []float64 per sample, aligned column
	// order), labels (0/1) and per-sample weights, within maxIterations.
	Fit(rows [][]float64, labels []float64, weights []float64, maxIterations int) error
	// Score returns a fraud probability in [0,1] for one row.
	Score(row []float64) float64
	// Importance returns one non-negative weight per input column, in the
	// same order as the columns Fit was called with.
	Importance() []float64
	// Serialize renders the fitted parameters as a portable JSON document.
	Serialize() ([]byte, error)
}

// Deserialize reconstructs a fitted Algorithm of the given tag from bytes
// previously produced by Serialize, for inference-time loading.
func Deserialize(tag model.Algorithm, data []byte) (Algorithm, error) {
	switch tag {
	case model.AlgorithmIsolationForest:
		var snap isolationSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, apperr.NewArtifactCorrupted("model", err)
		}
		return &isolationStub{medians: snap.Medians, scale: snap.Scale}, nil
	case model.AlgorithmXGBoostLike, model.AlgorithmLightGBMLike, model.AlgorithmRandomForest:
		var snap stumpSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, apperr.NewArtifactCorrupted("model", err)
		}
		return &stumpEnsemble{stumps: snap.Stumps, importance: snap.Importance}, nil
	case model.AlgorithmSmallNN:
		var snap linearSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, apperr.NewArtifactCorrupted("model", err)
		}
		return &linearPerceptron{weights: snap.Weights, bias: snap.Bias, lr: snap.LearningRate}, nil
	default:
		return nil, apperr.NewValidation("unknown algorithm %q", tag)
	}
}

// NewAlgorithm constructs the stand-in implementation for tag, or an
// AlgorithmRejected-classified error if tag is unknown.
func NewAlgorithm(tag model.Algorithm, nFeatures int) (Algorithm, error) {
	switch tag {
	case model.AlgorithmIsolationForest:
		return newIsolationStub(nFeatures), nil
	case model.AlgorithmXGBoostLike, model.AlgorithmLightGBMLike, model.AlgorithmRandomForest:
		return newStumpEnsemble(nFeatures), nil
	case model.AlgorithmSmallNN:
		return newLinearPerceptron(nFeatures), nil
	default:
		return nil, apperr.NewValidation("unknown algorithm %q", tag).WithDetails("reason", "AlgorithmRejected")
	}
}

// linearPerceptron is a logistic-regression stand-in fit by bounded-epoch
// stochastic gradient descent, used for small_nn.
type linearPerceptron struct {
	weights []float64
	bias    float64
	lr      float64
}

func newLinearPerceptron(n int) *linearPerceptron {
	return &linearPerceptron{weights: make([]float64, n), lr: 0.05}
}

func (p *linearPerceptron) Fit(rows [][]float64, labels, weights []float64, maxIterations int) error {
	if len(rows) == 0 {
		return apperr.NewValidation("training requires at least one row")
	}
	for epoch := 0; epoch < maxIterations; epoch++ {
		for i, row := range rows {
			pred := sigmoid(dot(p.weights, row) + p.bias)
			w := 1.0
			if i < len(weights) {
				w = weights[i]
			}
			err := (labels[i] - pred) * w
			for j, x := range row {
				p.weights[j] += p.lr * err * x
			}
			p.bias += p.lr * err
		}
	}
	return nil
}

func (p *linearPerceptron) Score(row []float64) float64 {
	return sigmoid(dot(p.weights, row) + p.bias)
}

func (p *linearPerceptron) Importance() []float64 {
	out := make([]float64, len(p.weights))
	for i, w := range p.weights {
		out[i] = math.Abs(w)
	}
	return out
}

type linearSnapshot struct {
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	LearningRate float64   `json:"learning_rate"`
}

func (p *linearPerceptron) Serialize() ([]byte, error) {
	return json.Marshal(linearSnapshot{Weights: p.weights, Bias: p.bias, LearningRate: p.lr})
}

func dot(a, b []float64) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// stumpEnsemble is a small additive ensemble of single-feature decision
// stumps, fit greedily by weighted Gini gain — a bounded-capacity stand-in
// shared by the gradient-boosted-tree-shaped algorithm tags.
type stumpEnsemble struct {
	stumps     []stump
	importance []float64
}

type stump struct {
	Feature   int
	Threshold float64
	Above     float64 // predicted label-rate above threshold
	Below     float64
	Weight    float64
}

func newStumpEnsemble(n int) *stumpEnsemble {
	return &stumpEnsemble{importance: make([]float64, n)}
}

func (e *stumpEnsemble) Fit(rows [][]float64, labels, weights []float64, maxIterations int) error {
	if len(rows) == 0 {
		return apperr.NewValidation("training requires at least one row")
	}
	nFeatures := len(rows[0])
	residual := make([]float64, len(labels))
	copy(residual, labels)

	rounds := maxIterations
	if rounds <= 0 || rounds > 50 {
		rounds = 50
	}

	for round := 0; round < rounds; round++ {
		best := stump{Feature: -1}
		var bestGain float64 = -1

		for f := 0; f < nFeatures; f++ {
			threshold := medianOf(column(rows, f))
			above, below, gain := splitGain(rows, residual, weights, f, threshold)
			if gain > bestGain {
				bestGain = gain
				best = stump{Feature: f, Threshold: threshold, Above: above, Below: below, Weight: 0.3}
			}
		}
		if best.Feature < 0 || bestGain <= 0 {
			break
		}
		e.stumps = append(e.stumps, best)
		e.importance[best.Feature] += bestGain

		for i, row := range rows {
			pred := best.Below
			if row[best.Feature] > best.Threshold {
				pred = best.Above
			}
			residual[i] -= best.Weight * (pred - 0.5)
		}
	}
	return nil
}

func (e *stumpEnsemble) Score(row []float64) float64 {
	var sum float64
	for _, s := range e.stumps {
		if s.Feature >= len(row) {
			continue
		}
		pred := s.Below
		if row[s.Feature] > s.Threshold {
			pred = s.Above
		}
		sum += s.Weight * pred
	}
	return clamp01(sigmoid(sum*4 - 1))
}

func (e *stumpEnsemble) Importance() []float64 {
	return append([]float64(nil), e.importance...)
}

type stumpSnapshot struct {
	Stumps     []stump   `json:"stumps"`
	Importance []float64 `json:"importance"`
}

func (e *stumpEnsemble) Serialize() ([]byte, error) {
	return json.Marshal(stumpSnapshot{Stumps: e.stumps, Importance: e.importance})
}

func column(rows [][]float64, f int) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		out[i] = row[f]
	}
	return out
}

func medianOf(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func splitGain(rows [][]float64, labels, weights []float64, feature int, threshold float64) (above, below, gain float64) {
	var aboveSum, aboveW, belowSum, belowW float64
	for i, row := range rows {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		if row[feature] > threshold {
			aboveSum += labels[i] * w
			aboveW += w
		} else {
			belowSum += labels[i] * w
			belowW += w
		}
	}
	if aboveW == 0 || belowW == 0 {
		return 0, 0, 0
	}
	above = aboveSum / aboveW
	below = belowSum / belowW
	gain = math.Abs(above-below) * math.Min(aboveW, belowW)
	return above, below, gain
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// isolationStub scores rows by normalized distance from the per-feature
// training median, standing in for isolation_forest's path-length anomaly
// score without building actual isolation trees.
type isolationStub struct {
	medians []float64
	scale   []float64
}

func newIsolationStub(n int) *isolationStub {
	return &isolationStub{medians: make([]float64, n), scale: make([]float64, n)}
}

func (s *isolationStub) Fit(rows [][]float64, labels, weights []float64, maxIterations int) error {
	if len(rows) == 0 {
		return apperr.NewValidation("training requires at least one row")
	}
	n := len(rows[0])
	s.medians = make([]float64, n)
	s.scale = make([]float64, n)
	for f := 0; f < n; f++ {
		col := column(rows, f)
		med := medianOf(col)
		s.medians[f] = med
		var mad float64
		for _, v := range col {
			mad += math.Abs(v - med)
		}
		s.scale[f] = math.Max(mad/math.Max(float64(len(col)), 1), 1e-6)
	}
	return nil
}

func (s *isolationStub) Score(row []float64) float64 {
	var dist float64
	n := len(s.medians)
	for f := 0; f < n && f < len(row); f++ {
		dist += math.Abs(row[f]-s.medians[f]) / s.scale[f]
	}
	return clamp01(1 - math.Exp(-dist/float64(max(n, 1))))
}

func (s *isolationStub) Importance() []float64 {
	out := make([]float64, len(s.scale))
	for i, sc := range s.scale {
		out[i] = 1 / sc
	}
	return out
}

type isolationSnapshot struct {
	Medians []float64 `json:"medians"`
	Scale   []float64 `json:"scale"`
}

func (s *isolationStub) Serialize() ([]byte, error) {
	return json.Marshal(isolationSnapshot{Medians: s.medians, Scale: s.scale})
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
