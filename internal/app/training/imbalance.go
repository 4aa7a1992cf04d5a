package training

import "math/rand"

// Strategy is the imbalanced-data handling applied to the training split
// only, never to the held-out test split, so evaluation metrics stay
// unbiased by any resampling or re-weighting.
type Strategy string

const (
	StrategyClassWeight Strategy = "class_weight"
	StrategySMOTE       Strategy = "smote"
	StrategyUndersample Strategy = "undersample"
)

// Apply returns the (possibly resampled) rows/labels and a per-row weight
// vector, aligned 1:1, ready to hand to Algorithm.Fit.
func Apply(strategy Strategy, rows [][]float64, labels []float64, seed int64) (outRows [][]float64, outLabels, weights []float64) {
	switch strategy {
	case StrategySMOTE:
		return applySMOTE(rows, labels, seed)
	case StrategyUndersample:
		return applyUndersample(rows, labels, seed)
	default:
		return rows, labels, classWeights(labels)
	}
}

// classWeights assigns each row a weight inversely proportional to its
// class frequency, so a minority fraud class contributes as much total
// gradient signal as the majority class.
func classWeights(labels []float64) []float64 {
	var pos, neg float64
	for _, l := range labels {
		if l > 0 {
			pos++
		} else {
			neg++
		}
	}
	weights := make([]float64, len(labels))
	for i, l := range labels {
		switch {
		case pos == 0 || neg == 0:
			weights[i] = 1
		case l > 0:
			weights[i] = (pos + neg) / (2 * pos)
		default:
			weights[i] = (pos + neg) / (2 * neg)
		}
	}
	return weights
}

// applySMOTE synthesizes new minority-class rows by interpolating between
// a minority sample and a random other minority sample, until the classes
// are balanced.
func applySMOTE(rows [][]float64, labels []float64, seed int64) ([][]float64, []float64, []float64) {
	rng := rand.New(rand.NewSource(seed))

	var minorityIdx []int
	var pos, neg int
	for i, l := range labels {
		if l > 0 {
			pos++
			minorityIdx = append(minorityIdx, i)
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 || pos >= neg {
		return rows, labels, classWeights(labels)
	}

	outRows := append([][]float64(nil), rows...)
	outLabels := append([]float64(nil), labels...)

	toGenerate := neg - pos
	for i := 0; i < toGenerate; i++ {
		a := rows[minorityIdx[rng.Intn(len(minorityIdx))]]
		b := rows[minorityIdx[rng.Intn(len(minorityIdx))]]
		lambda := rng.Float64()
		synthetic := make([]float64, len(a))
		for j := range a {
			synthetic[j] = a[j] + lambda*(b[j]-a[j])
		}
		outRows = append(outRows, synthetic)
		outLabels = append(outLabels, 1)
	}

	weights := make([]float64, len(outLabels))
	for i := range weights {
		weights[i] = 1
	}
	return outRows, outLabels, weights
}

// applyUndersample drops a random subset of majority-class rows until the
// classes are balanced.
func applyUndersample(rows [][]float64, labels []float64, seed int64) ([][]float64, []float64, []float64) {
	rng := rand.New(rand.NewSource(seed))

	var minorityCount int
	var majorityIdx, minorityIdx []int
	var pos, neg int
	for i, l := range labels {
		if l > 0 {
			pos++
			minorityIdx = append(minorityIdx, i)
		} else {
			neg++
			majorityIdx = append(majorityIdx, i)
		}
	}
	minorityCount = pos
	majorityLabel := 0.0
	if neg < pos {
		minorityCount = neg
		majorityIdx, minorityIdx = minorityIdx, majorityIdx
		majorityLabel = 1
	}
	_ = majorityLabel

	rng.Shuffle(len(majorityIdx), func(i, j int) { majorityIdx[i], majorityIdx[j] = majorityIdx[j], majorityIdx[i] })
	if len(majorityIdx) > minorityCount {
		majorityIdx = majorityIdx[:minorityCount]
	}

	keep := append([]int(nil), minorityIdx...)
	keep = append(keep, majorityIdx...)

	outRows := make([][]float64, len(keep))
	outLabels := make([]float64, len(keep))
	weights := make([]float64, len(keep))
	for i, idx := range keep {
		outRows[i] = rows[idx]
		outLabels[i] = labels[idx]
		weights[i] = 1
	}
	return outRows, outLabels, weights
}
