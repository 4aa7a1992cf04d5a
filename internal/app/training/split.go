package training

import (
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/r3e-network/fraudctl/internal/app/features"
)

// Split holds the row indices assigned to the train and test partitions.
type Split struct {
	Train []int
	Test  []int
}

// SeedFromJobID derives a deterministic PRNG seed from a job id, satisfying
// the "random processes are seeded from the job id" determinism
// requirement without dragging the job id itself through every call site.
func SeedFromJobID(jobID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	return int64(h.Sum64())
}

// StratifiedSplit partitions m's rows into train/test partitions of
// trainFraction/1-trainFraction, preserving each row's label proportion in
// both partitions and breaking ties deterministically via a PRNG seeded
// from seed, so the same (matrix, seed, fraction) always yields the same
// split.
func StratifiedSplit(m features.Matrix, trainFraction float64, seed int64) Split {
	if trainFraction <= 0 || trainFraction >= 1 {
		trainFraction = 0.8
	}
	rng := rand.New(rand.NewSource(seed))

	var positives, negatives []int
	for i, label := range m.Labels {
		if label > 0 {
			positives = append(positives, i)
		} else {
			negatives = append(negatives, i)
		}
	}

	shuffle := func(idx []int) {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	shuffle(positives)
	shuffle(negatives)

	splitAt := func(idx []int) (train, test []int) {
		cut := int(float64(len(idx)) * trainFraction)
		return append([]int(nil), idx[:cut]...), append([]int(nil), idx[cut:]...)
	}

	trainPos, testPos := splitAt(positives)
	trainNeg, testNeg := splitAt(negatives)

	train := append(trainPos, trainNeg...)
	test := append(testPos, testNeg...)
	sort.Ints(train)
	sort.Ints(test)

	return Split{Train: train, Test: test}
}

// Rows extracts the dense [][]float64 rows for idx in columns order.
func Rows(m features.Matrix, columns []string, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, row := range idx {
		vec := make([]float64, len(columns))
		for j, col := range columns {
			vec[j] = m.Data[col][row]
		}
		out[i] = vec
	}
	return out
}

// Labels extracts m.Labels at idx.
func Labels(m features.Matrix, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, row := range idx {
		out[i] = m.Labels[row]
	}
	return out
}
