package abtest

import (
	"hash/fnv"
	"math"
	"math/rand"
)

// confidenceLevel is the band recommendations are evaluated against.
const confidenceLevel = 0.95

// bootstrapResamples is the resample count for the non-proportion path
// (DESIGN.md's open question decision).
const bootstrapResamples = 1000

// TwoProportionZTest runs a two-sided z-test comparing two sample
// proportions, pooling the variance under the null hypothesis that both
// arms share one true proportion.
func TwoProportionZTest(successesA, nA, successesB, nB int) (z, pValue float64) {
	if nA == 0 || nB == 0 {
		return 0, 1
	}
	pA := float64(successesA) / float64(nA)
	pB := float64(successesB) / float64(nB)
	pooled := float64(successesA+successesB) / float64(nA+nB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB)))
	if se == 0 {
		return 0, 1
	}
	z = (pB - pA) / se
	pValue = 2 * (1 - normalCDF(math.Abs(z)))
	return z, pValue
}

// WelchTTest runs a two-sided Welch's t-test (unequal variance) between
// two samples. The p-value always comes from the normal approximation;
// the Welch-Satterthwaite degrees of freedom are returned as df but do not
// enter the p-value.
func WelchTTest(a, b []float64) (t, pValue, df float64) {
	if len(a) < 2 || len(b) < 2 {
		return 0, 1, 0
	}
	meanA, varA := meanVariance(a)
	meanB, varB := meanVariance(b)
	nA, nB := float64(len(a)), float64(len(b))

	seA := varA / nA
	seB := varB / nB
	se := math.Sqrt(seA + seB)
	if se == 0 {
		return 0, 1, 0
	}
	t = (meanB - meanA) / se

	df = math.Pow(seA+seB, 2) / (math.Pow(seA, 2)/(nA-1) + math.Pow(seB, 2)/(nB-1))
	pValue = 2 * (1 - normalCDF(math.Abs(t)))
	return t, pValue, df
}

func meanVariance(xs []float64) (mean, variance float64) {
	n := float64(len(xs))
	for _, x := range xs {
		mean += x
	}
	mean /= n
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= n - 1
	return mean, variance
}

// Bootstrap draws n resamples-with-replacement of sample and returns their
// means, for feeding into WelchTTest when the primary metric isn't a
// simple proportion. The RNG is seeded from seedKey so a given ABTest id
// reproduces the same bootstrap distribution across evaluations.
func Bootstrap(sample []float64, n int, seedKey string) []float64 {
	if len(sample) == 0 {
		return nil
	}
	if n <= 0 {
		n = bootstrapResamples
	}
	rng := rand.New(rand.NewSource(seedFromKey(seedKey)))
	means := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < len(sample); j++ {
			sum += sample[rng.Intn(len(sample))]
		}
		means[i] = sum / float64(len(sample))
	}
	return means
}

func seedFromKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// normalCDF is the standard normal CDF via the complementary error function.
func normalCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}
