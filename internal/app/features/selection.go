package features

import (
	"math"
	"sort"

	"github.com/r3e-network/fraudctl/internal/app/domain/featureset"
)

// SelectionResult carries every intermediate stage score the pipeline needs
// to persist alongside the final selected feature list, so a later audit can
// see why a given feature survived or was dropped.
type SelectionResult struct {
	Variance        []featureset.StageScore
	CorrelationDrop []string
	MutualInfo      []featureset.StageScore
	Importance      []featureset.StageScore
	FinalRank       []featureset.StageScore
	Selected        []string
}

// Select runs the four selection stages over m in order: a variance floor,
// a pairwise-correlation redundancy drop, mutual-information scoring against
// the label, and a model-based importance stand-in, then combines the last
// two stages by rank average and keeps the top cfg.MaxFeatures.
//
// Every stage orders its output totally: score stages by descending score,
// the combined rank by ascending average rank, ties in both by ascending
// column name, and name lists alphabetically, so the same matrix always
// yields the same SelectionResult regardless of map iteration order.
func Select(m Matrix, cfg featureset.Config) SelectionResult {
	cfg = withDefaults(cfg)

	varScores := varianceScores(m)
	var result SelectionResult
	result.Variance = varScores

	survivors := make([]string, 0, len(varScores))
	for _, s := range varScores {
		if s.Score >= cfg.VarianceThreshold {
			survivors = append(survivors, s.Feature)
		}
	}
	sort.Strings(survivors)

	kept, dropped := correlationFilter(m, survivors, cfg.CorrelationThreshold)
	result.CorrelationDrop = dropped

	miScores := mutualInfoScores(m, kept, cfg.MutualInfoK)
	result.MutualInfo = miScores

	impScores := importanceScores(m, kept)
	result.Importance = impScores

	final := combineRanks(miScores, impScores)
	result.FinalRank = final

	max := cfg.MaxFeatures
	if max <= 0 || max > len(final) {
		max = len(final)
	}
	selected := make([]string, 0, max)
	for _, s := range final[:max] {
		selected = append(selected, s.Feature)
	}
	sort.Strings(selected)
	result.Selected = selected

	return result
}

func varianceScores(m Matrix) []featureset.StageScore {
	out := make([]featureset.StageScore, 0, len(m.Columns))
	for _, col := range m.Columns {
		out = append(out, featureset.StageScore{Feature: col, Score: variance(m.Data[col])})
	}
	sortDescByScoreThenName(out)
	return out
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := meanOf(xs)
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// correlationFilter drops the later (alphabetically) of any pair of
// surviving columns whose absolute Pearson correlation meets or exceeds
// threshold, processing candidates in sorted order so the decision is
// independent of map iteration order.
func correlationFilter(m Matrix, candidates []string, threshold float64) (kept, dropped []string) {
	alive := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		alive[c] = true
	}

	for i := 0; i < len(candidates); i++ {
		a := candidates[i]
		if !alive[a] {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			b := candidates[j]
			if !alive[b] {
				continue
			}
			if math.Abs(pearson(m.Data[a], m.Data[b])) >= threshold {
				alive[b] = false
				dropped = append(dropped, b)
			}
		}
	}

	for _, c := range candidates {
		if alive[c] {
			kept = append(kept, c)
		}
	}
	sort.Strings(kept)
	sort.Strings(dropped)
	return kept, dropped
}

func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return 0
	}
	mx, my := meanOf(xs), meanOf(ys)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - mx
		dy := ys[i] - my
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// mutualInfoScores estimates mutual information between each candidate
// feature and the binary label using a k-nearest-neighbor density ratio
// over the 1-D feature values: for each sample, the fraction of the samples
// up to k positions on either side of it in value order (so up to 2k
// neighbors) sharing its label approximates the
// conditional label density, and the score is the KL divergence of that
// local estimate from the marginal label rate.
func mutualInfoScores(m Matrix, candidates []string, k int) []featureset.StageScore {
	if k <= 0 {
		k = 5
	}
	out := make([]featureset.StageScore, 0, len(candidates))
	labels := m.Labels
	positiveRate := meanOf(labels)

	for _, feature := range candidates {
		values := m.Data[feature]
		out = append(out, featureset.StageScore{Feature: feature, Score: knnMutualInfo(values, labels, positiveRate, k)})
	}
	sortDescByScoreThenName(out)
	return out
}

func knnMutualInfo(values, labels []float64, positiveRate float64, k int) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	type sample struct {
		value float64
		label float64
		index int
	}
	samples := make([]sample, n)
	for i := range values {
		samples[i] = sample{value: values[i], label: labels[i], index: i}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].value < samples[j].value })

	neighborK := k
	if neighborK >= n {
		neighborK = n - 1
	}
	if neighborK <= 0 {
		return 0
	}

	var total float64
	for i, s := range samples {
		lo, hi := i-neighborK, i+neighborK
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		var matches, count float64
		for j := lo; j <= hi; j++ {
			if j == i {
				continue
			}
			count++
			if samples[j].label == s.label {
				matches++
			}
		}
		if count == 0 {
			continue
		}
		localRate := matches / count
		total += klTerm(localRate, positiveRate) + klTerm(1-localRate, 1-positiveRate)
	}
	return total / float64(n)
}

func klTerm(p, q float64) float64 {
	if p <= 0 || q <= 0 || q >= 1 {
		return 0
	}
	return p * math.Log(p/q)
}

// importanceScores stands in for a trained model's feature-importance
// output during selection, before any model has been trained: it scores
// each candidate by the absolute difference in per-class means, normalized
// by the feature's standard deviation, a cheap proxy for separability that
// a real model-based importance pass from a trained estimator would refine.
func importanceScores(m Matrix, candidates []string) []featureset.StageScore {
	out := make([]featureset.StageScore, 0, len(candidates))
	for _, feature := range candidates {
		values := m.Data[feature]
		out = append(out, featureset.StageScore{Feature: feature, Score: classSeparation(values, m.Labels)})
	}
	sortDescByScoreThenName(out)
	return out
}

func classSeparation(values, labels []float64) float64 {
	var sumPos, sumNeg float64
	var nPos, nNeg float64
	for i, v := range values {
		if labels[i] > 0 {
			sumPos += v
			nPos++
		} else {
			sumNeg += v
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0
	}
	meanPos, meanNeg := sumPos/nPos, sumNeg/nNeg
	sd := math.Sqrt(variance(values))
	if sd == 0 {
		return 0
	}
	return math.Abs(meanPos-meanNeg) / sd
}

// combineRanks averages each feature's rank position (0 = best) across the
// mutual-information and importance stages, then sorts ascending by that
// average rank (lower is better), breaking ties alphabetically.
func combineRanks(a, b []featureset.StageScore) []featureset.StageScore {
	rankOf := func(scores []featureset.StageScore) map[string]int {
		r := make(map[string]int, len(scores))
		for i, s := range scores {
			r[s.Feature] = i
		}
		return r
	}
	rankA, rankB := rankOf(a), rankOf(b)

	features := make([]string, 0, len(a))
	for _, s := range a {
		features = append(features, s.Feature)
	}

	out := make([]featureset.StageScore, 0, len(features))
	for _, f := range features {
		avg := float64(rankA[f]+rankB[f]) / 2
		out = append(out, featureset.StageScore{Feature: f, Score: avg})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Feature < out[j].Feature
	})
	return out
}

func sortDescByScoreThenName(scores []featureset.StageScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Feature < scores[j].Feature
	})
}
