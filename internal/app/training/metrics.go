package training

import (
	"sort"

	"github.com/r3e-network/fraudctl/internal/app/domain/model"
)

// Evaluate scores every row and computes precision/recall/F1/AUC-ROC/FPR
// against labels at decisionThreshold.
func Evaluate(algo Algorithm, rows [][]float64, labels []float64, decisionThreshold float64) model.Metrics {
	if decisionThreshold <= 0 {
		decisionThreshold = 0.5
	}
	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = algo.Score(row)
	}

	var tp, fp, tn, fn float64
	for i, score := range scores {
		predicted := score >= decisionThreshold
		actual := labels[i] > 0
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	precision := safeDiv(tp, tp+fp)
	recall := safeDiv(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	fpr := safeDiv(fp, fp+tn)

	return model.Metrics{
		Precision: precision,
		Recall:    recall,
		F1:        f1,
		AUCROC:    aucROC(scores, labels),
		FPR:       fpr,
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// aucROC computes the area under the ROC curve via the Mann-Whitney U
// statistic: the probability a random positive scores above a random
// negative, which avoids sweeping an explicit threshold grid.
func aucROC(scores, labels []float64) float64 {
	type pair struct {
		score float64
		label float64
	}
	pairs := make([]pair, len(scores))
	for i := range scores {
		pairs[i] = pair{scores[i], labels[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	var nPos, nNeg float64
	rankSum := make([]float64, 0, len(pairs))
	i := 0
	for i < len(pairs) {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avgRank := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			rankSum = append(rankSum, avgRank)
		}
		i = j
	}

	var sumPosRanks float64
	for idx, p := range pairs {
		if p.label > 0 {
			nPos++
			sumPosRanks += rankSum[idx]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5
	}
	u := sumPosRanks - nPos*(nPos+1)/2
	return u / (nPos * nNeg)
}
