package pkg

import "sort"

// auroc computes the area under the ROC curve from raw scores, using the
// rank-sum statistic with tied scores sharing their average rank. Returns
// zero when either class is absent.
func auroc(scores, labels []float64) float64 {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	var positives, negatives float64
	for _, label := range labels {
		if label == 1 {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 || negatives == 0 {
		return 0
	}

	var rankSum float64
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && scores[order[j]] == scores[order[i]] {
			j++
		}
		rank := float64(i+j+1) / 2 // average rank of the tie group, 1-based
		for k := i; k < j; k++ {
			if labels[order[k]] == 1 {
				rankSum += rank
			}
		}
		i = j
	}
	u := rankSum - positives*(positives+1)/2
	return u / (positives * negatives)
}

// averagePrecision computes the area under the precision-recall curve as the
// precision-weighted sum of recall increments, walking the distinct score
// thresholds from high to low. Returns zero when there are no positives.
func averagePrecision(scores, labels []float64) float64 {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	var positives float64
	for _, label := range labels {
		if label == 1 {
			positives++
		}
	}
	if positives == 0 {
		return 0
	}

	var tp, fp, lastTP, ap float64
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && scores[order[j]] == scores[order[i]] {
			j++
		}
		for k := i; k < j; k++ {
			if labels[order[k]] == 1 {
				tp++
			} else {
				fp++
			}
		}
		if tp > lastTP {
			precision := tp / (tp + fp)
			ap += precision * (tp - lastTP) / positives
			lastTP = tp
		}
		i = j
	}
	return ap
}
