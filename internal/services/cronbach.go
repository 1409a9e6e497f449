package services

// CronbachAlpha measures how consistently respondents rated the statements.
// matrix is [respondents][questions]; every row must have the same length.
// Population variance is used throughout, so perfectly correlated questions
// give exactly 1. The result is clamped to [0,1] and is 0 when undefined.
func CronbachAlpha(matrix [][]float64) float64 {
	if len(matrix) == 0 || len(matrix[0]) < 2 {
		return 0
	}
	k := len(matrix[0])
	columns := make([][]float64, k)
	totals := make([]float64, len(matrix))
	for i, row := range matrix {
		if len(row) != k {
			return 0
		}
		for j, v := range row {
			columns[j] = append(columns[j], v)
			totals[i] += v
		}
	}

	totalVar := variance(totals)
	if totalVar == 0 {
		return 0
	}
	var itemVars float64
	for _, col := range columns {
		itemVars += variance(col)
	}
	kf := float64(k)
	return clamp01(kf / (kf - 1) * (1 - itemVars/totalVar))
}

func variance(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		sum += (x - mean) * (x - mean)
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
