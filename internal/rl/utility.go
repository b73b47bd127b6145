package rl

import "math"

const epsilonUtil = 0.08

// Utility implements spec.md §4.5's utility formula verbatim: throughput
// value minus loss penalty minus per-stream cost plus efficiency and
// optimal-band bonuses.
func Utility(throughputMbps, lossPercent float64, n int) float64 {
	l := clamp(lossPercent/100, 1e-4, 0.1)
	t := throughputMbps

	throughputValue := t * (1 - t/(t+100))
	lossPenalty := t * l * l * 30
	cost := streamCost(n)

	var efficiencyBonus float64
	if n > 0 && t/float64(n) > 4 {
		efficiencyBonus = math.Min(10, 0.8*t/float64(n))
	}

	return throughputValue - lossPenalty - cost + efficiencyBonus + bandBonus(n)
}

func streamCost(n int) float64 {
	nf := float64(n)
	switch {
	case n <= 6:
		return nf * 0.3
	case n <= 10:
		return nf * 0.5
	case n <= 14:
		return nf * 1.0
	default:
		return nf * 2.0
	}
}

func bandBonus(n int) float64 {
	switch {
	case n >= 6 && n <= 10:
		return 12
	case n >= 4 && n <= 12:
		return 5
	default:
		return 0
	}
}

// Reward implements spec.md §4.5's reward formula: a pure function of
// the utility delta and the resulting connection count n, so that its
// sign always matches sign(U_curr - U_prev) whenever |delta| exceeds
// the threshold.
func Reward(prevUtility, currUtility float64, n int) float64 {
	delta := currUtility - prevUtility

	theta := epsilonUtil
	if n >= 6 && n <= 12 {
		theta *= 0.7
	}

	magnitude := math.Min(3, 1+math.Abs(delta)/10)

	switch {
	case delta > theta:
		return magnitude
	case delta < -theta:
		return -magnitude
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
