// SPDX-License-Identifier: MIT

package quant

import (
	"math"
	"slices"

	"github.com/ManuGH/qtrader/internal/model"
)

const (
	tradingDays = 252
	minBetaObs  = 10
)

// PortfolioGreeks sums per-contract greeks scaled by quantity and multiplier.
// Stock adds its share count to delta.
func PortfolioGreeks(positions []model.Position) model.Greeks {
	var total model.Greeks
	for i := range positions {
		p := &positions[i]
		switch {
		case p.PositionType == model.PositionStock:
			total.Delta += p.Quantity
		case p.Greeks != nil:
			m := p.Quantity * model.OptionMultiplier
			total.Delta += p.Greeks.Delta * m
			total.Gamma += p.Greeks.Gamma * m
			total.Theta += p.Greeks.Theta * m
			total.Vega += p.Greeks.Vega * m
			total.Rho += p.Greeks.Rho * m
		}
	}
	return total
}

// Percentile returns the q-th percentile (0..100) of values using linear
// interpolation between closest ranks.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		return sorted[0]
	}
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// ValueAtRisk is the historical VaR: the (1-confidence) percentile of returns.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return Percentile(returns, (1-confidence)*100)
}

// ExpectedShortfall is the mean of the returns at or below the VaR cutoff.
func ExpectedShortfall(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	cutoff := ValueAtRisk(returns, confidence)
	var sum float64
	var n int
	for _, r := range returns {
		if r <= cutoff {
			sum += r
			n++
		}
	}
	if n == 0 {
		return cutoff
	}
	return sum / float64(n)
}

// SharpeRatio annualises the mean daily excess return over its population
// standard deviation.
func SharpeRatio(returns []float64, riskFree float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	excess := make([]float64, len(returns))
	daily := riskFree / tradingDays
	for i, r := range returns {
		excess[i] = r - daily
	}
	sd := math.Sqrt(variance(excess, 0))
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingDays)
}

// MaxDrawdown returns the deepest peak-to-trough decline as a negative
// fraction of the running peak.
func MaxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	peak := values[0]
	worst := 0.0
	for _, v := range values {
		peak = math.Max(peak, v)
		if peak == 0 {
			continue
		}
		worst = math.Min(worst, (v-peak)/peak)
	}
	return worst
}

// Beta regresses asset on market returns. Sample covariance is divided by
// population variance. Short, mismatched or flat series give 1.
func Beta(asset, market []float64) float64 {
	if len(asset) != len(market) || len(asset) < minBetaObs {
		return 1
	}
	v := variance(market, 0)
	if v == 0 {
		return 1
	}
	return covariance(asset, market, 1) / v
}

// Correlation is the Pearson coefficient of two equal-length series.
func Correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return 0
	}
	sa, sb := math.Sqrt(variance(a, 0)), math.Sqrt(variance(b, 0))
	if sa == 0 || sb == 0 {
		return 0
	}
	return covariance(a, b, 0) / (sa * sb)
}

// Returns converts a price series into simple period returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func variance(xs []float64, ddof int) float64 {
	return covariance(xs, xs, ddof)
}

func covariance(a, b []float64, ddof int) float64 {
	n := len(a)
	if n-ddof <= 0 {
		return 0
	}
	ma, mb := mean(a), mean(b)
	var s float64
	for i := range a {
		s += (a[i] - ma) * (b[i] - mb)
	}
	return s / float64(n-ddof)
}
