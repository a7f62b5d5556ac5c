// SPDX-License-Identifier: MIT

// Package quant holds option pricing, portfolio risk statistics and strategy
// classification.
package quant

import (
	"math"
	"strings"
	"time"

	"github.com/ManuGH/qtrader/internal/model"
)

const (
	ivInitialGuess  = 0.2
	ivTolerance     = 1e-6
	ivMaxIterations = 100
	ivFloor         = 0.01
	secondsPerYear  = 365.25 * 24 * 3600
	daysPerYear     = 365
	percentPerPoint = 100
)

// Defaults used when pricing synthetic greeks.
const (
	DefaultRiskFreeRate = 0.05
	DefaultVolatility   = 0.25
)

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// NormPDF is the standard normal density.
func NormPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

func degenerate(s, k, t, sigma float64) bool {
	return t <= 0 || s <= 0 || k <= 0 || sigma <= 0
}

func d1d2(s, k, t, r, sigma float64) (float64, float64) {
	sqrtT := math.Sqrt(t)
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	return d1, d1 - sigma*sqrtT
}

// BlackScholesCall prices a European call. At or past expiry it returns the
// intrinsic value.
func BlackScholesCall(s, k, t, r, sigma float64) float64 {
	if degenerate(s, k, t, sigma) {
		return math.Max(s-k, 0)
	}
	d1, d2 := d1d2(s, k, t, r, sigma)
	return math.Max(s*NormCDF(d1)-k*math.Exp(-r*t)*NormCDF(d2), 0)
}

// BlackScholesPut prices a European put. At or past expiry it returns the
// intrinsic value.
func BlackScholesPut(s, k, t, r, sigma float64) float64 {
	if degenerate(s, k, t, sigma) {
		return math.Max(k-s, 0)
	}
	d1, d2 := d1d2(s, k, t, r, sigma)
	return math.Max(k*math.Exp(-r*t)*NormCDF(-d2)-s*NormCDF(-d1), 0)
}

// Price dispatches to the call or put formula by right ("C" or "P").
func Price(s, k, t, r, sigma float64, right string) float64 {
	if isCall(right) {
		return BlackScholesCall(s, k, t, r, sigma)
	}
	return BlackScholesPut(s, k, t, r, sigma)
}

func isCall(right string) bool {
	return strings.EqualFold(right, "C") || strings.EqualFold(right, "CALL")
}

// CalculateGreeks returns Black-Scholes sensitivities. Theta is per calendar
// day, vega and rho per one vol or rate point. A degenerate input only sets
// delta to 1 when the option finishes in the money by spot above strike.
func CalculateGreeks(s, k, t, r, sigma float64, right string) model.Greeks {
	if degenerate(s, k, t, sigma) {
		if s > k {
			return model.Greeks{Delta: 1}
		}
		return model.Greeks{}
	}

	d1, d2 := d1d2(s, k, t, r, sigma)
	sqrtT := math.Sqrt(t)
	pdf := NormPDF(d1)
	disc := k * math.Exp(-r*t)
	decay := -s * pdf * sigma / (2 * sqrtT)

	g := model.Greeks{
		Gamma:             pdf / (s * sigma * sqrtT),
		Vega:              s * pdf * sqrtT / percentPerPoint,
		ImpliedVolatility: sigma,
	}
	if isCall(right) {
		g.Delta = NormCDF(d1)
		g.Theta = (decay - r*disc*NormCDF(d2)) / daysPerYear
		g.Rho = disc * t * NormCDF(d2) / percentPerPoint
	} else {
		g.Delta = NormCDF(d1) - 1
		g.Theta = (decay + r*disc*NormCDF(-d2)) / daysPerYear
		g.Rho = -disc * t * NormCDF(-d2) / percentPerPoint
	}
	return g
}

// ImpliedVolatility solves for sigma by Newton-Raphson. It returns 0 at or
// past expiry and never less than 0.01 otherwise.
func ImpliedVolatility(price, s, k, t, r float64, right string) float64 {
	if t <= 0 || s <= 0 || k <= 0 {
		return 0
	}

	sigma := ivInitialGuess
	for i := 0; i < ivMaxIterations; i++ {
		diff := Price(s, k, t, r, sigma, right) - price
		if math.Abs(diff) < ivTolerance {
			return sigma
		}
		d1, _ := d1d2(s, k, t, r, sigma)
		vega := s * NormPDF(d1) * math.Sqrt(t)
		if vega == 0 {
			break
		}
		sigma -= diff / vega
		if sigma <= 0 {
			sigma = ivFloor
		}
	}
	return math.Max(sigma, ivFloor)
}

// TimeToExpiry returns the years between now and an MM/DD/YYYY or YYYY-MM-DD
// expiry. Unparseable or past dates give 0.
func TimeToExpiry(expiry string, now time.Time) float64 {
	exp, err := ParseExpiry(expiry)
	if err != nil {
		return 0
	}
	return math.Max(exp.Sub(now).Seconds()/secondsPerYear, 0)
}

// DaysToExpiry returns the whole days until expiry, truncated toward zero the
// way a calendar difference is. ok is false when the date does not parse.
func DaysToExpiry(expiry string, now time.Time) (days int, ok bool) {
	exp, err := ParseExpiry(expiry)
	if err != nil {
		return 0, false
	}
	return int(math.Floor(exp.Sub(now).Hours() / 24)), true
}

// ParseExpiry accepts MM/DD/YYYY, YYYY-MM-DD and the broker form YYYYMMDD.
// Dates are interpreted in the location of time.Local.
func ParseExpiry(expiry string) (time.Time, error) {
	layout := "2006-01-02"
	switch {
	case strings.Contains(expiry, "/"):
		layout = "01/02/2006"
	case len(expiry) == 8 && !strings.Contains(expiry, "-"):
		layout = "20060102"
	}
	return time.ParseInLocation(layout, expiry, time.Local)
}
