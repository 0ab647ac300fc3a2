package indicators

import (
	"math"

	"regime-trader/internal/market"
)

// All rolling computations return full-length columns aligned with the input
// bars. Values are NaN until the warm-up window is filled, and consuming code
// treats NaN comparisons as "condition false".

// SMA computes a simple moving average over the given values.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RollingMax computes the rolling maximum including the current bar.
// Breakout rules compare against the prior bar's value to avoid look-ahead.
func RollingMax(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		max := values[i]
		for j := i - period + 1; j < i; j++ {
			if values[j] > max {
				max = values[j]
			}
		}
		out[i] = max
	}
	return out
}

// RollingMin computes the rolling minimum including the current bar.
func RollingMin(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		min := values[i]
		for j := i - period + 1; j < i; j++ {
			if values[j] < min {
				min = values[j]
			}
		}
		out[i] = min
	}
	return out
}

// RSI computes the Wilder-smoothed Relative Strength Index over closes.
func RSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// BollingerBands computes the upper, middle, and lower bands.
func BollingerBands(closes []float64, period int, stdMult float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper, middle, lower = nanSlice(n), nanSlice(n), nanSlice(n)
	if period <= 0 || n < period {
		return
	}

	middle = SMA(closes, period)
	for i := period - 1; i < n; i++ {
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			diff := closes[j] - middle[i]
			variance += diff * diff
		}
		std := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + std*stdMult
		lower[i] = middle[i] - std*stdMult
	}
	return
}

// ATR computes the Wilder-smoothed Average True Range.
func ATR(bars []market.Bar, period int) []float64 {
	out := nanSlice(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}

	tr := trueRanges(bars)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(bars); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// OBV computes On-Balance Volume.
func OBV(bars []market.Bar) []float64 {
	out := nanSlice(len(bars))
	if len(bars) == 0 {
		return out
	}
	obv := 0.0
	out[0] = 0
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			obv += bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			obv -= bars[i].Volume
		}
		out[i] = obv
	}
	return out
}

// ADX computes the Wilder Average Directional Index together with the
// positive and negative directional indicators (DMP/DMN).
func ADX(bars []market.Bar, period int) (adx, dmp, dmn []float64) {
	n := len(bars)
	adx, dmp, dmn = nanSlice(n), nanSlice(n), nanSlice(n)
	if period <= 0 || n < 2*period {
		return
	}

	tr := trueRanges(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	// Wilder smoothing of TR, +DM, -DM over the first `period` bars, then
	// recursive updates.
	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := nanSlice(n)
	for i := period; i < n; i++ {
		if i > period {
			smTR = smTR - smTR/float64(period) + tr[i]
			smPlus = smPlus - smPlus/float64(period) + plusDM[i]
			smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		}
		if smTR == 0 {
			continue
		}
		dmp[i] = 100 * smPlus / smTR
		dmn[i] = 100 * smMinus / smTR
		if sum := dmp[i] + dmn[i]; sum > 0 {
			dx[i] = 100 * math.Abs(dmp[i]-dmn[i]) / sum
		} else {
			dx[i] = 0
		}
	}

	// ADX is the Wilder moving average of DX.
	sum := 0.0
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	val := sum / float64(period)
	adx[2*period-1] = val
	for i := 2 * period; i < n; i++ {
		val = (val*float64(period-1) + dx[i]) / float64(period)
		adx[i] = val
	}
	return
}

// PriorRange returns the prior bar's high-low range for each bar, used as
// the volatility-breakout base.
func PriorRange(bars []market.Bar) []float64 {
	out := nanSlice(len(bars))
	for i := 1; i < len(bars); i++ {
		out[i] = bars[i-1].High - bars[i-1].Low
	}
	return out
}

func trueRanges(bars []market.Bar) []float64 {
	tr := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
