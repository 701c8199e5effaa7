package regime

import "tradeengine/internal/models"

const adxPeriod = 14

// computeADX runs Wilder's average directional index over candles
// (oldest first) and returns the latest ADX value plus its slope versus
// the previous reading.
func computeADX(candles []models.Candle) (adx, slope float64) {
	n := len(candles)
	if n < adxPeriod*2+1 {
		return 0, 0
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)

	for i := 1; i < n; i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}

		highLow := candles[i].High - candles[i].Low
		highClose := abs(candles[i].High - candles[i-1].Close)
		lowClose := abs(candles[i].Low - candles[i-1].Close)
		tr[i] = max3(highLow, highClose, lowClose)
	}

	smoothedTR := wilderSmooth(tr, adxPeriod)
	smoothedPlusDM := wilderSmooth(plusDM, adxPeriod)
	smoothedMinusDM := wilderSmooth(minusDM, adxPeriod)

	dx := make([]float64, len(smoothedTR))
	for i := range smoothedTR {
		if smoothedTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothedPlusDM[i] / smoothedTR[i]
		minusDI := 100 * smoothedMinusDM[i] / smoothedTR[i]
		sum := plusDI + minusDI
		if sum == 0 {
			continue
		}
		dx[i] = 100 * abs(plusDI-minusDI) / sum
	}

	adxSeries := wilderSmooth(dx, adxPeriod)
	if len(adxSeries) == 0 {
		return 0, 0
	}

	// wilderSmooth carries a sum-scaled series (see its doc comment);
	// dividing by the period converts it back to the 0-100 ADX scale.
	latest := adxSeries[len(adxSeries)-1] / float64(adxPeriod)
	if len(adxSeries) < 2 {
		return latest, 0
	}
	previous := adxSeries[len(adxSeries)-2] / float64(adxPeriod)
	return latest, latest - previous
}

// wilderSmooth applies Wilder's smoothing (first value is a simple sum
// over the first period, each subsequent value decays the prior by
// (period-1)/period and adds the new raw value).
func wilderSmooth(values []float64, period int) []float64 {
	if len(values) <= period {
		return nil
	}

	out := make([]float64, 0, len(values)-period)
	var sum float64
	for i := 1; i <= period; i++ {
		sum += values[i]
	}
	out = append(out, sum)

	prev := sum
	for i := period + 1; i < len(values); i++ {
		smoothed := prev - prev/float64(period) + values[i]
		out = append(out, smoothed)
		prev = smoothed
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
