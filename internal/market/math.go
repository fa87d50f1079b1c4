package market

import "math"

// EMA computes an exponential moving average over closes, seeded with the
// simple average of the first period values. Returns 0 when there is not
// enough data.
func EMA(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += candles[i].Close
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(candles); i++ {
		ema = candles[i].Close*multiplier + ema*(1-multiplier)
	}
	return ema
}

// ATR computes the average true range over the last period candles.
// Returns 0 when there is not enough data.
func ATR(candles []Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	sum := 0.0
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		prevClose := candles[i-1].Close
		tr := math.Max(candles[i].High-candles[i].Low,
			math.Max(math.Abs(candles[i].High-prevClose), math.Abs(candles[i].Low-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}

// AvgRangePct returns the average (high-low)/close percentage over the
// last lookback candles. Used as a cheap volatility proxy.
func AvgRangePct(candles []Candle, lookback int) float64 {
	if lookback <= 0 || len(candles) == 0 {
		return 0
	}
	if len(candles) < lookback {
		lookback = len(candles)
	}

	sum := 0.0
	count := 0
	for i := len(candles) - lookback; i < len(candles); i++ {
		c := candles[i]
		if c.Close > 0 {
			sum += (c.High - c.Low) / c.Close * 100
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// SwingLow returns the lowest low of the last lookback candles
func SwingLow(candles []Candle, lookback int) float64 {
	if lookback <= 0 || len(candles) == 0 {
		return 0
	}
	if len(candles) < lookback {
		lookback = len(candles)
	}

	low := math.MaxFloat64
	for i := len(candles) - lookback; i < len(candles); i++ {
		if candles[i].Low < low {
			low = candles[i].Low
		}
	}
	if low == math.MaxFloat64 {
		return 0
	}
	return low
}

// SwingHigh returns the highest high of the last lookback candles
func SwingHigh(candles []Candle, lookback int) float64 {
	if lookback <= 0 || len(candles) == 0 {
		return 0
	}
	if len(candles) < lookback {
		lookback = len(candles)
	}

	high := 0.0
	for i := len(candles) - lookback; i < len(candles); i++ {
		if candles[i].High > high {
			high = candles[i].High
		}
	}
	return high
}
