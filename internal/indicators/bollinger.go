package indicators

import "github.com/markcheno/go-talib"

// Bands holds Bollinger band series.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger returns bands around the simple moving average at stdDev population
// standard deviations. A constant series yields three equal bands.
func Bollinger(values []float64, period int, stdDev float64) Bands {
	if !defined(values, period) {
		return Bands{
			Upper:  nanSlice(len(values)),
			Middle: nanSlice(len(values)),
			Lower:  nanSlice(len(values)),
		}
	}
	upper, middle, lower := talib.BBands(values, period, stdDev, stdDev, talib.SMA)
	maskLookback(upper, period)
	maskLookback(middle, period)
	maskLookback(lower, period)
	return Bands{Upper: upper, Middle: middle, Lower: lower}
}
