// Package indicators provides trailing price statistics used by the
// classifiers. Every function degrades to the available history instead of
// returning NaN when the window is longer than the input.
package indicators

// SMA is the mean of the last p values of x. When x is shorter than p the
// mean covers all of x. Returns 0 for empty input or p <= 0.
func SMA(x []float64, p int) float64 {
	w := tail(x, p)
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// Min is the smallest of the last p values of x (all of x when shorter).
func Min(x []float64, p int) float64 {
	w := tail(x, p)
	if len(w) == 0 {
		return 0
	}
	m := w[0]
	for _, v := range w[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// ROC is the percent change of the last value against the value p steps
// earlier, or against the first value when fewer than p+1 values exist.
func ROC(x []float64, p int) float64 {
	n := len(x)
	if n == 0 || p <= 0 {
		return 0
	}
	base := x[0]
	if n-1-p >= 0 {
		base = x[n-1-p]
	}
	if base == 0 {
		return 0
	}
	return (x[n-1] - base) / base * 100
}

// PctDistance is (v - ref) / ref * 100, or 0 when ref is 0.
func PctDistance(v, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	return (v - ref) / ref * 100
}

func tail(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	if len(x) <= p {
		return x
	}
	return x[len(x)-p:]
}
