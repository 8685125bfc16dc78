package indicators

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}

	if got := SMA(x, 2); got != 4.5 {
		t.Errorf("SMA(x, 2) = %v, want 4.5", got)
	}
	// Window longer than input averages everything available.
	if got := SMA(x, 200); got != 3 {
		t.Errorf("SMA(x, 200) = %v, want 3", got)
	}
	if got := SMA(nil, 20); got != 0 {
		t.Errorf("SMA(nil, 20) = %v, want 0", got)
	}
	if math.IsNaN(SMA(x[:1], 50)) {
		t.Error("SMA returned NaN for short input")
	}
}

func TestMin(t *testing.T) {
	x := []float64{5, 1, 7, 3, 4}
	if got := Min(x, 3); got != 3 {
		t.Errorf("Min(x, 3) = %v, want 3", got)
	}
	if got := Min(x, 252); got != 1 {
		t.Errorf("Min(x, 252) = %v, want 1", got)
	}
}

func TestROC(t *testing.T) {
	x := []float64{100, 110, 120, 125}
	if got := ROC(x, 2); math.Abs(got-(125.0-110.0)/110.0*100) > 1e-12 {
		t.Errorf("ROC(x, 2) = %v", got)
	}
	// Not enough history: measured from the first value.
	if got := ROC(x, 20); got != 25 {
		t.Errorf("ROC(x, 20) = %v, want 25", got)
	}
	if got := ROC(x[:1], 5); got != 0 {
		t.Errorf("ROC(single, 5) = %v, want 0", got)
	}
}

func TestPctDistance(t *testing.T) {
	if got := PctDistance(110, 100); math.Abs(got-10) > 1e-12 {
		t.Errorf("PctDistance(110, 100) = %v, want 10", got)
	}
	if got := PctDistance(5, 0); got != 0 {
		t.Errorf("PctDistance(5, 0) = %v, want 0", got)
	}
}
