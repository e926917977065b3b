package dist

import (
	"math"
	"testing"
)

func TestCDFChi2(tst *testing.T) {
	// qchisq(0.95, df=1) = 3.841459
	if p := CDFChi2(3.841459, 1); math.Abs(p-0.95) > 1e-6 {
		tst.Errorf("CDFChi2(3.841459, 1)=%v, expected 0.95", p)
	}
	// qchisq(0.95, df=2) = 5.991465
	if p := CDFChi2(5.991465, 2); math.Abs(p-0.95) > 1e-6 {
		tst.Errorf("CDFChi2(5.991465, 2)=%v, expected 0.95", p)
	}
	if p := CDFChi2(0, 1); p != 0 {
		tst.Errorf("CDFChi2(0, 1)=%v, expected 0", p)
	}
}

func TestPValueChi2(tst *testing.T) {
	if p := PValueChi2(3.841459, 1); math.Abs(p-0.05) > 1e-6 {
		tst.Errorf("PValueChi2(3.841459, 1)=%v, expected 0.05", p)
	}
	if p := PValueChi2(0, 1); p != 1 {
		tst.Errorf("PValueChi2(0, 1)=%v, expected 1", p)
	}
	if p := PValueChi2(-1, 1); p != 1 {
		tst.Errorf("PValueChi2(-1, 1)=%v, expected 1", p)
	}
}

func TestQuantileChi2(tst *testing.T) {
	for _, test := range []struct {
		prob, df, q float64
	}{
		{0.95, 1, 3.841459},
		{0.99, 1, 6.634897},
		{0.95, 2, 5.991465},
	} {
		q := QuantileChi2(test.prob, test.df)
		if math.Abs(q-test.q) > 1e-4 {
			tst.Errorf("QuantileChi2(%v, %v)=%v, expected %v", test.prob, test.df, q, test.q)
		}
	}
}

func TestPoissonPMF(tst *testing.T) {
	// reference values for lambda=5.75
	for _, test := range []struct {
		k int
		p float64
	}{
		{1, 0.018301},
		{2, 0.052615},
		{5, 0.166711},
	} {
		if p := PoissonPMF(test.k, 5.75); math.Abs(p-test.p) > 1e-6 {
			tst.Errorf("PoissonPMF(%d, 5.75)=%v, expected %v", test.k, p, test.p)
		}
	}

	sum := 0.0
	for k := 0; k < 200; k++ {
		sum += PoissonPMF(k, 5.75)
	}
	if math.Abs(sum-1) > 1e-12 {
		tst.Errorf("PMF sums to %v", sum)
	}

	if PoissonPMF(-1, 5.75) != 0 {
		tst.Error("Negative k must have zero probability")
	}
	if PoissonPMF(0, 0) != 1 {
		tst.Error("PoissonPMF(0, 0) must be 1")
	}
}
