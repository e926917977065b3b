package fmodel

import (
	"math"
	"strings"
	"testing"

	"bitbucket.org/mrrlab/gofam/family"
)

const measure1 = `Desc	Family ID	sp1	sp2
d	f1	1	2
d	f2	2	2
d	f3	0	1
d	f4	3	2
`

const measure2 = `Desc	Family ID	sp1	sp2
d	f1	1	1
d	f2	2	3
d	f3	1	1
d	f4	3	2
`

func readMeasures(tst *testing.T) (*family.Store, *family.Store) {
	s1, err := family.ReadFamilies(strings.NewReader(measure1))
	if err != nil {
		tst.Fatal(err)
	}
	s2, err := family.ReadFamilies(strings.NewReader(measure2))
	if err != nil {
		tst.Fatal(err)
	}
	return s1, s2
}

func TestCountPairsFold(tst *testing.T) {
	s1, s2 := readMeasures(tst)
	pairs, err := countPairs(s1, s2, 3, true)
	if err != nil {
		tst.Fatal(err)
	}
	// the lower triangle is folded into the upper one
	for i := 0; i <= 3; i++ {
		for j := 0; j < i; j++ {
			if pairs[i][j] != 0 {
				tst.Errorf("pairs[%d][%d]=%d, expected 0 after folding", i, j, pairs[i][j])
			}
		}
	}
	total := 0
	for i := 0; i <= 3; i++ {
		for j := i; j <= 3; j++ {
			total += pairs[i][j]
		}
	}
	if total != 8 {
		tst.Errorf("Total pair count %d, expected 8", total)
	}
	// (2,1) is folded into [1][2]
	if pairs[1][2] != 1 {
		tst.Errorf("pairs[1][2]=%d, expected 1", pairs[1][2])
	}
	if pairs[1][1] != 2 {
		tst.Errorf("pairs[1][1]=%d, expected 2", pairs[1][1])
	}
	// diagonal pairs are left in place
	if pairs[2][2] != 2 {
		tst.Errorf("pairs[2][2]=%d, expected 2", pairs[2][2])
	}
}

func TestCountPairsIDMismatch(tst *testing.T) {
	s1, _ := readMeasures(tst)
	bad, err := family.ReadFamilies(strings.NewReader(
		"Desc\tFamily ID\tsp1\tsp2\nd\tother\t1\t1\nd\tf2\t2\t3\nd\tf3\t1\t1\nd\tf4\t3\t2\n"))
	if err != nil {
		tst.Fatal(err)
	}
	if _, err := countPairs(s1, bad, 3, true); err == nil {
		tst.Error("Expected an id mismatch error")
	}
}

func TestSizeDistribution(tst *testing.T) {
	d := sizeDistribution([]int{0, 3, 5, 0})
	sum := 0.0
	for _, v := range d {
		if v <= 0 {
			tst.Errorf("Add-one smoothing must keep every size positive, got %v", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		tst.Errorf("Size distribution sums to %v", sum)
	}
}

func newErrorMeasure(tst *testing.T, symmetric bool) *ErrorMeasure {
	s1, s2 := readMeasures(tst)
	freq, max, err := sizeFreqFromStores([]*family.Store{s1, s2}, 0)
	if err != nil {
		tst.Fatal(err)
	}
	pairs, err := countPairs(s1, s2, max, true)
	if err != nil {
		tst.Fatal(err)
	}
	e := &ErrorMeasure{
		maxFamilySize: max,
		symmetric:     symmetric,
		peakZero:      true,
		maxDiff:       1,
		sizeDist:      sizeDistribution(freq),
		pairs:         pairs,
	}
	e.params = make([]float64, e.NParams())
	e.setupParameters()
	return e
}

func TestErrorMeasureLikelihood(tst *testing.T) {
	e := newErrorMeasure(tst, true)
	e.params[0] = 0.8
	e.params[1] = 0.09

	l := e.Likelihood()
	if math.IsNaN(l) || math.IsInf(l, 0) {
		tst.Errorf("Expected a finite score, got %v", l)
	}

	// the estimated model has proper columns
	model := e.ErrorModel()
	if err := model.CheckColumnSums(); err != nil {
		tst.Error(err)
	}
}

func TestErrorMeasureRejections(tst *testing.T) {
	e := newErrorMeasure(tst, true)

	// negative parameter
	e.params[0] = 0.9
	e.params[1] = -0.1
	if l := e.Likelihood(); !math.IsInf(l, -1) {
		tst.Errorf("Expected -Inf for a negative parameter, got %v", l)
	}

	// non-monotone profile with peakZero
	e.params[0] = 0.1
	e.params[1] = 0.4
	if l := e.Likelihood(); !math.IsInf(l, -1) {
		tst.Errorf("Expected -Inf for a non-monotone profile, got %v", l)
	}
}

func TestErrorMeasureAsymmetric(tst *testing.T) {
	e := newErrorMeasure(tst, false)
	if e.NParams() != 3 {
		tst.Fatalf("Asymmetric model with maxdiff=1 must have 3 parameters, got %d", e.NParams())
	}
	e.params[0] = 0.15
	e.params[1] = 0.7
	e.params[2] = 0.1

	l := e.Likelihood()
	if math.IsNaN(l) || math.IsInf(l, 0) {
		tst.Errorf("Expected a finite score, got %v", l)
	}
}

func TestEstimateError(tst *testing.T) {
	s1, s2 := readMeasures(tst)
	e, err := EstimateError(s1, s2, true, 1, true, false, 0, 1)
	if err != nil {
		tst.Fatal("Error estimating the error model:", err)
	}
	params := e.Params()
	if len(params) != 2 {
		tst.Fatalf("Expected 2 parameters, got %d", len(params))
	}
	for i, p := range params {
		if p < 0 {
			tst.Errorf("Parameter %d is negative: %v", i, p)
		}
	}
	if params[1] > params[0] {
		tst.Errorf("Expected a profile peaked at zero difference: %v", params)
	}
	if err := e.ErrorModel().CheckColumnSums(); err != nil {
		tst.Error(err)
	}
}
