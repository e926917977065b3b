package fmodel

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/optimize"
)

// ErrorMeasure estimates a count misclassification distribution from
// pair counts of repeated measures (or of true vs measured counts).
// It implements optimize.Optimizable; the replicate-measure score is
// conditioned on the pair not being (0, 0), since all-zero families
// are never observed. The true-vs-measured score is not conditioned.
type ErrorMeasure struct {
	maxFamilySize int
	symmetric     bool
	peakZero      bool
	trueMeasure   bool
	maxDiff       int

	// sizeDist is the add-one smoothed distribution of observed
	// counts.
	sizeDist []float64
	// pairs[i][j] counts observed pairs; for double measures only
	// the upper triangle is populated.
	pairs [][]int

	// params describe the misclassification probability by count
	// difference: symmetric models have maxDiff+1 values starting
	// at difference zero, asymmetric ones 2·maxDiff+1 values
	// centered at index maxDiff.
	params     []float64
	parameters optimize.FloatParameters
}

// NParams returns the number of model parameters.
func (e *ErrorMeasure) NParams() int {
	if e.symmetric {
		return e.maxDiff + 1
	}
	return 2*e.maxDiff + 1
}

// Params returns the current parameter vector.
func (e *ErrorMeasure) Params() []float64 {
	return e.params
}

func (e *ErrorMeasure) setupParameters() {
	e.parameters = nil
	for i := range e.params {
		par := optimize.NewBasicFloatParameter(&e.params[i], fmt.Sprintf("e%d", i))
		par.SetMin(0)
		par.SetMax(1)
		e.parameters.Append(par)
	}
}

// GetFloatParameters returns the optimization parameters.
func (e *ErrorMeasure) GetFloatParameters() optimize.FloatParameters {
	return e.parameters
}

// Copy creates a copy sharing the pair counts and the size
// distribution.
func (e *ErrorMeasure) Copy() optimize.Optimizable {
	newE := &ErrorMeasure{
		maxFamilySize: e.maxFamilySize,
		symmetric:     e.symmetric,
		peakZero:      e.peakZero,
		trueMeasure:   e.trueMeasure,
		maxDiff:       e.maxDiff,
		sizeDist:      e.sizeDist,
		pairs:         e.pairs,
		params:        make([]float64, len(e.params)),
	}
	copy(newE.params, e.params)
	newE.setupParameters()
	return newE
}

// marginalEpsilon returns the residual probability assigned to every
// count difference outside [-maxDiff, maxDiff].
func (e *ErrorMeasure) marginalEpsilon() float64 {
	var sum float64
	if e.symmetric {
		sum = e.params[0]
		for i := 1; i < len(e.params); i++ {
			sum += 2 * e.params[i]
		}
	} else {
		for _, p := range e.params {
			sum += p
		}
	}
	return (1 - sum) / float64((e.maxFamilySize+1)-(e.maxDiff*2+1))
}

// monotoneFromPeak tells if the parameters decrease away from the
// zero-difference peak.
func (e *ErrorMeasure) monotoneFromPeak() bool {
	if e.symmetric {
		prev := e.params[0]
		for i := 1; i < len(e.params); i++ {
			if prev < e.params[i] {
				return false
			}
			prev = e.params[i]
		}
		return true
	}
	prev := e.params[e.maxDiff]
	for i := 1; i <= e.maxDiff; i++ {
		if prev < e.params[e.maxDiff-i] {
			return false
		}
		prev = e.params[e.maxDiff-i]
	}
	prev = e.params[e.maxDiff]
	for i := 1; i <= e.maxDiff; i++ {
		if prev < e.params[e.maxDiff+i] {
			return false
		}
		prev = e.params[e.maxDiff+i]
	}
	return true
}

// diffProb returns the misclassification probability of the count
// difference d, using the epsilon residual outside the band.
func (e *ErrorMeasure) diffProb(d int, epsilon float64) float64 {
	if d < -e.maxDiff || d > e.maxDiff {
		return epsilon
	}
	if e.symmetric {
		if d < 0 {
			d = -d
		}
		return e.params[d]
	}
	return e.params[e.maxDiff+d]
}

// ErrorModel builds the per-species error model from the current
// estimates. Columns are normalized so boundary columns, which lose
// cells outside [0, maxFamilySize], still sum to one.
func (e *ErrorMeasure) ErrorModel() *family.ErrorModel {
	max := e.maxFamilySize
	epsilon := e.marginalEpsilon()
	model := family.NewErrorModel(max, -max, max)
	for j := 0; j <= max; j++ {
		sum := 0.0
		for i := 0; i <= max; i++ {
			p := e.diffProb(i-j, epsilon)
			model.Set(i, j, p)
			sum += p
		}
		if sum > 0 {
			for i := 0; i <= max; i++ {
				model.Set(i, j, model.Prob(i, j)/sum)
			}
		}
	}
	return model
}

// Likelihood returns the pair-count log-likelihood of the current
// parameters, or -Inf when the parameters are rejected (negative
// values, epsilon out of range, or a non-monotone profile with
// peakZero).
func (e *ErrorMeasure) Likelihood() float64 {
	epsilon := e.marginalEpsilon()
	for _, p := range e.params {
		if p < 0 || epsilon < 0 || epsilon > p {
			return math.Inf(-1)
		}
	}
	if e.peakZero && !e.monotoneFromPeak() {
		return math.Inf(-1)
	}

	model := e.ErrorModel()
	if e.trueMeasure {
		return e.likelihoodTrueMeasure(model)
	}
	return e.likelihoodDoubleMeasure(model)
}

// likelihoodDoubleMeasure scores replicate measures: both sides of a
// pair are observations of the same unknown truth.
func (e *ErrorMeasure) likelihoodDoubleMeasure(model *family.ErrorModel) float64 {
	max := e.maxFamilySize
	score := 0.0
	for i := 0; i <= max; i++ {
		for j := i; j <= max; j++ {
			if e.pairs[i][j] == 0 {
				continue
			}
			discord := 0.0
			for k := 0; k <= max; k++ {
				pik := model.Prob(i, k)
				pjk := model.Prob(j, k)
				if i == j {
					discord += e.sizeDist[k] * pik * pjk
				} else {
					discord += 2 * e.sizeDist[k] * pik * pjk
				}
			}
			score += float64(e.pairs[i][j]) * math.Log(discord)
			if math.IsNaN(score) || math.IsInf(score, 0) {
				return math.Inf(-1)
			}
		}
	}
	// condition on not observing a (0, 0) pair
	prob00 := 0.0
	for k := 0; k <= max; k++ {
		p0k := model.Prob(0, k)
		prob00 += e.sizeDist[k] * p0k * p0k
	}
	score -= math.Log(1 - prob00)
	if math.IsNaN(score) {
		return math.Inf(-1)
	}
	return score
}

// likelihoodTrueMeasure scores measured-vs-true pairs directly
// against the conditional misclassification probabilities.
func (e *ErrorMeasure) likelihoodTrueMeasure(model *family.ErrorModel) float64 {
	max := e.maxFamilySize
	score := 0.0
	for i := 0; i <= max; i++ {
		for j := 0; j <= max; j++ {
			if e.pairs[i][j] == 0 {
				continue
			}
			score += float64(e.pairs[i][j]) * math.Log(model.Prob(i, j))
			if math.IsNaN(score) || math.IsInf(score, 0) {
				return math.Inf(-1)
			}
		}
	}
	return score
}

// sizeFreqFromStores counts the observed family sizes of the stores
// and returns the histogram with the larger of maxFamilySize and the
// largest observed count.
func sizeFreqFromStores(stores []*family.Store, maxFamilySize int) ([]int, int, error) {
	for _, s := range stores[1:] {
		if s.NSpecies() != stores[0].NSpecies() {
			return nil, 0, fmt.Errorf("inconsistent data: the number of columns do not match between the files")
		}
		if s.NFamilies() != stores[0].NFamilies() {
			return nil, 0, fmt.Errorf("inconsistent data: the number of families do not match between the files")
		}
	}
	max := maxFamilySize
	for _, s := range stores {
		if m := s.MaxCount(); m > max {
			max = m
		}
	}
	freq := make([]int, max+1)
	for _, s := range stores {
		for _, f := range s.Families {
			for _, c := range f.Counts {
				freq[c]++
			}
		}
	}
	return freq, max, nil
}

// sizeDistribution applies add-one smoothing to a size histogram.
func sizeDistribution(freq []int) []float64 {
	total := 0
	for _, f := range freq {
		total += f + 1
	}
	dist := make([]float64, len(freq))
	for i, f := range freq {
		dist[i] = float64(f+1) / float64(total)
	}
	return dist
}

// countPairs counts per-cell pairs of two measures of the same
// families. For replicate measures the matrix is folded to the upper
// triangle: cells below the diagonal are accumulated into their
// mirror and zeroed. The diagonal is left as counted.
func countPairs(s1, s2 *family.Store, max int, fold bool) ([][]int, error) {
	pairs := make([][]int, max+1)
	for i := range pairs {
		pairs[i] = make([]int, max+1)
	}
	for fi, f1 := range s1.Families {
		f2 := s2.Families[fi]
		if f1.ID != f2.ID {
			return nil, fmt.Errorf("inconsistent data: family ids %q and %q do not match", f1.ID, f2.ID)
		}
		for ci, v1 := range f1.Counts {
			pairs[v1][f2.Counts[ci]]++
		}
	}
	if fold {
		for i := 0; i <= max; i++ {
			for j := 0; j < i; j++ {
				pairs[j][i] += pairs[i][j]
				pairs[i][j] = 0
			}
		}
	}
	return pairs, nil
}

// randomizeParams draws a sorted random starting point: probabilities
// decreasing away from the zero-difference peak.
func (e *ErrorMeasure) randomizeParams(rng *rand.Rand) {
	n := len(e.params)
	sorted := make([]float64, n)
	for i := range sorted {
		sorted[i] = rng.Float64() / float64(n)
	}
	sort.Float64s(sorted)
	if e.symmetric {
		j := 0
		for i := n - 1; i >= 0; i-- {
			e.params[j] = sorted[i]
			j++
		}
	} else {
		j := n - 1
		e.params[e.maxDiff] = sorted[j]
		j--
		for i := 1; i <= e.maxDiff; i++ {
			e.params[e.maxDiff-i] = sorted[j]
			j--
			e.params[e.maxDiff+i] = sorted[j]
			j--
		}
	}
}

// EstimateError fits the misclassification distribution to two
// measures of the same families. With trueMeasure the second store
// holds the true counts; otherwise the two stores are replicate
// measures. The search runs the downhill simplex from random sorted
// starting points up to maxRuns times and stops early when two
// successive runs agree.
func EstimateError(s1, s2 *family.Store, symmetric bool, maxDiff int, peakZero bool,
	trueMeasure bool, maxFamilySize int, seed int64) (*ErrorMeasure, error) {

	freq, max, err := sizeFreqFromStores([]*family.Store{s1, s2}, maxFamilySize)
	if err != nil {
		return nil, err
	}
	pairs, err := countPairs(s1, s2, max, !trueMeasure)
	if err != nil {
		return nil, err
	}

	e := &ErrorMeasure{
		maxFamilySize: max,
		symmetric:     symmetric,
		peakZero:      peakZero,
		trueMeasure:   trueMeasure,
		maxDiff:       maxDiff,
		sizeDist:      sizeDistribution(freq),
		pairs:         pairs,
	}
	e.params = make([]float64, e.NParams())
	e.setupParameters()

	const (
		maxRuns = 100
		tolF    = 1e-9
	)
	rng := rand.New(rand.NewSource(seed))

	bestScore := math.Inf(-1)
	bestParams := make([]float64, len(e.params))
	prevScore := math.NaN()
	converged := false

	for runs := 0; runs < maxRuns; runs++ {
		e.randomizeParams(rng)

		ds := optimize.NewDS()
		ds.TolX = 1e-9
		ds.TolF = tolF
		ds.MaxRuns = 1
		ds.Quiet = true
		ds.SetOptimizable(e.Copy().(*ErrorMeasure))
		ds.Run(10000)

		score := ds.GetMaxL()
		log.Infof("Misclassification search run %d: score %v", runs+1, score)
		if math.IsInf(score, -1) || math.IsNaN(score) {
			continue
		}
		if score > bestScore {
			bestScore = score
			copy(bestParams, ds.GetMaxLParameters())
		}
		if !math.IsNaN(prevScore) && math.Abs(score-prevScore) < tolF {
			converged = true
			log.Infof("Misclassification score converged in %d runs", runs+1)
			break
		}
		prevScore = score
	}
	if !converged {
		log.Warningf("Misclassification score failed to converge in %d runs; best score %v", maxRuns, bestScore)
	}
	if math.IsInf(bestScore, -1) {
		return nil, fmt.Errorf("misclassification estimation failed: no admissible parameters found")
	}
	copy(e.params, bestParams)
	return e, nil
}
