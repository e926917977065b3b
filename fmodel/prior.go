package fmodel

import (
	"fmt"
	"math"

	"bitbucket.org/mrrlab/gofam/dist"
)

// priorSumEps is the tolerance for the prior normalization check.
const priorSumEps = 1e-9

// Prior is a distribution over root family sizes. It is constructed
// once per search epoch and read-only afterwards.
type Prior struct {
	p []float64
}

// At returns the prior probability of size i, zero outside the
// vector.
func (p *Prior) At(i int) float64 {
	if i < 0 || i >= len(p.p) {
		return 0
	}
	return p.p[i]
}

// Len returns the vector length.
func (p *Prior) Len() int {
	return len(p.p)
}

// Check verifies the normalization invariant.
func (p *Prior) Check() error {
	sum := 0.0
	for _, v := range p.p {
		sum += v
	}
	if math.Abs(sum-1) > priorSumEps {
		return fmt.Errorf("prior sums to %v, not 1", sum)
	}
	return nil
}

// EmpiricalPrior builds the root size prior from the observed counts
// across all families and leaves: histogram, add-one smoothing,
// normalization. Size zero keeps probability zero: an observed family
// is present in at least one genome.
func EmpiricalPrior(data *Data) *Prior {
	max := data.Range.Max
	freq := make([]int, max+1)
	for _, f := range data.Families.Families {
		for _, c := range f.Counts {
			if c <= max {
				freq[c]++
			}
		}
	}

	p := &Prior{p: make([]float64, max+1)}
	total := 0
	for i := 1; i <= max; i++ {
		total += freq[i] + 1
	}
	for i := 1; i <= max; i++ {
		p.p[i] = float64(freq[i]+1) / float64(total)
	}
	return p
}

// PoissonPrior builds a Poisson(lambda) prior truncated to [0, max]
// and renormalized.
func PoissonPrior(max int, lambda float64) *Prior {
	p := &Prior{p: make([]float64, max+1)}
	sum := 0.0
	for i := 0; i <= max; i++ {
		p.p[i] = dist.PoissonPMF(i, lambda)
		sum += p.p[i]
	}
	for i := range p.p {
		p.p[i] /= sum
	}
	return p
}
