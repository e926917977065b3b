package birthdeath

import (
	"math"

	"github.com/gonum/matrix/mat64"
)

const (
	// minBranchLength is the branch length below which the
	// transition matrix collapses to identity. Shorter branches
	// suffer from catastrophic cancellation in the α/β terms.
	minBranchLength = 1e-10
	// equalRatesEps is the |λ-μ| threshold for the equal-rates
	// form of α and β.
	equalRatesEps = 1e-10
)

// DeathRate is an optional death rate. The zero value means "same as
// the birth rate".
type DeathRate struct {
	rate float64
	set  bool
}

// SameAsBirth returns a death rate equal to the birth rate.
func SameAsBirth() DeathRate {
	return DeathRate{}
}

// Death returns an explicit death rate.
func Death(mu float64) DeathRate {
	return DeathRate{rate: mu, set: true}
}

// Or resolves the death rate given the birth rate.
func (d DeathRate) Or(lambda float64) float64 {
	if d.set {
		return d.rate
	}
	return lambda
}

// IsSet tells if the death rate is explicit.
func (d DeathRate) IsSet() bool {
	return d.set
}

// Matrix is a transition probability matrix for a single branch.
// Entry (i, j) is the probability of a family of size i at the parent
// having size j at the child. Row 0 is absorbing: an extinct family
// stays extinct.
type Matrix struct {
	// Size is the matrix side, max family size + 1.
	Size int
	P    *mat64.Dense
}

// Row returns row i as a slice.
func (m *Matrix) Row(i int) []float64 {
	return m.P.RawRowView(i)
}

// Get returns entry (i, j).
func (m *Matrix) Get(i, j int) float64 {
	return m.P.At(i, j)
}

// alphaBeta computes the α and β terms of the closed-form transition
// probability for a branch of length t.
func alphaBeta(t, lambda, mu float64) (alpha, beta float64) {
	if math.Abs(lambda-mu) < equalRatesEps {
		alpha = lambda * t / (1 + lambda*t)
		return alpha, alpha
	}
	e := math.Exp((lambda - mu) * t)
	denom := lambda*e - mu
	alpha = mu * (e - 1) / denom
	beta = lambda * (e - 1) / denom
	return
}

// Prob returns the single transition probability P(i→j) for a branch
// of length t. The sum over k uses the chooseln cache and a single
// exponent per term.
func Prob(c *ChooselnCache, t, lambda float64, death DeathRate, i, j int) float64 {
	if t < minBranchLength {
		if i == j {
			return 1
		}
		return 0
	}
	if i == 0 {
		// extinction is absorbing
		if j == 0 {
			return 1
		}
		return 0
	}
	mu := death.Or(lambda)
	alpha, beta := alphaBeta(t, lambda, mu)
	return prob(c, alpha, beta, i, j)
}

func prob(c *ChooselnCache, alpha, beta float64, i, j int) (p float64) {
	coef := 1 - alpha - beta
	for k := 0; k <= i && k <= j; k++ {
		if (i-k > 0 && alpha <= 0) || (j-k > 0 && beta <= 0) {
			continue
		}
		lnTerm := c.Get(i, k) + c.Get(i+j-k-1, i-1)
		if i-k > 0 {
			lnTerm += float64(i-k) * math.Log(alpha)
		}
		if j-k > 0 {
			lnTerm += float64(j-k) * math.Log(beta)
		}
		// coef can be negative when (λ+μ)t is large; keep the
		// power out of the log.
		p += math.Exp(lnTerm) * math.Pow(coef, float64(k))
	}
	return
}

// New computes the transition matrix of side maxSize+1 for a branch
// of length t with birth rate lambda and the given death rate.
func New(c *ChooselnCache, t, lambda float64, death DeathRate, maxSize int) *Matrix {
	size := maxSize + 1
	m := &Matrix{
		Size: size,
		P:    mat64.NewDense(size, size, nil),
	}
	if t < minBranchLength {
		for i := 0; i < size; i++ {
			m.P.Set(i, i, 1)
		}
		return m
	}

	mu := death.Or(lambda)
	alpha, beta := alphaBeta(t, lambda, mu)

	m.P.Set(0, 0, 1)
	for i := 1; i < size; i++ {
		row := m.P.RawRowView(i)
		sum := 0.0
		for j := 0; j < size; j++ {
			p := prob(c, alpha, beta, i, j)
			if p < 0 || math.IsNaN(p) {
				p = 0
			}
			row[j] = p
			sum += p
		}
		// The truncation at maxSize loses the mass of larger
		// sizes; fold it into the boundary so rows stay
		// normalized.
		if rem := 1 - sum; rem > 0 {
			row[size-1] += rem
		}
	}
	return m
}
