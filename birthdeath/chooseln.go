// Package birthdeath computes transition probability matrices of the
// birth-death gene family size process.
package birthdeath

import (
	"math"
)

// Chooseln returns ln C(n, k) computed from the log-gamma function.
func Chooseln(n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	if k == 0 || k == n {
		return 0
	}
	ln, _ := math.Lgamma(float64(n + 1))
	lk, _ := math.Lgamma(float64(k + 1))
	lnk, _ := math.Lgamma(float64(n - k + 1))
	return ln - lk - lnk
}

// ChooselnCache is a precomputed table of ln C(n, k) for 0 <= k <= n
// <= N. The table is read-only after construction, lookups above N
// fall back to the log-gamma function without caching.
type ChooselnCache struct {
	values [][]float64
	size   int
}

// NewChooselnCache creates a table for all n up to size.
func NewChooselnCache(size int) (c *ChooselnCache) {
	c = &ChooselnCache{
		values: make([][]float64, size+1),
		size:   size,
	}
	for n := 0; n <= size; n++ {
		c.values[n] = make([]float64, n+1)
		for k := 0; k <= n; k++ {
			c.values[n][k] = Chooseln(n, k)
		}
	}
	return
}

// Size returns the largest cached n.
func (c *ChooselnCache) Size() int {
	return c.size
}

// Get returns ln C(n, k).
func (c *ChooselnCache) Get(n, k int) float64 {
	if n <= c.size && k >= 0 && k <= n {
		return c.values[n][k]
	}
	return Chooseln(n, k)
}
