package birthdeath

import (
	"fmt"
	"sync"

	"github.com/op/go-logging"

	"bitbucket.org/mrrlab/gofam/tree"
)

// log is the global logging variable.
var log = logging.MustGetLogger("birthdeath")

// cacheKey identifies a transition matrix. The branch length is
// truncated to an integer: sub-unit differences do not change the
// probabilities at the precision required, so close branch lengths
// share one matrix. Callers must tolerate this sharing.
type cacheKey struct {
	branch int
	birth  float64
	death  float64
}

// Cache stores at most one transition matrix per (⌊t⌋, λ, μ) key.
// Entries are append-only until Reset. Inserts are serialized;
// matrices are immutable once published, so reads during an
// evaluation need no locking.
type Cache struct {
	mu       sync.Mutex
	chooseln *ChooselnCache
	matrices map[cacheKey]*Matrix
	maxSize  int
}

// NewCache creates a cache for matrices of side maxSize+1.
func NewCache(maxSize int) *Cache {
	return &Cache{
		chooseln: NewChooselnCache(2*maxSize + 2),
		matrices: make(map[cacheKey]*Matrix),
		maxSize:  maxSize,
	}
}

// MaxSize returns the maximum family size of cached matrices.
func (c *Cache) MaxSize() int {
	return c.maxSize
}

// Chooseln returns the shared log-binomial table.
func (c *Cache) Chooseln() *ChooselnCache {
	return c.chooseln
}

// Get returns the transition matrix for the branch, computing and
// inserting it if absent. The matrix is computed for the truncated
// branch length, so Get(68.0, ...) and Get(68.7, ...) return the same
// matrix.
func (c *Cache) Get(t, lambda float64, death DeathRate) *Matrix {
	key := cacheKey{
		branch: int(t),
		birth:  lambda,
		death:  death.Or(lambda),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.matrices[key]; ok {
		return m
	}
	m := New(c.chooseln, float64(key.branch), lambda, death, c.maxSize)
	c.matrices[key] = m
	return m
}

// Len returns the number of cached matrices.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.matrices)
}

// Reset drops all entries and changes the matrix size for future
// inserts. Matrix references handed out before the reset stay valid
// but are no longer shared with the cache; callers should reapply
// matrices to their trees.
func (c *Cache) Reset(maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Debugf("matrix cache reset, maxSize=%d (%d entries dropped)", maxSize, len(c.matrices))
	c.matrices = make(map[cacheKey]*Matrix)
	if maxSize != c.maxSize {
		c.maxSize = maxSize
		c.chooseln = NewChooselnCache(2*maxSize + 2)
	}
}

// ApplyToTree returns the per-node transition matrices for a tree
// given per-node birth and death rates (indexed by node id). The root
// has no branch and stays nil.
func (c *Cache) ApplyToTree(t *tree.Tree, birth []float64, death []DeathRate) ([]*Matrix, error) {
	ms := make([]*Matrix, t.MaxNodeID()+1)
	for node := range t.Walker(nil) {
		if node.IsRoot() {
			continue
		}
		if node.ID >= len(birth) {
			return nil, fmt.Errorf("no birth rate for node %d", node.ID)
		}
		ms[node.ID] = c.Get(node.BranchLength, birth[node.ID], death[node.ID])
	}
	return ms, nil
}
