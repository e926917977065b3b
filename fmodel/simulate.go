package fmodel

import (
	"fmt"
	"math/rand"
	"sort"

	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/tree"
)

// sampleIndex samples an index from a probability vector. The vector
// does not have to be normalized.
func sampleIndex(p []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	x := rng.Float64() * sum
	for i, v := range p {
		x -= v
		if x <= 0 {
			return i
		}
	}
	return len(p) - 1
}

// sampleCluster samples a cluster from the weight vector.
func sampleCluster(w []float64, rng *rand.Rand) int {
	if len(w) == 1 {
		return 0
	}
	return sampleIndex(w, rng)
}

// simulateSizes simulates ancestral sizes below start given its size
// and returns leaf counts indexed by leaf id. Leaves outside the
// subtree keep the base counts. Leaves with an error model get their
// observation sampled from the model.
func (m *Model) simulateSizes(cluster int, start *tree.Node, startSize int, base []int, rng *rand.Rand) []int {
	counts := make([]int, len(base))
	copy(counts, base)

	var walk func(node *tree.Node, size int)
	walk = func(node *tree.Node, size int) {
		if node.IsTerminal() {
			counts[node.LeafID] = m.observeCount(node.LeafID, size, rng)
			return
		}
		for _, child := range node.ChildNodes() {
			row := m.ms[cluster][child.ID].Row(size)
			walk(child, sampleIndex(row, rng))
		}
	}
	walk(start, startSize)
	return counts
}

// observeCount remaps a true leaf size through the leaf's error
// model, if any.
func (m *Model) observeCount(leafID, size int, rng *rand.Rand) int {
	e := m.data.Families.ErrorForLeaf(leafID)
	if e == nil {
		return size
	}
	max := m.data.Range.Max
	col := make([]float64, max+1)
	for i := 0; i <= max; i++ {
		col[i] = e.Prob(i, size)
	}
	return sampleIndex(col, rng)
}

// sampleRootSize samples a root size from the prior restricted to the
// root range.
func (m *Model) sampleRootSize(rng *rand.Rand) int {
	r := m.data.Range
	p := make([]float64, r.NRoot())
	for i := range p {
		p[i] = m.prior.At(r.RootMin + i)
	}
	return r.RootMin + sampleIndex(p, rng)
}

// Simulate generates n families by forward simulation from the prior
// and the current rates. The returned store has one species column
// per tree leaf, in leaf id order.
func (m *Model) Simulate(n int, seed int64) (*family.Store, error) {
	if !m.msValid {
		if err := m.setMatrices(); err != nil {
			return nil, err
		}
	}
	w, ok := m.ClusterWeights()
	if !ok {
		return nil, ErrInvalidWeights
	}
	if m.prior == nil {
		return nil, fmt.Errorf("simulation requires a root size prior")
	}

	names := m.leafNames()
	store := family.NewStore(names)

	rng := rand.New(rand.NewSource(seed))
	base := make([]int, len(names))
	for i := 0; i < n; i++ {
		rootSize := m.sampleRootSize(rng)
		cluster := sampleCluster(w, rng)
		counts := m.simulateSizes(cluster, m.data.Tree.Node, rootSize, base, rng)
		store.Add(&family.Family{
			ID:     fmt.Sprintf("sim%d", i+1),
			Desc:   fmt.Sprintf("root=%d", rootSize),
			Counts: counts,
		})
	}
	return store, nil
}

// leafNames returns the leaf names ordered by leaf id.
func (m *Model) leafNames() []string {
	type leaf struct {
		id   int
		name string
	}
	var leaves []leaf
	for node := range m.data.Tree.Terminals() {
		leaves = append(leaves, leaf{node.LeafID, node.Name})
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].id < leaves[j].id })
	names := make([]string, len(leaves))
	for i, l := range leaves {
		names[i] = l.name
	}
	return names
}
