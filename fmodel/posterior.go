package fmodel

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/tree"
)

// PosteriorRoot returns the posterior distribution over root sizes
// for a family: posterior[r] ∝ L[r]·prior[r], indexed from
// Range.RootMin.
func (m *Model) PosteriorRoot(f *family.Family, s *scratch) ([]float64, error) {
	L, err := m.FamilyRootLikelihood(f, s)
	if err != nil {
		return nil, err
	}
	return m.posterior(L), nil
}

func (m *Model) posterior(L []float64) []float64 {
	post := make([]float64, len(L))
	sum := 0.0
	for i, v := range L {
		post[i] = v * m.prior.At(m.data.Range.RootMin+i)
		sum += post[i]
	}
	if sum > 0 {
		for i := range post {
			post[i] /= sum
		}
	}
	return post
}

// ConditionalDistribution holds, for every root size, the sorted
// likelihoods of forward simulations conditioned on that root size.
// It is the null distribution for the family p-values.
type ConditionalDistribution struct {
	rootMin int
	nTrials int
	dists   [][]float64
}

// DefaultConditionalTrials is the default number of simulations per
// root size.
const DefaultConditionalTrials = 1000

// NewConditionalDistribution simulates nTrials families for every
// root size and records the sorted likelihoods. The computation is
// parallel over root sizes and deterministic for a given seed.
func (m *Model) NewConditionalDistribution(nTrials int, seed int64) (*ConditionalDistribution, error) {
	if !m.msValid {
		if err := m.setMatrices(); err != nil {
			return nil, err
		}
	}
	w, ok := m.ClusterWeights()
	if !ok {
		return nil, ErrInvalidWeights
	}
	if nTrials <= 0 {
		nTrials = DefaultConditionalTrials
	}

	r := m.data.Range
	cd := &ConditionalDistribution{
		rootMin: r.RootMin,
		nTrials: nTrials,
		dists:   make([][]float64, r.NRoot()),
	}

	nWorkers := runtime.GOMAXPROCS(0)
	if nWorkers > r.NRoot() {
		nWorkers = r.NRoot()
	}
	tasks := make(chan int, r.NRoot())
	var wg sync.WaitGroup
	errs := make([]error, r.NRoot())

	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.newScratch()
			base := make([]int, m.data.Tree.NLeaves())
			for ri := range tasks {
				// every root size has its own stream, so
				// the result does not depend on scheduling
				rng := rand.New(rand.NewSource(seed + int64(ri)))
				rootSize := r.RootMin + ri
				d := make([]float64, nTrials)
				for t := 0; t < nTrials; t++ {
					cluster := sampleCluster(w, rng)
					counts := m.simulateSizes(cluster, m.data.Tree.Node, rootSize, base, rng)
					res, err := m.rootLikelihood(counts, w, s)
					if err != nil {
						errs[ri] = err
						break
					}
					d[t] = res[ri]
				}
				sort.Float64s(d)
				cd.dists[ri] = d
			}
		}()
	}
	for ri := 0; ri < r.NRoot(); ri++ {
		tasks <- ri
	}
	close(tasks)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return cd, nil
}

// PValue returns the fraction of simulated likelihoods for the root
// size which are not larger than obs.
func (cd *ConditionalDistribution) PValue(rootIdx int, obs float64) float64 {
	d := cd.dists[rootIdx]
	n := sort.Search(len(d), func(i int) bool { return d[i] > obs })
	return float64(n) / float64(len(d))
}

// FamilyPValue returns the p-value of the family pattern under the
// null distribution, together with the per-root-size p-values. The
// overall value is the maximum of the posterior-weighted per-root
// p-values.
func (m *Model) FamilyPValue(f *family.Family, cd *ConditionalDistribution, s *scratch) (float64, []float64, error) {
	if s == nil {
		s = m.newScratch()
	}
	L, err := m.FamilyRootLikelihood(f, s)
	if err != nil {
		return 0, nil, err
	}
	post := m.posterior(L)
	perRoot := make([]float64, len(L))
	pval := 0.0
	for i := range L {
		perRoot[i] = cd.PValue(i, L[i])
		if v := post[i] * perRoot[i]; v > pval {
			pval = v
		}
	}
	return pval, perRoot, nil
}

// ViterbiResult stores the MAP ancestral assignment of one family.
type ViterbiResult struct {
	// Cluster is the MAP rate cluster.
	Cluster int
	// RootSize is the MAP root size.
	RootSize int
	// Sizes are the MAP sizes by node id; leaves hold the
	// observed counts.
	Sizes []int
	// PValues are per-node marginal transition p-values by node
	// id; the root has none (NaN).
	PValues []float64
}

// Viterbi computes the MAP ancestral sizes of a family: the root size
// maximizes prior·likelihood, every child state maximizes the
// transition probability from its parent state times the likelihood
// of the subtree below it.
func (m *Model) Viterbi(f *family.Family, s *scratch) (*ViterbiResult, error) {
	if s == nil {
		s = m.newScratch()
	}
	if !m.msValid {
		if err := m.setMatrices(); err != nil {
			return nil, err
		}
	}
	w, ok := m.ClusterWeights()
	if !ok {
		return nil, ErrInvalidWeights
	}
	counts, err := m.data.Families.LeafCounts(f)
	if err != nil {
		return nil, err
	}

	// per-cluster root vectors pick the MAP cluster
	for c := 0; c < m.nclust; c++ {
		if err := m.pruneCluster(c, counts, s, s.root[c]); err != nil {
			return nil, err
		}
	}
	r := m.data.Range
	cluster := 0
	best := math.Inf(-1)
	for c := 0; c < m.nclust; c++ {
		score := 0.0
		for i, v := range s.root[c] {
			score += v * m.prior.At(r.RootMin + i)
		}
		if score*w[c] > best {
			best = score * w[c]
			cluster = c
		}
	}
	// rerun the pruning so the scratch holds the MAP cluster's
	// vectors on every node
	if cluster != m.nclust-1 {
		if err := m.pruneCluster(cluster, counts, s, s.root[cluster]); err != nil {
			return nil, err
		}
	}

	nni := m.data.Tree.MaxNodeID() + 1
	vit := &ViterbiResult{
		Cluster: cluster,
		Sizes:   make([]int, nni),
		PValues: make([]float64, nni),
	}
	for i := range vit.PValues {
		vit.PValues[i] = math.NaN()
	}

	// MAP root size
	rootIdx := 0
	best = math.Inf(-1)
	for i, v := range s.root[cluster] {
		score := v * m.prior.At(r.RootMin+i)
		if score > best {
			best = score
			rootIdx = i
		}
	}
	vit.RootSize = r.RootMin + rootIdx
	vit.Sizes[m.data.Tree.Node.ID] = vit.RootSize

	var walk func(node *tree.Node) error
	walk = func(node *tree.Node) error {
		ps := vit.Sizes[node.ID]
		for _, child := range node.ChildNodes() {
			matrix := m.ms[cluster][child.ID]
			if matrix == nil {
				return ErrMatrixMissing
			}
			row := matrix.Row(ps)
			if child.IsTerminal() {
				c := counts[child.LeafID]
				vit.Sizes[child.ID] = c
				vit.PValues[child.ID] = transitionPValue(row, c)
				continue
			}
			bestSize := 0
			bestScore := math.Inf(-1)
			cplh := s.plh[child.ID]
			for size := 0; size <= r.Max; size++ {
				if score := row[size] * cplh[size]; score > bestScore {
					bestScore = score
					bestSize = size
				}
			}
			vit.Sizes[child.ID] = bestSize
			vit.PValues[child.ID] = transitionPValue(row, bestSize)
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(m.data.Tree.Node); err != nil {
		return nil, err
	}
	return vit, nil
}

// transitionPValue is the exact one-sided test on a transition row:
// the total probability of transitions no more likely than the one to
// size j.
func transitionPValue(row []float64, j int) (p float64) {
	if j >= len(row) {
		return 0
	}
	pj := row[j]
	for _, v := range row {
		if v <= pj {
			p += v
		}
	}
	if p > 1 {
		p = 1
	}
	return
}

// CutPValues computes the per-branch p-values of a family: for every
// internal branch the tree is split into the subtree below the branch
// and the remainder, conditional distributions are simulated for both
// sides, and the value is the probability of a simulated pair at
// least as extreme as the observed pair. The result is indexed by
// node id; branches without a value hold NaN.
func (m *Model) CutPValues(f *family.Family, nTrials int, seed int64) ([]float64, error) {
	if nTrials <= 0 {
		nTrials = DefaultConditionalTrials
	}
	s := m.newScratch()
	vit, err := m.Viterbi(f, s)
	if err != nil {
		return nil, err
	}
	counts, err := m.data.Families.LeafCounts(f)
	if err != nil {
		return nil, err
	}
	cluster := vit.Cluster
	r := m.data.Range
	rootIdx := vit.RootSize - r.RootMin

	nni := m.data.Tree.MaxNodeID() + 1
	res := make([]float64, nni)
	for i := range res {
		res[i] = math.NaN()
	}

	maskedRes := make([]float64, r.NRoot())
	for node := range m.data.Tree.NonTerminals() {
		if node.IsRoot() {
			continue
		}
		sb := vit.Sizes[node.ID]

		// observed statistics of the two sides
		if err := m.pruneCluster(cluster, counts, s, s.root[cluster]); err != nil {
			return nil, err
		}
		l1Obs := s.plh[node.ID][sb]
		if err := m.pruneClusterExclude(cluster, counts, node.ID, s, maskedRes); err != nil {
			return nil, err
		}
		l2Obs := maskedRes[rootIdx]

		rng := rand.New(rand.NewSource(seed + int64(node.ID)))
		extreme := 0
		for t := 0; t < nTrials; t++ {
			// subtree side, conditioned on the branch size
			simCounts := m.simulateSizes(cluster, node, sb, counts, rng)
			if err := m.pruneCluster(cluster, simCounts, s, s.root[cluster]); err != nil {
				return nil, err
			}
			l1 := s.plh[node.ID][sb]

			// remainder side, conditioned on the root size
			simCounts = m.simulateSizes(cluster, m.data.Tree.Node, vit.RootSize, counts, rng)
			if err := m.pruneClusterExclude(cluster, simCounts, node.ID, s, maskedRes); err != nil {
				return nil, err
			}
			l2 := maskedRes[rootIdx]

			if l1*l2 <= l1Obs*l2Obs {
				extreme++
			}
		}
		res[node.ID] = float64(extreme) / float64(nTrials)
	}
	return res, nil
}
