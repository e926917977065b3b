package fmodel

import (
	"math"
	"runtime"

	"bitbucket.org/mrrlab/gofam/family"
)

// scratch holds the per-node partial likelihood vectors of one
// worker. Workers never share scratch.
type scratch struct {
	// plh[node][size] is the partial likelihood of the subtree
	// below node given the node has the size.
	plh [][]float64
	// root[cluster][r] collects per-cluster root vectors.
	root [][]float64
}

func (m *Model) newScratch() *scratch {
	nni := m.data.Tree.MaxNodeID() + 1
	s := &scratch{
		plh:  make([][]float64, nni),
		root: make([][]float64, m.nclust),
	}
	for i := 0; i < nni; i++ {
		s.plh[i] = make([]float64, m.data.Range.Max+1)
	}
	for c := range s.root {
		s.root[c] = make([]float64, m.data.Range.NRoot())
	}
	return s
}

// pruneCluster runs the pruning algorithm for one family and one
// cluster and writes P(leaf counts | root size = r) for every root
// size into res (indexed from Range.RootMin).
func (m *Model) pruneCluster(cluster int, counts []int, s *scratch, res []float64) error {
	return m.pruneClusterExclude(cluster, counts, -1, s, res)
}

// pruneClusterExclude is pruneCluster with one subtree cut out: the
// node with id exclude (and everything below it) contributes no
// factor to its parent.
func (m *Model) pruneClusterExclude(cluster int, counts []int, exclude int, s *scratch, res []float64) error {
	max := m.data.Range.Max
	t := m.data.Tree
	ms := m.ms[cluster]

	for node := range t.Terminals() {
		c := counts[node.LeafID]
		if c > max {
			return &CountOutOfRangeError{Count: c, Max: max}
		}
		plh := s.plh[node.ID]
		if e := m.data.Families.ErrorForLeaf(node.LeafID); e != nil {
			// probability of observing c for every true size
			for size := 0; size <= max; size++ {
				plh[size] = e.Prob(c, size)
			}
		} else {
			for size := 0; size <= max; size++ {
				plh[size] = 0
			}
			plh[c] = 1
		}
	}

	for _, node := range t.NodeOrder() {
		plh := s.plh[node.ID]
		for size := 0; size <= max; size++ {
			l := 1.0
			for _, child := range node.ChildNodes() {
				if child.ID == exclude {
					continue
				}
				matrix := ms[child.ID]
				if matrix == nil {
					return ErrMatrixMissing
				}
				row := matrix.Row(size)
				cplh := s.plh[child.ID]
				sum := 0.0
				for csize := 0; csize <= max; csize++ {
					sum += row[csize] * cplh[csize]
				}
				l *= sum
			}
			plh[size] = l
		}
	}

	rplh := s.plh[t.Node.ID]
	for i := range res {
		res[i] = rplh[m.data.Range.RootMin+i]
	}
	return nil
}

// FamilyRootLikelihood returns P(family counts | root size = r) for
// every root size, combining clusters by their weights.
func (m *Model) FamilyRootLikelihood(f *family.Family, s *scratch) ([]float64, error) {
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
	return m.rootLikelihood(counts, w, s)
}

func (m *Model) rootLikelihood(counts []int, w []float64, s *scratch) ([]float64, error) {
	res := make([]float64, m.data.Range.NRoot())
	for c := 0; c < m.nclust; c++ {
		if w[c] == 0 {
			continue
		}
		if err := m.pruneCluster(c, counts, s, s.root[c]); err != nil {
			return nil, err
		}
		for i, v := range s.root[c] {
			res[i] += w[c] * v
		}
	}
	return res, nil
}

// familyLogLikelihood returns ln P(family) under the prior.
func (m *Model) familyLogLikelihood(f *family.Family, w []float64, s *scratch) float64 {
	counts, err := m.data.Families.LeafCounts(f)
	if err != nil {
		log.Error("family likelihood: ", err)
		return math.Inf(-1)
	}
	res, err := m.rootLikelihood(counts, w, s)
	if err != nil {
		log.Error("family likelihood: ", err)
		return math.Inf(-1)
	}
	p := 0.0
	for i, v := range res {
		p += v * m.prior.At(m.data.Range.RootMin+i)
	}
	return math.Log(p)
}

// Likelihood computes the total log-likelihood of all the families.
// Families are evaluated on a worker pool; the reduction is performed
// in family-index order so the result is deterministic. A non-finite
// result becomes -Inf so the search can continue.
func (m *Model) Likelihood() (lnL float64) {
	log.Debugf("x=%v", m.parameters.Values(nil))
	if !m.ratesValid() {
		return math.Inf(-1)
	}
	w, ok := m.ClusterWeights()
	if !ok {
		return math.Inf(-1)
	}
	if !m.msValid {
		if err := m.setMatrices(); err != nil {
			log.Error("likelihood: ", err)
			return math.Inf(-1)
		}
	}

	fams := m.data.Families.Families
	nWorkers := runtime.GOMAXPROCS(0)
	if m.nThreads > 0 && m.nThreads < nWorkers {
		nWorkers = m.nThreads
	}
	if nWorkers > len(fams) {
		nWorkers = len(fams)
	}
	if nWorkers < 1 {
		nWorkers = 1
	}

	done := make(chan struct{}, nWorkers)
	tasks := make(chan int, len(fams))

	for i := 0; i < nWorkers; i++ {
		go func() {
			s := m.newScratch()
			for fid := range tasks {
				m.l[fid] = m.familyLogLikelihood(fams[fid], w, s)
			}
			done <- struct{}{}
		}()
	}

	for fid := range fams {
		tasks <- fid
	}
	close(tasks)

	for i := 0; i < nWorkers; i++ {
		<-done
	}

	// sum in family order regardless of completion order
	for _, l := range m.l {
		lnL += l
	}
	if math.IsNaN(lnL) {
		lnL = math.Inf(-1)
	}
	log.Debugf("L=%v", lnL)
	return
}
