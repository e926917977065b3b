// Package fmodel provides the birth-death likelihood model of gene
// family size evolution on a phylogenetic tree.
package fmodel

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/op/go-logging"

	"bitbucket.org/mrrlab/gofam/birthdeath"
	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/optimize"
	"bitbucket.org/mrrlab/gofam/tree"
)

// log is the global logging variable.
var log = logging.MustGetLogger("fmodel")

// defaultMaxRate is the default upper bound for rate parameters.
const defaultMaxRate = 10

// ErrMatrixMissing is returned when a non-root node has no transition
// matrix during a likelihood evaluation.
var ErrMatrixMissing = errors.New("transition matrix missing on a node")

// ErrInvalidWeights is returned when the free cluster weights leave
// the simplex.
var ErrInvalidWeights = errors.New("cluster weights outside the simplex")

// CountOutOfRangeError is returned when an observed count exceeds the
// family size range.
type CountOutOfRangeError struct {
	Count int
	Max   int
}

func (e *CountOutOfRangeError) Error() string {
	return fmt.Sprintf("observed count %d exceeds the maximum family size %d", e.Count, e.Max)
}

// Range is the family size range. Probability vectors over sizes are
// indexed 0..Max, root vectors RootMin..RootMax.
type Range struct {
	Min, Max         int
	RootMin, RootMax int
}

// NRoot returns the number of root sizes.
func (r Range) NRoot() int {
	return r.RootMax - r.RootMin + 1
}

// Check validates the range invariants.
func (r Range) Check() error {
	if r.Min < 0 || r.Min > r.Max {
		return fmt.Errorf("invalid family size range [%d, %d]", r.Min, r.Max)
	}
	if r.RootMin < r.Min || r.RootMax < r.RootMin || r.RootMax > r.Max {
		return fmt.Errorf("invalid root size range [%d, %d]", r.RootMin, r.RootMax)
	}
	return nil
}

// Data bundles the tree, the family store and the size range for
// likelihood computations. The tree and the store are read-only
// during an evaluation.
type Data struct {
	Tree     *tree.Tree
	Families *family.Store
	Range    Range
}

// NewData creates a new Data, indexing the store against the tree and
// choosing a default size range from the observed counts.
func NewData(t *tree.Tree, fams *family.Store) (*Data, error) {
	if err := fams.IndexToTree(t); err != nil {
		return nil, err
	}
	obsMax := fams.MaxCount()
	margin := obsMax / 5
	if margin < 25 {
		margin = 25
	}
	data := &Data{
		Tree:     t,
		Families: fams,
		Range: Range{
			Min:     0,
			Max:     obsMax + margin,
			RootMin: 1,
			RootMax: obsMax + margin,
		},
	}
	t.NodeOrder()
	return data, nil
}

// SetRange changes the family size range.
func (d *Data) SetRange(r Range) error {
	if err := r.Check(); err != nil {
		return err
	}
	if max := d.Families.MaxCount(); max > r.Max {
		return &CountOutOfRangeError{Count: max, Max: r.Max}
	}
	d.Range = r
	return nil
}

// NGroups returns the number of branch rate groups (taxon groups) of
// the tree.
func (d *Data) NGroups() (n int) {
	n = 1
	for node := range d.Tree.Walker(nil) {
		if node.Class+1 > n {
			n = node.Class + 1
		}
	}
	return
}

// ScaleBranchLengths multiplies every branch length by m, except
// branches whose rate group is negative.
func ScaleBranchLengths(t *tree.Tree, m float64) {
	for node := range t.Walker(nil) {
		if node.IsRoot() || node.Class < 0 {
			continue
		}
		node.BranchLength *= m
	}
}

// ApplyLambdaTree copies the rate-group ids of a lambda tree onto the
// phylogeny. The lambda tree must have the same topology and leaf
// names; its branch lengths are ignored.
func ApplyLambdaTree(t, lt *tree.Tree) error {
	return applyLambdaTree(t.Node, lt.Node)
}

func applyLambdaTree(node, lnode *tree.Node) error {
	if len(node.ChildNodes()) != len(lnode.ChildNodes()) {
		return fmt.Errorf("lambda tree topology differs at node %d", node.ID)
	}
	if node.IsTerminal() && node.Name != lnode.Name {
		return fmt.Errorf("lambda tree leaf <%s> does not match <%s>", lnode.Name, node.Name)
	}
	node.Class = lnode.Class
	for i, child := range node.ChildNodes() {
		if err := applyLambdaTree(child, lnode.ChildNodes()[i]); err != nil {
			return err
		}
	}
	return nil
}

// FlattenRateGroups returns a Data over a copy of the tree with every
// rate group reset to zero, sharing the families and the range. It is
// the null model of the per-group rate test.
func (d *Data) FlattenRateGroups() *Data {
	t := d.Tree.Copy()
	for node := range t.Walker(nil) {
		node.Class = 0
	}
	return &Data{Tree: t, Families: d.Families, Range: d.Range}
}

// Model is the birth-death model with per-group birth rates,
// optional per-group death rates and optional latent rate clusters.
// It implements optimize.Optimizable: the search drives the lambda
// (and mu) parameters, the model maps them to per-branch rates and
// returns the summed per-family log-likelihood.
type Model struct {
	data  *Data
	cache *birthdeath.Cache
	prior *Prior

	ngroups     int
	nclust      int
	estimateMu  bool
	fixCluster0 bool

	// lambda is indexed group*nclust+cluster, mu by group.
	lambda []float64
	mu     []float64
	// weights are the free cluster weights 0..nclust-2; the last
	// weight is inferred.
	weights []float64

	parameters optimize.FloatParameters

	// ms[cluster][nodeID] are the per-branch transition matrices.
	ms      [][]*birthdeath.Matrix
	msValid bool

	// l is the per-family log-likelihood scratch.
	l []float64

	nThreads int
}

// NewModel creates a model over the data. nclust > 1 enables latent
// rate clusters, estimateMu adds per-group death rates, fixCluster0
// pins the first cluster to lambda = 0.
func NewModel(data *Data, cache *birthdeath.Cache, estimateMu bool, nclust int, fixCluster0 bool) (*Model, error) {
	if nclust < 1 {
		nclust = 1
	}
	if fixCluster0 && nclust < 2 {
		return nil, errors.New("fixcluster0 requires at least two clusters")
	}
	if max := data.Families.MaxCount(); max > data.Range.Max {
		return nil, &CountOutOfRangeError{Count: max, Max: data.Range.Max}
	}
	m := &Model{
		data:        data,
		cache:       cache,
		ngroups:     data.NGroups(),
		nclust:      nclust,
		estimateMu:  estimateMu,
		fixCluster0: fixCluster0,
		l:           make([]float64, data.Families.NFamilies()),
	}
	m.lambda = make([]float64, m.ngroups*nclust)
	for i := range m.lambda {
		m.lambda[i] = 0.001
	}
	if fixCluster0 {
		for g := 0; g < m.ngroups; g++ {
			m.lambda[g*nclust] = 0
		}
	}
	if estimateMu {
		m.mu = make([]float64, m.ngroups)
		for i := range m.mu {
			m.mu[i] = 0.001
		}
	}
	if nclust > 1 {
		m.weights = make([]float64, nclust-1)
		for i := range m.weights {
			m.weights[i] = 1 / float64(nclust)
		}
	}
	m.setupParameters()
	return m, nil
}

// SetPrior sets the root size prior.
func (m *Model) SetPrior(p *Prior) {
	m.prior = p
}

// Prior returns the root size prior.
func (m *Model) Prior() *Prior {
	return m.prior
}

// Data returns the model data.
func (m *Model) Data() *Data {
	return m.data
}

// Cache returns the transition matrix cache.
func (m *Model) Cache() *birthdeath.Cache {
	return m.cache
}

// NClusters returns the number of latent rate clusters.
func (m *Model) NClusters() int {
	return m.nclust
}

// SetNThreads bounds the number of likelihood worker threads.
func (m *Model) SetNThreads(n int) {
	m.nThreads = n
}

// setupParameters registers the optimization parameters.
func (m *Model) setupParameters() {
	m.parameters = nil
	fpg := optimize.BasicFloatParameterGenerator

	for g := 0; g < m.ngroups; g++ {
		for c := 0; c < m.nclust; c++ {
			if m.fixCluster0 && c == 0 {
				continue
			}
			name := "lambda" + strconv.Itoa(g)
			if m.nclust > 1 {
				name += "." + strconv.Itoa(c)
			}
			par := fpg(&m.lambda[g*m.nclust+c], name)
			par.SetMin(0)
			par.SetMax(defaultMaxRate)
			par.SetOnChange(m.invalidate)
			m.parameters.Append(par)
		}
	}
	if m.estimateMu {
		for g := 0; g < m.ngroups; g++ {
			par := fpg(&m.mu[g], "mu"+strconv.Itoa(g))
			par.SetMin(0)
			par.SetMax(defaultMaxRate)
			par.SetOnChange(m.invalidate)
			m.parameters.Append(par)
		}
	}
	for c := 0; c < m.nclust-1; c++ {
		par := fpg(&m.weights[c], "p"+strconv.Itoa(c+1))
		par.SetMin(0)
		par.SetMax(1)
		m.parameters.Append(par)
	}
}

func (m *Model) invalidate() {
	m.msValid = false
}

// GetFloatParameters returns the optimization parameters.
func (m *Model) GetFloatParameters() optimize.FloatParameters {
	return m.parameters
}

// SetLambda sets the birth rate of every group and cluster.
func (m *Model) SetLambda(lambda float64) {
	for i := range m.lambda {
		m.lambda[i] = lambda
	}
	if m.fixCluster0 {
		for g := 0; g < m.ngroups; g++ {
			m.lambda[g*m.nclust] = 0
		}
	}
	m.invalidate()
}

// SetMu sets the death rate of every group.
func (m *Model) SetMu(mu float64) {
	for i := range m.mu {
		m.mu[i] = mu
	}
	m.invalidate()
}

// Copy creates a copy sharing the data, the cache and the prior.
func (m *Model) Copy() optimize.Optimizable {
	newM, err := NewModel(m.data, m.cache, m.estimateMu, m.nclust, m.fixCluster0)
	if err != nil {
		panic(err)
	}
	copy(newM.lambda, m.lambda)
	copy(newM.mu, m.mu)
	copy(newM.weights, m.weights)
	newM.prior = m.prior
	newM.nThreads = m.nThreads
	return newM
}

// ClusterWeights returns the full cluster weight vector. The last
// weight is one minus the sum of the free weights; ok is false if the
// free weights exceed one.
func (m *Model) ClusterWeights() (w []float64, ok bool) {
	if m.nclust == 1 {
		return []float64{1}, true
	}
	w = make([]float64, m.nclust)
	sum := 0.0
	for i, v := range m.weights {
		if v < 0 {
			return nil, false
		}
		w[i] = v
		sum += v
	}
	if sum > 1 {
		return nil, false
	}
	w[m.nclust-1] = 1 - sum
	return w, true
}

// nodeRates returns the per-node birth and death rates for a cluster.
func (m *Model) nodeRates(cluster int) (birth []float64, death []birthdeath.DeathRate) {
	n := m.data.Tree.MaxNodeID() + 1
	birth = make([]float64, n)
	death = make([]birthdeath.DeathRate, n)
	for node := range m.data.Tree.Walker(nil) {
		g := node.Class
		if g < 0 || g >= m.ngroups {
			g = 0
		}
		birth[node.ID] = m.lambda[g*m.nclust+cluster]
		if m.estimateMu {
			death[node.ID] = birthdeath.Death(m.mu[g])
		} else {
			death[node.ID] = birthdeath.SameAsBirth()
		}
	}
	return
}

// setMatrices fills the per-branch transition matrices from the
// cache for every cluster.
func (m *Model) setMatrices() error {
	m.ms = make([][]*birthdeath.Matrix, m.nclust)
	for c := 0; c < m.nclust; c++ {
		birth, death := m.nodeRates(c)
		ms, err := m.cache.ApplyToTree(m.data.Tree, birth, death)
		if err != nil {
			return err
		}
		m.ms[c] = ms
	}
	m.msValid = true
	return nil
}

// ratesValid tells if the current rate parameters are admissible.
func (m *Model) ratesValid() bool {
	for _, l := range m.lambda {
		if l < 0 {
			return false
		}
	}
	for _, mu := range m.mu {
		if mu < 0 {
			return false
		}
	}
	return true
}
