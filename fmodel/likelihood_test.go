package fmodel

import (
	"io"
	"math"
	"strings"
	"testing"

	"github.com/op/go-logging"

	"bitbucket.org/mrrlab/gofam/birthdeath"
	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/tree"
)

const smallDiff = 1e-9

func init() {
	logging.SetLevel(logging.ERROR, "fmodel")
	logging.SetLevel(logging.WARNING, "optimize")
	logging.SetLevel(logging.WARNING, "birthdeath")
	logging.SetLevel(logging.WARNING, "family")
}

// newFlatErrorModel is an error model spreading observations over
// neighbouring counts.
func newFlatErrorModel() io.Reader {
	return strings.NewReader(`maxcnt:5
cntdiff -1 0 1
0 0.0 0.7 0.3
1 0.25 0.5 0.25
`)
}

// newTestData builds a Data over a Newick string and one family of
// counts given in leaf id order.
func newTestData(tst *testing.T, newick string, species []string, counts []int, r Range) *Data {
	t, err := tree.ParseNewickString(newick)
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	store := family.NewStore(species)
	store.Add(&family.Family{ID: "fam1", Counts: counts})
	data, err := NewData(t, store)
	if err != nil {
		tst.Fatal("Error creating data:", err)
	}
	if err := data.SetRange(r); err != nil {
		tst.Fatal("Error setting range:", err)
	}
	return data
}

func TestRootLikelihoodReference(tst *testing.T) {
	data := newTestData(tst, "((A:1,B:1):1,(C:1,D:1):1);",
		[]string{"A", "B", "C", "D"}, []int{5, 10, 2, 6},
		Range{Min: 0, Max: 15, RootMin: 0, RootMax: 15})

	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, false, 1, false)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}
	m.SetLambda(0.01)

	L, err := m.FamilyRootLikelihood(data.Families.Families[0], m.newScratch())
	if err != nil {
		tst.Fatal("Error computing likelihood:", err)
	}

	refs := []float64{0, 1.42e-13, 2.88e-9, 4.12e-7, 6.74e-7}
	for i, ref := range refs {
		got := L[i]
		if ref == 0 {
			if got != 0 {
				tst.Errorf("L[%d]=%v, expected 0", i, got)
			}
			continue
		}
		if math.Abs(got-ref) > 0.1*ref {
			tst.Errorf("L[%d]=%v, expected %v", i, got, ref)
		}
	}
}

// bruteForceLikelihood enumerates every size assignment of the
// non-root internal nodes of the model's tree.
func bruteForceLikelihood(m *Model, counts []int, rootSize int) float64 {
	t := m.data.Tree
	max := m.data.Range.Max

	var internals []*tree.Node
	for node := range t.NonTerminals() {
		if !node.IsRoot() {
			internals = append(internals, node)
		}
	}

	sizes := make([]int, t.MaxNodeID()+1)
	sizes[t.Node.ID] = rootSize
	for node := range t.Terminals() {
		sizes[node.ID] = counts[node.LeafID]
	}

	var rec func(k int) float64
	rec = func(k int) float64 {
		if k == len(internals) {
			p := 1.0
			for node := range t.Walker(nil) {
				if node.IsRoot() {
					continue
				}
				p *= m.ms[0][node.ID].Get(sizes[node.Parent.ID], sizes[node.ID])
			}
			return p
		}
		sum := 0.0
		for s := 0; s <= max; s++ {
			sizes[internals[k].ID] = s
			sum += rec(k + 1)
		}
		return sum
	}
	return rec(0)
}

func TestPruningMatchesBruteForce(tst *testing.T) {
	data := newTestData(tst, "((A:1,B:1):2,(C:3,D:1):1);",
		[]string{"A", "B", "C", "D"}, []int{2, 1, 3, 0},
		Range{Min: 0, Max: 5, RootMin: 0, RootMax: 5})

	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, true, 1, false)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}
	m.SetLambda(0.05)
	m.SetMu(0.03)

	L, err := m.FamilyRootLikelihood(data.Families.Families[0], m.newScratch())
	if err != nil {
		tst.Fatal("Error computing likelihood:", err)
	}

	counts, err := data.Families.LeafCounts(data.Families.Families[0])
	if err != nil {
		tst.Fatal(err)
	}
	for r := data.Range.RootMin; r <= data.Range.RootMax; r++ {
		want := bruteForceLikelihood(m, counts, r)
		got := L[r-data.Range.RootMin]
		if math.Abs(got-want) > smallDiff {
			tst.Errorf("L[root=%d]=%v, brute force %v", r, got, want)
		}
	}
}

func TestLikelihoodWithErrorModel(tst *testing.T) {
	data := newTestData(tst, "((A:1,B:1):1,(C:1,D:1):1);",
		[]string{"A", "B", "C", "D"}, []int{2, 1, 3, 1},
		Range{Min: 0, Max: 5, RootMin: 0, RootMax: 5})

	// identity error model must not change the likelihood
	ident := family.NewErrorModel(5, 0, 0)
	for j := 0; j <= 5; j++ {
		ident.Set(j, j, 1)
	}
	ident.FileName = "ident"
	if err := data.Families.SetErrorModel("all", ident); err != nil {
		tst.Fatal(err)
	}

	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, false, 1, false)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}
	m.SetLambda(0.01)
	withError, err := m.FamilyRootLikelihood(data.Families.Families[0], m.newScratch())
	if err != nil {
		tst.Fatal(err)
	}

	if err := data.Families.RemoveErrorModel("all"); err != nil {
		tst.Fatal(err)
	}
	noError, err := m.FamilyRootLikelihood(data.Families.Families[0], m.newScratch())
	if err != nil {
		tst.Fatal(err)
	}

	for i := range noError {
		if math.Abs(withError[i]-noError[i]) > smallDiff {
			tst.Errorf("L[%d]: %v with identity error, %v without", i, withError[i], noError[i])
		}
	}

	// a flat error model spreads the observation
	flat, err := family.ReadErrorModel(newFlatErrorModel(), 5)
	if err != nil {
		tst.Fatal("Error reading error model:", err)
	}
	flat.FileName = "flat"
	if err := data.Families.SetErrorModel("A", flat); err != nil {
		tst.Fatal(err)
	}
	blurred, err := m.FamilyRootLikelihood(data.Families.Families[0], m.newScratch())
	if err != nil {
		tst.Fatal(err)
	}
	same := true
	for i := range noError {
		if math.Abs(blurred[i]-noError[i]) > smallDiff {
			same = false
		}
	}
	if same {
		tst.Error("Error model did not change the likelihood")
	}
}

func TestCountOutOfRange(tst *testing.T) {
	t, err := tree.ParseNewickString("(A:1,B:1);")
	if err != nil {
		tst.Fatal(err)
	}
	store := family.NewStore([]string{"A", "B"})
	store.Add(&family.Family{ID: "fam1", Counts: []int{1, 30}})
	data, err := NewData(t, store)
	if err != nil {
		tst.Fatal(err)
	}
	err = data.SetRange(Range{Min: 0, Max: 5, RootMin: 0, RootMax: 5})
	if _, ok := err.(*CountOutOfRangeError); !ok {
		tst.Errorf("Expected CountOutOfRangeError, got %v", err)
	}
}

func TestLikelihoodDeterministic(tst *testing.T) {
	t, err := tree.ParseNewickString("((A:1,B:1):1,(C:1,D:1):1);")
	if err != nil {
		tst.Fatal(err)
	}
	store := family.NewStore([]string{"A", "B", "C", "D"})
	for i := 0; i < 37; i++ {
		store.Add(&family.Family{
			ID:     "fam" + string(rune('a'+i%26)),
			Counts: []int{i % 5, (i * 3) % 7, 1 + i%3, (i * 5) % 4},
		})
	}
	data, err := NewData(t, store)
	if err != nil {
		tst.Fatal(err)
	}
	if err := data.SetRange(Range{Min: 0, Max: 10, RootMin: 0, RootMax: 10}); err != nil {
		tst.Fatal(err)
	}

	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, false, 1, false)
	if err != nil {
		tst.Fatal(err)
	}
	m.SetLambda(0.02)
	m.SetPrior(EmpiricalPrior(data))

	l1 := m.Likelihood()
	l2 := m.Likelihood()
	if l1 != l2 {
		tst.Errorf("Likelihood is not deterministic: %v vs %v", l1, l2)
	}
	if math.IsNaN(l1) || math.IsInf(l1, 0) {
		tst.Errorf("Likelihood is not finite: %v", l1)
	}
}
