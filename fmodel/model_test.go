package fmodel

import (
	"math"
	"testing"

	"bitbucket.org/mrrlab/gofam/birthdeath"
	"bitbucket.org/mrrlab/gofam/tree"
)

func newClusterData(tst *testing.T) *Data {
	return newTestData(tst, "((A:1[1],B:1[1]):1,(C:1,D:1):1);",
		[]string{"A", "B", "C", "D"}, []int{2, 3, 1, 2},
		Range{Min: 0, Max: 8, RootMin: 0, RootMax: 8})
}

func TestModelParameterCount(tst *testing.T) {
	data := newClusterData(tst)
	cache := birthdeath.NewCache(data.Range.Max)

	for _, test := range []struct {
		mu    bool
		k     int
		fix0  bool
		nPars int
	}{
		// two rate groups
		{false, 1, false, 2},
		{true, 1, false, 4},
		// clusters add k-1 lambdas per group and k-1 weights
		{false, 2, false, 5},
		{false, 2, true, 3},
		{true, 3, false, 10},
	} {
		m, err := NewModel(data, cache, test.mu, test.k, test.fix0)
		if err != nil {
			tst.Fatal("Error creating model:", err)
		}
		if got := len(m.GetFloatParameters()); got != test.nPars {
			tst.Errorf("mu=%v k=%d fix0=%v: %d parameters, expected %d",
				test.mu, test.k, test.fix0, got, test.nPars)
		}
	}
}

func TestClusterWeights(tst *testing.T) {
	data := newClusterData(tst)
	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, false, 3, false)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}

	m.weights[0] = 0.2
	m.weights[1] = 0.3
	w, ok := m.ClusterWeights()
	if !ok {
		tst.Fatal("Expected valid weights")
	}
	if len(w) != 3 || w[0] != 0.2 || w[1] != 0.3 || math.Abs(w[2]-0.5) > smallDiff {
		tst.Errorf("Wrong weights: %v", w)
	}

	m.weights[0] = 0.8
	m.weights[1] = 0.5
	if _, ok := m.ClusterWeights(); ok {
		tst.Error("Expected invalid weights when the sum exceeds one")
	}
}

func TestFixCluster0(tst *testing.T) {
	data := newClusterData(tst)
	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, false, 2, true)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}
	m.SetLambda(0.05)
	for g := 0; g < m.ngroups; g++ {
		if m.lambda[g*m.nclust] != 0 {
			tst.Errorf("Group %d cluster 0 lambda %v, expected 0", g, m.lambda[g*m.nclust])
		}
		if m.lambda[g*m.nclust+1] != 0.05 {
			tst.Errorf("Group %d cluster 1 lambda %v, expected 0.05", g, m.lambda[g*m.nclust+1])
		}
	}
}

func TestNegativeRatesRejected(tst *testing.T) {
	data := newClusterData(tst)
	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, true, 1, false)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}
	m.SetPrior(EmpiricalPrior(data))
	m.SetLambda(-0.01)
	if l := m.Likelihood(); !math.IsInf(l, -1) {
		tst.Errorf("Expected -Inf for a negative rate, got %v", l)
	}
}

func TestModelCopy(tst *testing.T) {
	data := newClusterData(tst)
	cache := birthdeath.NewCache(data.Range.Max)
	m, err := NewModel(data, cache, false, 1, false)
	if err != nil {
		tst.Fatal("Error creating model:", err)
	}
	m.SetLambda(0.01)
	m.SetPrior(EmpiricalPrior(data))

	c := m.Copy().(*Model)
	l1 := m.Likelihood()
	l2 := c.Likelihood()
	if math.Abs(l1-l2) > smallDiff {
		tst.Errorf("Copy likelihood %v differs from the original %v", l2, l1)
	}

	// the copy's parameters are independent
	c.GetFloatParameters()[0].Set(0.5)
	if m.lambda[0] == 0.5 {
		tst.Error("Copy shares the lambda storage with the original")
	}
}

func TestApplyLambdaTree(tst *testing.T) {
	data := newClusterData(tst)

	lt, err := tree.ParseNewickString("((A:1,B:1):1[2],(C:1[1],D:1):1);")
	if err != nil {
		tst.Fatal("Error parsing lambda tree:", err)
	}
	if err := ApplyLambdaTree(data.Tree, lt); err != nil {
		tst.Fatal("Error applying lambda tree:", err)
	}

	classes := make(map[string]int)
	for node := range data.Tree.Terminals() {
		classes[node.Name] = node.Class
	}
	if classes["A"] != 0 || classes["B"] != 0 || classes["C"] != 1 || classes["D"] != 0 {
		tst.Errorf("Wrong leaf groups after lambda tree: %v", classes)
	}
	if data.NGroups() != 3 {
		tst.Errorf("NGroups=%d, expected 3", data.NGroups())
	}

	// a lambda tree with different leaves is rejected
	bad, err := tree.ParseNewickString("((A:1,X:1):1,(C:1,D:1):1);")
	if err != nil {
		tst.Fatal(err)
	}
	if err := ApplyLambdaTree(data.Tree, bad); err == nil {
		tst.Error("Expected an error for a mismatched lambda tree")
	}

	// a lambda tree with a different topology is rejected
	bad2, err := tree.ParseNewickString("(((A:1,B:1):1,C:1):1,D:1);")
	if err != nil {
		tst.Fatal(err)
	}
	if err := ApplyLambdaTree(data.Tree, bad2); err == nil {
		tst.Error("Expected an error for a different topology")
	}
}

func TestFlattenRateGroups(tst *testing.T) {
	data := newClusterData(tst)
	if data.NGroups() != 2 {
		tst.Fatalf("NGroups=%d, expected 2", data.NGroups())
	}

	flat := data.FlattenRateGroups()
	if flat.NGroups() != 1 {
		tst.Errorf("Flattened NGroups=%d, expected 1", flat.NGroups())
	}
	if flat.Families != data.Families {
		tst.Error("Flattened data must share the family store")
	}
	// the original tree keeps its groups
	if data.NGroups() != 2 {
		tst.Error("FlattenRateGroups must not modify the original tree")
	}

	// with identical rates the flattened model gives the same
	// likelihood
	cache := birthdeath.NewCache(data.Range.Max)
	m1, err := NewModel(data, cache, false, 1, false)
	if err != nil {
		tst.Fatal(err)
	}
	m1.SetLambda(0.02)
	m1.SetPrior(EmpiricalPrior(data))

	m2, err := NewModel(flat, cache, false, 1, false)
	if err != nil {
		tst.Fatal(err)
	}
	m2.SetLambda(0.02)
	m2.SetPrior(EmpiricalPrior(flat))

	l1 := m1.Likelihood()
	l2 := m2.Likelihood()
	if math.Abs(l1-l2) > smallDiff {
		tst.Errorf("Flattened likelihood %v differs from grouped %v at equal rates", l2, l1)
	}
}

func TestClusteredLikelihood(tst *testing.T) {
	data := newClusterData(tst)
	cache := birthdeath.NewCache(data.Range.Max)

	// a two-cluster model with identical rates equals the
	// single-cluster model
	m1, err := NewModel(data, cache, false, 1, false)
	if err != nil {
		tst.Fatal(err)
	}
	m1.SetLambda(0.02)
	m1.SetPrior(EmpiricalPrior(data))

	m2, err := NewModel(data, cache, false, 2, false)
	if err != nil {
		tst.Fatal(err)
	}
	m2.SetLambda(0.02)
	m2.SetPrior(EmpiricalPrior(data))

	l1 := m1.Likelihood()
	l2 := m2.Likelihood()
	if math.Abs(l1-l2) > smallDiff {
		tst.Errorf("Degenerate clustered likelihood %v differs from plain %v", l2, l1)
	}
}
