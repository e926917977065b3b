package main

import (
	"bitbucket.org/mrrlab/gofam/birthdeath"
	"bitbucket.org/mrrlab/gofam/dist"
	"bitbucket.org/mrrlab/gofam/fmodel"
	"bitbucket.org/mrrlab/gofam/optimize"
)

// minLRT is the minimal tolerated test statistic; smaller values are
// clamped to zero (numeric noise can make H0 beat H1).
const minLRT = 1e-6

// optimizeModel runs the simplex on a model and returns the summary.
func optimizeModel(m *fmodel.Model, iterations int) optimize.Summary {
	ds := optimize.NewDS()
	ds.Seed = *seed
	ds.Quiet = true
	ds.SetOptimizable(m)
	ds.Run(iterations)
	ds.PrintResults()
	return ds.Summary()
}

// runLhtest performs a likelihood ratio test between nested rate
// models: equal vs separate death rates (mu), or one global birth
// rate vs per-group birth rates (groups).
func runLhtest(summary *RunSummary) {
	data, err := loadData()
	if err != nil {
		log.Fatal(err)
	}

	if *lhtMult != 1 {
		log.Infof("Scaling non-negative-group branch lengths by %v", *lhtMult)
		fmodel.ScaleBranchLengths(data.Tree, *lhtMult)
	}
	summary.Tree = data.Tree.ClassString()
	summary.NFamilies = data.Families.NFamilies()

	prior := newPrior(data, *lhtPrior, *lhtPoisson)
	ngroups := data.NGroups()
	cache := birthdeath.NewCache(data.Range.Max)

	h0Data := data
	h1Mu := false
	var df int
	switch *lhtTest {
	case "groups":
		if ngroups < 2 {
			log.Fatal("The groups test requires rate groups on the tree")
		}
		log.Notice("Optimizing H0 (one global birth rate)")
		h0Data = data.FlattenRateGroups()
		df = ngroups - 1
	default:
		log.Notice("Optimizing H0 (death rate equal to birth rate)")
		h1Mu = true
		df = ngroups
	}

	h0, err := fmodel.NewModel(h0Data, cache, false, 1, false)
	if err != nil {
		log.Fatal(err)
	}
	h0.SetPrior(prior)
	h0.SetNThreads(*nThreads)
	h0Summary := optimizeModel(h0, *lhtIter)

	if *lhtTest == "groups" {
		log.Notice("Optimizing H1 (per-group birth rates)")
	} else {
		log.Notice("Optimizing H1 (separate death rate)")
	}
	h1, err := fmodel.NewModel(data, cache, h1Mu, 1, false)
	if err != nil {
		log.Fatal(err)
	}
	h1.SetPrior(prior)
	h1.SetNThreads(*nThreads)
	h1Summary := optimizeModel(h1, *lhtIter)

	d := 2 * (h1Summary.MaxLnL - h0Summary.MaxLnL)
	if d < minLRT {
		if d < -minLRT {
			log.Warningf("H1 likelihood below H0 (D=%v); check convergence", d)
		}
		d = 0
	}
	p := dist.PValueChi2(d, float64(df))

	log.Noticef("lnL0=%v lnL1=%v", h0Summary.MaxLnL, h1Summary.MaxLnL)
	log.Noticef("D=%v, df=%d, p-value=%v", d, df, p)

	summary.LRT = &LRTSummary{
		H0LnL:        h0Summary.MaxLnL,
		H1LnL:        h1Summary.MaxLnL,
		D:            d,
		Df:           df,
		PValue:       p,
		H0Parameters: h0Summary.MaxLParameters,
		H1Parameters: h1Summary.MaxLParameters,
	}
}
