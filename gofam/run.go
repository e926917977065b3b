package main

import (
	"fmt"
	"io"
	"os"

	bolt "go.etcd.io/bbolt"

	"bitbucket.org/mrrlab/gofam/birthdeath"
	"bitbucket.org/mrrlab/gofam/checkpoint"
	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/fmodel"
	"bitbucket.org/mrrlab/gofam/optimize"
	"bitbucket.org/mrrlab/gofam/tree"
)

// newOptimizer creates an optimizer from the method name.
func newOptimizer(method string) optimize.Optimizer {
	switch method {
	case "lbfgsb":
		return optimize.NewLBFGSB()
	case "none":
		return optimize.NewNone()
	}
	ds := optimize.NewDS()
	ds.Seed = *seed
	return ds
}

// outWriter returns a file writer or stdout.
func outWriter(fileName string) (io.Writer, func(), error) {
	if fileName == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(fileName)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// runEstimate performs the maximum likelihood rate estimation.
func runEstimate(summary *RunSummary) {
	data, err := loadData()
	if err != nil {
		log.Fatal(err)
	}
	if *estLambdaTree != "" {
		ltFile, err := os.Open(*estLambdaTree)
		if err != nil {
			log.Fatal(err)
		}
		lt, err := tree.ParseNewick(ltFile)
		ltFile.Close()
		if err != nil {
			log.Fatal("Error parsing lambda tree:", err)
		}
		if err := fmodel.ApplyLambdaTree(data.Tree, lt); err != nil {
			log.Fatal(err)
		}
		log.Infof("Rate groups from lambda tree: %s", data.Tree.ClassString())
	}
	summary.Tree = data.Tree.ClassString()
	summary.NFamilies = data.Families.NFamilies()

	cache := birthdeath.NewCache(data.Range.Max)
	m, err := fmodel.NewModel(data, cache, *estMu, *estK, *estFix0)
	if err != nil {
		log.Fatal(err)
	}
	m.SetLambda(*estLambda)
	m.SetPrior(newPrior(data, *estPrior, *estPoisson))
	m.SetNThreads(*nThreads)

	if *estMu {
		log.Info("Estimating separate death rates")
	}
	if *estK > 1 {
		log.Infof("Using %d latent rate clusters", *estK)
	}
	log.Infof("Model has %d parameters.", len(m.GetFloatParameters()))

	var db *bolt.DB
	var cpIO *checkpoint.IO
	if *estCheckpoint != "" {
		db, err = bolt.Open(*estCheckpoint, 0666, nil)
		if err != nil {
			log.Fatal("Error opening checkpoint database:", err)
		}
		defer db.Close()
		cpIO = checkpoint.NewIO(db, []byte("estimate"), 30)
		cp, err := cpIO.Load()
		if err != nil {
			log.Error("Error reading checkpoint:", err)
		} else if cp != nil {
			par := m.GetFloatParameters()
			for i, name := range par.Names(nil) {
				if v, ok := cp.Parameters[name]; ok {
					par[i].Set(v)
				}
			}
			log.Noticef("Resuming from checkpoint (lnL=%v)", cp.Likelihood)
		}
	}

	f, closeF, err := outWriter(*estOutF)
	if err != nil {
		log.Fatal("Error creating trajectory file:", err)
	}
	defer closeF()

	opt := newOptimizer(*estMethod)
	log.Infof("Using %s optimization.", *estMethod)
	opt.SetOutput(f)
	opt.SetOptimizable(m)
	opt.SetReportPeriod(*estReport)
	opt.WatchSignals(os.Interrupt)

	opt.Run(*estIter)
	opt.PrintResults()

	optSummary := opt.Summary()
	summary.Optimizer = &optSummary
	if !optSummary.Converged {
		log.Warning("Search did not converge; reporting the best parameters found")
	}

	if cpIO != nil {
		err = cpIO.Save(&checkpoint.Data{
			Parameters: optSummary.MaxLParameters,
			Likelihood: optSummary.MaxLnL,
			Iter:       optSummary.Iterations,
			Final:      true,
		})
		if err != nil {
			log.Error("Error saving checkpoint:", err)
		}
	}
}

// newFixedModel creates a model with fixed rates for the report and
// simulate commands.
func newFixedModel(data *fmodel.Data, lambda, mu float64) (*fmodel.Model, error) {
	cache := birthdeath.NewCache(data.Range.Max)
	m, err := fmodel.NewModel(data, cache, mu >= 0, 1, false)
	if err != nil {
		return nil, err
	}
	m.SetLambda(lambda)
	if mu >= 0 {
		m.SetMu(mu)
	}
	m.SetNThreads(*nThreads)
	return m, nil
}

// runReport writes the per-family p-values and MAP ancestral sizes.
func runReport(summary *RunSummary) {
	data, err := loadData()
	if err != nil {
		log.Fatal(err)
	}
	summary.Tree = data.Tree.ClassString()
	summary.NFamilies = data.Families.NFamilies()

	m, err := newFixedModel(data, *repLambda, *repMu)
	if err != nil {
		log.Fatal(err)
	}
	m.SetPrior(newPrior(data, *repPrior, *repPoisson))

	log.Infof("Simulating conditional distributions (%d trials per root size)", *repTrials)
	cd, err := m.NewConditionalDistribution(*repTrials, *seed)
	if err != nil {
		log.Fatal(err)
	}

	w, closeW, err := outWriter(*repOutF)
	if err != nil {
		log.Fatal("Error creating report file:", err)
	}
	defer closeW()

	fmt.Fprintf(w, "# lambda=%v", *repLambda)
	if *repMu >= 0 {
		fmt.Fprintf(w, " mu=%v", *repMu)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "# tree=%s\n", data.Tree.ClassString())
	fmt.Fprint(w, "Family ID\tp-value\troot size\tnode sizes\tnode p-values")
	if *repCut {
		fmt.Fprint(w, "\tcut p-values")
	}
	fmt.Fprintln(w)

	for _, fam := range data.Families.Families {
		pval, _, err := m.FamilyPValue(fam, cd, nil)
		if err != nil {
			log.Fatal(err)
		}
		vit, err := m.Viterbi(fam, nil)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Fprintf(w, "%s\t%g\t%d\t%s\t%s", fam.ID, pval, vit.RootSize,
			formatInts(vit.Sizes), formatFloats(vit.PValues))
		if *repCut {
			cut, err := m.CutPValues(fam, *repTrials, *seed)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Fprintf(w, "\t%s", formatFloats(cut))
		}
		fmt.Fprintln(w)
	}
}

func formatInts(v []int) (s string) {
	for i, x := range v {
		if i != 0 {
			s += ","
		}
		s += fmt.Sprintf("%d", x)
	}
	return
}

func formatFloats(v []float64) (s string) {
	for i, x := range v {
		if i != 0 {
			s += ","
		}
		s += fmt.Sprintf("%g", x)
	}
	return
}

// runSimulate writes families simulated under fixed rates.
func runSimulate(summary *RunSummary) {
	data, err := loadData()
	if err != nil {
		log.Fatal(err)
	}
	summary.Tree = data.Tree.ClassString()

	m, err := newFixedModel(data, *simLambda, *simMu)
	if err != nil {
		log.Fatal(err)
	}
	if *simPoisson >= 0 {
		m.SetPrior(fmodel.PoissonPrior(data.Range.Max, *simPoisson))
	} else {
		m.SetPrior(fmodel.EmpiricalPrior(data))
	}

	store, err := m.Simulate(*simN, *seed)
	if err != nil {
		log.Fatal(err)
	}
	summary.NFamilies = store.NFamilies()

	w, closeW, err := outWriter(*simOutF)
	if err != nil {
		log.Fatal("Error creating output file:", err)
	}
	defer closeW()
	if err := store.Write(w); err != nil {
		log.Fatal(err)
	}
}

// runErrest estimates a misclassification model from two measures.
func runErrest(summary *RunSummary) {
	if *errFile2 == "" && *errTrue == "" {
		log.Fatal("errest requires --measure2 or --truecounts")
	}
	famFile, err := os.Open(*familiesFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer famFile.Close()
	s1, err := family.ReadFamilies(famFile)
	if err != nil {
		log.Fatal(err)
	}

	trueMeasure := *errTrue != ""
	otherName := *errFile2
	if trueMeasure {
		otherName = *errTrue
	}
	otherFile, err := os.Open(otherName)
	if err != nil {
		log.Fatal(err)
	}
	defer otherFile.Close()
	s2, err := family.ReadFamilies(otherFile)
	if err != nil {
		log.Fatal(err)
	}

	e, err := fmodel.EstimateError(s1, s2, *errSymm, *errMaxDiff, *errPeak0,
		trueMeasure, *maxSize, *seed)
	if err != nil {
		log.Fatal(err)
	}
	summary.ErrorEstimates = e.Params()
	log.Noticef("Misclassification estimates: %v", e.Params())

	w, closeW, err := outWriter(*errOutF)
	if err != nil {
		log.Fatal("Error creating output file:", err)
	}
	defer closeW()
	if err := e.ErrorModel().Write(w); err != nil {
		log.Fatal(err)
	}
}
