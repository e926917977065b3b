/*

Gofam infers gene family size evolution on a phylogenetic tree under
a birth-death model. It estimates birth (λ) and optionally death (μ)
rates by maximum likelihood, computes ancestral family sizes and
assigns p-values to family patterns.

The basic usage looks like this:

	gofam estimate --tree tree.nwk --families families.tab

, this will estimate a single λ with a downhill simplex optimizer.

Rates can be partitioned over branches by bracketed group ids in the
tree, e.g. ((chimp:6[1],human:6[1]):81,dog:93), latent rate clusters
are enabled with --k:

	gofam estimate --tree tree.nwk --families families.tab --mu --k 2

To see all the options run:

	gofam --help

*/
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"

	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/fmodel"
	"bitbucket.org/mrrlab/gofam/tree"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("gofam")
var formatter = logging.MustStringFormatter(`%{message}`)

// command-line options
var (
	// application
	app = kingpin.New("gofam", "gene family size evolution by maximum likelihood").Version(version)

	// input
	treeFileName     = app.Flag("tree", "phylogenetic tree with branch lengths (required by all commands but errest)").ExistingFile()
	familiesFileName = app.Flag("families", "gene family counts file").Required().ExistingFile()
	errorModels      = app.Flag("errormodel", "attach an error model, species:file or all:file (repeatable)").Strings()
	maxSize          = app.Flag("maxsize", "maximum family size (observed maximum plus a margin by default)").Default("-1").Int()

	// technical
	nThreads   = app.Flag("nt", "number of threads to use").Int()
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()

	// estimate command
	cmdEstimate   = app.Command("estimate", "estimate birth and death rates")
	estLambdaTree = cmdEstimate.Flag("lambda-tree", "tree whose rate-group ids override the phylogeny's groups").ExistingFile()
	estMu         = cmdEstimate.Flag("mu", "estimate a separate death rate").Bool()
	estK          = cmdEstimate.Flag("k", "number of latent rate clusters").Default("1").Int()
	estFix0       = cmdEstimate.Flag("fix0", "pin the first cluster to lambda=0").Bool()
	estMethod     = cmdEstimate.Flag("method", "optimization method to use "+
		"(simplex: downhill simplex, "+
		"lbfgsb: limited-memory Broyden-Fletcher-Goldfarb-Shanno with bounding constraints, "+
		"none: just compute likelihood, no optimization"+
		")").Default("simplex").Enum("simplex", "lbfgsb", "none")
	estIter       = cmdEstimate.Flag("iter", "number of iterations").Default("10000").Int()
	estReport     = cmdEstimate.Flag("report", "report every N iterations").Default("10").Int()
	estLambda     = cmdEstimate.Flag("lambda", "starting birth rate").Default("0.001").Float64()
	estPrior      = cmdEstimate.Flag("prior", "root size prior (empirical or poisson)").Default("empirical").Enum("empirical", "poisson")
	estPoisson    = cmdEstimate.Flag("poisson", "poisson prior rate").Default("1").Float64()
	estOutF       = cmdEstimate.Flag("out", "write optimization trajectory to a file").String()
	estCheckpoint = cmdEstimate.Flag("checkpoint", "checkpoint database file").String()

	// report command
	cmdReport  = app.Command("report", "per-family p-values and ancestral sizes")
	repLambda  = cmdReport.Flag("lambda", "birth rate").Required().Float64()
	repMu      = cmdReport.Flag("mu", "death rate (lambda by default)").Default("-1").Float64()
	repPrior   = cmdReport.Flag("prior", "root size prior (empirical or poisson)").Default("empirical").Enum("empirical", "poisson")
	repPoisson = cmdReport.Flag("poisson", "poisson prior rate").Default("1").Float64()
	repTrials  = cmdReport.Flag("trials", "simulations per root size").Default("1000").Int()
	repCut     = cmdReport.Flag("cut", "compute per-branch cut p-values").Bool()
	repOutF    = cmdReport.Flag("out", "write the report to a file").String()

	// simulate command
	cmdSimulate = app.Command("simulate", "forward simulation of families")
	simN        = cmdSimulate.Flag("n", "number of families to simulate").Default("100").Int()
	simLambda   = cmdSimulate.Flag("lambda", "birth rate").Required().Float64()
	simMu       = cmdSimulate.Flag("mu", "death rate (lambda by default)").Default("-1").Float64()
	simPoisson  = cmdSimulate.Flag("poisson", "poisson root prior rate (empirical prior by default)").Default("-1").Float64()
	simOutF     = cmdSimulate.Flag("out", "write the simulated families to a file").String()

	// lhtest command
	cmdLhtest = app.Command("lhtest", "likelihood ratio test of nested rate models")
	lhtTest   = cmdLhtest.Flag("test", "hypothesis to test "+
		"(mu: equal vs separate death rates, "+
		"groups: one global lambda vs per-group lambdas)").Default("mu").Enum("mu", "groups")
	lhtMult    = cmdLhtest.Flag("multiplier", "scale branch lengths of non-negative rate groups before testing").Default("1").Float64()
	lhtIter    = cmdLhtest.Flag("iter", "number of iterations").Default("10000").Int()
	lhtPrior   = cmdLhtest.Flag("prior", "root size prior (empirical or poisson)").Default("empirical").Enum("empirical", "poisson")
	lhtPoisson = cmdLhtest.Flag("poisson", "poisson prior rate").Default("1").Float64()

	// errest command
	cmdErrest  = app.Command("errest", "estimate an error model from repeated measures")
	errFile2   = cmdErrest.Flag("measure2", "second measure of the same families").ExistingFile()
	errTrue    = cmdErrest.Flag("truecounts", "true counts of the same families").ExistingFile()
	errSymm    = cmdErrest.Flag("symmetric", "symmetric misclassification model").Bool()
	errMaxDiff = cmdErrest.Flag("maxdiff", "maximum modeled count difference").Default("2").Int()
	errPeak0   = cmdErrest.Flag("peakzero", "force the distribution to peak at zero difference").Bool()
	errOutF    = cmdErrest.Flag("out", "write the estimated error model to a file").String()
)

// loadData reads the tree and the families and attaches the error
// models.
func loadData() (*fmodel.Data, error) {
	if *treeFileName == "" {
		return nil, fmt.Errorf("the command requires --tree")
	}
	treeFile, err := os.Open(*treeFileName)
	if err != nil {
		return nil, err
	}
	defer treeFile.Close()

	t, err := tree.ParseNewick(treeFile)
	if err != nil {
		return nil, err
	}
	log.Debugf("intree=%s", t)
	log.Debug(t.FullString())

	famFile, err := os.Open(*familiesFileName)
	if err != nil {
		return nil, err
	}
	defer famFile.Close()

	fams, err := family.ReadFamilies(famFile)
	if err != nil {
		return nil, err
	}

	data, err := fmodel.NewData(t, fams)
	if err != nil {
		return nil, err
	}
	if *maxSize >= 0 {
		r := data.Range
		r.Max = *maxSize
		if r.RootMax > r.Max {
			r.RootMax = r.Max
		}
		if err := data.SetRange(r); err != nil {
			return nil, err
		}
	}
	log.Infof("Family size range [%d, %d], root [%d, %d]",
		data.Range.Min, data.Range.Max, data.Range.RootMin, data.Range.RootMax)

	for _, spec := range *errorModels {
		if err := attachErrorModel(data, spec); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// attachErrorModel parses a species:file specification and attaches
// the model.
func attachErrorModel(data *fmodel.Data, spec string) error {
	species, fileName, err := splitErrorModelSpec(spec)
	if err != nil {
		return err
	}
	e := data.Families.GetErrorModel(fileName)
	if e == nil {
		f, err := os.Open(fileName)
		if err != nil {
			return err
		}
		defer f.Close()
		e, err = family.ReadErrorModel(f, data.Range.Max)
		if err != nil {
			return fmt.Errorf("%s: %v", fileName, err)
		}
		e.FileName = fileName
		if e.MaxFamilySize > data.Range.Max {
			r := data.Range
			r.Max = e.MaxFamilySize
			if err := data.SetRange(r); err != nil {
				return err
			}
		}
	}
	log.Infof("Error model %s attached to %s", fileName, species)
	return data.Families.SetErrorModel(species, e)
}

func splitErrorModelSpec(spec string) (species, fileName string, err error) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid error model specification %q, want species:file", spec)
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, pkg := range []string{"gofam", "optimize", "fmodel", "family", "birthdeath", "checkpoint"} {
		logging.SetLevel(level, pkg)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)

	rand.Seed(*seed)
	runtime.GOMAXPROCS(*nThreads)

	effectiveNThreads := runtime.GOMAXPROCS(0)
	log.Infof("Using threads: %d.", effectiveNThreads)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	startTime := time.Now()
	summary := &RunSummary{
		Version:     version,
		CommandLine: os.Args,
		Seed:        *seed,
		NThreads:    effectiveNThreads,
	}

	switch cmd {
	case cmdEstimate.FullCommand():
		runEstimate(summary)
	case cmdReport.FullCommand():
		runReport(summary)
	case cmdSimulate.FullCommand():
		runSimulate(summary)
	case cmdLhtest.FullCommand():
		runLhtest(summary)
	case cmdErrest.FullCommand():
		runErrest(summary)
	}

	summary.Time = time.Since(startTime).Seconds()
	log.Noticef("Running time: %v", time.Since(startTime))

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}

// newPrior builds the root size prior from a prior specification.
func newPrior(data *fmodel.Data, kind string, poissonRate float64) *fmodel.Prior {
	switch kind {
	case "poisson":
		log.Infof("Poisson root prior, rate %v", poissonRate)
		return fmodel.PoissonPrior(data.Range.Max, poissonRate)
	default:
		log.Info("Empirical root prior")
		return fmodel.EmpiricalPrior(data)
	}
}

