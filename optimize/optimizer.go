package optimize

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("optimize")

// Optimizable is a model which exposes its parameters and computes a
// log-likelihood. Likelihood must return math.Inf(-1) on numeric
// failure so the search can continue.
type Optimizable interface {
	GetFloatParameters() FloatParameters
	Copy() Optimizable
	Likelihood() float64
}

// Optimizer is a likelihood maximizer.
type Optimizer interface {
	SetOptimizable(Optimizable)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	SetOutput(io.Writer)
	Run(iterations int)
	GetL() float64
	GetMaxL() float64
	GetMaxLParameters() []float64
	Summary() Summary
	PrintResults()
}

// Summary stores the result of an optimizer run.
type Summary struct {
	// Method is the optimization method name.
	Method string `json:"method"`
	// MaxLnL is the maximum log-likelihood found.
	MaxLnL float64 `json:"maxLnL"`
	// MaxLParameters are the parameter values at the maximum.
	MaxLParameters map[string]float64 `json:"maxLParameters"`
	// Iterations is the number of iterations performed.
	Iterations int `json:"iterations"`
	// LikelihoodCalls is the number of likelihood evaluations.
	LikelihoodCalls int `json:"likelihoodCalls"`
	// Converged tells if the search converged before hitting the
	// iteration limit.
	Converged bool `json:"converged"`
}

// BaseOptimizer provides common state for optimizers.
type BaseOptimizer struct {
	Optimizable
	parameters FloatParameters
	i          int
	calls      int
	l          float64
	maxL       float64
	maxLPar    []float64
	repPeriod  int
	sig        chan os.Signal
	output     io.Writer
	method     string
	converged  bool
	// Quiet disables trajectory output.
	Quiet bool
}

// SetOptimizable sets the model to optimize.
func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
}

// WatchSignals makes the optimizer stop gracefully on a signal.
func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

// SetReportPeriod sets the trajectory reporting period.
func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

// SetOutput sets the trajectory output writer.
func (o *BaseOptimizer) SetOutput(w io.Writer) {
	o.output = w
}

func (o *BaseOptimizer) out() io.Writer {
	if o.output == nil {
		return os.Stdout
	}
	return o.output
}

// PrintHeader prints the trajectory header.
func (o *BaseOptimizer) PrintHeader(par FloatParameters) {
	if !o.Quiet {
		fmt.Fprintf(o.out(), "iteration\tlikelihood\t%s\n", par.NamesString())
	}
}

// PrintLine prints one trajectory line.
func (o *BaseOptimizer) PrintLine(par FloatParameters, l float64) {
	if !o.Quiet {
		fmt.Fprintf(o.out(), "%d\t%f\t%s\n", o.i, l, par.ValuesString())
	}
}

// PrintResults logs the best parameters found.
func (o *BaseOptimizer) PrintResults() {
	log.Noticef("Maximum likelihood: %v", o.maxL)
	names := o.parameters.Names(nil)
	for i, name := range names {
		if o.maxLPar != nil {
			log.Infof("%s=%v", name, o.maxLPar[i])
		}
	}
}

// GetL returns the last likelihood.
func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

// GetMaxL returns the maximum likelihood found.
func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

// GetMaxLParameters returns the parameter values at the maximum.
func (o *BaseOptimizer) GetMaxLParameters() []float64 {
	return o.maxLPar
}

// Summary returns the run summary.
func (o *BaseOptimizer) Summary() Summary {
	s := Summary{
		Method:          o.method,
		MaxLnL:          o.maxL,
		Iterations:      o.i,
		LikelihoodCalls: o.calls,
		Converged:       o.converged,
	}
	if o.maxLPar != nil {
		s.MaxLParameters = make(map[string]float64, len(o.parameters))
		for i, par := range o.parameters {
			s.MaxLParameters[par.Name()] = o.maxLPar[i]
		}
	}
	return s
}

// stopRequested drains the signal channel.
func (o *BaseOptimizer) stopRequested() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
	}
	return false
}
