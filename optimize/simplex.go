package optimize

import (
	"math"
	"math/rand"
)

// Numeric thresholds for the downhill simplex.
const (
	TINY = 1e-10
)

// Standard reflection, expansion, contraction and shrink
// coefficients.
const (
	simplexReflect  = -1
	simplexExpand   = 2
	simplexContract = 0.5
	simplexShrink   = 0.5
)

// DS is a downhill simplex (Nelder-Mead) optimizer. The initial
// simplex is the starting point plus one unit-vector perturbation per
// dimension scaled by the coordinate's magnitude. A run converges
// when both the simplex diameter is below TolX and the likelihood
// spread is below TolF. Run restarts the search from randomized
// points up to MaxRuns times, keeping the best score, and stops early
// when two successive runs agree within TolF.
type DS struct {
	BaseOptimizer
	// Delta is the relative size of the initial simplex.
	Delta float64
	// TolX is the simplex diameter tolerance.
	TolX float64
	// TolF is the likelihood spread tolerance.
	TolF float64
	// MaxRuns bounds the number of randomized restarts.
	MaxRuns int
	// Seed makes the restarts deterministic.
	Seed int64

	points     []Optimizable
	parameters []FloatParameters
	l          []float64
	psum       []float64
	newOpt     Optimizable
	newPar     FloatParameters
	rng        *rand.Rand
}

// NewDS creates a new downhill simplex optimizer.
func NewDS() (ds *DS) {
	ds = &DS{
		Delta:   0.1,
		TolX:    1e-6,
		TolF:    1e-6,
		MaxRuns: 100,
	}
	ds.repPeriod = 10
	ds.method = "simplex"
	return
}

// createSimplex builds the initial simplex around the current point
// of opt.
func (ds *DS) createSimplex(opt Optimizable) {
	parameters := opt.GetFloatParameters()
	ds.points = make([]Optimizable, len(parameters)+1)
	ds.parameters = make([]FloatParameters, len(ds.points))
	ds.l = make([]float64, len(ds.points))
	ds.points[0] = opt
	ds.parameters[0] = parameters
	for i := 1; i < len(ds.points); i++ {
		point := opt.Copy()
		ds.points[i] = point
		ds.parameters[i] = point.GetFloatParameters()
	}
	for i := 0; i < len(parameters); i++ {
		parameter := ds.parameters[i+1][i]
		delta := ds.Delta * math.Abs(parameter.Get())
		if delta == 0 {
			delta = ds.Delta
		}
		parameter.Set(parameter.Get() + delta)
	}
	for i := range ds.points {
		ds.l[i] = ds.eval(ds.points[i], ds.parameters[i])
	}
}

func (ds *DS) eval(opt Optimizable, par FloatParameters) float64 {
	if !par.InRange() {
		return math.Inf(-1)
	}
	ds.calls++
	l := opt.Likelihood()
	if math.IsNaN(l) {
		l = math.Inf(-1)
	}
	return l
}

// amotry extrapolates by factor fac through the face of the simplex
// across from the worst point, and keeps the new point if it is
// better.
func (ds *DS) amotry(ilo int, fac float64) float64 {
	if ds.newOpt == nil {
		ds.newOpt = ds.points[0].Copy()
		ds.newPar = ds.newOpt.GetFloatParameters()
	}
	ds.calcPsum()
	ndim := len(ds.newPar)
	fac1 := (1 - fac) / float64(ndim)
	fac2 := fac1 - fac
	for j := 0; j < ndim; j++ {
		ds.newPar[j].Set(ds.psum[j]*fac1 - ds.parameters[ilo][j].Get()*fac2)
	}
	l := ds.eval(ds.newOpt, ds.newPar)
	if l > ds.l[ilo] {
		ds.points[ilo], ds.newOpt = ds.newOpt, ds.points[ilo]
		ds.parameters[ilo], ds.newPar = ds.newPar, ds.parameters[ilo]
		ds.l[ilo] = l
	}
	return l
}

func (ds *DS) calcPsum() {
	ds.psum = make([]float64, len(ds.parameters[0]))
	for i := range ds.psum {
		for _, parameters := range ds.parameters {
			ds.psum[i] += parameters[i].Get()
		}
	}
}

// diameter returns the largest coordinate distance between the best
// point and any other simplex point.
func (ds *DS) diameter(ihi int) (d float64) {
	for i := range ds.parameters {
		if i == ihi {
			continue
		}
		for j := range ds.parameters[i] {
			dx := math.Abs(ds.parameters[i][j].Get() - ds.parameters[ihi][j].Get())
			if dx > d {
				d = dx
			}
		}
	}
	return
}

// Run performs the search. iterations bounds a single simplex run;
// randomized restarts continue until MaxRuns or until two successive
// runs agree within TolF.
func (ds *DS) Run(iterations int) {
	ds.maxL = math.Inf(-1)
	ds.rng = rand.New(rand.NewSource(ds.Seed))
	ds.PrintHeader(ds.parameters0())

	prevL := math.NaN()
	for run := 0; run < ds.MaxRuns; run++ {
		opt := ds.Optimizable
		if run > 0 {
			opt = ds.Optimizable.Copy()
			par := opt.GetFloatParameters()
			par.Randomize(ds.rng)
		}
		l, par, ok := ds.minimize(opt, iterations)
		if l > ds.maxL {
			ds.maxL = l
			ds.maxLPar = par.Values(ds.maxLPar)
		}
		if !ok {
			// iteration limit; the score is not trusted for
			// the convergence test
			log.Warningf("Iterations exceeded (%d)", iterations)
			continue
		}
		if run > 0 && !math.IsNaN(prevL) && math.Abs(l-prevL) < ds.TolF {
			ds.converged = true
			log.Infof("Simplex converged after %d runs", run+1)
			break
		}
		prevL = l
	}

	// write the best point back into the model
	par := ds.parameters0()
	if ds.maxLPar != nil {
		par.SetValues(ds.maxLPar)
	}
	ds.BaseOptimizer.l = ds.maxL

	log.Info("Finished downhill simplex")
	log.Noticef("Maximum likelihood: %v", ds.maxL)
	log.Infof("Parameter  names: %v", par.NamesString())
	log.Infof("Parameter values: %v", par.ValuesString())
}

func (ds *DS) parameters0() FloatParameters {
	return ds.BaseOptimizer.parameters
}

// minimize runs one simplex to convergence. It returns the best
// likelihood, its parameters and whether the run converged.
func (ds *DS) minimize(opt Optimizable, iterations int) (float64, FloatParameters, bool) {
	ds.newOpt = nil
	ds.newPar = nil
	ds.createSimplex(opt)

	// Worst (lowest), next-worst and best points.
	var ilo, inlo, ihi int
	var llo, lnlo, lhi float64
	for iter := 1; iter <= iterations; iter++ {
		ds.i++
		if ds.l[0] < ds.l[1] {
			ilo, inlo, ihi = 0, 1, 1
		} else {
			ilo, inlo, ihi = 1, 0, 0
		}
		llo = ds.l[ilo]
		lnlo = ds.l[inlo]
		lhi = ds.l[ihi]
		for i := 2; i < len(ds.points); i++ {
			if ds.l[i] >= lhi {
				lhi = ds.l[i]
				ihi = i
			}
			if ds.l[i] < llo {
				lnlo = llo
				inlo = ilo
				llo = ds.l[i]
				ilo = i
			} else if ds.l[i] < lnlo {
				lnlo = ds.l[i]
				inlo = i
			}
		}
		_ = inlo

		if ds.i%ds.repPeriod == 0 {
			log.Debugf("%d: L=%f (%f)", ds.i, lhi, lhi-llo)
			ds.PrintLine(ds.parameters[ihi], lhi)
		}

		spread := math.Abs(lhi - llo)
		if spread < ds.TolF && ds.diameter(ihi) < ds.TolX {
			return lhi, ds.parameters[ihi], true
		}

		l := ds.amotry(ilo, simplexReflect)
		switch {
		case l >= lhi:
			ds.amotry(ilo, simplexExpand)
		case l <= lnlo:
			lsave := llo
			l := ds.amotry(ilo, simplexContract)
			if l <= lsave {
				// shrink all points towards the best one
				for i, point := range ds.points {
					if i == ihi {
						continue
					}
					for j := range ds.parameters[i] {
						ds.parameters[i][j].Set(ds.parameters[ihi][j].Get() +
							simplexShrink*(ds.parameters[i][j].Get()-ds.parameters[ihi][j].Get()))
					}
					ds.l[i] = ds.eval(point, ds.parameters[i])
				}
			}
		}

		if ds.stopRequested() {
			break
		}
	}
	return lhi, ds.parameters[ihi], false
}
