// plotprior creates a plot of the root family size prior.
package main

import (
	"flag"
	"fmt"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"bitbucket.org/mrrlab/gofam/family"
	"bitbucket.org/mrrlab/gofam/fmodel"
	"bitbucket.org/mrrlab/gofam/tree"
)

func main() {
	treeFileName := flag.String("tree", "", "phylogenetic tree")
	famFileName := flag.String("families", "", "family counts file")
	poisson := flag.Float64("poisson", -1, "use a poisson prior with the rate")
	max := flag.Int("max", 100, "maximum family size")
	out := flag.String("out", "prior.png", "output file")
	flag.Parse()

	var prior *fmodel.Prior
	if *poisson >= 0 {
		prior = fmodel.PoissonPrior(*max, *poisson)
	} else {
		tf, err := os.Open(*treeFileName)
		if err != nil {
			panic(err)
		}
		t, err := tree.ParseNewick(tf)
		tf.Close()
		if err != nil {
			panic(err)
		}
		ff, err := os.Open(*famFileName)
		if err != nil {
			panic(err)
		}
		fams, err := family.ReadFamilies(ff)
		ff.Close()
		if err != nil {
			panic(err)
		}
		data, err := fmodel.NewData(t, fams)
		if err != nil {
			panic(err)
		}
		prior = fmodel.EmpiricalPrior(data)
	}

	p, err := plot.New()
	if err != nil {
		panic(err)
	}
	p.X.Label.Text = "root family size"
	p.Y.Label.Text = "probability"

	pts := make(plotter.XYs, prior.Len())
	for i := range pts {
		pts[i].X = float64(i)
		pts[i].Y = prior.At(i)
	}
	fmt.Println(prior.Len(), "sizes")

	err = plotutil.AddLinePoints(p, "prior", pts)
	if err != nil {
		panic(err)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, *out); err != nil {
		panic(err)
	}
}
