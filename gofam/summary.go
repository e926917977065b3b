package main

import "bitbucket.org/mrrlab/gofam/optimize"

// RunSummary stores summary information of a gofam invocation.
type RunSummary struct {
	// Version stores the gofam version.
	Version string `json:"version"`
	// CommandLine is the binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the random number generator seed.
	Seed int64 `json:"seed"`
	// NThreads is the number of threads used.
	NThreads int `json:"nThreads"`
	// Tree is the input tree with rate groups.
	Tree string `json:"tree,omitempty"`
	// NFamilies is the number of families analyzed.
	NFamilies int `json:"nFamilies,omitempty"`
	// Optimizer is the optimizer summary of the estimation.
	Optimizer *optimize.Summary `json:"optimizer,omitempty"`
	// LRT is the likelihood ratio test summary.
	LRT *LRTSummary `json:"lrt,omitempty"`
	// ErrorEstimates are the estimated misclassification
	// parameters.
	ErrorEstimates []float64 `json:"errorEstimates,omitempty"`
	// Time is the computation time in seconds.
	Time float64 `json:"time"`
}

// LRTSummary stores the result of a likelihood ratio test between
// two nested models.
type LRTSummary struct {
	// H0LnL is the null model maximum log-likelihood.
	H0LnL float64 `json:"h0LnL"`
	// H1LnL is the alternative model maximum log-likelihood.
	H1LnL float64 `json:"h1LnL"`
	// D is the test statistic 2(lnL1 - lnL0).
	D float64 `json:"d"`
	// Df is the degrees of freedom.
	Df int `json:"df"`
	// PValue is the upper-tail Chi2 probability of D.
	PValue float64 `json:"pValue"`
	// H0Parameters and H1Parameters are the MLE parameters.
	H0Parameters map[string]float64 `json:"h0Parameters"`
	H1Parameters map[string]float64 `json:"h1Parameters"`
}
