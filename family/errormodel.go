package family

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// columnSumEps is the tolerance for error-model column sums.
const columnSumEps = 1e-6

// ErrorModel is a per-species count misclassification distribution.
// matrix[i+j][j] is the conditional probability of observing count
// i+j when the true count is j, for i in [FromDiff, ToDiff]. Mass
// falling outside [0, maxcnt] is folded into the boundary cell so
// every column stays a distribution.
type ErrorModel struct {
	FileName      string
	MaxFamilySize int
	FromDiff      int
	ToDiff        int
	matrix        [][]float64
}

// NewErrorModel creates an empty error model of the given dimensions.
func NewErrorModel(maxFamilySize, fromDiff, toDiff int) *ErrorModel {
	e := &ErrorModel{
		MaxFamilySize: maxFamilySize,
		FromDiff:      fromDiff,
		ToDiff:        toDiff,
		matrix:        make([][]float64, maxFamilySize+1),
	}
	for i := range e.matrix {
		e.matrix[i] = make([]float64, maxFamilySize+1)
	}
	return e
}

// Prob returns P(observe observed | true trueCount).
func (e *ErrorModel) Prob(observed, trueCount int) float64 {
	if observed < 0 || observed > e.MaxFamilySize ||
		trueCount < 0 || trueCount > e.MaxFamilySize {
		return 0
	}
	return e.matrix[observed][trueCount]
}

// Set sets P(observe observed | true trueCount).
func (e *ErrorModel) Set(observed, trueCount int, p float64) {
	e.matrix[observed][trueCount] = p
}

// setBand fills column j from a distribution over count differences,
// folding out-of-range cells into the boundary.
func (e *ErrorModel) setBand(j int, band []float64) {
	for i := range e.matrix {
		e.matrix[i][j] = 0
	}
	for bi, p := range band {
		o := j + e.FromDiff + bi
		if o < 0 {
			o = 0
		}
		if o > e.MaxFamilySize {
			o = e.MaxFamilySize
		}
		e.matrix[o][j] += p
	}
}

// ReadErrorModel reads an error model file:
//
//	maxcnt:68
//	cntdiff -1 0 1
//	0 0.0 0.8 0.2
//	1 0.2 0.6 0.2
//	...
//
// Any omitted true count inherits the distribution of the previous
// row, including the counts past the last row. The model covers
// counts up to max(maxSize, file maxcnt). Column sums are validated
// to 1 within 1e-6.
func ReadErrorModel(rd io.Reader, maxSize int) (*ErrorModel, error) {
	scanner := bufio.NewScanner(rd)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("empty error model file")
	}
	fileMax, err := parseMaxCnt(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return nil, err
	}
	if fileMax > maxSize {
		maxSize = fileMax
	}

	if !scanner.Scan() {
		return nil, errors.New("error model file has no cntdiff line")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 2 || !strings.EqualFold(fields[0], "cntdiff") {
		return nil, errors.New("error model file: expected cntdiff line")
	}
	fromDiff, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("error model cntdiff: %v", err)
	}
	toDiff, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return nil, fmt.Errorf("error model cntdiff: %v", err)
	}
	if fromDiff > toDiff {
		return nil, fmt.Errorf("error model cntdiff range [%d, %d] is empty", fromDiff, toDiff)
	}

	e := NewErrorModel(maxSize, fromDiff, toDiff)
	band := make([]float64, toDiff-fromDiff+1)

	j := 0
	for scanner.Scan() {
		fields = strings.Fields(scanner.Text())
		if len(fields) != len(band)+1 {
			continue
		}
		col1, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("error model row: %v", err)
		}
		// copy the previous distribution for missing rows
		for j > 0 && j < col1 && j <= maxSize {
			e.setBand(j, band)
			j++
		}
		if j != col1 {
			return nil, fmt.Errorf("error model rows out of order at count %d", col1)
		}
		for k := range band {
			p, err := parseProb(fields[k+1])
			if err != nil {
				return nil, fmt.Errorf("error model row %d: %v", col1, err)
			}
			band[k] = p
		}
		e.setBand(j, band)
		j++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	// extend the last distribution to the end of the matrix
	for j > 0 && j <= maxSize {
		e.setBand(j, band)
		j++
	}

	if err := e.CheckColumnSums(); err != nil {
		return nil, err
	}
	return e, nil
}

func parseMaxCnt(line string) (int, error) {
	if !strings.HasPrefix(strings.ToLower(line), "maxcnt:") {
		return 0, errors.New("error model file: expected maxcnt line")
	}
	v := strings.TrimSpace(line[len("maxcnt:"):])
	m, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("error model maxcnt: %v", err)
	}
	return m, nil
}

func parseProb(s string) (float64, error) {
	if s == "#nan" {
		return 0, nil
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if p < 0 {
		return 0, fmt.Errorf("negative probability %v", p)
	}
	return p, nil
}

// CheckColumnSums verifies that every conditional distribution
// P(observe | true j) sums to one.
func (e *ErrorModel) CheckColumnSums() error {
	for j := 0; j <= e.MaxFamilySize; j++ {
		sum := 0.0
		for i := 0; i <= e.MaxFamilySize; i++ {
			sum += e.matrix[i][j]
		}
		if math.Abs(sum-1) > columnSumEps {
			return fmt.Errorf("error model column %d sums to %v, not 1", j, sum)
		}
	}
	return nil
}

// Write writes the error model in the canonical form: every row
// present, cells outside [0, maxcnt] printed as #nan.
func (e *ErrorModel) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "maxcnt:%d\n", e.MaxFamilySize)
	fmt.Fprint(bw, "cntdiff")
	for i := e.FromDiff; i <= e.ToDiff; i++ {
		fmt.Fprintf(bw, " %d", i)
	}
	fmt.Fprintln(bw)
	for j := 0; j <= e.MaxFamilySize; j++ {
		fmt.Fprintf(bw, "%d", j)
		for i := e.FromDiff; i <= e.ToDiff; i++ {
			if i+j >= 0 && i+j <= e.MaxFamilySize {
				fmt.Fprintf(bw, " %s", strconv.FormatFloat(e.matrix[i+j][j], 'g', -1, 64))
			} else {
				fmt.Fprint(bw, " #nan")
			}
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}
