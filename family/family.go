// Package family stores gene family counts and per-species error
// models.
package family

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/op/go-logging"

	"bitbucket.org/mrrlab/gofam/tree"
)

// log is the global logging variable.
var log = logging.MustGetLogger("family")

// ErrNotSynchronized is returned when the store was not indexed
// against a tree.
var ErrNotSynchronized = errors.New("family store is not indexed to a tree")

// Family is one gene family: an id, an optional description and one
// count per species column of the source file. Families are owned by
// the store and are never mutated after reading.
type Family struct {
	ID     string
	Desc   string
	Counts []int
}

// MaxCount returns the largest count of the family.
func (f *Family) MaxCount() (m int) {
	for _, c := range f.Counts {
		if c > m {
			m = c
		}
	}
	return
}

// Store is an indexed collection of families sharing one set of
// species columns.
type Store struct {
	// Species are the species column names from the file header.
	Species []string
	// Families are all the families in file order.
	Families []*Family

	// leafID maps a species column to the tree leaf id.
	leafID []int
	// column maps a tree leaf id to the species column.
	column  []int
	indexed bool

	// errors holds error models by file name, errorPtr the
	// per-species-column assignment.
	errors   map[string]*ErrorModel
	errorPtr []*ErrorModel
}

// NewStore creates an empty store with the given species columns.
func NewStore(species []string) *Store {
	return &Store{
		Species:  species,
		errors:   make(map[string]*ErrorModel),
		errorPtr: make([]*ErrorModel, len(species)),
	}
}

// Add appends a family.
func (s *Store) Add(f *Family) {
	s.Families = append(s.Families, f)
}

// Write writes the store as a tab-separated family count file.
func (s *Store) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "Desc\tFamily ID")
	for _, sp := range s.Species {
		fmt.Fprintf(bw, "\t%s", sp)
	}
	fmt.Fprintln(bw)
	for _, f := range s.Families {
		fmt.Fprintf(bw, "%s\t%s", f.Desc, f.ID)
		for _, c := range f.Counts {
			fmt.Fprintf(bw, "\t%d", c)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// ReadFamilies reads a tab-separated family count file. The header is
// Desc<TAB>Family ID<TAB>species1<TAB>...; every following line has a
// description, an id and one non-negative count per species.
func ReadFamilies(rd io.Reader) (*Store, error) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("empty family file")
	}
	header := strings.Split(scanner.Text(), "\t")
	if len(header) < 3 {
		return nil, fmt.Errorf("family file header has %d columns, need at least 3", len(header))
	}
	s := &Store{
		Species: header[2:],
		errors:  make(map[string]*ErrorModel),
	}
	s.errorPtr = make([]*ErrorModel, len(s.Species))

	line := 1
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(header) {
			return nil, fmt.Errorf("family file line %d: %d columns, expected %d", line, len(fields), len(header))
		}
		f := &Family{
			Desc:   fields[0],
			ID:     fields[1],
			Counts: make([]int, len(s.Species)),
		}
		for i, v := range fields[2:] {
			c, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("family file line %d: %v", line, err)
			}
			if c < 0 {
				return nil, fmt.Errorf("family file line %d: negative count %d", line, c)
			}
			f.Counts[i] = c
		}
		s.Families = append(s.Families, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	log.Infof("Read %d families for %d species", len(s.Families), len(s.Species))
	return s, nil
}

// NSpecies returns the number of species columns.
func (s *Store) NSpecies() int {
	return len(s.Species)
}

// NFamilies returns the number of families.
func (s *Store) NFamilies() int {
	return len(s.Families)
}

// MaxCount returns the largest observed count across all families.
func (s *Store) MaxCount() (m int) {
	for _, f := range s.Families {
		if c := f.MaxCount(); c > m {
			m = c
		}
	}
	return
}

// IndexToTree matches species columns with tree leaves. Every leaf
// must have a matching column and vice versa; names are compared
// case-insensitively.
func (s *Store) IndexToTree(t *tree.Tree) error {
	name2col := make(map[string]int, len(s.Species))
	for i, sp := range s.Species {
		name2col[strings.ToLower(sp)] = i
	}

	if t.NLeaves() != len(s.Species) {
		return fmt.Errorf("inconsistent data: %d species in the family file, %d leaves in the tree",
			len(s.Species), t.NLeaves())
	}

	s.leafID = make([]int, len(s.Species))
	s.column = make([]int, len(s.Species))
	for node := range t.Terminals() {
		col, ok := name2col[strings.ToLower(node.Name)]
		if !ok {
			return fmt.Errorf("inconsistent data: no species column for the leaf <%s>", node.Name)
		}
		s.leafID[col] = node.LeafID
		s.column[node.LeafID] = col
	}
	s.indexed = true
	return nil
}

// Indexed tells if the store was indexed against a tree.
func (s *Store) Indexed() bool {
	return s.indexed
}

// LeafCounts returns the family counts indexed by tree leaf id.
func (s *Store) LeafCounts(f *Family) ([]int, error) {
	if !s.indexed {
		return nil, ErrNotSynchronized
	}
	counts := make([]int, len(f.Counts))
	for col, c := range f.Counts {
		counts[s.leafID[col]] = c
	}
	return counts, nil
}

// ErrorForLeaf returns the error model attached to a tree leaf, or
// nil.
func (s *Store) ErrorForLeaf(leafID int) *ErrorModel {
	if !s.indexed || s.errorPtr == nil {
		return nil
	}
	return s.errorPtr[s.column[leafID]]
}

// SetErrorModel attaches an error model to one species
// (case-insensitive) or, with species == "all", to every species.
func (s *Store) SetErrorModel(species string, e *ErrorModel) error {
	if strings.EqualFold(species, "all") {
		for i := range s.errorPtr {
			s.errorPtr[i] = e
		}
		s.errors[strings.ToLower(e.FileName)] = e
		return nil
	}
	for i, sp := range s.Species {
		if strings.EqualFold(sp, species) {
			s.errorPtr[i] = e
			s.errors[strings.ToLower(e.FileName)] = e
			return nil
		}
	}
	return fmt.Errorf("unknown species <%s>", species)
}

// GetErrorModel returns a previously attached error model by file
// name, or nil.
func (s *Store) GetErrorModel(fileName string) *ErrorModel {
	return s.errors[strings.ToLower(fileName)]
}

// RemoveErrorModel detaches the error model from one species, or from
// every species with species == "all".
func (s *Store) RemoveErrorModel(species string) error {
	if strings.EqualFold(species, "all") {
		for i := range s.errorPtr {
			s.errorPtr[i] = nil
		}
		return nil
	}
	for i, sp := range s.Species {
		if strings.EqualFold(sp, species) {
			s.errorPtr[i] = nil
			return nil
		}
	}
	return fmt.Errorf("unknown species <%s>", species)
}

// DetachErrorModels removes every error model assignment. Call before
// dropping the store.
func (s *Store) DetachErrorModels() {
	for i := range s.errorPtr {
		s.errorPtr[i] = nil
	}
	s.errors = make(map[string]*ErrorModel)
}
