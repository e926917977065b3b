package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"
)

func init() {
	logging.SetLevel(logging.WARNING, "checkpoint")
}

func TestSaveLoad(tst *testing.T) {
	fn := filepath.Join(tst.TempDir(), "cp.db")
	db, err := bolt.Open(fn, 0666, nil)
	if err != nil {
		tst.Fatal("Error opening database:", err)
	}
	defer db.Close()

	io := NewIO(db, []byte("estimate"), 0)

	// nothing stored yet
	data, err := io.Load()
	if err != nil {
		tst.Fatal("Error loading checkpoint:", err)
	}
	if data != nil {
		tst.Fatalf("Expected no checkpoint, got %+v", data)
	}

	saved := &Data{
		Parameters: map[string]float64{"lambda0": 0.0017, "mu0": 0.0012},
		Likelihood: -1234.5,
		Iter:       42,
		Final:      true,
	}
	if err := io.Save(saved); err != nil {
		tst.Fatal("Error saving checkpoint:", err)
	}

	loaded, err := io.Load()
	if err != nil {
		tst.Fatal("Error loading checkpoint:", err)
	}
	if loaded == nil {
		tst.Fatal("Expected a checkpoint")
	}
	if loaded.Likelihood != saved.Likelihood || loaded.Iter != saved.Iter || !loaded.Final {
		tst.Errorf("Loaded %+v, expected %+v", loaded, saved)
	}
	if loaded.Parameters["lambda0"] != 0.0017 {
		tst.Errorf("Loaded parameters %v", loaded.Parameters)
	}
}

func TestNilDB(tst *testing.T) {
	io := NewIO(nil, []byte("estimate"), 0)
	if err := io.Save(&Data{Parameters: map[string]float64{"x": 1}}); err != nil {
		tst.Error("Save with no database must be a no-op:", err)
	}
	data, err := io.Load()
	if err != nil || data != nil {
		tst.Errorf("Load with no database must return nothing, got %v, %v", data, err)
	}
}
