package tree

import (
	"math"
	"testing"
)

const treeCafe = "(((chimp:6,human:6):81,(mouse:17,rat:17):70):6,dog:9);"

func TestDistanceFromRoot(tst *testing.T) {
	t, err := ParseNewickString(treeCafe)
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}

	for _, test := range []struct {
		leaf string
		d    float64
	}{
		{"chimp", 93},
		{"human", 93},
		{"mouse", 93},
		{"rat", 93},
		{"dog", 9},
	} {
		d, ok := t.LeafDistanceFromRoot(test.leaf)
		if !ok {
			tst.Fatalf("No leaf <%s>", test.leaf)
		}
		if math.Abs(d-test.d) > 1e-9 {
			tst.Errorf("distance(%s)=%v, expected %v", test.leaf, d, test.d)
		}
	}
}

func TestIsUltrametric(tst *testing.T) {
	t, err := ParseNewickString("(((chimp:6,human:6):81,(mouse:17,rat:17):70):6,dog:93);")
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	if !t.IsUltrametric(1e-9) {
		tst.Error("Expected ultrametric tree")
	}

	for _, s := range []string{
		"(((chimp:6,human:6):81,(mouse:17,rat:17):70):6,dog:92);",
		"(((chimp:6,human:5):81,(mouse:17,rat:17):70):6,dog:93);",
		"(((chimp:6,human:6):81,(mouse:17,rat:18):70):6,dog:93);",
	} {
		t, err := ParseNewickString(s)
		if err != nil {
			tst.Fatal("Error parsing tree:", err)
		}
		if t.IsUltrametric(1e-9) {
			tst.Errorf("Expected non-ultrametric tree: %s", s)
		}
	}
}

func TestParseClasses(tst *testing.T) {
	t, err := ParseNewickString("((chimp:6[1],human:6[1]):81,dog:87);")
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	classes := make(map[string]int)
	for node := range t.Terminals() {
		classes[node.Name] = node.Class
	}
	if classes["chimp"] != 1 || classes["human"] != 1 || classes["dog"] != 0 {
		tst.Errorf("Wrong classes: %v", classes)
	}

	// the # syntax sets the same attribute
	t2, err := ParseNewickString("((chimp:6#1,human:6#1):81,dog:87);")
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	if t.ClassString() != t2.ClassString() {
		tst.Errorf("Brackets and hash disagree: %s vs %s", t.ClassString(), t2.ClassString())
	}
}

func TestNewickRoundTrip(tst *testing.T) {
	for _, s := range []string{
		treeCafe,
		"((A:1,B:1):1,(C:1,D:1):1);",
		"((a:0.001,b:68.7105):13.37,(c:1e-05,d:459):0.5);",
		"(((chimp:6[1],human:6[1]):81,(mouse:17,rat:17):70[2]):6,dog:9);",
	} {
		t1, err := ParseNewickString(s)
		if err != nil {
			tst.Fatal("Error parsing tree:", err)
		}
		out := t1.ClassString()
		t2, err := ParseNewickString(out)
		if err != nil {
			tst.Fatalf("Error reparsing %q: %v", out, err)
		}
		if t2.ClassString() != out {
			tst.Errorf("Round trip mismatch: %q != %q", t2.ClassString(), out)
		}
		if t1.NNodes() != t2.NNodes() || t1.NLeaves() != t2.NLeaves() {
			tst.Errorf("Topology mismatch after round trip for %q", s)
		}
	}
}

func TestNodeOrder(tst *testing.T) {
	t, err := ParseNewickString(treeCafe)
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	seen := make(map[*Node]bool)
	for node := range t.Terminals() {
		seen[node] = true
	}
	for _, node := range t.NodeOrder() {
		for _, child := range node.ChildNodes() {
			if !seen[child] {
				tst.Errorf("Node %v computed before its child %v", node, child)
			}
		}
		seen[node] = true
	}
	if !seen[t.Node] {
		tst.Error("Root missing from the node order")
	}
}

func TestCopy(tst *testing.T) {
	t, err := ParseNewickString(treeCafe)
	if err != nil {
		tst.Fatal("Error parsing tree:", err)
	}
	c := t.Copy()
	if c.ClassString() != t.ClassString() {
		tst.Error("Copy differs from the original")
	}
	c.Nodes()[1].BranchLength = 1000
	if c.ClassString() == t.ClassString() {
		tst.Error("Copy shares nodes with the original")
	}
}
