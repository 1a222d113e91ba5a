package synth

import (
	"strings"
	"testing"

	"github.com/lazypower/heatmap/internal/decode"
	"github.com/lazypower/heatmap/internal/graph"
)

func TestCandidateWithinBounds(t *testing.T) {
	g := New(graph.NewRand(1), 320, 200)
	for i := 0; i < 1000; i++ {
		c := g.Candidate()
		if c.X < 0 || c.X > 320 || c.Y < 0 || c.Y > 200 {
			t.Fatalf("candidate at (%g,%g) outside 320x200", c.X, c.Y)
		}
		if c.Magnitude < 0 {
			t.Fatalf("negative magnitude %g", c.Magnitude)
		}
		if !strings.HasPrefix(c.Origin, "0x") || len(c.Origin) != 10 {
			t.Fatalf("origin %q, want 0x + 8 hex digits", c.Origin)
		}
		if c.Label == "" {
			t.Fatal("empty label")
		}
	}
}

func TestCategoriesAllAppear(t *testing.T) {
	g := New(graph.NewRand(2), 100, 100)
	seen := map[graph.Category]int{}
	for i := 0; i < 2000; i++ {
		seen[g.Candidate().Category]++
	}
	for _, c := range graph.Categories {
		if seen[c] == 0 {
			t.Errorf("category %s never generated", c)
		}
	}
	if seen[graph.CategoryTransfer] < seen[graph.CategoryOther] {
		t.Errorf("transfer (%d) should outweigh other (%d)", seen[graph.CategoryTransfer], seen[graph.CategoryOther])
	}
}

func TestMessageDecodes(t *testing.T) {
	g := New(graph.NewRand(3), 100, 100)
	d := decode.New(nil)
	for i := 0; i < 50; i++ {
		raw, err := g.Message()
		if err != nil {
			t.Fatalf("Message: %v", err)
		}
		msg, err := d.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s): %v", raw, err)
		}
		if msg.Transaction == nil {
			t.Fatalf("Decode(%s) produced no transaction", raw)
		}
	}
}
