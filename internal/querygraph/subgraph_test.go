package querygraph

import "testing"

// triangleGraph returns a-[r1]->b-[r2]->c-[r3]->a, a fully connected
// 3-node query graph.
func triangleGraph() *QueryGraph {
	g := NewQueryGraph()
	g.AddQueryNode(QueryNode{Name: "a"})
	g.AddQueryNode(QueryNode{Name: "b"})
	g.AddQueryNode(QueryNode{Name: "c"})
	g.AddQueryRel(QueryRel{Name: "r1", SrcNodeName: "a", DstNodeName: "b"})
	g.AddQueryRel(QueryRel{Name: "r2", SrcNodeName: "b", DstNodeName: "c"})
	g.AddQueryRel(QueryRel{Name: "r3", SrcNodeName: "c", DstNodeName: "a"})
	return g
}

func (s SubqueryGraph) selectedCount() int { return s.NumSelectedNodes() + s.NumSelectedRels() }

func TestGetBaseNbrSubgraphsFromSingleNode(t *testing.T) {
	g := triangleGraph()
	aPos, _ := g.GetQueryNodePos("a")
	seed := GetSingleNodeQueryGraph(g, aPos)

	nbrs := seed.GetBaseNbrSubgraphs()
	if len(nbrs) == 0 {
		t.Fatal("expected at least one neighbor subgraph")
	}
	for _, nbr := range nbrs {
		if nbr.selectedCount() != seed.selectedCount()+1 {
			t.Fatalf("expected a size-1 extension, got %d -> %d", seed.selectedCount(), nbr.selectedCount())
		}
		if !nbr.ContainsQueryNode(aPos) {
			t.Fatal("expected every neighbor to still contain the seed node")
		}
	}

	// a has two incident rels (r1 to b, r3 from c); both should appear as
	// rel neighbors, and no node neighbor exists yet since neither b nor c
	// is an endpoint of a rel that is itself already selected.
	var sawR1, sawR3 bool
	r1Pos, _ := g.GetQueryRelPos("r1")
	r3Pos, _ := g.GetQueryRelPos("r3")
	for _, nbr := range nbrs {
		if nbr.ContainsQueryRel(r1Pos) {
			sawR1 = true
		}
		if nbr.ContainsQueryRel(r3Pos) {
			sawR3 = true
		}
	}
	if !sawR1 || !sawR3 {
		t.Fatalf("expected both incident rels as neighbors, sawR1=%v sawR3=%v", sawR1, sawR3)
	}
}

func TestGetNbrSubgraphsSizeInvariant(t *testing.T) {
	g := triangleGraph()
	aPos, _ := g.GetQueryNodePos("a")
	seed := GetSingleNodeQueryGraph(g, aPos)

	for k := 1; k <= 3; k++ {
		for _, nbr := range seed.GetNbrSubgraphs(k) {
			if got, want := nbr.selectedCount(), seed.selectedCount()+k; got != want {
				t.Fatalf("GetNbrSubgraphs(%d): expected %d selected variables, got %d", k, want, got)
			}
			if len(seed.GetConnectedNodePos(nbr)) == 0 {
				t.Fatalf("GetNbrSubgraphs(%d): expected every neighbor connected back to seed by a rel", k)
			}
		}
	}
}

func TestGetConnectedNodePos(t *testing.T) {
	g := triangleGraph()
	aPos, _ := g.GetQueryNodePos("a")
	bPos, _ := g.GetQueryNodePos("b")
	r1Pos, _ := g.GetQueryRelPos("r1")

	left := GetSingleNodeQueryGraph(g, aPos)
	right := NewSubqueryGraph(g)
	right.AddQueryNode(bPos)
	right.AddQueryRel(r1Pos)

	conn := left.GetConnectedNodePos(right)
	found := false
	for _, pos := range conn {
		if pos == aPos {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a to be reported as a connected node position, got %v", conn)
	}
}

func TestQueryGraphMergeIsIdempotentByName(t *testing.T) {
	g1 := NewQueryGraph()
	g1.AddQueryNode(QueryNode{Name: "a"})
	g1.AddQueryRel(QueryRel{Name: "r1", SrcNodeName: "a", DstNodeName: "b"})

	g2 := NewQueryGraph()
	g2.AddQueryNode(QueryNode{Name: "a"})
	g2.AddQueryNode(QueryNode{Name: "c"})
	g2.AddQueryRel(QueryRel{Name: "r2", SrcNodeName: "a", DstNodeName: "c"})

	g1.Merge(g2)
	if g1.GetNumQueryNodes() != 3 {
		t.Fatalf("expected 3 distinct nodes after merge, got %d", g1.GetNumQueryNodes())
	}
	if !g1.ContainsQueryNode("a") || !g1.ContainsQueryNode("c") {
		t.Fatal("expected merged graph to contain both original and incoming nodes")
	}
}

func TestQueryGraphCollectionMergesConnectedComponents(t *testing.T) {
	c := NewQueryGraphCollection()

	g1 := NewQueryGraph()
	g1.AddQueryNode(QueryNode{Name: "a"})
	g1.AddQueryNode(QueryNode{Name: "b"})
	g1.AddQueryRel(QueryRel{Name: "r1", SrcNodeName: "a", DstNodeName: "b"})
	c.AddAndMergeQueryGraphIfConnected(g1)

	g2 := NewQueryGraph()
	g2.AddQueryNode(QueryNode{Name: "x"})
	g2.AddQueryNode(QueryNode{Name: "y"})
	g2.AddQueryRel(QueryRel{Name: "r2", SrcNodeName: "x", DstNodeName: "y"})
	c.AddAndMergeQueryGraphIfConnected(g2)

	if len(c.QueryGraphs()) != 2 {
		t.Fatalf("expected 2 disjoint components, got %d", len(c.QueryGraphs()))
	}

	g3 := NewQueryGraph()
	g3.AddQueryNode(QueryNode{Name: "b"})
	g3.AddQueryNode(QueryNode{Name: "z"})
	g3.AddQueryRel(QueryRel{Name: "r3", SrcNodeName: "b", DstNodeName: "z"})
	c.AddAndMergeQueryGraphIfConnected(g3)

	if len(c.QueryGraphs()) != 2 {
		t.Fatalf("expected g3 to merge into the existing component sharing node b, got %d components", len(c.QueryGraphs()))
	}
	var sawZ bool
	for _, g := range c.QueryGraphs() {
		if g.ContainsQueryNode("z") {
			sawZ = true
			if !g.ContainsQueryNode("a") || !g.ContainsQueryNode("b") {
				t.Fatal("expected z to land in the component containing a and b")
			}
		}
	}
	if !sawZ {
		t.Fatal("expected node z to appear in some component after merge")
	}
}
