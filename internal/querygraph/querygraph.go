// Package querygraph models the variables bound by a Cypher pattern as a
// graph of query nodes and query rels, and enumerates connected subsets of
// that graph (SubqueryGraph) for cost-based join-order search.
package querygraph

import "github.com/samber/lo"

// QueryNode is a node variable bound in a pattern: a unique synthetic name,
// the set of table ids it could resolve to, and any `{key: value}` filters
// attached to it in the pattern.
type QueryNode struct {
	Name              string
	CandidateTableIDs []uint32
	PropertyKeyVals   map[string]any
}

// QueryRel is a rel variable bound in a pattern, connecting two node
// variables by name.
type QueryRel struct {
	Name              string
	SrcNodeName       string
	DstNodeName       string
	CandidateTableIDs []uint32
	PropertyKeyVals   map[string]any
}

// QueryGraph is the pair (nodes, rels) bound by one connected Cypher
// pattern, with name-indexed lookup.
type QueryGraph struct {
	nodes         []QueryNode
	rels          []QueryRel
	nodeNameToPos map[string]int
	relNameToPos  map[string]int
}

// NewQueryGraph returns an empty query graph.
func NewQueryGraph() *QueryGraph {
	return &QueryGraph{
		nodeNameToPos: map[string]int{},
		relNameToPos:  map[string]int{},
	}
}

// AddQueryNode appends node, unless a node of the same name is already
// present — a node may legitimately be bound twice in one pattern, e.g.
// `MATCH (a)-[:knows]->(b), (a)-[:knows]->(c)` binds `a` twice, and only one
// copy should be kept.
func (g *QueryGraph) AddQueryNode(node QueryNode) {
	if g.ContainsQueryNode(node.Name) {
		return
	}
	g.nodeNameToPos[node.Name] = len(g.nodes)
	g.nodes = append(g.nodes, node)
}

// AddQueryRel appends rel. Unlike nodes, a rel variable is never bound
// twice within one pattern.
func (g *QueryGraph) AddQueryRel(rel QueryRel) {
	g.relNameToPos[rel.Name] = len(g.rels)
	g.rels = append(g.rels, rel)
}

func (g *QueryGraph) ContainsQueryNode(name string) bool {
	_, ok := g.nodeNameToPos[name]
	return ok
}

func (g *QueryGraph) ContainsQueryRel(name string) bool {
	_, ok := g.relNameToPos[name]
	return ok
}

func (g *QueryGraph) GetQueryNodePos(name string) (int, bool) {
	pos, ok := g.nodeNameToPos[name]
	return pos, ok
}

func (g *QueryGraph) GetQueryRelPos(name string) (int, bool) {
	pos, ok := g.relNameToPos[name]
	return pos, ok
}

func (g *QueryGraph) GetQueryNode(pos int) QueryNode { return g.nodes[pos] }
func (g *QueryGraph) GetQueryRel(pos int) QueryRel   { return g.rels[pos] }

func (g *QueryGraph) GetNumQueryNodes() int { return len(g.nodes) }
func (g *QueryGraph) GetNumQueryRels() int  { return len(g.rels) }

func (g *QueryGraph) QueryNodes() []QueryNode { return g.nodes }
func (g *QueryGraph) QueryRels() []QueryRel   { return g.rels }

// Merge unions other into g, by unique name — a no-op for any node/rel g
// already has.
func (g *QueryGraph) Merge(other *QueryGraph) {
	for _, n := range other.nodes {
		g.AddQueryNode(n)
	}
	for _, r := range other.rels {
		if !g.ContainsQueryRel(r.Name) {
			g.AddQueryRel(r)
		}
	}
}

// IsConnected reports whether g and other share at least one node name.
func (g *QueryGraph) IsConnected(other *QueryGraph) bool {
	for _, n := range g.nodes {
		if other.ContainsQueryNode(n.Name) {
			return true
		}
	}
	return false
}

// CanProjectExpression reports whether every variable dependentVars names
// is resolvable within g (bound as a node or a rel).
func (g *QueryGraph) CanProjectExpression(dependentVars []string) bool {
	return lo.EveryBy(dependentVars, func(v string) bool {
		return g.ContainsQueryNode(v) || g.ContainsQueryRel(v)
	})
}

// QueryGraphCollection groups the connected components of a pattern set
// (one `MATCH` clause can bind several disjoint patterns, e.g.
// `MATCH (a)-[:knows]->(b), (c)-[:likes]->(d)`), auto-merging graphs that
// turn out to share a node.
type QueryGraphCollection struct {
	graphs []*QueryGraph
}

func NewQueryGraphCollection() *QueryGraphCollection {
	return &QueryGraphCollection{}
}

// AddAndMergeQueryGraphIfConnected adds qg as a new component, or merges it
// into every existing component it is connected to.
func (c *QueryGraphCollection) AddAndMergeQueryGraphIfConnected(qg *QueryGraph) {
	merged := false
	for _, existing := range c.graphs {
		if existing.IsConnected(qg) {
			existing.Merge(qg)
			merged = true
		}
	}
	if !merged {
		c.graphs = append(c.graphs, qg)
	}
}

func (c *QueryGraphCollection) QueryGraphs() []*QueryGraph { return c.graphs }

func (c *QueryGraphCollection) GetQueryNodes() []QueryNode {
	var out []QueryNode
	for _, g := range c.graphs {
		out = append(out, g.nodes...)
	}
	return out
}

func (c *QueryGraphCollection) GetQueryRels() []QueryRel {
	var out []QueryRel
	for _, g := range c.graphs {
		out = append(out, g.rels...)
	}
	return out
}

// Copy returns a deep-enough copy for planning to mutate independently
// (new backing slices/maps; QueryNode/QueryRel values themselves are
// copied by value).
func (c *QueryGraphCollection) Copy() *QueryGraphCollection {
	out := NewQueryGraphCollection()
	for _, g := range c.graphs {
		ng := NewQueryGraph()
		for _, n := range g.nodes {
			ng.AddQueryNode(n)
		}
		for _, r := range g.rels {
			ng.AddQueryRel(r)
		}
		out.graphs = append(out.graphs, ng)
	}
	return out
}
