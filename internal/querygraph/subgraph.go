package querygraph

import "github.com/samber/lo"

// SubqueryGraph is a bitset-selected subset of a QueryGraph's variables:
// the planner's unit of enumeration during join-order search. Invariant:
// for every selected rel, at least one endpoint node is selected.
type SubqueryGraph struct {
	queryGraph         *QueryGraph
	queryNodesSelector selector
	queryRelsSelector  selector
}

// NewSubqueryGraph returns the empty subgraph (no nodes, no rels selected)
// of qg.
func NewSubqueryGraph(qg *QueryGraph) SubqueryGraph {
	return SubqueryGraph{queryGraph: qg}
}

// GetSingleNodeQueryGraph returns the degenerate one-node subgraph used to
// seed join-order enumeration (spec.md's getBaseNbrSubgraphs implicitly
// assumes such seeds exist).
func GetSingleNodeQueryGraph(qg *QueryGraph, nodePos int) SubqueryGraph {
	s := NewSubqueryGraph(qg)
	s.AddQueryNode(nodePos)
	return s
}

func (s *SubqueryGraph) AddQueryNode(pos int) { s.queryNodesSelector.set(pos) }
func (s *SubqueryGraph) AddQueryRel(pos int)  { s.queryRelsSelector.set(pos) }

func (s SubqueryGraph) ContainsQueryNode(pos int) bool { return s.queryNodesSelector.test(pos) }
func (s SubqueryGraph) ContainsQueryRel(pos int) bool  { return s.queryRelsSelector.test(pos) }

func (s SubqueryGraph) NumSelectedNodes() int { return s.queryNodesSelector.count() }
func (s SubqueryGraph) NumSelectedRels() int  { return s.queryRelsSelector.count() }

// SelectedNodePositions returns the selected node positions in ascending
// order.
func (s SubqueryGraph) SelectedNodePositions() []int { return s.queryNodesSelector.positions() }

// SelectedRelPositions returns the selected rel positions in ascending
// order.
func (s SubqueryGraph) SelectedRelPositions() []int { return s.queryRelsSelector.positions() }

// key is the comparable value neighbor-subgraph dedup sets key on: equality
// hashes the "primary" side, rels if any are selected else nodes, mirroring
// the original engine's hasher so two subgraphs reached via different
// expansion orders collapse to one set entry.
type key struct {
	nodes selector
	rels  selector
}

func (s SubqueryGraph) key() key { return key{nodes: s.queryNodesSelector, rels: s.queryRelsSelector} }

// getNodeNbrPositions returns, for every selected rel, the unselected
// endpoint node positions — the size-1 node extensions reachable from s.
func (s SubqueryGraph) getNodeNbrPositions() []int {
	seen := map[int]struct{}{}
	for _, relPos := range s.queryRelsSelector.positions() {
		rel := s.queryGraph.GetQueryRel(relPos)
		srcPos, _ := s.queryGraph.GetQueryNodePos(rel.SrcNodeName)
		dstPos, _ := s.queryGraph.GetQueryNodePos(rel.DstNodeName)
		if !s.queryNodesSelector.test(srcPos) {
			seen[srcPos] = struct{}{}
		}
		if !s.queryNodesSelector.test(dstPos) {
			seen[dstPos] = struct{}{}
		}
	}
	return lo.Keys(seen)
}

// getRelNbrPositions returns the unselected rels with at least one endpoint
// already selected — the size-1 rel extensions reachable from s.
func (s SubqueryGraph) getRelNbrPositions() []int {
	var out []int
	for relPos := 0; relPos < s.queryGraph.GetNumQueryRels(); relPos++ {
		if s.queryRelsSelector.test(relPos) {
			continue
		}
		rel := s.queryGraph.GetQueryRel(relPos)
		srcPos, _ := s.queryGraph.GetQueryNodePos(rel.SrcNodeName)
		dstPos, _ := s.queryGraph.GetQueryNodePos(rel.DstNodeName)
		if s.queryNodesSelector.test(srcPos) || s.queryNodesSelector.test(dstPos) {
			out = append(out, relPos)
		}
	}
	return out
}

// GetBaseNbrSubgraphs returns all size-1 extensions of s: for each
// unselected node that is an endpoint of a selected rel, s plus that node;
// for each unselected rel with at least one endpoint selected, s plus that
// rel.
func (s SubqueryGraph) GetBaseNbrSubgraphs() []SubqueryGraph {
	seen := map[key]SubqueryGraph{}
	for _, nodePos := range s.getNodeNbrPositions() {
		nbr := s
		nbr.AddQueryNode(nodePos)
		seen[nbr.key()] = nbr
	}
	for _, relPos := range s.getRelNbrPositions() {
		nbr := s
		nbr.AddQueryRel(relPos)
		seen[nbr.key()] = nbr
	}
	return lo.Values(seen)
}

// getNextNbrSubgraphs returns the size-1 extensions of prevNbr that do not
// re-select anything s already has selected — used internally by
// GetNbrSubgraphs to roll a frontier forward without revisiting subgraphs
// already reachable at a smaller size.
func (s SubqueryGraph) getNextNbrSubgraphs(prevNbr SubqueryGraph) []SubqueryGraph {
	seen := map[key]SubqueryGraph{}
	for _, nodePos := range prevNbr.getNodeNbrPositions() {
		if s.queryNodesSelector.test(nodePos) {
			continue
		}
		nbr := prevNbr
		nbr.AddQueryNode(nodePos)
		seen[nbr.key()] = nbr
	}
	for _, relPos := range prevNbr.getRelNbrPositions() {
		if s.queryRelsSelector.test(relPos) {
			continue
		}
		nbr := prevNbr
		nbr.AddQueryRel(relPos)
		seen[nbr.key()] = nbr
	}
	return lo.Values(seen)
}

// GetNbrSubgraphs iterates the size-1 frontier expansion size times,
// returning every connected subgraph reachable from s by selecting exactly
// size more variables.
func (s SubqueryGraph) GetNbrSubgraphs(size int) []SubqueryGraph {
	result := s.GetBaseNbrSubgraphs()
	for i := 1; i < size; i++ {
		seen := map[key]SubqueryGraph{}
		for _, prevNbr := range result {
			for _, nbr := range s.getNextNbrSubgraphs(prevNbr) {
				seen[nbr.key()] = nbr
			}
		}
		result = lo.Values(seen)
	}
	return result
}

// GetConnectedNodePos returns, from both sides, the node positions selected
// in one subgraph that neighbor the other — the shared join keys a hash
// join between s and other would probe on.
func (s SubqueryGraph) GetConnectedNodePos(other SubqueryGraph) []int {
	var out []int
	for _, nodePos := range s.getNodeNbrPositions() {
		if other.queryNodesSelector.test(nodePos) {
			out = append(out, nodePos)
		}
	}
	for _, nodePos := range other.getNodeNbrPositions() {
		if s.queryNodesSelector.test(nodePos) {
			out = append(out, nodePos)
		}
	}
	return out
}
