// Package plan turns a bound query into a logical plan tree — a fixed set
// of operator kinds (Scan, Extend, HashJoin, Filter, Projection, OrderBy,
// Limit, Skip, Aggregate, Set, Create, Delete, CopyFrom, CopyTo) — then
// lowers that tree to a physical plan with explicit pipeline boundaries.
package plan

import (
	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/binder"
)

// LogicalOp is one node of a logical plan tree.
type LogicalOp interface {
	Children() []LogicalOp
	OutputVars() []string
	Cardinality() uint64
	logicalOpNode()
}

// LogicalScan reads every row of one node or rel table, binding OutVar.
type LogicalScan struct {
	TableID     uint64
	TableName   string
	IsNodeTable bool
	OutVar      string
	EstCard     uint64
}

func (s *LogicalScan) Children() []LogicalOp { return nil }
func (s *LogicalScan) OutputVars() []string  { return []string{s.OutVar} }
func (s *LogicalScan) Cardinality() uint64    { return s.EstCard }
func (*LogicalScan) logicalOpNode()           {}

// LogicalExtend traverses one rel table from an already-bound FromVar to a
// newly bound ToVar, also binding RelVar to the traversed edge. Forward is
// true when the traversal follows the rel's declared src->dst direction.
type LogicalExtend struct {
	Child        LogicalOp
	RelTableID   uint64
	RelTableName string
	FromVar      string
	ToVar        string
	RelVar       string
	Forward      bool
	EstCard      uint64
}

func (e *LogicalExtend) Children() []LogicalOp { return []LogicalOp{e.Child} }
func (e *LogicalExtend) OutputVars() []string {
	return append(append([]string{}, e.Child.OutputVars()...), e.ToVar, e.RelVar)
}
func (e *LogicalExtend) Cardinality() uint64 { return e.EstCard }
func (*LogicalExtend) logicalOpNode()        {}

// LogicalHashJoin probes Probe's rows against a hash table built from
// Build, matching on JoinVars (a nil/empty JoinVars is a cross product,
// used to combine disjoint pattern components of one MATCH clause).
type LogicalHashJoin struct {
	Build, Probe LogicalOp
	JoinVars     []string
	EstCard      uint64
}

func (h *LogicalHashJoin) Children() []LogicalOp { return []LogicalOp{h.Build, h.Probe} }
func (h *LogicalHashJoin) OutputVars() []string {
	return append(append([]string{}, h.Build.OutputVars()...), h.Probe.OutputVars()...)
}
func (h *LogicalHashJoin) Cardinality() uint64 { return h.EstCard }
func (*LogicalHashJoin) logicalOpNode()        {}

// LogicalFilter drops rows that do not satisfy Predicate (a WHERE clause,
// or a cycle-closing rel predicate the enumerator introduces when a rel's
// two endpoints are already independently bound).
type LogicalFilter struct {
	Child     LogicalOp
	Predicate ast.Expression
}

func (f *LogicalFilter) Children() []LogicalOp { return []LogicalOp{f.Child} }
func (f *LogicalFilter) OutputVars() []string   { return f.Child.OutputVars() }
func (f *LogicalFilter) Cardinality() uint64    { return f.Child.Cardinality() }
func (*LogicalFilter) logicalOpNode()           {}

// LogicalProjection narrows rows down to Items (RETURN/WITH columns).
type LogicalProjection struct {
	Child    LogicalOp
	Items    []binder.BoundProjectionItem
	Distinct bool
	Star     bool
}

func (p *LogicalProjection) Children() []LogicalOp { return []LogicalOp{p.Child} }
func (p *LogicalProjection) OutputVars() []string {
	if p.Star {
		return p.Child.OutputVars()
	}
	vars := make([]string, len(p.Items))
	for i, it := range p.Items {
		if it.Alias != "" {
			vars[i] = it.Alias
		} else if v, ok := it.Expr.(*ast.VariableExpr); ok {
			vars[i] = v.Name
		}
	}
	return vars
}
func (p *LogicalProjection) Cardinality() uint64 { return p.Child.Cardinality() }
func (*LogicalProjection) logicalOpNode()        {}

// LogicalOrderBy sorts its child's rows; a blocking (pipeline-breaking)
// operator, since every row must be seen before the first can be emitted.
type LogicalOrderBy struct {
	Child LogicalOp
	Items []ast.SortItem
}

func (o *LogicalOrderBy) Children() []LogicalOp { return []LogicalOp{o.Child} }
func (o *LogicalOrderBy) OutputVars() []string   { return o.Child.OutputVars() }
func (o *LogicalOrderBy) Cardinality() uint64    { return o.Child.Cardinality() }
func (*LogicalOrderBy) logicalOpNode()           {}

// LogicalLimit caps the number of rows its child yields.
type LogicalLimit struct {
	Child LogicalOp
	Limit ast.Expression
}

func (l *LogicalLimit) Children() []LogicalOp { return []LogicalOp{l.Child} }
func (l *LogicalLimit) OutputVars() []string   { return l.Child.OutputVars() }
func (l *LogicalLimit) Cardinality() uint64    { return l.Child.Cardinality() }
func (*LogicalLimit) logicalOpNode()           {}

// LogicalSkip discards the first N rows its child yields.
type LogicalSkip struct {
	Child LogicalOp
	Skip  ast.Expression
}

func (s *LogicalSkip) Children() []LogicalOp { return []LogicalOp{s.Child} }
func (s *LogicalSkip) OutputVars() []string   { return s.Child.OutputVars() }
func (s *LogicalSkip) Cardinality() uint64    { return s.Child.Cardinality() }
func (*LogicalSkip) logicalOpNode()           {}

// LogicalAggregate groups its child's rows by GroupVars and evaluates
// Aggregates (projection items whose expression contains an aggregate
// function call) once per group. A nil GroupVars aggregates every row into
// a single group.
type LogicalAggregate struct {
	Child      LogicalOp
	GroupVars  []string
	Aggregates []binder.BoundProjectionItem
}

func (a *LogicalAggregate) Children() []LogicalOp { return []LogicalOp{a.Child} }
func (a *LogicalAggregate) OutputVars() []string {
	vars := append([]string{}, a.GroupVars...)
	for _, it := range a.Aggregates {
		if it.Alias != "" {
			vars = append(vars, it.Alias)
		}
	}
	return vars
}
func (a *LogicalAggregate) Cardinality() uint64 { return a.Child.Cardinality() }
func (*LogicalAggregate) logicalOpNode()        {}

// LogicalSet applies a SET clause's property/label assignments to its
// child's rows.
type LogicalSet struct {
	Child LogicalOp
	Items []ast.SetItem
}

func (s *LogicalSet) Children() []LogicalOp { return []LogicalOp{s.Child} }
func (s *LogicalSet) OutputVars() []string   { return s.Child.OutputVars() }
func (s *LogicalSet) Cardinality() uint64    { return s.Child.Cardinality() }
func (*LogicalSet) logicalOpNode()           {}

// LogicalCreate materializes Pattern once per row of Child (or once, for a
// bare CREATE with no preceding MATCH, in which case Child is nil).
// IsMerge marks a MERGE clause lowered onto this same operator kind (MERGE
// has no operator of its own). exec.Build rejects a LogicalCreate with
// IsMerge set, so OnMatchSet and OnCreateSet are carried but never applied.
type LogicalCreate struct {
	Child       LogicalOp
	Pattern     *ast.PatternGraph
	IsMerge     bool
	OnMatchSet  []ast.SetItem
	OnCreateSet []ast.SetItem
}

func (c *LogicalCreate) Children() []LogicalOp {
	if c.Child == nil {
		return nil
	}
	return []LogicalOp{c.Child}
}
func (c *LogicalCreate) OutputVars() []string {
	if c.Child == nil {
		return nil
	}
	return c.Child.OutputVars()
}
func (c *LogicalCreate) Cardinality() uint64 {
	if c.Child == nil {
		return 1
	}
	return c.Child.Cardinality()
}
func (*LogicalCreate) logicalOpNode() {}

// LogicalDelete removes Targets (node/rel variables) for every row of
// Child. Detach records a DETACH DELETE; the executor's DeleteOp does not
// read it, and no incident rels are removed.
type LogicalDelete struct {
	Child   LogicalOp
	Detach  bool
	Targets []ast.Expression
}

func (d *LogicalDelete) Children() []LogicalOp { return []LogicalOp{d.Child} }
func (d *LogicalDelete) OutputVars() []string   { return d.Child.OutputVars() }
func (d *LogicalDelete) Cardinality() uint64    { return d.Child.Cardinality() }
func (*LogicalDelete) logicalOpNode()           {}

// LogicalCopyFrom is the root operator of a bulk COPY FROM statement; it
// has no child, since its rows come from the source file(s), not from a
// MATCH.
type LogicalCopyFrom struct {
	Bound *binder.BoundCopyFrom
}

func (c *LogicalCopyFrom) Children() []LogicalOp { return nil }
func (c *LogicalCopyFrom) OutputVars() []string   { return nil }
func (c *LogicalCopyFrom) Cardinality() uint64    { return 0 }
func (*LogicalCopyFrom) logicalOpNode()           {}

// LogicalCopyTo streams Child's rows out to Path as CSV.
type LogicalCopyTo struct {
	Child LogicalOp
	Path  string
}

func (c *LogicalCopyTo) Children() []LogicalOp { return []LogicalOp{c.Child} }
func (c *LogicalCopyTo) OutputVars() []string   { return nil }
func (c *LogicalCopyTo) Cardinality() uint64    { return c.Child.Cardinality() }
func (*LogicalCopyTo) logicalOpNode()           {}
