package exec

import (
	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/plan"
)

// Build lowers one logical operator (and, recursively, its children) into
// the Operator tree that actually pulls rows. cat resolves table names.
func Build(op plan.LogicalOp, cat *catalog.Manager) (Operator, error) {
	switch n := op.(type) {
	case *plan.LogicalScan:
		return &ScanOp{TableID: n.TableID, IsNodeTable: n.IsNodeTable, OutVar: n.OutVar}, nil

	case *plan.LogicalExtend:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		return &ExtendOp{
			Child: child, RelTableID: n.RelTableID,
			FromVar: n.FromVar, ToVar: n.ToVar, RelVar: n.RelVar, Forward: n.Forward,
		}, nil

	case *plan.LogicalHashJoin:
		build, err := Build(n.Build, cat)
		if err != nil {
			return nil, err
		}
		probe, err := Build(n.Probe, cat)
		if err != nil {
			return nil, err
		}
		return &HashJoinOp{Build: build, Probe: probe, JoinVars: n.JoinVars}, nil

	case *plan.LogicalFilter:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		return &FilterOp{Child: child, Predicate: n.Predicate}, nil

	case *plan.LogicalProjection:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		items := make([]ProjectionItem, len(n.Items))
		for i, it := range n.Items {
			items[i] = ProjectionItem{Expr: it.Expr, Alias: it.Alias}
		}
		return &ProjectionOp{Child: child, Items: items, Distinct: n.Distinct, Star: n.Star}, nil

	case *plan.LogicalOrderBy:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		return &OrderByOp{Child: child, Items: n.Items}, nil

	case *plan.LogicalLimit:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		lit, ok := n.Limit.(*ast.LiteralExpr)
		if !ok {
			return nil, errs.New(errs.KindExecution, "LIMIT must be a literal")
		}
		count, err := asInt64(lit.Value)
		if err != nil {
			return nil, err
		}
		return &LimitOp{Child: child, N: count}, nil

	case *plan.LogicalSkip:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		lit, ok := n.Skip.(*ast.LiteralExpr)
		if !ok {
			return nil, errs.New(errs.KindExecution, "SKIP must be a literal")
		}
		count, err := asInt64(lit.Value)
		if err != nil {
			return nil, err
		}
		return &SkipOp{Child: child, N: count}, nil

	case *plan.LogicalAggregate:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		aggs := make([]AggregateItem, 0, len(n.Aggregates))
		for _, it := range n.Aggregates {
			fn, ok := findAggregateCall(it.Expr)
			if !ok {
				return nil, errs.New(errs.KindExecution, "aggregate projection item has no aggregate call")
			}
			aggs = append(aggs, AggregateItem{Expr: fn, Alias: it.Alias})
		}
		return &AggregateOp{Child: child, GroupVars: n.GroupVars, Aggregates: aggs}, nil

	case *plan.LogicalSet:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		return &SetOp{Child: child, Items: n.Items}, nil

	case *plan.LogicalCreate:
		return buildCreate(n, cat)

	case *plan.LogicalDelete:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		targets := make([]string, 0, len(n.Targets))
		for _, t := range n.Targets {
			if v, ok := t.(*ast.VariableExpr); ok {
				targets = append(targets, v.Name)
			}
		}
		return &DeleteOp{Child: child, Detach: n.Detach, Targets: targets}, nil

	case *plan.LogicalCopyFrom:
		return nil, errs.New(errs.KindExecution, "COPY FROM must be wired by the caller via CopyFromOp")

	case *plan.LogicalCopyTo:
		child, err := Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
		return &CopyToOp{Child: child, Path: n.Path}, nil

	default:
		return nil, errs.New(errs.KindExecution, "no operator for logical op %T", op)
	}
}

// findAggregateCall recurses through a projection item's expression to find
// its top-level aggregate function call, mirroring internal/plan's own
// containsAggregate walk.
func findAggregateCall(e ast.Expression) (*ast.FunctionExpr, bool) {
	switch n := e.(type) {
	case *ast.FunctionExpr:
		return n, true
	case *ast.BinaryExpr:
		if fn, ok := findAggregateCall(n.Left); ok {
			return fn, true
		}
		return findAggregateCall(n.Right)
	case *ast.UnaryExpr:
		return findAggregateCall(n.Expr)
	}
	return nil, false
}

// buildCreate only supports a single bare node pattern — the common case a
// pull-based Create operator can append without touching adjacency
// storage. A pattern that also creates a rel needs the bulk loader's CSR
// writer (adjacency lists are built dense, not incrementally), so it is
// rejected here rather than silently dropping the edge.
func buildCreate(n *plan.LogicalCreate, cat *catalog.Manager) (Operator, error) {
	if n.IsMerge {
		return nil, errs.New(errs.KindExecution, "MERGE is not yet supported by the runtime executor")
	}
	if len(n.Pattern.Paths) != 1 || len(n.Pattern.Paths[0].Elements) != 1 {
		return nil, errs.New(errs.KindExecution, "CREATE currently supports a single node pattern only")
	}
	np, ok := n.Pattern.Paths[0].Elements[0].(*ast.NodePattern)
	if !ok || len(np.Labels) != 1 {
		return nil, errs.New(errs.KindExecution, "CREATE target must be one labeled node pattern")
	}
	schema, ok := cat.GetNodeTable(np.Labels[0])
	if !ok {
		return nil, errs.UnresolvedTable(np.Labels[0])
	}
	values := make(map[string]ast.Expression, len(np.Properties))
	for _, kv := range np.Properties {
		values[kv.Key] = kv.Value
	}
	var child Operator
	var err error
	if n.Child != nil {
		child, err = Build(n.Child, cat)
		if err != nil {
			return nil, err
		}
	}
	return &CreateOp{Child: child, NodeTable: schema, Values: values, OutVar: np.Name}, nil
}
