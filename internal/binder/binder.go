// Package binder turns a parsed ast.Statement into a bound form: every
// table name resolved to a catalog schema, and every notifier condition,
// detected from the AST shape, reported as a typed errs.Error. Property
// accesses and other expressions are passed through as unresolved AST; no
// (tableId, propertyId, logicalType) is attached to them. Grounded on the teacher's compile.go
// error-surface convention (resolve-then-validate, fail on first problem).
package binder

import (
	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/querygraph"
)

// Binder resolves a single ast.Statement against cat.
type Binder struct {
	cat *catalog.Manager
}

func NewBinder(cat *catalog.Manager) *Binder {
	return &Binder{cat: cat}
}

// Bind dispatches stmt to the matching bind* method and returns its bound
// form.
func (b *Binder) Bind(stmt ast.Statement) (BoundStatement, error) {
	switch s := stmt.(type) {
	case *ast.RegularQuery:
		return b.bindQuery(s)
	case *ast.CreateNodeTableStmt:
		return b.bindCreateNodeTable(s)
	case *ast.CreateRelTableStmt:
		return b.bindCreateRelTable(s)
	case *ast.DropTableStmt:
		return b.bindDropTable(s)
	case *ast.CopyFromStmt:
		return b.bindCopyFrom(s)
	case *ast.CopyToStmt:
		return b.bindCopyTo(s)
	case *ast.BeginStmt, *ast.CommitStmt, *ast.RollbackStmt:
		return &BoundTransaction{Stmt: stmt}, nil
	default:
		return nil, errs.New(errs.KindBinder, "unsupported statement type %T", stmt)
	}
}

// ---- DDL ----

func logicalTypeFromAST(t ast.LogicalType) (catalog.LogicalType, error) {
	switch t.Name {
	case "BOOL":
		return catalog.TypeBool, nil
	case "INT16":
		return catalog.TypeInt16, nil
	case "INT32":
		return catalog.TypeInt32, nil
	case "INT64":
		return catalog.TypeInt64, nil
	case "FLOAT":
		return catalog.TypeFloat, nil
	case "DOUBLE":
		return catalog.TypeDouble, nil
	case "DATE":
		return catalog.TypeDate, nil
	case "TIMESTAMP":
		return catalog.TypeTimestamp, nil
	case "INTERVAL":
		return catalog.TypeInterval, nil
	case "STRING":
		return catalog.TypeString, nil
	case "VAR_LIST":
		return catalog.TypeVarList, nil
	case "FIXED_LIST":
		return catalog.TypeFixedList, nil
	case "STRUCT":
		return catalog.TypeStruct, nil
	case "INTERNAL_ID":
		return catalog.TypeInternalID, nil
	case "SERIAL":
		return catalog.TypeSerial, nil
	default:
		return 0, errs.InvalidDDL("unknown logical type " + t.Name)
	}
}

func (b *Binder) bindColumns(cols []ast.ColumnDef) ([]catalog.Property, error) {
	out := make([]catalog.Property, 0, len(cols))
	for i, c := range cols {
		if IsReservedPropertyName(c.Name) {
			return nil, errs.ReservedProperty(c.Name)
		}
		lt, err := logicalTypeFromAST(c.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.Property{Name: c.Name, Type: lt, PropertyID: uint32(i)})
	}
	return out, nil
}

func (b *Binder) bindCreateNodeTable(s *ast.CreateNodeTableStmt) (BoundStatement, error) {
	props, err := b.bindColumns(s.Columns)
	if err != nil {
		return nil, err
	}
	found := false
	for _, p := range props {
		if p.Name == s.PrimaryKey {
			found = true
			break
		}
	}
	if !found {
		return nil, errs.InvalidDDL("primary key " + s.PrimaryKey + " is not a declared column")
	}
	return &BoundCreateNodeTable{Name: s.Name, Properties: props, PrimaryKeyName: s.PrimaryKey}, nil
}

func parseMultiplicity(s string) (catalog.Multiplicity, error) {
	switch s {
	case "ONE":
		return catalog.One, nil
	case "MANY", "":
		return catalog.Many, nil
	default:
		return 0, errs.InvalidDDL("unknown multiplicity " + s)
	}
}

func (b *Binder) bindCreateRelTable(s *ast.CreateRelTableStmt) (BoundStatement, error) {
	src, ok := b.cat.GetNodeTable(s.FromTable)
	if !ok {
		return nil, errs.UnresolvedTable(s.FromTable)
	}
	dst, ok := b.cat.GetNodeTable(s.ToTable)
	if !ok {
		return nil, errs.UnresolvedTable(s.ToTable)
	}
	props, err := b.bindColumns(s.Columns)
	if err != nil {
		return nil, err
	}
	fwd, err := parseMultiplicity(s.Multiplicity.Fwd)
	if err != nil {
		return nil, err
	}
	bwd, err := parseMultiplicity(s.Multiplicity.Bwd)
	if err != nil {
		return nil, err
	}
	return &BoundCreateRelTable{
		Name:       s.Name,
		Properties: props,
		SrcTable:   src,
		DstTable:   dst,
		Fwd:        fwd,
		Bwd:        bwd,
	}, nil
}

func (b *Binder) bindDropTable(s *ast.DropTableStmt) (BoundStatement, error) {
	if _, ok := b.cat.GetNodeTable(s.Name); ok {
		return &BoundDropTable{Name: s.Name}, nil
	}
	if _, ok := b.cat.GetRelTable(s.Name); ok {
		return &BoundDropTable{Name: s.Name}, nil
	}
	return nil, errs.UnresolvedTable(s.Name)
}

// ---- Copy ----

func (b *Binder) bindCopyFrom(s *ast.CopyFromStmt) (BoundStatement, error) {
	isNode := true
	if _, ok := b.cat.GetNodeTable(s.Table); !ok {
		if _, ok := b.cat.GetRelTable(s.Table); !ok {
			return nil, errs.UnresolvedTable(s.Table)
		}
		isNode = false
	}
	return &BoundCopyFrom{
		TableName:   s.Table,
		IsNodeTable: isNode,
		FilePaths:   s.FilePaths,
		ByColumn:    s.ByColumn,
		Csv:         s.Csv,
	}, nil
}

func (b *Binder) bindCopyTo(s *ast.CopyToStmt) (BoundStatement, error) {
	bq, err := b.bindQuery(s.Query)
	if err != nil {
		return nil, err
	}
	return &BoundCopyTo{Query: bq.(*BoundQuery), Path: s.Path}, nil
}

// ---- Query ----

func (b *Binder) bindQuery(rq *ast.RegularQuery) (BoundStatement, error) {
	var parts []BoundQueryPart
	for qi, sq := range rq.Queries {
		for pi, part := range sq.Parts {
			bp, err := b.bindQueryPart(part)
			if err != nil {
				return nil, err
			}
			isLast := qi == len(rq.Queries)-1 && pi == len(sq.Parts)-1
			if bp.Projection != nil && bp.Projection.IsReturn && !isLast {
				return nil, errs.ReturnNotAtEnd().At(part.Pos.Line, part.Pos.Col)
			}
			if isLast && len(bp.UpdatingClauses) == 0 && (bp.Projection == nil || !bp.Projection.IsReturn) {
				return nil, errs.QueryNotConcludeWithReturn().At(part.Pos.Line, part.Pos.Col)
			}
			parts = append(parts, bp)
		}
	}
	return &BoundQuery{Parts: parts, Explain: rq.Explain, Profile: rq.Profile}, nil
}

func (b *Binder) bindQueryPart(part ast.QueryPart) (BoundQueryPart, error) {
	graphs := querygraph.NewQueryGraphCollection()
	var where ast.Expression

	for _, rc := range part.ReadingClauses {
		m, ok := rc.(*ast.MatchClause)
		if !ok {
			continue
		}
		qg, err := b.bindPatternGraph(m.Pattern)
		if err != nil {
			return BoundQueryPart{}, err
		}
		graphs.AddAndMergeQueryGraphIfConnected(qg)
		if m.Where != nil {
			if err := b.validateExpression(m.Where); err != nil {
				return BoundQueryPart{}, err
			}
			where = m.Where
		}
	}

	var proj *BoundProjection
	if part.Projection != nil {
		p := part.Projection
		items := make([]BoundProjectionItem, 0, len(p.Items))
		for _, it := range p.Items {
			if err := b.validateExpression(it.Expr); err != nil {
				return BoundQueryPart{}, err
			}
			items = append(items, BoundProjectionItem{Expr: it.Expr, Alias: it.Alias})
		}
		proj = &BoundProjection{
			IsReturn: p.IsReturn,
			Distinct: p.Distinct,
			Items:    items,
			Star:     p.Star,
			OrderBy:  p.OrderBy,
			Skip:     p.Skip,
			Limit:    p.Limit,
		}
	}

	return BoundQueryPart{
		Graphs:          graphs,
		Where:           where,
		UpdatingClauses: part.UpdatingClauses,
		Projection:      proj,
	}, nil
}

// bindPatternGraph resolves one comma-separated pattern list into a
// QueryGraph, validating every node/rel pattern's syntactic shape and
// resolving label/type names against the catalog.
func (b *Binder) bindPatternGraph(pg *ast.PatternGraph) (*querygraph.QueryGraph, error) {
	qg := querygraph.NewQueryGraph()
	for _, path := range pg.Paths {
		var prevNodeName string
		for i, el := range path.Elements {
			switch e := el.(type) {
			case *ast.NodePattern:
				if !e.HasParentheses {
					return nil, errs.NodePatternWithoutParentheses().At(e.Pos.Line, e.Pos.Col)
				}
				if e.EmptyNameEscaped {
					return nil, errs.EmptyToken().At(e.Pos.Line, e.Pos.Col)
				}
				tableIDs, err := b.resolveNodeLabels(e.Labels)
				if err != nil {
					return nil, err
				}
				qg.AddQueryNode(querygraph.QueryNode{
					Name:              e.Name,
					CandidateTableIDs: tableIDs,
					PropertyKeyVals:   propertyKeyValMap(e.Properties),
				})
				prevNodeName = e.Name
			case *ast.RelPattern:
				tableIDs, err := b.resolveRelTypes(e.Types)
				if err != nil {
					return nil, err
				}
				var nextNodeName string
				if i+1 < len(path.Elements) {
					if nn, ok := path.Elements[i+1].(*ast.NodePattern); ok {
						nextNodeName = nn.Name
					}
				}
				srcName, dstName := prevNodeName, nextNodeName
				if e.Direction == ast.DirectionLeft {
					srcName, dstName = dstName, srcName
				}
				qg.AddQueryRel(querygraph.QueryRel{
					Name:              e.Name,
					SrcNodeName:       srcName,
					DstNodeName:       dstName,
					CandidateTableIDs: tableIDs,
					PropertyKeyVals:   propertyKeyValMap(e.Properties),
				})
			}
		}
	}
	return qg, nil
}

func propertyKeyValMap(kvs []ast.PropertyKeyValue) map[string]any {
	if len(kvs) == 0 {
		return nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func (b *Binder) resolveNodeLabels(labels []string) ([]uint32, error) {
	if len(labels) == 0 {
		var ids []uint32
		for _, t := range b.cat.AllNodeTables() {
			ids = append(ids, uint32(t.TableID))
		}
		return ids, nil
	}
	var ids []uint32
	for _, l := range labels {
		t, ok := b.cat.GetNodeTable(l)
		if !ok {
			return nil, errs.UnresolvedTable(l)
		}
		ids = append(ids, uint32(t.TableID))
	}
	return ids, nil
}

func (b *Binder) resolveRelTypes(types []string) ([]uint32, error) {
	if len(types) == 0 {
		var ids []uint32
		for _, t := range b.cat.AllRelTables() {
			ids = append(ids, uint32(t.TableID))
		}
		return ids, nil
	}
	var ids []uint32
	for _, l := range types {
		t, ok := b.cat.GetRelTable(l)
		if !ok {
			return nil, errs.UnresolvedTable(l)
		}
		ids = append(ids, uint32(t.TableID))
	}
	return ids, nil
}

// validateExpression walks expr looking for the two notifier-escalated
// operator irregularities that are detectable from AST shape alone: `!=`
// used in place of `<>`, and a chained comparison `a < b < c`.
func (b *Binder) validateExpression(expr ast.Expression) error {
	bin, ok := expr.(*ast.BinaryExpr)
	if !ok {
		return nil
	}
	if bin.Op == "!=" {
		return errs.InvalidNotEqualOperator().At(bin.Pos.Line, bin.Pos.Col)
	}
	if isComparisonOp(bin.Op) {
		if lhs, ok := bin.Left.(*ast.BinaryExpr); ok && isComparisonOp(lhs.Op) {
			return errs.NonBinaryComparison().At(bin.Pos.Line, bin.Pos.Col)
		}
	}
	if err := b.validateExpression(bin.Left); err != nil {
		return err
	}
	return b.validateExpression(bin.Right)
}

func isComparisonOp(op string) bool {
	switch op {
	case "<", "<=", ">", ">=", "=", "<>":
		return true
	default:
		return false
	}
}
