package binder

import (
	"testing"

	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
)

func newTestCatalog(t *testing.T) *catalog.Manager {
	t.Helper()
	cat := catalog.NewManager(t.TempDir() + "/catalog.kz")
	if _, err := cat.CreateNodeTable("Person", []catalog.Property{
		{Name: "id", Type: catalog.TypeInt64, PropertyID: 0},
		{Name: "age", Type: catalog.TypeInt32, PropertyID: 1},
	}, "id", false); err != nil {
		t.Fatal(err)
	}
	if _, err := cat.CreateRelTable("Knows", nil, "Person", "Person", catalog.Many, catalog.Many); err != nil {
		t.Fatal(err)
	}
	return cat
}

func TestBindCreateNodeTableValidatesPrimaryKey(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	stmt := &ast.CreateNodeTableStmt{
		Name:       "City",
		Columns:    []ast.ColumnDef{{Name: "name", Type: ast.LogicalType{Name: "STRING"}}},
		PrimaryKey: "missing",
	}
	if _, err := b.Bind(stmt); err == nil || !errs.Is(err, errs.KindBinder) {
		t.Fatalf("expected a BinderError for an undeclared primary key, got %v", err)
	}
}

func TestBindCreateNodeTableRejectsReservedColumnName(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	stmt := &ast.CreateNodeTableStmt{
		Name:       "City",
		Columns:    []ast.ColumnDef{{Name: "_id", Type: ast.LogicalType{Name: "STRING"}}},
		PrimaryKey: "_id",
	}
	if _, err := b.Bind(stmt); err == nil {
		t.Fatal("expected an error for a reserved column name")
	}
}

func TestBindCreateRelTableResolvesEndpoints(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	stmt := &ast.CreateRelTableStmt{
		Name:      "Owns",
		FromTable: "Person",
		ToTable:   "Nonexistent",
	}
	if _, err := b.Bind(stmt); err == nil || !errs.Is(err, errs.KindBinder) {
		t.Fatalf("expected a BinderError for an unresolved ToTable, got %v", err)
	}

	stmt.ToTable = "Person"
	bound, err := b.Bind(stmt)
	if err != nil {
		t.Fatal(err)
	}
	rel, ok := bound.(*BoundCreateRelTable)
	if !ok {
		t.Fatalf("expected *BoundCreateRelTable, got %T", bound)
	}
	if rel.SrcTable.Name != "Person" || rel.DstTable.Name != "Person" {
		t.Fatalf("expected both endpoints resolved to Person, got %+v", rel)
	}
}

func TestBindPatternRequiresParentheses(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	query := regularQueryWithPattern(ast.PatternPath{
		Elements: []ast.PatternElement{
			&ast.NodePattern{Name: "a", HasParentheses: false},
		},
	}, true)
	if _, err := b.Bind(query); err == nil || !errs.Is(err, errs.KindParse) {
		t.Fatalf("expected a ParseError for a node pattern without parentheses, got %v", err)
	}
}

func TestBindPatternRejectsEmptyEscapedName(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	query := regularQueryWithPattern(ast.PatternPath{
		Elements: []ast.PatternElement{
			&ast.NodePattern{Name: "", HasParentheses: true, EmptyNameEscaped: true},
		},
	}, true)
	if _, err := b.Bind(query); err == nil || !errs.Is(err, errs.KindParse) {
		t.Fatalf("expected a ParseError for an escaped empty name, got %v", err)
	}
}

func TestBindQueryRequiresTrailingReturn(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	query := regularQueryWithPattern(ast.PatternPath{
		Elements: []ast.PatternElement{
			&ast.NodePattern{Name: "a", HasParentheses: true},
		},
	}, false)
	if _, err := b.Bind(query); err == nil || !errs.Is(err, errs.KindParse) {
		t.Fatalf("expected a ParseError when a non-updating query lacks RETURN, got %v", err)
	}
}

func TestBindExpressionRejectsInvalidNotEqual(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	expr := &ast.BinaryExpr{Op: "!=", Left: &ast.VariableExpr{Name: "a"}, Right: &ast.LiteralExpr{Value: int64(1)}}
	if err := b.validateExpression(expr); err == nil || !errs.Is(err, errs.KindParse) {
		t.Fatalf("expected a ParseError for '!=', got %v", err)
	}
}

func TestBindExpressionRejectsChainedComparison(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	inner := &ast.BinaryExpr{Op: "<", Left: &ast.VariableExpr{Name: "a"}, Right: &ast.VariableExpr{Name: "b"}}
	outer := &ast.BinaryExpr{Op: "<", Left: inner, Right: &ast.VariableExpr{Name: "c"}}
	if err := b.validateExpression(outer); err == nil || !errs.Is(err, errs.KindParse) {
		t.Fatalf("expected a ParseError for a chained comparison, got %v", err)
	}
}

func TestBindCopyFromResolvesTable(t *testing.T) {
	b := NewBinder(newTestCatalog(t))
	stmt := &ast.CopyFromStmt{Table: "Person", FilePaths: []string{"people.csv"}}
	bound, err := b.Bind(stmt)
	if err != nil {
		t.Fatal(err)
	}
	cf := bound.(*BoundCopyFrom)
	if !cf.IsNodeTable {
		t.Fatal("expected Person to resolve as a node table")
	}

	stmt2 := &ast.CopyFromStmt{Table: "Nope", FilePaths: []string{"x.csv"}}
	if _, err := b.Bind(stmt2); err == nil {
		t.Fatal("expected an error copying into an unknown table")
	}
}

// regularQueryWithPattern builds a minimal single-part RegularQuery with one
// MATCH clause over pattern, with or without a trailing RETURN.
func regularQueryWithPattern(pattern ast.PatternPath, withReturn bool) *ast.RegularQuery {
	part := ast.QueryPart{
		ReadingClauses: []ast.ReadingClause{
			&ast.MatchClause{Pattern: &ast.PatternGraph{Paths: []ast.PatternPath{pattern}}},
		},
	}
	if withReturn {
		part.Projection = &ast.Projection{IsReturn: true, Star: true}
	}
	return &ast.RegularQuery{Queries: []ast.SingleQuery{{Parts: []ast.QueryPart{part}}}}
}
