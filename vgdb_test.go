package vgdb

import (
	"path/filepath"
	"testing"

	"github.com/vaultgraph/vgdb/config"
	"github.com/vaultgraph/vgdb/internal/ast"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.AutoCheckpoint.Enabled = false
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createPersonTable(t *testing.T, db *Database) {
	t.Helper()
	stmt := &ast.CreateNodeTableStmt{
		Name: "Person",
		Columns: []ast.ColumnDef{
			{Name: "id", Type: ast.LogicalType{Name: "INT64"}},
			{Name: "name", Type: ast.LogicalType{Name: "STRING"}},
		},
		PrimaryKey: "id",
	}
	tx, err := db.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := db.Execute(tx, stmt, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit DDL: %v", err)
	}
}

func createPersonRow(t *testing.T, db *Database, id int64, name string) {
	t.Helper()
	stmt := &ast.RegularQuery{
		Queries: []ast.SingleQuery{{
			Parts: []ast.QueryPart{{
				UpdatingClauses: []ast.UpdatingClause{&ast.CreateClause{
					Pattern: &ast.PatternGraph{Paths: []ast.PatternPath{{
						Elements: []ast.PatternElement{&ast.NodePattern{
							Name:           "p",
							HasParentheses: true,
							Labels:         []string{"Person"},
							Properties: []ast.PropertyKeyValue{
								{Key: "id", Value: &ast.LiteralExpr{Value: id}},
								{Key: "name", Value: &ast.LiteralExpr{Value: name}},
							},
						}},
					}}},
				}},
				Projection: &ast.Projection{IsReturn: true, Star: true},
			}},
		}},
	}
	tx, err := db.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := db.Execute(tx, stmt, nil); err != nil {
		t.Fatalf("create row: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit row: %v", err)
	}
}

func TestOpenWiresCatalogAndPager(t *testing.T) {
	db := openTestDB(t)
	if db.catalog == nil || db.pager == nil {
		t.Fatal("expected Open to wire a catalog and pager")
	}
}

func TestDDLThenInsertThenScan(t *testing.T) {
	db := openTestDB(t)
	createPersonTable(t, db)
	createPersonRow(t, db, 1, "Ada")
	createPersonRow(t, db, 2, "Bob")

	matchStmt := &ast.RegularQuery{
		Queries: []ast.SingleQuery{{
			Parts: []ast.QueryPart{{
				ReadingClauses: []ast.ReadingClause{&ast.MatchClause{
					Pattern: &ast.PatternGraph{Paths: []ast.PatternPath{{
						Elements: []ast.PatternElement{&ast.NodePattern{
							Name:           "p",
							HasParentheses: true,
							Labels:         []string{"Person"},
						}},
					}}},
				}},
				Projection: &ast.Projection{IsReturn: true, Star: true},
			}},
		}},
	}

	tx, err := db.BeginRead()
	if err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	defer tx.Commit()

	rows, err := db.Execute(tx, matchStmt, nil)
	if err != nil {
		t.Fatalf("MATCH: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %v", len(rows), rows)
	}
}

func TestDropTable(t *testing.T) {
	db := openTestDB(t)
	createPersonTable(t, db)

	tx, err := db.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	drop := &ast.DropTableStmt{Name: "Person"}
	if _, err := db.Execute(tx, drop, nil); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit drop: %v", err)
	}
	if _, ok := db.catalog.GetNodeTable("Person"); ok {
		t.Fatal("expected Person table to be gone after DROP TABLE")
	}
}

func TestDataDirPaths(t *testing.T) {
	dir := filepath.Join("a", "b")
	if catalogPath(dir) != filepath.Join(dir, "catalog.yaml") {
		t.Fatalf("unexpected catalog path %q", catalogPath(dir))
	}
}
