package binder

import (
	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/querygraph"
)

// BoundStatement is the root of whatever Bind produces: one of
// BoundQuery, a DDL bound form, a Copy bound form, or a transaction
// bound form (spec.md §4.11).
type BoundStatement interface{ boundStmtNode() }

// BoundQuery is a bound RegularQuery: one QueryPart per reading/updating
// clause group, each carrying the QueryGraph its patterns resolved to.
type BoundQuery struct {
	Parts   []BoundQueryPart
	Explain bool
	Profile bool
}

func (*BoundQuery) boundStmtNode() {}

// BoundQueryPart mirrors ast.QueryPart, but with every pattern resolved
// into a querygraph.QueryGraphCollection. Where, the updating clauses and
// the projection expressions are the unresolved AST.
type BoundQueryPart struct {
	Graphs          *querygraph.QueryGraphCollection
	Where           ast.Expression
	UpdatingClauses []ast.UpdatingClause
	Projection      *BoundProjection
}

// BoundProjection mirrors ast.Projection. BoundProjectionItem.Type is never
// set by the binder and stays at its zero value.
type BoundProjection struct {
	IsReturn bool
	Distinct bool
	Items    []BoundProjectionItem
	Star     bool
	OrderBy  []ast.SortItem
	Skip     ast.Expression
	Limit    ast.Expression
}

type BoundProjectionItem struct {
	Expr  ast.Expression
	Alias string
	Type  catalog.LogicalType
}

// BoundCreateNodeTable is CreateNodeTableStmt with its column types resolved
// against catalog.LogicalType and its primary key validated to exist.
type BoundCreateNodeTable struct {
	Name           string
	Properties     []catalog.Property
	PrimaryKeyName string
}

func (*BoundCreateNodeTable) boundStmtNode() {}

// BoundCreateRelTable is CreateRelTableStmt with FromTable/ToTable resolved
// to existing node table schemas and multiplicity parsed.
type BoundCreateRelTable struct {
	Name       string
	Properties []catalog.Property
	SrcTable   *catalog.NodeTableSchema
	DstTable   *catalog.NodeTableSchema
	Fwd, Bwd   catalog.Multiplicity
}

func (*BoundCreateRelTable) boundStmtNode() {}

// BoundDropTable is DropTableStmt with the table name validated to exist.
type BoundDropTable struct {
	Name string
}

func (*BoundDropTable) boundStmtNode() {}

// BoundCopyFrom is CopyFromStmt with the target table resolved (node or
// rel). Reserved header columns are not flagged here; the loader's
// NodeCopier skips reserved header names itself.
type BoundCopyFrom struct {
	TableName    string
	IsNodeTable  bool
	FilePaths    []string
	ByColumn     bool
	Csv          ast.CsvOptions
}

func (*BoundCopyFrom) boundStmtNode() {}

// BoundCopyTo is CopyToStmt with its inner query bound.
type BoundCopyTo struct {
	Query *BoundQuery
	Path  string
}

func (*BoundCopyTo) boundStmtNode() {}

// BoundTransaction wraps Begin/Commit/Rollback unchanged; there is nothing
// to resolve against the catalog.
type BoundTransaction struct {
	Stmt ast.Statement
}

func (*BoundTransaction) boundStmtNode() {}
