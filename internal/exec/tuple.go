package exec

import (
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/pager"
)

// Tuple is one row flowing through a pipeline, keyed by bound variable
// name ("a", "k", ...) or — inside a node/rel variable's value — by
// property name. A variable's value is always a map[string]any carrying at
// least "_id" (its table-local row offset), matching the teacher's
// loosely-typed Row map[string]any row shape.
type Tuple map[string]any

// Clone returns a shallow copy: the node/rel value maps are shared with the
// original, and SetOp writes new property values into such a map in place,
// so the change is visible through every clone holding it.
func (t Tuple) Clone() Tuple {
	out := make(Tuple, len(t)+2)
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Transaction is the narrow slice of internal/txn's transaction state an
// operator needs, kept independent of internal/txn's concrete Manager/
// Coordinator types so this package can be tested without a real pager or
// WAL. The façade's *Tx implements it directly.
type Transaction interface {
	IsWrite() bool
	Commit() error
	Rollback() error
}

// ExecState is the shared, per-query context every operator's Open/
// GetNextTuple call receives: the active transaction, query parameters, an
// abort check, the storage and catalog handles, and the transaction id.
type ExecState struct {
	Txn     Transaction
	Params  map[string]any
	Aborted func() bool

	Store   *Store
	Catalog *catalog.Manager
	Stats   *catalog.StatisticsManager
	TxID    pager.TxID
}
