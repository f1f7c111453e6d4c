// Package vgdb is an embedded, disk-backed property-graph database: a paged
// buffer pool and write-ahead log, columnar node storage, dual-direction
// adjacency lists, a parallel bulk loader, and a cost-based query planner
// and executor for a Cypher-like query language.
//
// # Basic usage
//
//	db, err := vgdb.Open(cfg)
//	tx, err := db.BeginRead()
//	rows, err := db.Execute(tx, stmt, nil)
//	tx.Commit()
//	db.Close()
package vgdb

import (
	"fmt"
	"path/filepath"

	"github.com/vaultgraph/vgdb/config"
	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/binder"
	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/errs"
	"github.com/vaultgraph/vgdb/internal/exec"
	"github.com/vaultgraph/vgdb/internal/loader"
	"github.com/vaultgraph/vgdb/internal/pager"
	"github.com/vaultgraph/vgdb/internal/plan"
	"github.com/vaultgraph/vgdb/internal/txn"
)

// ============================================================================
// Re-exported internal types
// ============================================================================

// Config is the YAML-driven configuration a Database is opened with.
type Config = config.Config

// Statement is any parsed Cypher-like statement; a caller supplies one
// already parsed (this module implements no Cypher lexer/parser).
type Statement = ast.Statement

// Row is one result row, keyed by projected alias or bound variable name.
type Row = exec.Tuple

// Stats reports a TaskScheduler's lifetime task counters.
type Stats = exec.Stats

// Database is the top-level façade wiring the catalog, pager, transaction
// coordinator, binder, planner, and executor together against one
// directory on disk.
type Database struct {
	cfg     config.Config
	pager   *pager.Pager
	catalog *catalog.Manager
	stats   *catalog.StatisticsManager
	txns    *txn.Manager
	coord   *txn.Coordinator
	store   *exec.Store

	stopCheckpoint func()
}

func catalogPath(dataDir string) string { return filepath.Join(dataDir, "catalog.yaml") }
func nodeStatsPath(dataDir string) string {
	return filepath.Join(dataDir, "stats.node.yaml")
}
func relStatsPath(dataDir string) string { return filepath.Join(dataDir, "stats.rel.yaml") }
func walPath(dataDir string) string      { return filepath.Join(dataDir, "wal.log") }

// Open opens (creating if necessary) the database rooted at cfg.DataDir,
// loading its catalog, statistics, and WAL, and starting the
// auto-checkpoint scheduler if cfg.AutoCheckpoint.Enabled.
func Open(cfg config.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cat, err := catalog.Load(catalogPath(cfg.DataDir))
	if err != nil {
		return nil, errs.Wrap(errs.KindCatalog, err, "open catalog")
	}
	st, err := catalog.LoadStatistics(nodeStatsPath(cfg.DataDir), relStatsPath(cfg.DataDir))
	if err != nil {
		return nil, errs.Wrap(errs.KindCatalog, err, "open statistics")
	}
	pg, err := pager.OpenPager(pager.PagerConfig{
		PageSize:      cfg.PageSizeBytes,
		MaxCachePages: int(cfg.BufferPoolBytes) / cfg.PageSizeBytes,
	}, walPath(cfg.DataDir))
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageIO, err, "open pager")
	}

	txns := txn.NewManager()
	coord := txn.NewCoordinator(txns, pg, cat, st)

	db := &Database{
		cfg:     cfg,
		pager:   pg,
		catalog: cat,
		stats:   st,
		txns:    txns,
		coord:   coord,
		store:   exec.NewStore(pg, cat, cfg.DataDir),
	}

	if cfg.AutoCheckpoint.Enabled {
		stop, err := coord.StartAutoCheckpoint(cfg.AutoCheckpoint.Every)
		if err != nil {
			pg.Close()
			return nil, errs.Wrap(errs.KindTransaction, err, "start auto-checkpoint")
		}
		db.stopCheckpoint = stop
	}
	return db, nil
}

// Close stops the auto-checkpoint scheduler and closes the underlying
// pager. The caller must not hold any open transaction.
func (db *Database) Close() error {
	if db.stopCheckpoint != nil {
		db.stopCheckpoint()
	}
	return db.pager.Close()
}

// Checkpoint forces an immediate checkpoint, quiescing all active
// transactions for its duration.
func (db *Database) Checkpoint() error { return db.coord.Checkpoint() }

// Catalog exposes the schema manager directly for callers that only need to
// inspect table definitions (graphctl's schema dump, for instance) without
// going through a bound statement.
func (db *Database) Catalog() *catalog.Manager { return db.catalog }

// ============================================================================
// Transactions
// ============================================================================

// Tx wraps one admitted transaction and the execution context it drives.
type Tx struct {
	db   *Database
	id   txn.TxID
	mode txn.Mode
}

// IsWrite reports whether this is the single write transaction.
func (t *Tx) IsWrite() bool { return t.mode == txn.ModeWrite }

// Commit ends a read transaction immediately, or durably commits the
// write transaction's WAL record.
func (t *Tx) Commit() error {
	if t.mode == txn.ModeWrite {
		return t.db.coord.CommitWrite(t.id)
	}
	t.db.txns.EndRead(t.id)
	return nil
}

// Rollback ends a read transaction immediately, or discards the write
// transaction's staged catalog/statistics changes and truncates the WAL.
func (t *Tx) Rollback() error {
	if t.mode == txn.ModeWrite {
		return t.db.coord.RollbackWrite(t.id)
	}
	t.db.txns.EndRead(t.id)
	return nil
}

// BeginRead admits a new read transaction.
func (db *Database) BeginRead() (*Tx, error) {
	id, err := db.txns.BeginRead()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransaction, err, "begin read")
	}
	return &Tx{db: db, id: id, mode: txn.ModeRead}, nil
}

// BeginWrite admits the single write transaction. Returns a
// KindTransaction error if one is already active.
func (db *Database) BeginWrite() (*Tx, error) {
	id, err := db.txns.BeginWrite()
	if err != nil {
		return nil, errs.Wrap(errs.KindTransaction, err, "begin write")
	}
	db.catalog.BeginWrite()
	db.stats.BeginWrite()
	return &Tx{db: db, id: id, mode: txn.ModeWrite}, nil
}

func (t *Tx) execState(params map[string]any) *exec.ExecState {
	return &exec.ExecState{
		Txn:     t,
		Params:  params,
		Store:   t.db.store,
		Catalog: t.db.catalog,
		Stats:   t.db.stats,
		TxID:    pager.TxID(t.id),
	}
}

// ============================================================================
// Execute
// ============================================================================

// Execute binds, plans, and runs one already-parsed statement against tx,
// returning every projected row for a query, or nil for a DDL/COPY
// statement that produces no rows.
func (db *Database) Execute(tx *Tx, stmt Statement, params map[string]any) ([]Row, error) {
	b := binder.NewBinder(db.catalog)
	bound, err := b.Bind(stmt)
	if err != nil {
		return nil, err
	}

	switch bs := bound.(type) {
	case *binder.BoundQuery:
		return db.executeQuery(tx, bs, params)

	case *binder.BoundCreateNodeTable:
		collate := db.cfg.PrimaryKeyCollation == config.CollationCaseInsensitive
		_, err := db.catalog.CreateNodeTable(bs.Name, bs.Properties, bs.PrimaryKeyName, collate)
		return nil, err

	case *binder.BoundCreateRelTable:
		_, err := db.catalog.CreateRelTable(bs.Name, bs.Properties, bs.SrcTable.Name, bs.DstTable.Name, bs.Fwd, bs.Bwd)
		return nil, err

	case *binder.BoundDropTable:
		return nil, db.catalog.DropTable(bs.Name)

	case *binder.BoundCopyFrom:
		return nil, db.executeCopyFrom(tx, bs)

	case *binder.BoundCopyTo:
		rows, err := db.executeQuery(tx, bs.Query, params)
		if err != nil {
			return nil, err
		}
		return nil, errs.New(errs.KindExecution, "COPY TO %q: wiring a destination writer for %d rows is left to the caller", bs.Path, len(rows))

	default:
		return nil, errs.New(errs.KindExecution, "unsupported bound statement %T", bound)
	}
}

func (db *Database) executeQuery(tx *Tx, bq *binder.BoundQuery, params map[string]any) ([]Row, error) {
	planner := plan.NewPlanner(db.catalog, db.stats)
	logical, err := planner.Plan(bq)
	if err != nil {
		return nil, err
	}
	op, err := exec.Build(logical, db.catalog)
	if err != nil {
		return nil, err
	}

	state := tx.execState(params)
	if err := op.Open(state); err != nil {
		return nil, err
	}
	defer op.Close()

	var rows []Row
	for {
		row, ok, err := op.GetNextTuple(state)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// executeCopyFrom drives the bulk loader's node/rel copier directly
// against the bound COPY FROM statement, bypassing the pull-based executor
// entirely — the loader's parallel two-pass pipeline has no equivalent in
// the Operator tree and is never meant to run one row at a time.
//
// Only the single whole-row CSV file form is wired up; a by-column,
// multi-file source has no RecordBatchSource implementation to hand the
// copier (the loader's CSVSource reads one path covering every column).
func (db *Database) executeCopyFrom(tx *Tx, bs *binder.BoundCopyFrom) error {
	if !tx.IsWrite() {
		return errs.New(errs.KindTransaction, "COPY FROM requires the write transaction")
	}
	if bs.ByColumn || len(bs.FilePaths) != 1 {
		return errs.New(errs.KindCopy, "COPY FROM %q: only a single whole-row file is supported", bs.TableName)
	}
	desc := loader.CopyDescription{
		TableName: bs.TableName,
		Path:      bs.FilePaths[0],
		HasHeader: bs.Csv.HasHeader,
		Delimiter: bs.Csv.Delimiter,
	}
	sched := loader.NewTaskScheduler(db.cfg.MaxThreads)

	if bs.IsNodeTable {
		schema, ok := db.catalog.GetNodeTable(bs.TableName)
		if !ok {
			return errs.UnresolvedTable(bs.TableName)
		}
		copier := loader.NewNodeCopier(db.pager, db.cfg.DataDir, schema, db.stats, sched)
		src, err := loader.OpenCSVSource(desc)
		if err != nil {
			return errs.Wrap(errs.KindCopy, err, "open CSV source")
		}
		_, err = copier.Load(src, desc)
		return err
	}

	schema, ok := db.catalog.GetRelTable(bs.TableName)
	if !ok {
		return errs.UnresolvedTable(bs.TableName)
	}
	srcTable, _ := db.catalog.GetNodeTableByID(schema.SrcTableID)
	dstTable, _ := db.catalog.GetNodeTableByID(schema.DstTableID)
	srcStats, _ := db.stats.Get(srcTable.TableID, true)
	dstStats, _ := db.stats.Get(dstTable.TableID, true)

	srcPK, err := db.buildPrimaryKeyIndex(srcTable, srcStats.NumTuples)
	if err != nil {
		return errs.Wrap(errs.KindCopy, err, "build src primary key index")
	}
	dstPK, err := db.buildPrimaryKeyIndex(dstTable, dstStats.NumTuples)
	if err != nil {
		return errs.Wrap(errs.KindCopy, err, "build dst primary key index")
	}
	copier := loader.NewRelCopier(db.pager, db.cfg.DataDir, schema, db.stats, sched, srcPK, dstPK, srcStats.NumTuples, dstStats.NumTuples)
	src, err := loader.OpenCSVSource(desc)
	if err != nil {
		return errs.Wrap(errs.KindCopy, err, "open CSV source")
	}
	_, err = copier.Load(src, desc)
	return err
}

// buildPrimaryKeyIndex replays an already-loaded node table's primary key
// column into a fresh in-memory hash index, the same way NewNodeCopier
// builds one during its own pass 1 (insertPrimaryKey), so that a COPY FROM
// for a rel table run in a later transaction than its endpoints can still
// resolve primary keys to node offsets without re-reading the CSV source
// that originally populated them.
func (db *Database) buildPrimaryKeyIndex(schema *catalog.NodeTableSchema, numRows uint64) (*pager.HashIndexBuilder, error) {
	pk, ok := schema.PrimaryKeyProperty()
	if !ok {
		return nil, errs.New(errs.KindCopy, "table %q has no primary key", schema.Name)
	}
	kind := pager.HashKeyInt64
	if pk.Type == catalog.TypeString {
		kind = pager.HashKeyString
	}
	idx := pager.NewHashIndexBuilder(db.pager.PageSize(), kind, schema.Collation)
	for n := uint64(0); n < numRows; n++ {
		v, err := db.store.ReadNodeProperty(schema, pk, n)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		idx.Insert([]byte(fmt.Sprintf("%v", v)), n)
	}
	return idx, nil
}
