package txn

import (
	"log"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/pager"
)

// Coordinator drives commit, checkpoint, and rollback against a Manager, a
// Pager, and the catalog/statistics managers, implementing spec.md §4.9's
// sequencing: WAL commit record → (optional) checkpoint quiescence → flush
// dirty pages → promote catalog/statistics shadows → truncate WAL.
type Coordinator struct {
	txns    *Manager
	pager   *pager.Pager
	catalog *catalog.Manager
	stats   *catalog.StatisticsManager

	mu         sync.Mutex
	dirtyFiles map[pager.FileHandle]struct{}

	cronSched *cron.Cron
}

// NewCoordinator wires a Manager to the pager and catalog/statistics
// managers it must drive at commit/checkpoint time.
func NewCoordinator(txns *Manager, p *pager.Pager, cat *catalog.Manager, stats *catalog.StatisticsManager) *Coordinator {
	return &Coordinator{
		txns:       txns,
		pager:      p,
		catalog:    cat,
		stats:      stats,
		dirtyFiles: make(map[pager.FileHandle]struct{}),
	}
}

// NoteDirtyFile records that fh received writes under the current write
// transaction, so Checkpoint knows which files to flush.
func (c *Coordinator) NoteDirtyFile(fh pager.FileHandle) {
	c.mu.Lock()
	c.dirtyFiles[fh] = struct{}{}
	c.mu.Unlock()
}

// CommitWrite appends the WAL COMMIT record for id, durably ending the
// transaction without necessarily checkpointing (deferred flush, per
// spec.md §4.1/§4.9 — dirty pages stay cached until the next checkpoint).
func (c *Coordinator) CommitWrite(id TxID) error {
	if _, err := c.pager.WAL().AppendRecord(&pager.WALRecord{Type: pager.WALRecordCommit, TxID: pager.TxID(id)}); err != nil {
		return errors.Wrap(err, "txn: append commit record")
	}
	if err := c.pager.WAL().Sync(); err != nil {
		return errors.Wrap(err, "txn: sync WAL after commit")
	}
	c.txns.EndWrite(id)
	return nil
}

// RollbackWrite discards the write transaction's staged catalog/statistics
// changes and truncates the WAL back to its last durable point (rollback
// by discard, since nothing beyond the WAL was ever made visible).
func (c *Coordinator) RollbackWrite(id TxID) error {
	c.catalog.Rollback()
	c.stats.Rollback()
	if err := c.pager.WAL().Truncate(); err != nil {
		return errors.Wrap(err, "txn: truncate WAL on rollback")
	}
	c.txns.EndWrite(id)
	return nil
}

// Checkpoint implements spec.md §4.9: quiesce all transactions, flush every
// dirty file, promote the catalog/statistics shadow files, then truncate
// the WAL and resume admitting new transactions.
func (c *Coordinator) Checkpoint() error {
	runID := uuid.New()
	c.txns.quiesce()
	defer c.txns.resume()

	c.mu.Lock()
	files := make([]pager.FileHandle, 0, len(c.dirtyFiles))
	for fh := range c.dirtyFiles {
		files = append(files, fh)
	}
	c.dirtyFiles = make(map[pager.FileHandle]struct{})
	c.mu.Unlock()

	for _, fh := range files {
		if err := c.pager.Flush(fh); err != nil {
			return errors.Wrap(err, "txn: checkpoint flush")
		}
	}

	log.Printf("vgdb: checkpoint %s flushed %d files (~%s)", runID, len(files),
		humanize.Bytes(uint64(len(files)*c.pager.PageSize())))

	if c.catalog.HasUpdates() {
		if err := c.catalog.WriteShadow(); err != nil {
			return errors.Wrap(err, "txn: write catalog shadow")
		}
		if _, err := c.pager.WAL().AppendRecord(&pager.WALRecord{Type: pager.WALRecordCatalog}); err != nil {
			return errors.Wrap(err, "txn: log catalog record")
		}
		if err := c.catalog.PromoteShadow(); err != nil {
			return errors.Wrap(err, "txn: promote catalog shadow")
		}
	}

	for _, isNode := range []bool{true, false} {
		if err := c.stats.WriteShadow(isNode); err != nil {
			return errors.Wrap(err, "txn: write statistics shadow")
		}
		if _, err := c.pager.WAL().AppendRecord(&pager.WALRecord{
			Type: pager.WALRecordTableStatistics,
			Data: pager.EncodeIsNodeTable(isNode),
		}); err != nil {
			return errors.Wrap(err, "txn: log statistics record")
		}
		if err := c.stats.PromoteShadow(isNode); err != nil {
			return errors.Wrap(err, "txn: promote statistics shadow")
		}
	}

	return c.pager.WAL().Truncate()
}

// StartAutoCheckpoint schedules Checkpoint to run on a cron expression
// (e.g. "@every 5m"), returning a stop function. Errors from a scheduled
// checkpoint are logged rather than surfaced, matching the teacher's
// fire-and-forget scheduled-job style — there is no caller left to return
// an error to once cron has taken over.
func (c *Coordinator) StartAutoCheckpoint(spec string) (stop func(), err error) {
	loc, _ := time.LoadLocation("UTC")
	sched := cron.New(cron.WithLocation(loc))
	_, err = sched.AddFunc(spec, func() {
		if err := c.Checkpoint(); err != nil {
			log.Printf("vgdb: auto-checkpoint failed: %v", err)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "txn: schedule auto-checkpoint")
	}
	c.cronSched = sched
	sched.Start()
	return func() {
		ctx := sched.Stop()
		<-ctx.Done()
	}, nil
}
