package txn

import (
	"path/filepath"
	"testing"

	"github.com/vaultgraph/vgdb/internal/catalog"
	"github.com/vaultgraph/vgdb/internal/pager"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *pager.Pager, pager.FileHandle) {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.OpenPager(pager.PagerConfig{PageSize: pager.DefaultPageSize, MaxCachePages: 8}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Close() })
	fh, _, err := p.OpenFile(filepath.Join(dir, "nodes.col"))
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.NewManager(filepath.Join(dir, "catalog.yaml"))
	stats := catalog.NewStatisticsManager(filepath.Join(dir, "node.stats"), filepath.Join(dir, "rel.stats"))
	txns := NewManager()
	return NewCoordinator(txns, p, cat, stats), p, fh
}

func TestCommitWritePersistsCommitRecord(t *testing.T) {
	c, p, _ := newTestCoordinator(t)
	id, err := c.txns.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.CommitWrite(id); err != nil {
		t.Fatal(err)
	}
	records, err := pager.ReadAllRecords(p.WAL().Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Type != pager.WALRecordCommit {
		t.Fatalf("expected a single COMMIT record, got %+v", records)
	}
	if _, active := c.txns.ActiveWriteTx(); active {
		t.Fatal("expected the write transaction to be released after commit")
	}
}

func TestCheckpointFlushesAndTruncatesWAL(t *testing.T) {
	c, p, fh := newTestCoordinator(t)
	id, err := c.txns.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	pid, ref, err := p.AddNewPage(fh, pager.PageTypeColumnData)
	if err != nil {
		t.Fatal(err)
	}
	copy(ref.Data[pager.PageHeaderSize:], []byte("checkpoint me"))
	if err := p.Unpin(pager.TxID(id), ref, true); err != nil {
		t.Fatal(err)
	}
	c.NoteDirtyFile(fh)
	if err := c.CommitWrite(id); err != nil {
		t.Fatal(err)
	}

	if err := c.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	direct, err := p.ReadPageDirect(fh, pid)
	if err != nil {
		t.Fatal(err)
	}
	if string(direct[pager.PageHeaderSize:pager.PageHeaderSize+len("checkpoint me")]) != "checkpoint me" {
		t.Fatal("expected checkpoint to flush the dirty page to disk")
	}

	records, err := pager.ReadAllRecords(p.WAL().Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected checkpoint to truncate the WAL, got %d records", len(records))
	}
}

func TestRollbackWriteDiscardsStagedCatalog(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	id, err := c.txns.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	c.catalog.BeginWrite()
	if _, err := c.catalog.CreateNodeTable("Person", nil, "id", false); err != nil {
		t.Fatal(err)
	}
	if err := c.RollbackWrite(id); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.catalog.GetNodeTable("Person"); ok {
		t.Fatal("expected rolled-back catalog changes to not be visible")
	}
}
