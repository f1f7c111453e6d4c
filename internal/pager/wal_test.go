package pager

import (
	"path/filepath"
	"testing"
)

func TestWALAppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")
	wf, err := OpenWALFile(path, DefaultPageSize)
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}

	page := NewPage(DefaultPageSize, PageTypeColumnData, 5)
	if _, err := wf.AppendRecord(&WALRecord{Type: WALRecordBegin, TxID: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := wf.AppendRecord(&WALRecord{Type: WALRecordPageUpdate, TxID: 1, FileHandle: 3, PageID: 5, Data: page}); err != nil {
		t.Fatal(err)
	}
	if _, err := wf.AppendRecord(&WALRecord{Type: WALRecordCommit, TxID: 1}); err != nil {
		t.Fatal(err)
	}
	if err := wf.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := wf.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := ReadAllRecords(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Type != WALRecordBegin {
		t.Fatalf("record 0 type = %v", records[0].Type)
	}
	if records[1].Type != WALRecordPageUpdate || len(records[1].Data) != DefaultPageSize {
		t.Fatalf("record 1 unexpected: type=%v datalen=%d", records[1].Type, len(records[1].Data))
	}
	if records[2].Type != WALRecordCommit {
		t.Fatalf("record 2 type = %v", records[2].Type)
	}
}

func TestWALReopenValidatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.wal")
	wf, err := OpenWALFile(path, DefaultPageSize)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wf.AppendRecord(&WALRecord{Type: WALRecordCommit, TxID: 9}); err != nil {
		t.Fatal(err)
	}
	wf.Close()

	wf2, err := OpenWALFile(path, DefaultPageSize)
	if err != nil {
		t.Fatalf("reopen with matching page size: %v", err)
	}
	wf2.Close()

	if _, err := OpenWALFile(path, DefaultPageSize*2); err == nil {
		t.Fatal("expected page-size mismatch to be rejected")
	}
}

func TestWALTruncateResetsToHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.wal")
	wf, err := OpenWALFile(path, DefaultPageSize)
	if err != nil {
		t.Fatal(err)
	}
	wf.AppendRecord(&WALRecord{Type: WALRecordCommit, TxID: 1})
	if err := wf.Truncate(); err != nil {
		t.Fatal(err)
	}
	wf.Close()

	records, err := ReadAllRecords(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty WAL after truncate, got %d records", len(records))
	}
}

func TestReadAllRecordsDropsTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.wal")
	wf, err := OpenWALFile(path, DefaultPageSize)
	if err != nil {
		t.Fatal(err)
	}
	wf.AppendRecord(&WALRecord{Type: WALRecordBegin, TxID: 1})
	wf.AppendRecord(&WALRecord{Type: WALRecordPageUpdate, TxID: 1, PageID: 2, Data: []byte("abc")})
	wf.Close()

	// Simulate a crash mid-append by chopping off the tail of the second
	// record's bytes.
	truncateFile(t, path, 8)

	records, err := ReadAllRecords(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the torn record to be dropped, got %d records", len(records))
	}
}
