package pager

import (
	"path/filepath"
	"testing"
)

func newTestPager(t *testing.T) *Pager {
	t.Helper()
	dir := t.TempDir()
	p, err := OpenPager(PagerConfig{PageSize: DefaultPageSize, MaxCachePages: 8}, filepath.Join(dir, "test.wal"))
	if err != nil {
		t.Fatalf("OpenPager: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPagerOpenFileCreatesSuperblock(t *testing.T) {
	p := newTestPager(t)
	fh, isNew, err := p.OpenFile(filepath.Join(t.TempDir(), "nodes.col"))
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Fatal("expected freshly created file")
	}
	if fh == 0 {
		t.Fatal("expected a non-zero file handle")
	}
}

func TestPagerAddNewPagePinUnpinRoundTrip(t *testing.T) {
	p := newTestPager(t)
	fh, _, err := p.OpenFile(filepath.Join(t.TempDir(), "data.col"))
	if err != nil {
		t.Fatal(err)
	}

	pid, ref, err := p.AddNewPage(fh, PageTypeColumnData)
	if err != nil {
		t.Fatal(err)
	}
	copy(ref.Data[PageHeaderSize:], []byte("payload"))
	if err := p.Unpin(1, ref, true); err != nil {
		t.Fatal(err)
	}

	ref2, err := p.Pin(fh, pid, PinRead)
	if err != nil {
		t.Fatal(err)
	}
	if string(ref2.Data[PageHeaderSize:PageHeaderSize+7]) != "payload" {
		t.Fatalf("unexpected payload after pin: %q", ref2.Data[PageHeaderSize:PageHeaderSize+7])
	}
	if err := p.Unpin(1, ref2, false); err != nil {
		t.Fatal(err)
	}
}

func TestPagerFlushPersistsDirtyPages(t *testing.T) {
	p := newTestPager(t)
	path := filepath.Join(t.TempDir(), "flush.col")
	fh, _, err := p.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pid, ref, err := p.AddNewPage(fh, PageTypeColumnData)
	if err != nil {
		t.Fatal(err)
	}
	copy(ref.Data[PageHeaderSize:], []byte("on disk"))
	if err := p.Unpin(1, ref, true); err != nil {
		t.Fatal(err)
	}
	if err := p.Flush(fh); err != nil {
		t.Fatal(err)
	}

	direct, err := p.ReadPageDirect(fh, pid)
	if err != nil {
		t.Fatal(err)
	}
	if string(direct[PageHeaderSize:PageHeaderSize+7]) != "on disk" {
		t.Fatalf("expected flushed payload on disk, got %q", direct[PageHeaderSize:PageHeaderSize+7])
	}
}

func TestBufferPoolEvictsLRUWhenFull(t *testing.T) {
	bp := newBufferPool(2)
	f1 := &PageFrame{key: frameKey{1, 1}, buf: []byte{1}}
	f2 := &PageFrame{key: frameKey{1, 2}, buf: []byte{2}}
	f3 := &PageFrame{key: frameKey{1, 3}, buf: []byte{3}}

	if !bp.put(f1) || !bp.put(f2) {
		t.Fatal("expected first two frames to fit")
	}
	if !bp.put(f3) {
		t.Fatal("expected eviction to make room for a third frame")
	}
	if _, ok := bp.get(frameKey{1, 1}); ok {
		t.Fatal("expected the least-recently-used frame (1) to be evicted")
	}
	if _, ok := bp.get(frameKey{1, 3}); !ok {
		t.Fatal("expected the newest frame to remain cached")
	}
}

func TestBufferPoolRefusesEvictionWhenAllPinned(t *testing.T) {
	bp := newBufferPool(1)
	f1 := &PageFrame{key: frameKey{1, 1}, buf: []byte{1}, pinned: 1}
	if !bp.put(f1) {
		t.Fatal("expected the first frame to fit")
	}
	f2 := &PageFrame{key: frameKey{1, 2}, buf: []byte{2}, pinned: 1}
	if bp.put(f2) {
		t.Fatal("expected put to fail: pool full and the only frame is pinned")
	}
}
