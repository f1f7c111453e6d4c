package pager

import (
	"fmt"
	"os"
	"sync"
)

// FileHandle addresses one of the several physical files a table owns
// (column file, overflow file, adjacency list file, hash index, …). The
// buffer pool is shared across every FileHandle opened through a Pager so
// that a single bufferPoolBytes budget governs the whole database.
type FileHandle uint32

// PinMode selects read or write access for Pin.
type PinMode uint8

const (
	PinRead PinMode = iota
	PinWrite
)

type frameKey struct {
	fh  FileHandle
	pid PageID
}

// PageFrame is an in-memory cached page.
type PageFrame struct {
	key    frameKey
	buf    []byte
	dirty  bool
	lsn    LSN
	pinned int
	prev   *PageFrame
	next   *PageFrame
}

// FrameRef is a pinned handle to a page's bytes. Callers must Unpin it.
type FrameRef struct {
	fh   FileHandle
	pid  PageID
	Data []byte
}

// bufferPool is an LRU cache of pinned/unpinned page frames, keyed by
// (FileHandle, PageID) so pages from every open file share one eviction
// budget.
type bufferPool struct {
	mu       sync.Mutex
	maxPages int
	frames   map[frameKey]*PageFrame
	head     *PageFrame
	tail     *PageFrame
}

func newBufferPool(maxPages int) *bufferPool {
	if maxPages <= 0 {
		maxPages = 1024
	}
	return &bufferPool{maxPages: maxPages, frames: make(map[frameKey]*PageFrame, maxPages)}
}

func (bp *bufferPool) get(k frameKey) (*PageFrame, bool) {
	f, ok := bp.frames[k]
	if ok {
		bp.moveToFront(f)
	}
	return f, ok
}

func (bp *bufferPool) put(f *PageFrame) bool {
	if _, exists := bp.frames[f.key]; exists {
		bp.moveToFront(f)
		return true
	}
	for len(bp.frames) >= bp.maxPages {
		if !bp.evictOne() {
			return false
		}
	}
	bp.frames[f.key] = f
	bp.pushFront(f)
	return true
}

func (bp *bufferPool) evictOne() bool {
	for f := bp.tail; f != nil; f = f.prev {
		if f.pinned == 0 {
			bp.unlink(f)
			delete(bp.frames, f.key)
			return true
		}
	}
	return false
}

func (bp *bufferPool) dirtyFrames(fh FileHandle) []*PageFrame {
	var out []*PageFrame
	for _, f := range bp.frames {
		if f.key.fh == fh && f.dirty {
			out = append(out, f)
		}
	}
	return out
}

func (bp *bufferPool) pushFront(f *PageFrame) {
	f.prev = nil
	f.next = bp.head
	if bp.head != nil {
		bp.head.prev = f
	}
	bp.head = f
	if bp.tail == nil {
		bp.tail = f
	}
}

func (bp *bufferPool) unlink(f *PageFrame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		bp.head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else {
		bp.tail = f.prev
	}
	f.prev, f.next = nil, nil
}

func (bp *bufferPool) moveToFront(f *PageFrame) {
	bp.unlink(f)
	bp.pushFront(f)
}

// ───────────────────────────────────────────────────────────────────────────
// Pager
// ───────────────────────────────────────────────────────────────────────────

// PagerConfig configures a Pager.
type PagerConfig struct {
	PageSize      int
	MaxCachePages int
}

// openFile tracks one physical file registered under a FileHandle.
type openFile struct {
	f        *os.File
	path     string
	pageSize int
	nextPID  PageID
	freeMgr  *FreeManager
}

// Pager is the shared buffer manager + WAL front-end for every on-disk
// structure in a database directory. Exactly one Pager exists per open
// database (see internal/txn and the top-level façade).
type Pager struct {
	mu       sync.RWMutex
	pageSize int
	pool     *bufferPool
	wal      *WALFile
	files    map[FileHandle]*openFile
	nextFH   FileHandle
	byPath   map[string]FileHandle
}

// OpenPager creates a Pager rooted at walPath. Individual data files are
// registered lazily via OpenFile.
func OpenPager(cfg PagerConfig, walPath string) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("pager: invalid page size %d", ps)
	}
	wf, err := OpenWALFile(walPath, ps)
	if err != nil {
		return nil, &IOError{Op: "open WAL", Err: err}
	}
	p := &Pager{
		pageSize: ps,
		pool:     newBufferPool(cfg.MaxCachePages),
		wal:      wf,
		files:    make(map[FileHandle]*openFile),
		byPath:   make(map[string]FileHandle),
	}
	return p, nil
}

// OpenFile registers (creating if necessary) a data file and returns its
// FileHandle. isNew reports whether the file was just created.
func (p *Pager) OpenFile(path string) (fh FileHandle, isNew bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.byPath[path]; ok {
		return existing, false, nil
	}

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		isNew = true
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, false, &IOError{Op: "open file " + path, Err: err}
	}

	p.nextFH++
	fh = p.nextFH
	of := &openFile{f: f, path: path, pageSize: p.pageSize, freeMgr: NewFreeManager()}

	if isNew {
		sbBuf := NewPage(p.pageSize, PageTypeSuperblock, 0)
		if _, werr := f.WriteAt(sbBuf, 0); werr != nil {
			f.Close()
			return 0, false, &IOError{Op: "init superblock", Err: werr}
		}
		of.nextPID = 1
	} else {
		hdr := make([]byte, PageHeaderSize)
		if _, rerr := f.ReadAt(hdr, 0); rerr != nil {
			f.Close()
			return 0, false, &IOError{Op: "read superblock", Err: rerr}
		}
		info, serr := f.Stat()
		if serr != nil {
			f.Close()
			return 0, false, &IOError{Op: "stat " + path, Err: serr}
		}
		of.nextPID = PageID(info.Size() / int64(p.pageSize))
		if of.nextPID < 1 {
			of.nextPID = 1
		}
	}

	p.files[fh] = of
	p.byPath[path] = fh
	return fh, isNew, nil
}

func (p *Pager) file(fh FileHandle) (*openFile, error) {
	of, ok := p.files[fh]
	if !ok {
		return nil, fmt.Errorf("pager: unknown file handle %d", fh)
	}
	return of, nil
}

func (p *Pager) readPageRaw(of *openFile, id PageID) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)
	if _, err := of.f.ReadAt(buf, off); err != nil {
		return nil, &IOError{Op: fmt.Sprintf("read page %d of %s", id, of.path), Err: err}
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *Pager) writePageRaw(of *openFile, id PageID, buf []byte) error {
	SetPageCRC(buf)
	off := int64(id) * int64(p.pageSize)
	if _, err := of.f.WriteAt(buf, off); err != nil {
		return &IOError{Op: fmt.Sprintf("write page %d of %s", id, of.path), Err: err}
	}
	return nil
}

// Pin reads (or fetches from cache) a page and pins it in the buffer pool.
// Callers must call Unpin exactly once per successful Pin.
func (p *Pager) Pin(fh FileHandle, id PageID, mode PinMode) (*FrameRef, error) {
	p.mu.RLock()
	of, err := p.file(fh)
	p.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	k := frameKey{fh, id}
	p.pool.mu.Lock()
	if f, ok := p.pool.get(k); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return &FrameRef{fh: fh, pid: id, Data: f.buf}, nil
	}
	p.pool.mu.Unlock()

	buf, err := p.readPageRaw(of, id)
	if err != nil {
		return nil, err
	}
	f := &PageFrame{key: k, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	if !p.pool.put(f) {
		p.pool.mu.Unlock()
		return nil, &BufferPoolExhaustedError{}
	}
	p.pool.mu.Unlock()
	return &FrameRef{fh: fh, pid: id, Data: buf}, nil
}

// Unpin releases a pin acquired by Pin. If dirty is true, the page image is
// logged to the WAL before being marked dirty in the cache (deferred flush
// to checkpoint).
func (p *Pager) Unpin(txID TxID, ref *FrameRef, dirty bool) error {
	if dirty {
		rec := &WALRecord{Type: WALRecordPageUpdate, TxID: txID, FileHandle: ref.fh, PageID: ref.pid, Data: append([]byte{}, ref.Data...)}
		lsn, err := p.wal.AppendRecord(rec)
		if err != nil {
			return &IOError{Op: "WAL append page update", Err: err}
		}
		p.pool.mu.Lock()
		if f, ok := p.pool.get(frameKey{ref.fh, ref.pid}); ok {
			f.dirty = true
			f.lsn = lsn
		}
		p.pool.mu.Unlock()
	}
	p.pool.mu.Lock()
	if f, ok := p.pool.get(frameKey{ref.fh, ref.pid}); ok && f.pinned > 0 {
		f.pinned--
	}
	p.pool.mu.Unlock()
	return nil
}

// AddNewPage allocates a new page (from the file's free list or by
// extending the file) and returns it pinned with a zeroed buffer.
func (p *Pager) AddNewPage(fh FileHandle, pt PageType) (PageID, *FrameRef, error) {
	p.mu.Lock()
	of, err := p.file(fh)
	if err != nil {
		p.mu.Unlock()
		return 0, nil, err
	}
	pid := of.freeMgr.Alloc()
	if pid == InvalidPageID {
		pid = of.nextPID
		of.nextPID++
	}
	p.mu.Unlock()

	buf := NewPage(p.pageSize, pt, pid)
	f := &PageFrame{key: frameKey{fh, pid}, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	ok := p.pool.put(f)
	p.pool.mu.Unlock()
	if !ok {
		return 0, nil, &BufferPoolExhaustedError{}
	}
	return pid, &FrameRef{fh: fh, pid: pid, Data: buf}, nil
}

// FreePage returns a page to its file's free list.
func (p *Pager) FreePage(fh FileHandle, pid PageID) {
	p.mu.Lock()
	of, err := p.file(fh)
	if err == nil {
		of.freeMgr.Free(pid)
	}
	p.mu.Unlock()
	p.pool.mu.Lock()
	delete(p.pool.frames, frameKey{fh, pid})
	p.pool.mu.Unlock()
}

// Flush forces every dirty page of fh to disk, bypassing the WAL. Used only
// by the checkpoint/recovery path, which has already made the WAL durable.
func (p *Pager) Flush(fh FileHandle) error {
	p.mu.RLock()
	of, err := p.file(fh)
	p.mu.RUnlock()
	if err != nil {
		return err
	}
	p.pool.mu.Lock()
	dirty := p.pool.dirtyFrames(fh)
	for _, f := range dirty {
		if werr := p.writePageRaw(of, f.key.pid, f.buf); werr != nil {
			p.pool.mu.Unlock()
			return werr
		}
		f.dirty = false
	}
	p.pool.mu.Unlock()
	return of.f.Sync()
}

// PageSize returns the configured page size shared by every file.
func (p *Pager) PageSize() int { return p.pageSize }

// WAL returns the pager's write-ahead log (see internal/txn for its use in
// commit/checkpoint/rollback).
func (p *Pager) WAL() *WALFile { return p.wal }

// Close flushes every registered file and closes all file descriptors.
func (p *Pager) Close() error {
	// Flush takes p.mu itself, so iterate over a snapshot taken under the lock.
	p.mu.Lock()
	files := make(map[FileHandle]*openFile, len(p.files))
	for fh, of := range p.files {
		files[fh] = of
	}
	p.mu.Unlock()
	var firstErr error
	for fh, of := range files {
		if err := p.Flush(fh); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := of.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ReadPageDirect reads a page bypassing the cache; used by recovery, which
// runs before any Pin/Unpin traffic exists.
func (p *Pager) ReadPageDirect(fh FileHandle, id PageID) ([]byte, error) {
	p.mu.RLock()
	of, err := p.file(fh)
	p.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return p.readPageRaw(of, id)
}

// WritePageDirect writes a page bypassing the cache and the WAL; used only
// by recovery/checkpoint, which are themselves the durability boundary.
func (p *Pager) WritePageDirect(fh FileHandle, id PageID, buf []byte) error {
	p.mu.RLock()
	of, err := p.file(fh)
	p.mu.RUnlock()
	if err != nil {
		return err
	}
	return p.writePageRaw(of, id, buf)
}

// FileHandleByPath returns the handle registered for path, if any.
func (p *Pager) FileHandleByPath(path string) (FileHandle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fh, ok := p.byPath[path]
	return fh, ok
}

// SyncFile fsyncs a single registered file.
func (p *Pager) SyncFile(fh FileHandle) error {
	p.mu.RLock()
	of, err := p.file(fh)
	p.mu.RUnlock()
	if err != nil {
		return err
	}
	return of.f.Sync()
}
