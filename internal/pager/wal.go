package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// WAL file format
// ───────────────────────────────────────────────────────────────────────────
//
// The WAL is an append-only file of self-delimited, CRC-framed records
// (spec.md §3/§4.2). Durability is established only by fsync in
// WALFile.Sync; a WAL is "committed" iff its last record is COMMIT.
//
// WAL file header (first 32 bytes):
//   [0:8]   Magic       "VGDBWAL\x00"
//   [8:12]  Version     uint32 LE
//   [12:16] PageSize    uint32 LE
//   [16:24] Reserved    8 bytes
//   [24:28] HeaderCRC   uint32 LE (CRC of bytes 0:24)
//   [28:32] Padding
//
// WAL record (variable length, follows the header):
//   [0]     RecordType   (1 byte)
//   [1:5]   FileHandle   (uint32 LE) — 0 for records with no associated file
//   [5:13]  LSN          (uint64 LE)
//   [13:21] TxID         (uint64 LE)
//   [21:25] PageID       (uint32 LE) — only meaningful for PAGE_UPDATE
//   [25:29] DataLen      (uint32 LE)
//   [29:33] RecordCRC    (uint32 LE)
//   [33:33+DataLen] Data

const (
	WALMagic       = "VGDBWAL\x00"
	WALVersion     = uint32(1)
	WALFileHdrSize = 32
	WALRecHdrSize  = 33
)

// WALRecordType identifies the kind of WAL record, per spec.md §4.2's contract:
// logPageUpdate, logCommit, logCatalog, logTableStatistics, logCopyNode,
// logCopyRel.
type WALRecordType uint8

const (
	WALRecordBegin           WALRecordType = 0x01
	WALRecordPageUpdate      WALRecordType = 0x02
	WALRecordCommit          WALRecordType = 0x03
	WALRecordAbort           WALRecordType = 0x04
	WALRecordCheckpoint      WALRecordType = 0x05
	WALRecordCatalog         WALRecordType = 0x06
	WALRecordTableStatistics WALRecordType = 0x07
	WALRecordCopyNode        WALRecordType = 0x08
	WALRecordCopyRel         WALRecordType = 0x09
)

func (rt WALRecordType) String() string {
	switch rt {
	case WALRecordBegin:
		return "BEGIN"
	case WALRecordPageUpdate:
		return "PAGE_UPDATE"
	case WALRecordCommit:
		return "COMMIT"
	case WALRecordAbort:
		return "ABORT"
	case WALRecordCheckpoint:
		return "CHECKPOINT"
	case WALRecordCatalog:
		return "CATALOG"
	case WALRecordTableStatistics:
		return "TABLE_STATISTICS"
	case WALRecordCopyNode:
		return "COPY_NODE"
	case WALRecordCopyRel:
		return "COPY_REL"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(rt))
	}
}

// WALRecord is an in-memory representation of one WAL record.
type WALRecord struct {
	Type       WALRecordType
	LSN        LSN
	TxID       TxID
	FileHandle FileHandle
	PageID     PageID
	// Data holds the page image for PAGE_UPDATE, a single byte (0/1,
	// isNodeTable) for TABLE_STATISTICS, a little-endian table id for
	// COPY_NODE/COPY_REL, and is empty for BEGIN/COMMIT/ABORT/CHECKPOINT/
	// CATALOG.
	Data []byte
}

// WALFile manages the append-only on-disk WAL.
type WALFile struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	pageSize int
	nextLSN  LSN
	writePos int64
}

// OpenWALFile opens or creates a WAL file, validating its header if it
// already exists.
func OpenWALFile(path string, pageSize int) (*WALFile, error) {
	exists := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		exists = false
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}
	wf := &WALFile{f: f, path: path, pageSize: pageSize, nextLSN: 1}
	if exists {
		if err := wf.validateHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := wf.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	endPos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek WAL end: %w", err)
	}
	wf.writePos = endPos
	return wf, nil
}

func (wf *WALFile) writeHeader() error {
	var hdr [WALFileHdrSize]byte
	copy(hdr[0:8], WALMagic)
	binary.LittleEndian.PutUint32(hdr[8:12], WALVersion)
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(wf.pageSize))
	c := crc32.Checksum(hdr[:24], crcTable)
	binary.LittleEndian.PutUint32(hdr[24:28], c)
	if _, err := wf.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("write WAL header: %w", err)
	}
	return wf.f.Sync()
}

func (wf *WALFile) validateHeader() error {
	var hdr [WALFileHdrSize]byte
	n, err := wf.f.ReadAt(hdr[:], 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read WAL header: %w", err)
	}
	if n < WALFileHdrSize {
		return &CorruptionError{Detail: fmt.Sprintf("WAL header too short: %d bytes", n)}
	}
	if string(hdr[0:8]) != WALMagic {
		return &CorruptionError{Detail: "bad WAL magic"}
	}
	if ver := binary.LittleEndian.Uint32(hdr[8:12]); ver != WALVersion {
		return &CorruptionError{Detail: fmt.Sprintf("unsupported WAL version %d", ver)}
	}
	if ps := binary.LittleEndian.Uint32(hdr[12:16]); int(ps) != wf.pageSize {
		return &CorruptionError{Detail: fmt.Sprintf("WAL page size %d != expected %d", ps, wf.pageSize)}
	}
	stored := binary.LittleEndian.Uint32(hdr[24:28])
	if computed := crc32.Checksum(hdr[:24], crcTable); stored != computed {
		return &CorruptionError{Detail: "WAL header CRC mismatch"}
	}
	return nil
}

// AppendRecord writes rec and assigns it a monotonic LSN.
func (wf *WALFile) AppendRecord(rec *WALRecord) (LSN, error) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	lsn := wf.nextLSN
	wf.nextLSN++
	rec.LSN = lsn
	data := marshalWALRecord(rec)
	n, err := wf.f.WriteAt(data, wf.writePos)
	if err != nil {
		return 0, fmt.Errorf("WAL append: %w", err)
	}
	wf.writePos += int64(n)
	return lsn, nil
}

// Sync fsyncs the WAL file. Per spec.md §4.2, records are only durable once
// this has been called.
func (wf *WALFile) Sync() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Sync()
}

// Close closes the WAL file.
func (wf *WALFile) Close() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.f.Close()
}

// Truncate resets the WAL to just its header, used after a checkpoint or a
// rollback-by-discard.
func (wf *WALFile) Truncate() error {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	if err := wf.f.Truncate(WALFileHdrSize); err != nil {
		return err
	}
	wf.writePos = WALFileHdrSize
	return wf.f.Sync()
}

// NextLSN returns the LSN that will be assigned to the next appended record.
func (wf *WALFile) NextLSN() LSN {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	return wf.nextLSN
}

// SetNextLSN lets recovery rebase the LSN counter past replayed records.
func (wf *WALFile) SetNextLSN(lsn LSN) {
	wf.mu.Lock()
	defer wf.mu.Unlock()
	wf.nextLSN = lsn
}

// Path returns the WAL's file path.
func (wf *WALFile) Path() string { return wf.path }

// ───────────────────────────────────────────────────────────────────────────
// Serialization
// ───────────────────────────────────────────────────────────────────────────

func marshalWALRecord(rec *WALRecord) []byte {
	dataLen := len(rec.Data)
	buf := make([]byte, WALRecHdrSize+dataLen)
	buf[0] = byte(rec.Type)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(rec.FileHandle))
	binary.LittleEndian.PutUint64(buf[5:13], uint64(rec.LSN))
	binary.LittleEndian.PutUint64(buf[13:21], uint64(rec.TxID))
	binary.LittleEndian.PutUint32(buf[21:25], uint32(rec.PageID))
	binary.LittleEndian.PutUint32(buf[25:29], uint32(dataLen))
	if dataLen > 0 {
		copy(buf[WALRecHdrSize:], rec.Data)
	}
	h := crc32.New(crcTable)
	h.Write(buf[:29])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[WALRecHdrSize:])
	binary.LittleEndian.PutUint32(buf[29:33], h.Sum32())
	return buf
}

func unmarshalWALRecord(r io.Reader) (*WALRecord, error) {
	var hdr [WALRecHdrSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	rec := &WALRecord{
		Type:       WALRecordType(hdr[0]),
		FileHandle: FileHandle(binary.LittleEndian.Uint32(hdr[1:5])),
		LSN:        LSN(binary.LittleEndian.Uint64(hdr[5:13])),
		TxID:       TxID(binary.LittleEndian.Uint64(hdr[13:21])),
		PageID:     PageID(binary.LittleEndian.Uint32(hdr[21:25])),
	}
	dataLen := int(binary.LittleEndian.Uint32(hdr[25:29]))
	storedCRC := binary.LittleEndian.Uint32(hdr[29:33])

	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("WAL record data: %w", err)
		}
		rec.Data = data
	}

	h := crc32.New(crcTable)
	h.Write(hdr[:29])
	h.Write([]byte{0, 0, 0, 0})
	if data != nil {
		h.Write(data)
	}
	if h.Sum32() != storedCRC {
		return nil, &CorruptionError{Detail: fmt.Sprintf("WAL record CRC mismatch at LSN %d", rec.LSN)}
	}
	return rec, nil
}

// ReadAllRecords reads every well-formed record from path, after its
// header. A partial/corrupt record at the tail (crash mid-append) is
// silently dropped, matching spec.md §4.2's replay algorithm, which treats
// an incomplete final record the same as a missing COMMIT.
func ReadAllRecords(path string) ([]*WALRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(WALFileHdrSize, io.SeekStart); err != nil {
		return nil, err
	}
	var records []*WALRecord
	for {
		rec, err := unmarshalWALRecord(f)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}
