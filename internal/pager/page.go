// Package pager implements the page-based, WAL-protected storage substrate
// shared by every on-disk structure in the graph store: columnar node
// properties, dual-direction adjacency columns/lists, overflow payloads, and
// the primary-key hash index. A database directory holds one main file per
// logical structure (see internal/catalog for the layout), each paged in
// fixed-size frames and mirrored through a single write-ahead log.
//
// Every page carries a 32-byte header (type, flags, id, LSN, CRC32-C) so
// that corruption and stale reads are caught early. Crash recovery replays
// committed WAL transactions from the last checkpoint LSN; see recovery.go.
package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// DefaultPageSize is used when a caller does not request a specific size.
	DefaultPageSize = 4096

	// MinPageSize and MaxPageSize bound PagerConfig.PageSize.
	MinPageSize = 4096
	MaxPageSize = 65536

	// PageHeaderSize is the size of the common page header in bytes.
	//
	//	[0]     PageType   (1 byte)
	//	[1]     Flags      (1 byte)
	//	[2:4]   Reserved   (2 bytes)
	//	[4:8]   PageID     (4 bytes, uint32 LE)
	//	[8:16]  LSN        (8 bytes, uint64 LE)
	//	[16:20] CRC32      (4 bytes, uint32 LE)
	//	[20:32] Reserved   (12 bytes)
	PageHeaderSize = 32

	// InvalidPageID marks a null page pointer. Page 0 of every file is the
	// file's own header/superblock page, so InvalidPageID never addresses
	// real data.
	InvalidPageID PageID = 0
)

// PageType identifies the kind of data a page stores.
type PageType uint8

const (
	PageTypeSuperblock     PageType = 0x01
	PageTypeColumnData     PageType = 0x02
	PageTypeOverflow       PageType = 0x03
	PageTypeAdjListHeader  PageType = 0x04
	PageTypeAdjListMeta    PageType = 0x05
	PageTypeAdjListData    PageType = 0x06
	PageTypeHashBucket     PageType = 0x07
	PageTypeHashDirectory  PageType = 0x08
	PageTypeFreeList       PageType = 0x09
	PageTypeAdjColumn      PageType = 0x0A
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeSuperblock:
		return "Superblock"
	case PageTypeColumnData:
		return "ColumnData"
	case PageTypeOverflow:
		return "Overflow"
	case PageTypeAdjListHeader:
		return "AdjListHeader"
	case PageTypeAdjListMeta:
		return "AdjListMeta"
	case PageTypeAdjListData:
		return "AdjListData"
	case PageTypeHashBucket:
		return "HashBucket"
	case PageTypeHashDirectory:
		return "HashDirectory"
	case PageTypeFreeList:
		return "FreeList"
	case PageTypeAdjColumn:
		return "AdjColumn"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(pt))
	}
}

// PageID is a page index within a single file. Combined with a FileHandle it
// forms the pin/unpin addressing scheme spec'd in the buffer manager.
type PageID uint32

// LSN is a monotonically increasing log sequence number.
type LSN uint64

// TxID identifies a transaction (spec.md's single-writer, multi-reader
// model; see internal/txn).
type TxID uint64

// PageHeader is the common 32-byte header present on every page.
type PageHeader struct {
	Type     PageType
	Flags    uint8
	Reserved uint16
	ID       PageID
	LSN      LSN
	CRC      uint32
	Pad      [12]byte
}

// MarshalHeader writes h into the first PageHeaderSize bytes of buf.
func MarshalHeader(h *PageHeader, buf []byte) {
	if len(buf) < PageHeaderSize {
		panic("pager: buffer too small for PageHeader")
	}
	buf[0] = byte(h.Type)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint16(buf[2:4], h.Reserved)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.LSN))
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC)
	copy(buf[20:32], h.Pad[:])
}

// UnmarshalHeader reads a PageHeader from the first PageHeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) PageHeader {
	var h PageHeader
	h.Type = PageType(buf[0])
	h.Flags = buf[1]
	h.Reserved = binary.LittleEndian.Uint16(buf[2:4])
	h.ID = PageID(binary.LittleEndian.Uint32(buf[4:8]))
	h.LSN = LSN(binary.LittleEndian.Uint64(buf[8:16]))
	h.CRC = binary.LittleEndian.Uint32(buf[16:20])
	copy(h.Pad[:], buf[20:32])
	return h
}

// crcTable is the CRC32-C (Castagnoli) table used for every page and WAL
// record checksum in this package.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ComputePageCRC computes the CRC32-C of a full page, treating the CRC field
// (bytes 16:20) as zero during computation.
func ComputePageCRC(page []byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(page[:16])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(page[20:])
	return h.Sum32()
}

// SetPageCRC computes and stores the CRC into the page header.
func SetPageCRC(page []byte) {
	binary.LittleEndian.PutUint32(page[16:20], ComputePageCRC(page))
}

// VerifyPageCRC checks a page's stored CRC32-C against its contents.
func VerifyPageCRC(page []byte) error {
	stored := binary.LittleEndian.Uint32(page[16:20])
	computed := ComputePageCRC(page)
	if stored != computed {
		pid := binary.LittleEndian.Uint32(page[4:8])
		return &CorruptionError{Detail: fmt.Sprintf("CRC mismatch on page %d: stored=%08x computed=%08x", pid, stored, computed)}
	}
	return nil
}

// NewPage allocates a zeroed page buffer of pageSize bytes and writes its header.
func NewPage(pageSize int, pt PageType, id PageID) []byte {
	buf := make([]byte, pageSize)
	h := &PageHeader{Type: pt, ID: id}
	MarshalHeader(h, buf)
	return buf
}

// CorruptionError reports a detected on-disk corruption (bad CRC, bad magic,
// truncated header). Per spec.md §7 this is never retried automatically.
type CorruptionError struct {
	Detail string
}

func (e *CorruptionError) Error() string { return "storage corruption: " + e.Detail }

// IOError wraps an underlying I/O failure as spec.md's StorageIOError kind.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("storage I/O error (%s): %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// BufferPoolExhaustedError is returned when every frame is pinned and none
// can be evicted to satisfy a new pin request.
type BufferPoolExhaustedError struct{}

func (e *BufferPoolExhaustedError) Error() string {
	return "buffer pool exhausted: all frames pinned"
}
