package pager

import "fmt"

// ───────────────────────────────────────────────────────────────────────────
// Overflow files (spec.md §3, §4.3)
// ───────────────────────────────────────────────────────────────────────────
//
// An overflow file is a sequence of pages storing variable-length payloads
// (strings, VAR_LIST elements) referenced from a column/list slot by
// (pageIdx, offsetInPage, length). Unlike the teacher's chained overflow
// pages (one linked list per value), our payloads are addressed directly —
// the loader's overflow-sort pass (§4.8.6) rewrites descriptors to point at
// a freshly, sequentially packed ordered file, so no intra-value chaining
// is needed; a payload that would not fit in the remainder of the current
// page simply starts the next page instead of splitting.

const (
	overflowDataOff = PageHeaderSize
)

// OverflowCapacity returns the payload capacity of one overflow page.
func OverflowCapacity(pageSize int) int { return pageSize - overflowDataOff }

// OverflowCursor tracks the current write position within an overflow file
// during population (spec.md §4.5's InMemOverflowFile.copyString/copyList,
// and the on-disk sorted-overflow writer of §4.8.6).
type OverflowCursor struct {
	PageIdx PageID
	Offset  int
}

// OverflowRef locates a payload within an overflow file.
type OverflowRef struct {
	PageIdx PageID
	Offset  int
	Length  int
}

// PlaceValue advances cur to fit a value of n bytes, starting a new page if
// the current one lacks room. It returns the ref the value will occupy; the
// caller still has to write the bytes via WriteValue/Pin.
func PlaceValue(cur *OverflowCursor, pageSize int, n int) (OverflowRef, error) {
	cap := OverflowCapacity(pageSize)
	if n > cap {
		return OverflowRef{}, fmt.Errorf("overflow: value of %d bytes exceeds page capacity %d", n, cap)
	}
	if cur.Offset+n > cap {
		cur.PageIdx++
		cur.Offset = 0
	}
	ref := OverflowRef{PageIdx: cur.PageIdx, Offset: cur.Offset, Length: n}
	cur.Offset += n
	return ref, nil
}

// WriteValue copies data into page buf at ref's offset. buf must be a full
// page-sized buffer for a page already initialized with NewPage(...,
// PageTypeOverflow, ref.PageIdx).
func WriteValue(buf []byte, ref OverflowRef, data []byte) {
	copy(buf[overflowDataOff+ref.Offset:overflowDataOff+ref.Offset+ref.Length], data)
}

// ReadValue reads ref's payload out of page buffer buf.
func ReadValue(buf []byte, ref OverflowRef) []byte {
	start := overflowDataOff + ref.Offset
	return buf[start : start+ref.Length]
}
