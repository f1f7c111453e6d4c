// Package inmem holds the in-memory staging structures the bulk loader
// (internal/loader, component C8) populates during its count/pass-1/
// pass-1.5/pass-2 algorithm before flushing everything to on-disk pages
// through internal/pager in one sequential write per structure.
package inmem

import "github.com/vaultgraph/vgdb/internal/pager"

// ColumnChunk is a dense, fixed-width in-memory column being built by the
// loader's pass 1 (spec.md §4.8.3): one contiguous byte buffer plus a
// parallel null bitmap, both sized up front from the row count the count
// phase (§4.8.1) established.
type ColumnChunk struct {
	elementSize int
	numElements uint64
	data        []byte
	nulls       []byte
}

// NewColumnChunk allocates a column chunk for numElements values of
// elementSize bytes each.
func NewColumnChunk(numElements uint64, elementSize int) *ColumnChunk {
	return &ColumnChunk{
		elementSize: elementSize,
		numElements: numElements,
		data:        make([]byte, numElements*uint64(elementSize)),
		nulls:       make([]byte, (numElements+7)/8),
	}
}

// SetValue writes val (which must be elementSize bytes) at node offset pos.
func (c *ColumnChunk) SetValue(pos uint64, val []byte) {
	off := pos * uint64(c.elementSize)
	copy(c.data[off:off+uint64(c.elementSize)], val)
	c.setNull(pos, false)
}

// SetNull marks pos null (true) or not (false).
func (c *ColumnChunk) SetNull(pos uint64, isNull bool) { c.setNull(pos, isNull) }

func (c *ColumnChunk) setNull(pos uint64, isNull bool) {
	byteIdx := pos / 8
	bit := byte(1 << (pos % 8))
	if isNull {
		c.nulls[byteIdx] |= bit
	} else {
		c.nulls[byteIdx] &^= bit
	}
}

// IsNull reports whether pos is null.
func (c *ColumnChunk) IsNull(pos uint64) bool {
	return c.nulls[pos/8]&(1<<(pos%8)) != 0
}

// Value returns the raw elementSize-byte value at pos.
func (c *ColumnChunk) Value(pos uint64) []byte {
	off := pos * uint64(c.elementSize)
	return c.data[off : off+uint64(c.elementSize)]
}

// NumElements returns the chunk's row capacity.
func (c *ColumnChunk) NumElements() uint64 { return c.numElements }

// Flush writes the chunk out as a sequence of column-file data pages
// through p, using layout to compute page/slot placement (spec.md §4.3's
// per-page null bitmap + fixed-width slots). fh must already be open.
func (c *ColumnChunk) Flush(p *pager.Pager, fh pager.FileHandle, layout pager.ColumnLayout) error {
	if c.numElements == 0 {
		return nil
	}
	perPage := uint64(layout.NumElementsPerPage)
	numPages := (c.numElements + perPage - 1) / perPage
	for pg := uint64(0); pg < numPages; pg++ {
		pid, ref, err := p.AddNewPage(fh, pager.PageTypeColumnData)
		if err != nil {
			return err
		}
		start := pg * perPage
		end := start + perPage
		if end > c.numElements {
			end = c.numElements
		}
		for pos := start; pos < end; pos++ {
			slot := int(pos - start)
			if c.IsNull(pos) {
				layout.SetNull(ref.Data, slot, true)
				continue
			}
			layout.WriteSlot(ref.Data, slot, c.Value(pos))
		}
		if err := p.Unpin(0, ref, true); err != nil {
			return err
		}
		_ = pid
	}
	return nil
}
