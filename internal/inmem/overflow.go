package inmem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vaultgraph/vgdb/internal/pager"
)

func errOverflowValueTooLarge(n, capacity int) error {
	return fmt.Errorf("inmem: overflow value of %d bytes exceeds page capacity %d", n, capacity)
}

// pendingOverflowValue is one not-yet-placed STRING/VAR_LIST payload,
// tagged with the owning column's (pos) so the sort phase can reorder by
// owner offset before writing the final on-disk file (spec.md §4.8.6).
type pendingOverflowValue struct {
	ownerPos uint64
	data     []byte
}

// OverflowFile accumulates variable-length payloads during pass 1 in
// arbitrary arrival order (concurrent workers append as they encounter
// long strings/lists), then Sort reorders them by owning node offset
// before Flush writes the final, sequentially-addressed on-disk overflow
// file — matching spec.md §4.8.6's "unordered, then sorted" two-phase
// discipline so that a table scan's overflow reads are mostly sequential.
type OverflowFile struct {
	mu     sync.Mutex
	values []pendingOverflowValue
}

// NewOverflowFile creates an empty overflow staging buffer.
func NewOverflowFile() *OverflowFile { return &OverflowFile{} }

// Append stages one payload, owned by ownerPos (the node offset whose
// column slot will hold the eventual descriptor). Safe for concurrent use.
func (o *OverflowFile) Append(ownerPos uint64, data []byte) {
	o.mu.Lock()
	o.values = append(o.values, pendingOverflowValue{ownerPos: ownerPos, data: append([]byte{}, data...)})
	o.mu.Unlock()
}

// Sort reorders staged payloads by owner offset. Must be called before
// Flush; not safe to call concurrently with Append.
func (o *OverflowFile) Sort() {
	sort.Slice(o.values, func(i, j int) bool { return o.values[i].ownerPos < o.values[j].ownerPos })
}

// OwnerPositions returns each staged payload's owning row/node offset, in
// the file's current (post-Sort) order — the same order Flush's returned
// []OverflowRef is in, so callers can zip the two slices together to
// backpatch descriptors (spec.md §4.8.6).
func (o *OverflowFile) OwnerPositions() []uint64 {
	out := make([]uint64, len(o.values))
	for i, v := range o.values {
		out[i] = v.ownerPos
	}
	return out
}

// Flush writes every staged payload, in its current order, to a fresh
// overflow file through p, returning each payload's final OverflowRef in
// the same order so the caller can backpatch descriptors into the owning
// column. The ref's PageIdx always names the real on-disk PageID the
// value landed on (not a logical 0-based counter), since AddNewPage is
// what actually assigns page numbers here.
func (o *OverflowFile) Flush(p *pager.Pager, fh pager.FileHandle, pageSize int) ([]pager.OverflowRef, error) {
	refs := make([]pager.OverflowRef, len(o.values))
	if len(o.values) == 0 {
		return refs, nil
	}

	capacity := pager.OverflowCapacity(pageSize)
	var curRef *pager.FrameRef
	var curPID pager.PageID
	curOffset := 0

	closePage := func() error {
		if curRef == nil {
			return nil
		}
		return p.Unpin(0, curRef, true)
	}

	for i, v := range o.values {
		if len(v.data) > capacity {
			return nil, errOverflowValueTooLarge(len(v.data), capacity)
		}
		if curRef == nil || curOffset+len(v.data) > capacity {
			if err := closePage(); err != nil {
				return nil, err
			}
			pid, newRef, err := p.AddNewPage(fh, pager.PageTypeOverflow)
			if err != nil {
				return nil, err
			}
			curRef, curPID, curOffset = newRef, pid, 0
		}
		ref := pager.OverflowRef{PageIdx: curPID, Offset: curOffset, Length: len(v.data)}
		pager.WriteValue(curRef.Data, ref, v.data)
		refs[i] = ref
		curOffset += len(v.data)
	}
	return refs, closePage()
}
