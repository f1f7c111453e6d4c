package inmem

import (
	"sync/atomic"

	"github.com/vaultgraph/vgdb/internal/pager"
)

// AdjListsBuilder stages a MANY-multiplicity adjacency list in memory
// across the loader's three list-construction passes (spec.md §4.8.2–
// 4.8.5):
//
//  1. pass 1 counts, via IncrementCount, how many entries each node offset
//     will own (concurrently, one atomic add per discovered edge).
//  2. pass 1.5 (ComputeOffsets) turns those counts into a CSR prefix sum,
//     allocates the flat entries array, and snapshots each node's
//     remaining-slots counter to its count.
//  3. pass 2 (PlaceEntry) fills the entries array: each worker atomically
//     decrements a node's remaining-slots counter and writes at the
//     resulting index, so concurrent workers touching different nodes
//     never contend and concurrent workers touching the same node never
//     collide.
type AdjListsBuilder struct {
	numNodes uint64
	counts   []atomic.Uint32
	offsets  []uint64 // csrOffsets[i] is where node i's entries begin
	filled   []atomic.Uint32
	entries  []pager.AdjEntry
}

// NewAdjListsBuilder allocates counters for numNodes node offsets.
func NewAdjListsBuilder(numNodes uint64) *AdjListsBuilder {
	return &AdjListsBuilder{
		numNodes: numNodes,
		counts:   make([]atomic.Uint32, numNodes),
	}
}

// IncrementCount records one more edge owned by nodeOffset (pass 1).
func (b *AdjListsBuilder) IncrementCount(nodeOffset uint64) {
	b.counts[nodeOffset].Add(1)
}

// ComputeOffsets performs the pass-1.5 prefix sum and allocates the data
// region. Must be called exactly once, after every IncrementCount call and
// before any PlaceEntry call.
func (b *AdjListsBuilder) ComputeOffsets() {
	b.offsets = make([]uint64, b.numNodes)
	b.filled = make([]atomic.Uint32, b.numNodes)
	var total uint64
	for i := uint64(0); i < b.numNodes; i++ {
		b.offsets[i] = total
		n := b.counts[i].Load()
		b.filled[i].Store(n)
		total += uint64(n)
	}
	b.entries = make([]pager.AdjEntry, total)
}

// NumEntries returns nodeOffset's final edge count, valid after
// ComputeOffsets.
func (b *AdjListsBuilder) NumEntries(nodeOffset uint64) uint32 {
	return b.counts[nodeOffset].Load()
}

// CSROffset returns nodeOffset's starting index into the flat entries
// array, valid after ComputeOffsets.
func (b *AdjListsBuilder) CSROffset(nodeOffset uint64) uint64 { return b.offsets[nodeOffset] }

// PlaceEntry fills one of nodeOffset's slots with e (pass 2). Safe to call
// concurrently for different or the same nodeOffset from multiple workers.
func (b *AdjListsBuilder) PlaceEntry(nodeOffset uint64, e pager.AdjEntry) {
	remaining := b.filled[nodeOffset].Add(^uint32(0)) // atomic decrement
	idx := b.offsets[nodeOffset] + uint64(remaining)
	b.entries[idx] = e
}

// Entries returns the flat, fully-populated entries array (valid only
// after every PlaceEntry call for this list has completed).
func (b *AdjListsBuilder) Entries() []pager.AdjEntry { return b.entries }

// Flush writes headers, chunk metadata, and data regions to their
// respective files through p (spec.md §4.3's three-region layout).
func (b *AdjListsBuilder) Flush(p *pager.Pager, headerFH, metaFH, dataFH pager.FileHandle, pageSize int) error {
	headerLayout := pager.ComputeAdjHeaderLayout(pageSize)
	if err := flushDense(p, headerFH, pager.PageTypeAdjListHeader, headerLayout, b.numNodes, func(i uint64) []byte {
		h := pager.AdjHeaderRecord{CSROffset: b.offsets[i], NumEntries: b.counts[i].Load()}
		return pager.EncodeAdjHeader(h)
	}); err != nil {
		return err
	}

	metaLayout := pager.ComputeAdjMetaLayout(pageSize)
	numChunks := (b.numNodes + pager.ListsChunkSize - 1) / pager.ListsChunkSize
	if err := flushDense(p, metaFH, pager.PageTypeAdjListMeta, metaLayout, numChunks, func(c uint64) []byte {
		start, _ := pager.ChunkBounds(c)
		dataStart := uint64(0)
		if start < b.numNodes {
			dataStart = b.offsets[start]
		}
		return pager.EncodeAdjChunkMeta(pager.AdjChunkMeta{DataStart: dataStart})
	}); err != nil {
		return err
	}

	dataLayout := pager.ComputeAdjDataLayout(pageSize)
	return flushDense(p, dataFH, pager.PageTypeAdjListData, dataLayout, uint64(len(b.entries)), func(i uint64) []byte {
		return pager.EncodeAdjEntry(b.entries[i])
	})
}

// flushDense writes n fixed-width records, produced by rec(i), out as a
// sequence of dense data pages through p.
func flushDense(p *pager.Pager, fh pager.FileHandle, pt pager.PageType, layout pager.AdjDenseLayout, n uint64, rec func(uint64) []byte) error {
	if n == 0 {
		return nil
	}
	perPage := uint64(layout.NumElementsPerPage)
	numPages := (n + perPage - 1) / perPage
	for pg := uint64(0); pg < numPages; pg++ {
		_, ref, err := p.AddNewPage(fh, pt)
		if err != nil {
			return err
		}
		start := pg * perPage
		end := start + perPage
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			_, slot := layout.PageForIndex(i)
			layout.WriteRecord(ref.Data, slot, rec(i))
		}
		if err := p.Unpin(0, ref, true); err != nil {
			return err
		}
	}
	return nil
}
