package pager

import (
	"hash/fnv"

	"golang.org/x/text/cases"
)

// ───────────────────────────────────────────────────────────────────────────
// Primary-key hash index (spec.md §4.4, component C4)
// ───────────────────────────────────────────────────────────────────────────
//
// The index is an extendible hash table: a directory of 2^globalDepth
// entries, each pointing at a bucket page; a bucket whose local depth equals
// the global depth and which overflows triggers a directory doubling,
// otherwise a plain split. Node tables are populated once per bulk load
// (§4.8), so the index is always built in memory first via HashIndexBuilder
// and flushed to pages in one pass — there is no incremental on-disk
// insert/split path, mirroring the loader's own two-pass discipline.
//
// A bucket entry is 32 bytes: {KeyHash uint64, NodeOffset uint64, Key
// StringDescriptor}. The descriptor carries the literal key bytes (inline
// up to 12 bytes, else an overflow pointer) so that hash collisions are
// resolved by exact comparison, not by hash alone.

const (
	// HashEntrySize is the fixed width of one bucket slot.
	HashEntrySize = 32
	// directoryEntrySize is the fixed width of one directory slot (a PageID).
	directoryEntrySize = 4
	// DefaultBucketLocalDepth is the local depth new buckets start at.
	DefaultBucketLocalDepth = 0
)

// HashKeyKind distinguishes the primary key's logical type, since integer
// keys hash and compare differently from (optionally collated) strings.
type HashKeyKind uint8

const (
	HashKeyInt64  HashKeyKind = iota // integer key bytes as given (the loaders pass decimal text), never case-folded
	HashKeyString                    // UTF-8 bytes, inline ≤12 else overflow
)

// HashIndexEntry is one (key, nodeOffset) pairing in the index.
type HashIndexEntry struct {
	Hash       uint64
	NodeOffset uint64
	KeyBytes   []byte // the literal key, for collision resolution
}

// EncodeHashEntry marshals e into a 32-byte slot, inlining KeyBytes (via a
// StringDescriptor) when it fits, else writing an overflow ref that the
// caller must have already placed with PlaceValue/WriteValue.
func EncodeHashEntry(e HashIndexEntry, overflowRef *OverflowRef) []byte {
	buf := make([]byte, HashEntrySize)
	putU64(buf[0:8], e.Hash)
	putU64(buf[8:16], e.NodeOffset)
	var d StringDescriptor
	d.Length = uint32(len(e.KeyBytes))
	if overflowRef == nil {
		d.Inline = true
		copy(d.Payload[:], e.KeyBytes)
	} else {
		d.PageIdx = overflowRef.PageIdx
		d.Offset = uint32(overflowRef.Offset)
	}
	copy(buf[16:32], EncodeDescriptor(d))
	return buf
}

// DecodeHashEntry unmarshals a 32-byte slot. When the key was not stored
// inline, KeyBytes is nil and the caller must resolve it via the
// StringDescriptor returned alongside (fetch from the overflow file).
func DecodeHashEntry(buf []byte) (HashIndexEntry, StringDescriptor) {
	e := HashIndexEntry{Hash: getU64(buf[0:8]), NodeOffset: getU64(buf[8:16])}
	d := DecodeDescriptor(buf[16:32])
	if d.Inline {
		e.KeyBytes = append([]byte{}, d.Payload[:d.Length]...)
	}
	return e, d
}

// ───────────────────────────────────────────────────────────────────────────
// Key hashing
// ───────────────────────────────────────────────────────────────────────────

var foldCaser = cases.Fold()

// HashKey computes the index hash of a primary-key value. String keys are
// optionally case-folded first (spec.md §9's resolved primaryKeyCollation
// option; see config.Config.PrimaryKeyCollation), so that collation-aware
// tables hash and compare on the folded form while still storing the
// original bytes in KeyBytes for display.
func HashKey(kind HashKeyKind, raw []byte, collate bool) uint64 {
	key := raw
	if kind == HashKeyString && collate {
		key = []byte(foldCaser.String(string(raw)))
	}
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

// NormalizeStringKey applies the same case-folding HashKey uses, for
// equality comparison against a stored KeyBytes during probe.
func NormalizeStringKey(raw []byte, collate bool) []byte {
	if !collate {
		return raw
	}
	return []byte(foldCaser.String(string(raw)))
}

// ───────────────────────────────────────────────────────────────────────────
// Directory
// ───────────────────────────────────────────────────────────────────────────

// HashDirectoryLayout is the dense-array geometry of the on-disk directory
// (one PageID per directory entry).
func HashDirectoryLayout(pageSize int) AdjDenseLayout {
	return ComputeAdjDenseLayout(pageSize, directoryEntrySize)
}

// HashBucketLayout is the dense-array geometry of one bucket page's slots.
func HashBucketLayout(pageSize int) AdjDenseLayout {
	return ComputeAdjDenseLayout(pageSize, HashEntrySize)
}

// EncodeDirectoryEntry/DecodeDirectoryEntry (de)serialize one directory
// slot (a bucket PageID).
func EncodeDirectoryEntry(pid PageID) []byte {
	buf := make([]byte, directoryEntrySize)
	putU32(buf, uint32(pid))
	return buf
}

func DecodeDirectoryEntry(buf []byte) PageID { return PageID(getU32(buf)) }

// BucketLocalDepth and BucketNumEntries read/write the extra bucket state
// packed into the common PageHeader (Flags holds local depth, Reserved
// holds the slot count) so bucket pages need no extra header bytes of
// their own.
func BucketLocalDepth(page []byte) uint8    { return page[1] }
func SetBucketLocalDepth(page []byte, d uint8) { page[1] = d }

func BucketNumEntries(page []byte) uint16 {
	return uint16(page[2]) | uint16(page[3])<<8
}

func SetBucketNumEntries(page []byte, n uint16) {
	page[2] = byte(n)
	page[3] = byte(n >> 8)
}

// ───────────────────────────────────────────────────────────────────────────
// In-memory bulk builder
// ───────────────────────────────────────────────────────────────────────────

// hashBucketBuild is one in-memory bucket during construction.
type hashBucketBuild struct {
	localDepth uint8
	entries    []HashIndexEntry
}

// HashIndexBuilder accumulates (key, nodeOffset) pairs in memory as an
// extendible hash, splitting buckets and doubling the directory on each
// insert that overfills a bucket, and can then flush a directory + bucket
// pages.
type HashIndexBuilder struct {
	pageSize    int
	bucketCap   int
	globalDepth uint8
	buckets     []*hashBucketBuild
	collate     bool
	kind        HashKeyKind
}

// NewHashIndexBuilder creates a builder with a single empty bucket at
// global depth 0.
func NewHashIndexBuilder(pageSize int, kind HashKeyKind, collate bool) *HashIndexBuilder {
	layout := HashBucketLayout(pageSize)
	return &HashIndexBuilder{
		pageSize:  pageSize,
		bucketCap: layout.NumElementsPerPage,
		buckets:   []*hashBucketBuild{{localDepth: 0}},
		collate:   collate,
		kind:      kind,
	}
}

func (b *HashIndexBuilder) dirSize() int { return 1 << b.globalDepth }

func (b *HashIndexBuilder) bucketIndex(hash uint64) int {
	if b.globalDepth == 0 {
		return 0
	}
	return int(hash & ((1 << b.globalDepth) - 1))
}

// Insert adds one primary-key -> node-offset mapping, splitting (and, if
// necessary, doubling the directory) as buckets fill.
func (b *HashIndexBuilder) Insert(rawKey []byte, nodeOffset uint64) {
	hash := HashKey(b.kind, rawKey, b.collate)
	e := HashIndexEntry{Hash: hash, NodeOffset: nodeOffset, KeyBytes: rawKey}
	b.insertEntry(e)
}

// InsertUnique is Insert's duplicate-checking counterpart, used by the bulk
// loader's primary-key pass (spec.md §4.4's append(key, offset) -> bool):
// it reports false without modifying the index if an equal key (after
// collation normalization) is already present.
func (b *HashIndexBuilder) InsertUnique(rawKey []byte, nodeOffset uint64) bool {
	hash := HashKey(b.kind, rawKey, b.collate)
	norm := NormalizeStringKey(rawKey, b.kind == HashKeyString && b.collate)
	idx := b.bucketIndex(hash)
	for _, e := range b.buckets[idx].entries {
		if e.Hash == hash && bytesEqual(NormalizeStringKey(e.KeyBytes, b.kind == HashKeyString && b.collate), norm) {
			return false
		}
	}
	b.insertEntry(HashIndexEntry{Hash: hash, NodeOffset: nodeOffset, KeyBytes: rawKey})
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Lookup resolves rawKey to its stored node offset in the in-memory
// builder, used by the loader's rel-copy pass (resolving endpoint primary
// keys).
func (b *HashIndexBuilder) Lookup(rawKey []byte) (uint64, bool) {
	hash := HashKey(b.kind, rawKey, b.collate)
	norm := NormalizeStringKey(rawKey, b.kind == HashKeyString && b.collate)
	idx := b.bucketIndex(hash)
	for _, e := range b.buckets[idx].entries {
		if e.Hash == hash && bytesEqual(NormalizeStringKey(e.KeyBytes, b.kind == HashKeyString && b.collate), norm) {
			return e.NodeOffset, true
		}
	}
	return 0, false
}

func (b *HashIndexBuilder) insertEntry(e HashIndexEntry) {
	idx := b.bucketIndex(e.Hash)
	bucket := b.buckets[idx]
	bucket.entries = append(bucket.entries, e)
	if len(bucket.entries) > b.bucketCap {
		b.split(idx)
	}
}

// split divides an overflowing bucket, doubling the directory first if the
// bucket's local depth has caught up to the global depth.
func (b *HashIndexBuilder) split(idx int) {
	bucket := b.buckets[idx]
	if bucket.localDepth == b.globalDepth {
		b.double()
	}
	newDepth := bucket.localDepth + 1
	bucket.localDepth = newDepth
	sibling := &hashBucketBuild{localDepth: newDepth}

	// Every directory slot pointing at `bucket` whose new high bit is set
	// now points at `sibling` instead.
	highBit := uint64(1) << (newDepth - 1)
	for i, bk := range b.buckets {
		if bk != bucket {
			continue
		}
		if uint64(i)&highBit != 0 {
			b.buckets[i] = sibling
		}
	}

	old := bucket.entries
	bucket.entries = nil
	for _, e := range old {
		target := bucket
		if e.Hash&highBit != 0 {
			target = sibling
		}
		target.entries = append(target.entries, e)
	}
	// Re-split either half if it is still over capacity.
	if len(bucket.entries) > b.bucketCap {
		b.split(b.firstIndexOf(bucket))
	}
	if len(sibling.entries) > b.bucketCap {
		b.split(b.firstIndexOf(sibling))
	}
}

func (b *HashIndexBuilder) firstIndexOf(bucket *hashBucketBuild) int {
	for i, bk := range b.buckets {
		if bk == bucket {
			return i
		}
	}
	return 0
}

// double doubles the directory, pointing each new half at the same bucket
// as its mirror.
func (b *HashIndexBuilder) double() {
	old := b.buckets
	b.buckets = make([]*hashBucketBuild, len(old)*2)
	copy(b.buckets[:len(old)], old)
	copy(b.buckets[len(old):], old)
	b.globalDepth++
}

// UniqueBuckets returns the distinct buckets in directory order, so the
// flush step can write one physical page per distinct bucket; the directory
// slots that reference each are found through DirectoryBucket.
func (b *HashIndexBuilder) UniqueBuckets() []*hashBucketBuild {
	seen := map[*hashBucketBuild]bool{}
	var out []*hashBucketBuild
	for _, bk := range b.buckets {
		if !seen[bk] {
			seen[bk] = true
			out = append(out, bk)
		}
	}
	return out
}

// GlobalDepth returns the directory's current depth (directory has
// 2^GlobalDepth entries).
func (b *HashIndexBuilder) GlobalDepth() uint8 { return b.globalDepth }

// DirectoryBucket returns the build-time bucket object a directory slot
// currently maps to, for the flush step to resolve to a PageID.
func (b *HashIndexBuilder) DirectoryBucket(slot int) *hashBucketBuild { return b.buckets[slot] }

// Entries exposes a build-time bucket's accumulated entries.
func (bk *hashBucketBuild) Entries() []HashIndexEntry { return bk.entries }

// LocalDepthOf exposes a build-time bucket's local depth.
func (bk *hashBucketBuild) LocalDepthOf() uint8 { return bk.localDepth }

// Flush persists the builder's directory and bucket pages through p,
// writing one physical bucket page per distinct build-time bucket and a
// directory page array pointing at them (spec.md §4.4's flush()). Each
// entry is encoded from its KeyBytes together with the OverflowRef that
// overflowRefs returns for it; with a nil overflowRefs every key is
// encoded as inline. Writing oversized keys to an overflow file is left to
// the caller.
func (b *HashIndexBuilder) Flush(p *Pager, dirFH, bucketFH FileHandle, overflowRefs func(e HashIndexEntry) *OverflowRef) error {
	unique := b.UniqueBuckets()
	pageOf := make(map[*hashBucketBuild]PageID, len(unique))
	bucketLayout := HashBucketLayout(p.PageSize())

	for _, bk := range unique {
		pid, ref, err := p.AddNewPage(bucketFH, PageTypeHashBucket)
		if err != nil {
			return err
		}
		SetBucketLocalDepth(ref.Data, bk.localDepth)
		SetBucketNumEntries(ref.Data, uint16(len(bk.entries)))
		for i, e := range bk.entries {
			var oref *OverflowRef
			if overflowRefs != nil {
				oref = overflowRefs(e)
			}
			_, slot := bucketLayout.PageForIndex(uint64(i))
			bucketLayout.WriteRecord(ref.Data, slot, EncodeHashEntry(e, oref))
		}
		if err := p.Unpin(0, ref, true); err != nil {
			return err
		}
		pageOf[bk] = pid
	}

	dirLayout := HashDirectoryLayout(p.PageSize())
	n := uint64(b.dirSize())
	perPage := uint64(dirLayout.NumElementsPerPage)
	numPages := (n + perPage - 1) / perPage
	for pg := uint64(0); pg < numPages; pg++ {
		_, ref, err := p.AddNewPage(dirFH, PageTypeHashDirectory)
		if err != nil {
			return err
		}
		start := pg * perPage
		end := start + perPage
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			_, slot := dirLayout.PageForIndex(i)
			dirLayout.WriteRecord(ref.Data, slot, EncodeDirectoryEntry(pageOf[b.buckets[i]]))
		}
		if err := p.Unpin(0, ref, true); err != nil {
			return err
		}
	}
	return nil
}
