package pager

import "testing"

func TestHashEntryInlineRoundTrip(t *testing.T) {
	e := HashIndexEntry{Hash: 0xdeadbeef, NodeOffset: 55, KeyBytes: []byte("abc")}
	buf := EncodeHashEntry(e, nil)
	if len(buf) != HashEntrySize {
		t.Fatalf("entry size = %d, want %d", len(buf), HashEntrySize)
	}
	got, desc := DecodeHashEntry(buf)
	if got.Hash != e.Hash || got.NodeOffset != e.NodeOffset {
		t.Fatalf("decoded entry mismatch: %+v", got)
	}
	if !desc.Inline || string(got.KeyBytes) != "abc" {
		t.Fatalf("expected inline key 'abc', got %+v", got)
	}
}

func TestHashEntryOverflowRoundTrip(t *testing.T) {
	e := HashIndexEntry{Hash: 7, NodeOffset: 1}
	ref := &OverflowRef{PageIdx: 3, Offset: 40, Length: 200}
	buf := EncodeHashEntry(e, ref)
	got, desc := DecodeHashEntry(buf)
	if desc.Inline {
		t.Fatal("expected non-inline descriptor for an overflowed key")
	}
	if desc.PageIdx != ref.PageIdx || desc.Offset != uint32(ref.Offset) {
		t.Fatalf("overflow pointer mismatch: %+v", desc)
	}
	if got.Hash != e.Hash || got.NodeOffset != e.NodeOffset {
		t.Fatalf("entry mismatch: %+v", got)
	}
}

func TestHashKeyCollationFoldsCase(t *testing.T) {
	h1 := HashKey(HashKeyString, []byte("Alice"), true)
	h2 := HashKey(HashKeyString, []byte("alice"), true)
	if h1 != h2 {
		t.Fatalf("case-insensitive hashes should match: %x vs %x", h1, h2)
	}
	h3 := HashKey(HashKeyString, []byte("Alice"), false)
	h4 := HashKey(HashKeyString, []byte("alice"), false)
	if h3 == h4 {
		t.Fatal("case-sensitive hashes should differ for differently-cased keys")
	}
}

func TestHashIndexBuilderSplitsOnOverflow(t *testing.T) {
	pageSize := 128 // tiny bucket capacity, to force splits quickly
	b := NewHashIndexBuilder(pageSize, HashKeyInt64, false)
	const n = 500
	for i := 0; i < n; i++ {
		key := EncodeTableID(uint64(i))
		b.Insert(key, uint64(i))
	}

	total := 0
	for _, bucket := range b.UniqueBuckets() {
		total += len(bucket.Entries())
		cap := HashBucketLayout(pageSize).NumElementsPerPage
		if len(bucket.Entries()) > cap {
			t.Fatalf("bucket exceeds capacity: %d > %d", len(bucket.Entries()), cap)
		}
	}
	if total != n {
		t.Fatalf("expected %d total entries across buckets, got %d", n, total)
	}
	if b.GlobalDepth() == 0 {
		t.Fatal("expected directory to have grown past depth 0 for 500 inserts")
	}
}

func TestHashIndexBuilderLookupFindsAllKeys(t *testing.T) {
	pageSize := DefaultPageSize
	b := NewHashIndexBuilder(pageSize, HashKeyString, true)
	keys := []string{"Alice", "bob", "CAROL", "dave", "Eve"}
	for i, k := range keys {
		b.Insert([]byte(k), uint64(i))
	}

	find := func(key string) (uint64, bool) {
		hash := HashKey(HashKeyString, []byte(key), true)
		idx := b.bucketIndex(hash)
		bucket := b.DirectoryBucket(idx)
		norm := NormalizeStringKey([]byte(key), true)
		for _, e := range bucket.Entries() {
			if e.Hash == hash && string(NormalizeStringKey(e.KeyBytes, true)) == string(norm) {
				return e.NodeOffset, true
			}
		}
		return 0, false
	}

	for i, k := range keys {
		off, ok := find(k)
		if !ok || off != uint64(i) {
			t.Fatalf("lookup(%q) = (%d, %v), want (%d, true)", k, off, ok, i)
		}
	}
	// Case-insensitive collation: differently-cased lookup must still hit.
	if off, ok := find("ALICE"); !ok || off != 0 {
		t.Fatalf("case-insensitive lookup(ALICE) = (%d, %v), want (0, true)", off, ok)
	}
}

func TestHashIndexBuilderInsertUniqueRejectsDuplicates(t *testing.T) {
	b := NewHashIndexBuilder(DefaultPageSize, HashKeyInt64, false)
	if !b.InsertUnique(EncodeTableID(1), 0) {
		t.Fatal("first insert of key 1 should succeed")
	}
	if b.InsertUnique(EncodeTableID(1), 1) {
		t.Fatal("second insert of key 1 should be rejected as duplicate")
	}
	off, ok := b.Lookup(EncodeTableID(1))
	if !ok || off != 0 {
		t.Fatalf("Lookup(1) = (%d, %v), want (0, true) — duplicate insert must not overwrite", off, ok)
	}
}

func TestHashIndexBuilderFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPager(PagerConfig{PageSize: DefaultPageSize, MaxCachePages: 64}, dir+"/db.wal")
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	dirFH, _, _ := p.OpenFile(dir + "/pk.dir")
	bucketFH, _, _ := p.OpenFile(dir + "/pk.bucket")

	b := NewHashIndexBuilder(DefaultPageSize, HashKeyInt64, false)
	const n = 50
	for i := 0; i < n; i++ {
		b.InsertUnique(EncodeTableID(uint64(i)), uint64(i*10))
	}
	if err := b.Flush(p, dirFH, bucketFH, nil); err != nil {
		t.Fatal(err)
	}

	dirLayout := HashDirectoryLayout(DefaultPageSize)
	bucketLayout := HashBucketLayout(DefaultPageSize)
	for i := 0; i < n; i++ {
		key := EncodeTableID(uint64(i))
		hash := HashKey(HashKeyInt64, key, false)
		slot := b.bucketIndex(hash)
		pid, dslot := dirLayout.PageForIndex(uint64(slot))
		dref, err := p.Pin(dirFH, pid, PinRead)
		if err != nil {
			t.Fatal(err)
		}
		bucketPID := DecodeDirectoryEntry(dirLayout.ReadRecord(dref.Data, dslot))
		p.Unpin(0, dref, false)

		bref, err := p.Pin(bucketFH, bucketPID, PinRead)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for s := 0; s < int(BucketNumEntries(bref.Data)); s++ {
			e, _ := DecodeHashEntry(bucketLayout.ReadRecord(bref.Data, s))
			if e.Hash == hash && e.NodeOffset == uint64(i*10) {
				found = true
				break
			}
		}
		p.Unpin(0, bref, false)
		if !found {
			t.Fatalf("key %d not found in flushed bucket", i)
		}
	}
}
