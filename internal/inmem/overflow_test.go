package inmem

import (
	"path/filepath"
	"testing"

	"github.com/vaultgraph/vgdb/internal/pager"
)

func TestOverflowFileSortOrdersByOwner(t *testing.T) {
	o := NewOverflowFile()
	o.Append(5, []byte("five"))
	o.Append(1, []byte("one"))
	o.Append(3, []byte("three"))
	o.Sort()
	if o.values[0].ownerPos != 1 || o.values[1].ownerPos != 3 || o.values[2].ownerPos != 5 {
		t.Fatalf("expected values sorted by owner, got %+v", o.values)
	}
}

func TestOverflowFileFlushRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := pager.OpenPager(pager.PagerConfig{PageSize: 256, MaxCachePages: 16}, filepath.Join(dir, "db.wal"))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()
	fh, _, err := p.OpenFile(filepath.Join(dir, "overflow.dat"))
	if err != nil {
		t.Fatal(err)
	}

	o := NewOverflowFile()
	payloads := []string{
		"a long payload that does not fit inline at all",
		"another long payload also needing overflow storage",
		"short",
	}
	for i, s := range payloads {
		o.Append(uint64(i), []byte(s))
	}
	o.Sort()

	refs, err := o.Flush(p, fh, 256)
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != len(payloads) {
		t.Fatalf("expected %d refs, got %d", len(payloads), len(refs))
	}

	for i, ref := range refs {
		frame, err := p.Pin(fh, ref.PageIdx, pager.PinRead)
		if err != nil {
			t.Fatal(err)
		}
		got := pager.ReadValue(frame.Data, ref)
		if string(got) != payloads[i] {
			t.Fatalf("ref %d: got %q, want %q", i, got, payloads[i])
		}
		p.Unpin(0, frame, false)
	}
}
