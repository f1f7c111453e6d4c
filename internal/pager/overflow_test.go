package pager

import "testing"

func TestPlaceValueFillsPageThenAdvances(t *testing.T) {
	pageSize := 256
	cap := OverflowCapacity(pageSize)
	var cur OverflowCursor

	ref1, err := PlaceValue(&cur, pageSize, cap-1)
	if err != nil {
		t.Fatal(err)
	}
	if ref1.PageIdx != 0 || ref1.Offset != 0 {
		t.Fatalf("first value should land at page 0 offset 0, got %+v", ref1)
	}

	// Only one byte left in page 0; a two-byte value must roll to page 1.
	ref2, err := PlaceValue(&cur, pageSize, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ref2.PageIdx != 1 || ref2.Offset != 0 {
		t.Fatalf("second value should roll to page 1 offset 0, got %+v", ref2)
	}
}

func TestPlaceValueRejectsOversizedPayload(t *testing.T) {
	pageSize := 256
	var cur OverflowCursor
	if _, err := PlaceValue(&cur, pageSize, OverflowCapacity(pageSize)+1); err == nil {
		t.Fatal("expected error for a value larger than one page's capacity")
	}
}

func TestWriteValueReadValueRoundTrip(t *testing.T) {
	pageSize := DefaultPageSize
	var cur OverflowCursor
	data := []byte("a moderately long overflow payload for testing")
	ref, err := PlaceValue(&cur, pageSize, len(data))
	if err != nil {
		t.Fatal(err)
	}
	page := NewPage(pageSize, PageTypeOverflow, ref.PageIdx)
	WriteValue(page, ref, data)
	got := ReadValue(page, ref)
	if string(got) != string(data) {
		t.Fatalf("ReadValue = %q, want %q", got, data)
	}
}
