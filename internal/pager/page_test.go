package pager

import "testing"

func TestPageCRCRoundTrip(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeColumnData, 7)
	copy(buf[PageHeaderSize:], []byte("hello graph"))
	SetPageCRC(buf)
	if err := VerifyPageCRC(buf); err != nil {
		t.Fatalf("expected valid CRC, got %v", err)
	}
	buf[PageHeaderSize]++
	if err := VerifyPageCRC(buf); err == nil {
		t.Fatal("expected CRC mismatch after corrupting payload")
	}
}

func TestPageHeaderRoundTrip(t *testing.T) {
	h := &PageHeader{Type: PageTypeAdjListData, Flags: 3, ID: 42, LSN: 99}
	buf := make([]byte, PageHeaderSize)
	MarshalHeader(h, buf)
	got := UnmarshalHeader(buf)
	if got.Type != h.Type || got.Flags != h.Flags || got.ID != h.ID || got.LSN != h.LSN {
		t.Fatalf("header round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestNewPageZeroesPayload(t *testing.T) {
	buf := NewPage(DefaultPageSize, PageTypeOverflow, 1)
	for i := PageHeaderSize; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zeroed payload at %d, got %d", i, buf[i])
		}
	}
	h := UnmarshalHeader(buf)
	if h.Type != PageTypeOverflow || h.ID != 1 {
		t.Fatalf("unexpected header %+v", h)
	}
}
