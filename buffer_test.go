package odbc

import (
	"bytes"
	"testing"
	"time"
)

func TestNewColumnBufferValidation(t *testing.T) {
	if _, err := NewColumnBuffer(BufferDesc{Kind: BufferInt64}, 0); !IsError(err, ErrBind) {
		t.Errorf("zero capacity = %v, want ErrBind", err)
	}
	if _, err := NewColumnBuffer(BufferDesc{Kind: BufferText}, 10); !IsError(err, ErrBind) {
		t.Errorf("text without size = %v, want ErrBind", err)
	}
	if _, err := NewColumnBuffer(BufferDesc{Kind: BufferKind(99)}, 10); !IsError(err, ErrBind) {
		t.Errorf("unknown kind = %v, want ErrBind", err)
	}
	if _, err := NewColumnBuffer(BufferDesc{Kind: BufferBinary, Size: 16}, 10); err != nil {
		t.Errorf("valid binary buffer rejected: %v", err)
	}
}

func TestInt64Column(t *testing.T) {
	col := NewInt64Column(4)
	col.Set(0, 42)
	col.SetNull(1)
	col.Set(2, -1)

	if col.Value(0) != 42 || col.Value(2) != -1 {
		t.Errorf("values = %d, %d", col.Value(0), col.Value(2))
	}
	if col.IsNull(0) || !col.IsNull(1) {
		t.Error("null flags wrong")
	}
	if col.Capacity() != 4 || col.Stride() != 8 {
		t.Errorf("capacity = %d stride = %d", col.Capacity(), col.Stride())
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	when := time.Date(2024, time.March, 15, 13, 37, 42, 500000000, time.UTC)
	ts := MakeTimestamp(when)
	if got := ts.Time(); !got.Equal(when) {
		t.Errorf("round trip = %v, want %v", got, when)
	}

	col := NewTimestampColumn(2)
	col.Set(0, ts)
	if got := col.Value(0).Time(); !got.Equal(when) {
		t.Errorf("column round trip = %v, want %v", got, when)
	}
}

func TestTextColumnSetAndValue(t *testing.T) {
	col := NewTextColumn(3, 8)

	if err := col.SetString(0, "hello"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	col.SetNull(1)
	if err := col.SetString(2, "exactly8"); err != nil {
		t.Fatalf("set at max length failed: %v", err)
	}

	if got := string(col.Value(0)); got != "hello" {
		t.Errorf("value = %q", got)
	}
	if col.Value(1) != nil {
		t.Error("null row returned bytes")
	}
	if got := string(col.Value(2)); got != "exactly8" {
		t.Errorf("value = %q", got)
	}

	if err := col.SetString(0, "way too long for it"); !IsError(err, ErrBind) {
		t.Errorf("oversized set = %v, want ErrBind", err)
	}
}

func TestTextColumnTruncation(t *testing.T) {
	col := NewTextColumn(2, 4)

	// A driver reports truncation by writing a clipped value and an
	// indicator carrying the full length.
	copy(col.data[0:], "abcd")
	col.indicators[0] = 10

	if !col.Truncated(0) {
		t.Error("truncation not detected")
	}
	if got := col.TotalLength(0); got != 10 {
		t.Errorf("total length = %d, want 10", got)
	}
	if got := string(col.Value(0)); got != "abcd" {
		t.Errorf("clipped value = %q, want abcd", got)
	}

	// SQL_NO_TOTAL also means truncated, with an unknown total.
	col.indicators[1] = SQL_NO_TOTAL
	if !col.Truncated(1) {
		t.Error("SQL_NO_TOTAL not treated as truncation")
	}
	if got := col.TotalLength(1); got != -1 {
		t.Errorf("total length = %d, want -1", got)
	}
}

func TestBinaryColumn(t *testing.T) {
	col := NewBinaryColumn(2, 4)

	if err := col.Set(0, []byte{1, 2, 3}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if !bytes.Equal(col.Value(0), []byte{1, 2, 3}) {
		t.Errorf("value = %v", col.Value(0))
	}
	if col.Truncated(0) {
		t.Error("complete value reported truncated")
	}
	if err := col.Set(1, []byte{1, 2, 3, 4, 5}); !IsError(err, ErrBind) {
		t.Errorf("oversized set = %v, want ErrBind", err)
	}
}

func TestChunkPoolTiers(t *testing.T) {
	small := chunks.get(100)
	if len(small) != 100 || cap(small) != smallChunkSize {
		t.Errorf("small chunk len %d cap %d", len(small), cap(small))
	}
	chunks.put(small)

	medium := chunks.get(smallChunkSize + 1)
	if cap(medium) != mediumChunkSize {
		t.Errorf("medium chunk cap %d", cap(medium))
	}
	chunks.put(medium)

	huge := chunks.get(largeChunkSize * 2)
	if len(huge) != largeChunkSize*2 {
		t.Errorf("oversized chunk len %d", len(huge))
	}
}
