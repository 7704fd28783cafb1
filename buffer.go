// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"
	"time"
	"unsafe"
)

// BufferKind selects the logical type of a columnar buffer.
type BufferKind int

const (
	// BufferInt64 is a fixed width 64-bit signed integer column.
	BufferInt64 BufferKind = iota
	// BufferFloat64 is a fixed width double precision column.
	BufferFloat64
	// BufferTimestamp is a fixed width timestamp column.
	BufferTimestamp
	// BufferText is a variable length character column. Size gives the
	// longest value the buffer can hold without truncation.
	BufferText
	// BufferBinary is a variable length binary column. Size gives the
	// longest value the buffer can hold without truncation.
	BufferBinary
)

// BufferDesc describes one columnar buffer to be allocated: the logical type
// and, for variable length kinds, the maximum element size in bytes.
type BufferDesc struct {
	Kind BufferKind
	Size int
}

// Timestamp mirrors the C SQL_TIMESTAMP_STRUCT layout a driver writes
// timestamp columns in. The struct is bound directly, so the field order and
// widths must not change.
type Timestamp struct {
	Year     int16
	Month    uint16
	Day      uint16
	Hour     uint16
	Minute   uint16
	Second   uint16
	Fraction uint32 // nanoseconds
}

// Time converts the driver representation to a time.Time in UTC.
func (ts Timestamp) Time() time.Time {
	return time.Date(int(ts.Year), time.Month(ts.Month), int(ts.Day),
		int(ts.Hour), int(ts.Minute), int(ts.Second), int(ts.Fraction), time.UTC)
}

// MakeTimestamp converts a time.Time to the driver representation.
func MakeTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Year:     int16(t.Year()),
		Month:    uint16(t.Month()),
		Day:      uint16(t.Day()),
		Hour:     uint16(t.Hour()),
		Minute:   uint16(t.Minute()),
		Second:   uint16(t.Second()),
		Fraction: uint32(t.Nanosecond()),
	}
}

// ColumnBuffer is a fixed-stride array of values plus a per-row indicator
// array, bindable to either a result column (block fetch) or a parameter
// marker (arrayed execute). The binder borrows the memory; the buffer object
// owns it and must stay reachable while bound. All implementations in this
// package keep values and indicators in ordinary Go slices, which the owning
// Statement retains so nothing the driver dereferences can be collected
// mid-call.
type ColumnBuffer interface {
	// Kind reports the logical type the buffer was created with.
	Kind() BufferKind
	// Capacity is the number of rows the buffer holds.
	Capacity() int
	// Stride is the width in bytes of one element.
	Stride() SQLLEN

	// Indicator reports the raw per-row indicator: the value length,
	// SQL_NULL_DATA, or the untruncated total length when the driver
	// reported truncation.
	Indicator(row int) SQLLEN
	// IsNull reports whether the row holds SQL NULL.
	IsNull(row int) bool
	// SetNull marks the row as SQL NULL for parameter use.
	SetNull(row int)

	// cType identifies the C layout of the value region.
	cType() SQLSMALLINT
	// sqlType is the SQL type announced when binding as a parameter.
	sqlType() SQLSMALLINT
	// columnSize is the column size announced when binding as a parameter.
	columnSize() SQLULEN
	// valuePtr is the address of the first element.
	valuePtr() unsafe.Pointer
	// indicatorPtr is the address of the first indicator.
	indicatorPtr() *SQLLEN
}

// NewColumnBuffer allocates a columnar buffer for the given description and
// row capacity.
func NewColumnBuffer(desc BufferDesc, capacity int) (ColumnBuffer, error) {
	if capacity <= 0 {
		return nil, NewError(ErrBind, fmt.Sprintf("invalid buffer capacity %d", capacity))
	}
	switch desc.Kind {
	case BufferInt64:
		return NewInt64Column(capacity), nil
	case BufferFloat64:
		return NewFloat64Column(capacity), nil
	case BufferTimestamp:
		return NewTimestampColumn(capacity), nil
	case BufferText:
		if desc.Size <= 0 {
			return nil, NewError(ErrBind, "text buffer requires a positive max element size")
		}
		return NewTextColumn(capacity, desc.Size), nil
	case BufferBinary:
		if desc.Size <= 0 {
			return nil, NewError(ErrBind, "binary buffer requires a positive max element size")
		}
		return NewBinaryColumn(capacity, desc.Size), nil
	default:
		return nil, NewError(ErrBind, fmt.Sprintf("unknown buffer kind %d", desc.Kind))
	}
}

// Int64Column is a columnar buffer of 64-bit signed integers.
type Int64Column struct {
	values     []int64
	indicators []SQLLEN
}

// NewInt64Column allocates an Int64Column with the given row capacity.
func NewInt64Column(capacity int) *Int64Column {
	return &Int64Column{
		values:     make([]int64, capacity),
		indicators: make([]SQLLEN, capacity),
	}
}

// Value returns the value at the given row. The result is meaningless if the
// row is NULL.
func (c *Int64Column) Value(row int) int64 { return c.values[row] }

// Set stores a value at the given row and clears its NULL flag.
func (c *Int64Column) Set(row int, v int64) {
	c.values[row] = v
	c.indicators[row] = SQLLEN(unsafe.Sizeof(v))
}

// Kind reports BufferInt64.
func (c *Int64Column) Kind() BufferKind { return BufferInt64 }

// Capacity is the number of rows the buffer holds.
func (c *Int64Column) Capacity() int { return len(c.values) }

// Stride is the width of one element in bytes.
func (c *Int64Column) Stride() SQLLEN { return 8 }

// Indicator reports the raw indicator for the row.
func (c *Int64Column) Indicator(row int) SQLLEN { return c.indicators[row] }

// IsNull reports whether the row holds SQL NULL.
func (c *Int64Column) IsNull(row int) bool { return c.indicators[row] == SQL_NULL_DATA }

// SetNull marks the row as SQL NULL.
func (c *Int64Column) SetNull(row int) { c.indicators[row] = SQL_NULL_DATA }

func (c *Int64Column) cType() SQLSMALLINT      { return SQL_C_SBIGINT }
func (c *Int64Column) sqlType() SQLSMALLINT    { return SQL_BIGINT }
func (c *Int64Column) columnSize() SQLULEN     { return 0 }
func (c *Int64Column) valuePtr() unsafe.Pointer {
	return unsafe.Pointer(&c.values[0])
}
func (c *Int64Column) indicatorPtr() *SQLLEN { return &c.indicators[0] }

// Float64Column is a columnar buffer of double precision floats.
type Float64Column struct {
	values     []float64
	indicators []SQLLEN
}

// NewFloat64Column allocates a Float64Column with the given row capacity.
func NewFloat64Column(capacity int) *Float64Column {
	return &Float64Column{
		values:     make([]float64, capacity),
		indicators: make([]SQLLEN, capacity),
	}
}

// Value returns the value at the given row.
func (c *Float64Column) Value(row int) float64 { return c.values[row] }

// Set stores a value at the given row and clears its NULL flag.
func (c *Float64Column) Set(row int, v float64) {
	c.values[row] = v
	c.indicators[row] = SQLLEN(unsafe.Sizeof(v))
}

// Kind reports BufferFloat64.
func (c *Float64Column) Kind() BufferKind { return BufferFloat64 }

// Capacity is the number of rows the buffer holds.
func (c *Float64Column) Capacity() int { return len(c.values) }

// Stride is the width of one element in bytes.
func (c *Float64Column) Stride() SQLLEN { return 8 }

// Indicator reports the raw indicator for the row.
func (c *Float64Column) Indicator(row int) SQLLEN { return c.indicators[row] }

// IsNull reports whether the row holds SQL NULL.
func (c *Float64Column) IsNull(row int) bool { return c.indicators[row] == SQL_NULL_DATA }

// SetNull marks the row as SQL NULL.
func (c *Float64Column) SetNull(row int) { c.indicators[row] = SQL_NULL_DATA }

func (c *Float64Column) cType() SQLSMALLINT   { return SQL_C_DOUBLE }
func (c *Float64Column) sqlType() SQLSMALLINT { return SQL_DOUBLE }
func (c *Float64Column) columnSize() SQLULEN  { return 0 }
func (c *Float64Column) valuePtr() unsafe.Pointer {
	return unsafe.Pointer(&c.values[0])
}
func (c *Float64Column) indicatorPtr() *SQLLEN { return &c.indicators[0] }

// TimestampColumn is a columnar buffer of SQL timestamps.
type TimestampColumn struct {
	values     []Timestamp
	indicators []SQLLEN
}

// NewTimestampColumn allocates a TimestampColumn with the given row capacity.
func NewTimestampColumn(capacity int) *TimestampColumn {
	return &TimestampColumn{
		values:     make([]Timestamp, capacity),
		indicators: make([]SQLLEN, capacity),
	}
}

// Value returns the timestamp at the given row.
func (c *TimestampColumn) Value(row int) Timestamp { return c.values[row] }

// Set stores a timestamp at the given row and clears its NULL flag.
func (c *TimestampColumn) Set(row int, v Timestamp) {
	c.values[row] = v
	c.indicators[row] = c.Stride()
}

// Kind reports BufferTimestamp.
func (c *TimestampColumn) Kind() BufferKind { return BufferTimestamp }

// Capacity is the number of rows the buffer holds.
func (c *TimestampColumn) Capacity() int { return len(c.values) }

// Stride is the width of one element in bytes.
func (c *TimestampColumn) Stride() SQLLEN { return SQLLEN(unsafe.Sizeof(Timestamp{})) }

// Indicator reports the raw indicator for the row.
func (c *TimestampColumn) Indicator(row int) SQLLEN { return c.indicators[row] }

// IsNull reports whether the row holds SQL NULL.
func (c *TimestampColumn) IsNull(row int) bool { return c.indicators[row] == SQL_NULL_DATA }

// SetNull marks the row as SQL NULL.
func (c *TimestampColumn) SetNull(row int) { c.indicators[row] = SQL_NULL_DATA }

func (c *TimestampColumn) cType() SQLSMALLINT   { return SQL_C_TYPE_TIMESTAMP }
func (c *TimestampColumn) sqlType() SQLSMALLINT { return SQL_TYPE_TIMESTAMP }

// Timestamp column size covers "yyyy-MM-dd hh:mm:ss.fffffffff".
func (c *TimestampColumn) columnSize() SQLULEN { return 29 }
func (c *TimestampColumn) valuePtr() unsafe.Pointer {
	return unsafe.Pointer(&c.values[0])
}
func (c *TimestampColumn) indicatorPtr() *SQLLEN { return &c.indicators[0] }

// TextColumn is a columnar buffer of variable length character data. Each
// element occupies maxLen+1 bytes so the driver has room for its terminating
// NUL; the indicator carries the true length, which exceeds maxLen when the
// driver truncated the value.
type TextColumn struct {
	data       []byte
	maxLen     int
	indicators []SQLLEN
}

// NewTextColumn allocates a TextColumn holding capacity rows of up to maxLen
// bytes each.
func NewTextColumn(capacity, maxLen int) *TextColumn {
	return &TextColumn{
		data:       make([]byte, capacity*(maxLen+1)),
		maxLen:     maxLen,
		indicators: make([]SQLLEN, capacity),
	}
}

// Value returns the bytes stored at the given row, clipped to the buffer
// stride when the row was truncated. The returned slice aliases the buffer.
func (c *TextColumn) Value(row int) []byte {
	ind := c.indicators[row]
	if ind == SQL_NULL_DATA {
		return nil
	}
	n := int(ind)
	if ind == SQL_NO_TOTAL || n > c.maxLen {
		n = c.maxLen
	}
	off := row * (c.maxLen + 1)
	return c.data[off : off+n]
}

// Set stores a value at the given row. The value must fit the declared
// maximum element size.
func (c *TextColumn) Set(row int, v []byte) error {
	if len(v) > c.maxLen {
		return NewError(ErrBind, fmt.Sprintf("value of %d bytes exceeds buffer element size %d", len(v), c.maxLen))
	}
	off := row * (c.maxLen + 1)
	copy(c.data[off:], v)
	c.data[off+len(v)] = 0
	c.indicators[row] = SQLLEN(len(v))
	return nil
}

// SetString stores a string value at the given row.
func (c *TextColumn) SetString(row int, v string) error {
	return c.Set(row, []byte(v))
}

// Truncated reports whether the driver had to cut the value at this row to
// the buffer stride. The untruncated length is available via TotalLength.
func (c *TextColumn) Truncated(row int) bool {
	ind := c.indicators[row]
	return ind == SQL_NO_TOTAL || (ind >= 0 && int(ind) > c.maxLen)
}

// TotalLength reports the true length of the value at this row as announced
// by the driver, or -1 if the driver could not determine it (SQL_NO_TOTAL).
func (c *TextColumn) TotalLength(row int) int {
	ind := c.indicators[row]
	if ind == SQL_NO_TOTAL || ind == SQL_NULL_DATA {
		return -1
	}
	return int(ind)
}

// Kind reports BufferText.
func (c *TextColumn) Kind() BufferKind { return BufferText }

// Capacity is the number of rows the buffer holds.
func (c *TextColumn) Capacity() int { return len(c.indicators) }

// Stride is the width of one element in bytes, including the NUL slot.
func (c *TextColumn) Stride() SQLLEN { return SQLLEN(c.maxLen + 1) }

// Indicator reports the raw indicator for the row.
func (c *TextColumn) Indicator(row int) SQLLEN { return c.indicators[row] }

// IsNull reports whether the row holds SQL NULL.
func (c *TextColumn) IsNull(row int) bool { return c.indicators[row] == SQL_NULL_DATA }

// SetNull marks the row as SQL NULL.
func (c *TextColumn) SetNull(row int) { c.indicators[row] = SQL_NULL_DATA }

func (c *TextColumn) cType() SQLSMALLINT   { return SQL_C_CHAR }
func (c *TextColumn) sqlType() SQLSMALLINT { return SQL_VARCHAR }
func (c *TextColumn) columnSize() SQLULEN  { return SQLULEN(c.maxLen) }
func (c *TextColumn) valuePtr() unsafe.Pointer {
	return unsafe.Pointer(&c.data[0])
}
func (c *TextColumn) indicatorPtr() *SQLLEN { return &c.indicators[0] }

// BinaryColumn is a columnar buffer of variable length binary data.
type BinaryColumn struct {
	data       []byte
	maxLen     int
	indicators []SQLLEN
}

// NewBinaryColumn allocates a BinaryColumn holding capacity rows of up to
// maxLen bytes each.
func NewBinaryColumn(capacity, maxLen int) *BinaryColumn {
	return &BinaryColumn{
		data:       make([]byte, capacity*maxLen),
		maxLen:     maxLen,
		indicators: make([]SQLLEN, capacity),
	}
}

// Value returns the bytes stored at the given row, clipped to the buffer
// stride when the row was truncated. The returned slice aliases the buffer.
func (c *BinaryColumn) Value(row int) []byte {
	ind := c.indicators[row]
	if ind == SQL_NULL_DATA {
		return nil
	}
	n := int(ind)
	if ind == SQL_NO_TOTAL || n > c.maxLen {
		n = c.maxLen
	}
	off := row * c.maxLen
	return c.data[off : off+n]
}

// Set stores a value at the given row. The value must fit the declared
// maximum element size.
func (c *BinaryColumn) Set(row int, v []byte) error {
	if len(v) > c.maxLen {
		return NewError(ErrBind, fmt.Sprintf("value of %d bytes exceeds buffer element size %d", len(v), c.maxLen))
	}
	copy(c.data[row*c.maxLen:], v)
	c.indicators[row] = SQLLEN(len(v))
	return nil
}

// Truncated reports whether the driver had to cut the value at this row to
// the buffer stride.
func (c *BinaryColumn) Truncated(row int) bool {
	ind := c.indicators[row]
	return ind == SQL_NO_TOTAL || (ind >= 0 && int(ind) > c.maxLen)
}

// TotalLength reports the true length of the value at this row as announced
// by the driver, or -1 if the driver could not determine it.
func (c *BinaryColumn) TotalLength(row int) int {
	ind := c.indicators[row]
	if ind == SQL_NO_TOTAL || ind == SQL_NULL_DATA {
		return -1
	}
	return int(ind)
}

// Kind reports BufferBinary.
func (c *BinaryColumn) Kind() BufferKind { return BufferBinary }

// Capacity is the number of rows the buffer holds.
func (c *BinaryColumn) Capacity() int { return len(c.indicators) }

// Stride is the width of one element in bytes.
func (c *BinaryColumn) Stride() SQLLEN { return SQLLEN(c.maxLen) }

// Indicator reports the raw indicator for the row.
func (c *BinaryColumn) Indicator(row int) SQLLEN { return c.indicators[row] }

// IsNull reports whether the row holds SQL NULL.
func (c *BinaryColumn) IsNull(row int) bool { return c.indicators[row] == SQL_NULL_DATA }

// SetNull marks the row as SQL NULL.
func (c *BinaryColumn) SetNull(row int) { c.indicators[row] = SQL_NULL_DATA }

func (c *BinaryColumn) cType() SQLSMALLINT   { return SQL_C_BINARY }
func (c *BinaryColumn) sqlType() SQLSMALLINT { return SQL_VARBINARY }
func (c *BinaryColumn) columnSize() SQLULEN  { return SQLULEN(c.maxLen) }
func (c *BinaryColumn) valuePtr() unsafe.Pointer {
	return unsafe.Pointer(&c.data[0])
}
func (c *BinaryColumn) indicatorPtr() *SQLLEN { return &c.indicators[0] }
