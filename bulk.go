// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// CellStatus classifies one cell of a fetched block.
type CellStatus int

const (
	// CellOK marks a cell holding a complete value.
	CellOK CellStatus = iota
	// CellNull marks a cell holding SQL NULL.
	CellNull
	// CellTruncated marks a cell whose value was cut to the buffer stride.
	// The full value can still be streamed with Cursor.StreamColumn.
	CellTruncated
	// CellError marks a cell in a row the driver reported an error for.
	CellError
)

// RowSet is a block of columnar buffers bound as one unit to a cursor for
// block fetching. The driver fills up to Capacity rows per FetchBlock call,
// together with a per-row status array and the count of rows delivered.
//
// A RowSet must stay reachable and unmutated while bound to a live cursor;
// the binding Statement retains it to guarantee the first half.
type RowSet struct {
	columns   []ColumnBuffer
	capacity  int
	rowStatus []SQLUSMALLINT

	// rowsFetched is written by the driver on every fetch; bound via
	// SQL_ATTR_ROWS_FETCHED_PTR.
	rowsFetched SQLULEN
}

// NewRowSet allocates a row set of the given row capacity with one columnar
// buffer per description.
func NewRowSet(capacity int, descs ...BufferDesc) (*RowSet, error) {
	if capacity <= 0 {
		return nil, NewError(ErrBind, fmt.Sprintf("invalid row set capacity %d", capacity))
	}
	if len(descs) == 0 {
		return nil, NewError(ErrBind, "row set requires at least one column")
	}

	columns := make([]ColumnBuffer, len(descs))
	for i, desc := range descs {
		col, err := NewColumnBuffer(desc, capacity)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}

	return &RowSet{
		columns:   columns,
		capacity:  capacity,
		rowStatus: make([]SQLUSMALLINT, capacity),
	}, nil
}

// Capacity is the number of rows the set holds per fetched block.
func (rs *RowSet) Capacity() int { return rs.capacity }

// NumColumns is the number of columnar buffers in the set.
func (rs *RowSet) NumColumns() int { return len(rs.columns) }

// Rows reports how many rows the most recent FetchBlock delivered.
func (rs *RowSet) Rows() int { return int(rs.rowsFetched) }

// Column returns the buffer bound to the given result column. Columns are
// numbered from one, matching the ODBC convention. Callers type-assert to
// the concrete buffer to read values.
func (rs *RowSet) Column(column int) ColumnBuffer {
	return rs.columns[column-1]
}

// Status classifies the cell at the given zero-based row and one-based
// column of the most recent fetched block.
func (rs *RowSet) Status(row, column int) CellStatus {
	// An errored row's indicators are not meaningful, so the row status
	// wins over anything they appear to say.
	if rs.rowStatus[row] == SQL_ROW_ERROR {
		return CellError
	}
	col := rs.columns[column-1]
	if col.IsNull(row) {
		return CellNull
	}
	if truncated(col, row) {
		return CellTruncated
	}
	return CellOK
}

// truncated reports driver-side truncation for the variable length buffer
// kinds. Fixed width buffers never truncate.
func truncated(col ColumnBuffer, row int) bool {
	switch c := col.(type) {
	case *TextColumn:
		return c.Truncated(row)
	case *BinaryColumn:
		return c.Truncated(row)
	default:
		return false
	}
}

// Cursor is an open result set positioned before its first block. It is
// created by Statement.Execute for statements that produce columns and stays
// valid until exhausted or closed; either way the owning Statement returns
// to the prepared state and may execute again.
type Cursor struct {
	stmt    *Statement
	columns int
	done    bool
}

// NumColumns reports the number of result columns the cursor produces.
func (c *Cursor) NumColumns() int { return c.columns }

// BindRowSet binds every buffer of the row set to the corresponding result
// column and registers the block bookkeeping with the driver. The row set
// column count must match the result column count exactly. Rebinding while
// the cursor is open replaces the previous binding; subsequent fetches land
// in the new buffers.
func (c *Cursor) BindRowSet(rs *RowSet) error {
	s := c.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("bind row set", stmtCursor); err != nil {
		return err
	}
	if rs.NumColumns() != c.columns {
		return NewError(ErrBind, fmt.Sprintf("row set has %d columns, result has %d", rs.NumColumns(), c.columns))
	}

	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_ROW_BIND_TYPE, SQL_BIND_BY_COLUMN), ErrBind, "set row bind type"); err != nil {
		return err
	}
	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_ROW_ARRAY_SIZE, uintptr(rs.capacity)), ErrBind, "set row array size"); err != nil {
		return err
	}
	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_ROWS_FETCHED_PTR, ptrAttr(&rs.rowsFetched)), ErrBind, "set rows fetched ptr"); err != nil {
		return err
	}
	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_ROW_STATUS_PTR, ptrAttr(&rs.rowStatus[0])), ErrBind, "set row status ptr"); err != nil {
		return err
	}

	for i, col := range rs.columns {
		ret := s.api.BindCol(s.handle, SQLUSMALLINT(i+1), col.cType(), col.valuePtr(), col.Stride(), col.indicatorPtr())
		if err := s.check(ret, ErrBind, fmt.Sprintf("bind column %d", i+1)); err != nil {
			return err
		}
	}

	s.rowSet = rs
	s.bindGen++
	return nil
}

// FetchBlock fetches the next block of rows into the bound row set and
// reports how many rows arrived. Zero with a nil error means the result set
// is exhausted; the cursor is closed and the statement is prepared again. A
// fetch error is terminal for the cursor.
func (c *Cursor) FetchBlock() (int, error) {
	s := c.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.done {
		return 0, nil
	}
	if err := s.require("fetch block", stmtCursor); err != nil {
		return 0, err
	}
	if s.rowSet == nil {
		return 0, NewError(ErrProtocol, "fetch block without a bound row set")
	}

	// Advancing the block invalidates any stream reader positioned in the
	// previous one.
	s.bindGen++

	ret := s.api.Fetch(s.handle)
	if ret == SQL_NO_DATA {
		c.done = true
		if err := s.check(s.api.CloseCursor(s.handle), ErrFetch, "close cursor"); err != nil {
			s.state = stmtFailed
			return 0, err
		}
		s.state = stmtPrepared
		return 0, nil
	}
	if err := s.check(ret, ErrFetch, "fetch"); err != nil {
		// Terminal: the statement refuses everything but Close from here,
		// through the state guard on every entry point.
		s.state = stmtFailed
		return 0, err
	}

	return int(s.rowSet.rowsFetched), nil
}

// Close discards any unfetched rows and returns the statement to the
// prepared state. Closing an exhausted or already closed cursor is a no-op.
func (c *Cursor) Close() error {
	s := c.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.done || s.state != stmtCursor {
		return nil
	}
	c.done = true
	s.bindGen++

	if err := s.check(s.api.CloseCursor(s.handle), ErrFetch, "close cursor"); err != nil {
		s.state = stmtFailed
		return err
	}
	s.state = stmtPrepared
	return nil
}

// RowOutcome is the uninterpreted per-row result of an arrayed execute.
type RowOutcome int

const (
	// RowSucceeded means the driver executed the row.
	RowSucceeded RowOutcome = iota
	// RowFailed means the driver rejected the row; diagnostics on the
	// statement say why.
	RowFailed
	// RowNotExecuted means the driver never reached the row, typically
	// because an earlier row aborted the batch.
	RowNotExecuted
	// RowDiagUnavailable means the driver executed the batch as a unit and
	// cannot attribute an outcome to this row.
	RowDiagUnavailable
)

// ParamSet is a block of columnar buffers bound as one unit to the parameter
// markers of a statement for arrayed execution. Callers fill up to Capacity
// rows and submit a prefix of them with ExecuteBatch.
type ParamSet struct {
	columns  []ColumnBuffer
	capacity int
	status   []SQLUSMALLINT

	// processed is written by the driver on execute; bound via
	// SQL_ATTR_PARAMS_PROCESSED_PTR.
	processed SQLULEN
}

// NewParamSet allocates a parameter set of the given row capacity with one
// columnar buffer per description.
func NewParamSet(capacity int, descs ...BufferDesc) (*ParamSet, error) {
	if capacity <= 0 {
		return nil, NewError(ErrBind, fmt.Sprintf("invalid parameter set capacity %d", capacity))
	}
	if len(descs) == 0 {
		return nil, NewError(ErrBind, "parameter set requires at least one column")
	}

	columns := make([]ColumnBuffer, len(descs))
	for i, desc := range descs {
		col, err := NewColumnBuffer(desc, capacity)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}

	return &ParamSet{
		columns:  columns,
		capacity: capacity,
		status:   make([]SQLUSMALLINT, capacity),
	}, nil
}

// Capacity is the number of rows the set can submit per batch.
func (ps *ParamSet) Capacity() int { return ps.capacity }

// NumColumns is the number of columnar buffers in the set.
func (ps *ParamSet) NumColumns() int { return len(ps.columns) }

// Column returns the buffer bound to the given parameter marker. Parameters
// are numbered from one, matching the ODBC convention.
func (ps *ParamSet) Column(number int) ColumnBuffer {
	return ps.columns[number-1]
}

// ExecuteBatch binds the parameter set and executes the prepared statement
// once for the first rows entries of every column. The per-row outcomes in
// the result are reported exactly as the driver delivered them; partial
// failure is not an error here, total failure is.
func (s *Statement) ExecuteBatch(ps *ParamSet, rows int) (*BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("execute batch", stmtPrepared); err != nil {
		return nil, err
	}
	if rows <= 0 || rows > ps.capacity {
		return nil, NewError(ErrBatch, fmt.Sprintf("batch of %d rows does not fit parameter set capacity %d", rows, ps.capacity))
	}

	// Start from a clean parameter state so a previous binding cannot leak
	// into this batch.
	if err := s.check(s.api.FreeStmt(s.handle, SQL_RESET_PARAMS), ErrBatch, "reset params"); err != nil {
		return nil, err
	}
	s.streams = nil

	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_PARAM_BIND_TYPE, SQL_BIND_BY_COLUMN), ErrBatch, "set param bind type"); err != nil {
		return nil, err
	}
	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_PARAMSET_SIZE, uintptr(rows)), ErrBatch, "set paramset size"); err != nil {
		return nil, err
	}
	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_PARAM_STATUS_PTR, ptrAttr(&ps.status[0])), ErrBatch, "set param status ptr"); err != nil {
		return nil, err
	}
	if err := s.check(s.api.SetStmtAttr(s.handle, SQL_ATTR_PARAMS_PROCESSED_PTR, ptrAttr(&ps.processed)), ErrBatch, "set params processed ptr"); err != nil {
		return nil, err
	}

	for i, col := range ps.columns {
		ret := s.api.BindParameter(s.handle, SQLUSMALLINT(i+1), col.cType(), col.sqlType(), col.columnSize(), 0, col.valuePtr(), col.Stride(), col.indicatorPtr())
		if err := s.check(ret, ErrBatch, fmt.Sprintf("bind parameter %d", i+1)); err != nil {
			return nil, err
		}
	}
	s.paramSet = ps
	s.bindGen++

	ps.processed = 0
	ret := s.api.Execute(s.handle)
	executed := succeeded(ret) || ret == SQL_NO_DATA
	if !executed && ps.processed == 0 {
		// Nothing ran; the whole batch failed as a unit.
		return nil, diagError(s.api, ErrBatch, "execute batch", SQL_HANDLE_STMT, s.handle)
	}
	var diags []DiagnosticRecord
	if ret == SQL_SUCCESS_WITH_INFO || ret == SQL_ERROR {
		diags = drainDiagnostics(s.api, SQL_HANDLE_STMT, s.handle)
		s.lastInfo = diags
	}
	s.conn.markWork()

	result := &BatchResult{
		outcomes:  make([]RowOutcome, rows),
		processed: int64(ps.processed),
		diags:     diags,
	}
	for i := 0; i < rows; i++ {
		switch ps.status[i] {
		case SQL_PARAM_SUCCESS, SQL_PARAM_SUCCESS_WITH_INFO:
			result.outcomes[i] = RowSucceeded
		case SQL_PARAM_ERROR:
			result.outcomes[i] = RowFailed
		case SQL_PARAM_UNUSED:
			result.outcomes[i] = RowNotExecuted
		case SQL_PARAM_DIAG_UNAVAILABLE:
			result.outcomes[i] = RowDiagUnavailable
		default:
			result.outcomes[i] = RowFailed
		}
	}
	return result, nil
}

// BatchResult carries the per-row outcomes of one arrayed execute.
type BatchResult struct {
	outcomes  []RowOutcome
	processed int64
	diags     []DiagnosticRecord
}

// Outcomes returns one outcome per submitted row, in submission order.
func (r *BatchResult) Outcomes() []RowOutcome { return r.outcomes }

// Processed reports how many parameter rows the driver consumed, which can
// be short of the submitted count when the batch aborted early.
func (r *BatchResult) Processed() int64 { return r.processed }

// AllSucceeded reports whether every submitted row executed.
func (r *BatchResult) AllSucceeded() bool {
	for _, o := range r.outcomes {
		if o != RowSucceeded {
			return false
		}
	}
	return true
}

// FailedRows lists the zero-based indexes of rows the driver rejected.
func (r *BatchResult) FailedRows() []int {
	var failed []int
	for i, o := range r.outcomes {
		if o == RowFailed {
			failed = append(failed, i)
		}
	}
	return failed
}

// Diagnostics returns the statement diagnostics drained after the execute,
// covering every row the driver reported on.
func (r *BatchResult) Diagnostics() []DiagnosticRecord { return r.diags }

// Err aggregates the failed rows into a single error, or nil when every row
// executed.
func (r *BatchResult) Err() error {
	var errs *multierror.Error
	for i, o := range r.outcomes {
		switch o {
		case RowFailed:
			errs = multierror.Append(errs, NewError(ErrBatch, fmt.Sprintf("row %d rejected", i)))
		case RowNotExecuted:
			errs = multierror.Append(errs, NewError(ErrBatch, fmt.Sprintf("row %d not executed", i)))
		}
	}
	return errs.ErrorOrNil()
}
