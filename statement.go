// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// stmtState tracks where a statement sits in its lifecycle. Transitions are
// enforced on every entry point, so a misuse is an error return, never a
// crash inside the driver.
type stmtState int32

const (
	stmtAllocated stmtState = iota
	stmtPrepared
	stmtCursor
	stmtFailed
	stmtClosed
)

func (s stmtState) String() string {
	switch s {
	case stmtAllocated:
		return "allocated"
	case stmtPrepared:
		return "prepared"
	case stmtCursor:
		return "cursor"
	case stmtFailed:
		return "failed"
	case stmtClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ColumnDescription reports the metadata of one result column as described
// by the driver.
type ColumnDescription struct {
	Name          string
	DataType      SQLSMALLINT
	ColumnSize    int
	DecimalDigits int
	Nullable      bool
	// NullableKnown is false when the driver reports it cannot tell.
	NullableKnown bool
}

// Statement is a prepared SQL statement owned by a Connection. A Statement is
// confined to one goroutine; the mutex only guards against accidental
// concurrent misuse.
//
// Bound buffers are retained on the Statement until unbound or replaced, so
// the memory the driver dereferences stays reachable for exactly as long as
// the driver may touch it.
type Statement struct {
	conn   *Connection
	api    driverAPI
	handle SQLHANDLE
	query  string
	closed int32

	mu    sync.Mutex
	state stmtState

	// bindGen increments on every change to the binding set or cursor
	// position. StreamReaders snapshot it and refuse to read when stale.
	bindGen uint64

	rowSet    *RowSet
	paramSet  *ParamSet
	streams   []*StreamParam
	colBufs   []ColumnBuffer
	paramBufs []ColumnBuffer

	lastInfo []DiagnosticRecord
}

// Query returns the SQL text the statement was prepared from.
func (s *Statement) Query() string { return s.query }

// NumParams reports the number of parameter markers in the prepared text.
func (s *Statement) NumParams() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("num params", stmtPrepared, stmtCursor); err != nil {
		return 0, err
	}
	n, ret := s.api.NumParams(s.handle)
	if !succeeded(ret) {
		return 0, diagError(s.api, ErrPrepare, "num params", SQL_HANDLE_STMT, s.handle)
	}
	return int(n), nil
}

// NumResultCols reports the number of columns the statement produces, zero
// for statements without a result set.
func (s *Statement) NumResultCols() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("num result cols", stmtPrepared, stmtCursor); err != nil {
		return 0, err
	}
	n, ret := s.api.NumResultCols(s.handle)
	if !succeeded(ret) {
		return 0, diagError(s.api, ErrPrepare, "num result cols", SQL_HANDLE_STMT, s.handle)
	}
	return int(n), nil
}

// DescribeCol reports the metadata of one result column. Columns are
// numbered from one. Column names longer than the initial buffer are fetched
// again with a buffer grown to the length the driver announced.
func (s *Statement) DescribeCol(column int) (ColumnDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("describe col", stmtPrepared, stmtCursor); err != nil {
		return ColumnDescription{}, err
	}
	if column < 1 {
		return ColumnDescription{}, NewError(ErrProtocol, fmt.Sprintf("invalid column number %d", column))
	}

	nameBuf := make([]byte, 256)
	desc, ret := s.api.DescribeCol(s.handle, SQLUSMALLINT(column), nameBuf)
	if succeeded(ret) && int(desc.NameLen) >= len(nameBuf) {
		nameBuf = make([]byte, int(desc.NameLen)+1)
		desc, ret = s.api.DescribeCol(s.handle, SQLUSMALLINT(column), nameBuf)
	}
	if !succeeded(ret) {
		return ColumnDescription{}, diagError(s.api, ErrPrepare, "describe col", SQL_HANDLE_STMT, s.handle)
	}

	n := int(desc.NameLen)
	if n > len(nameBuf) {
		n = len(nameBuf)
	}
	return ColumnDescription{
		Name:          string(nameBuf[:n]),
		DataType:      desc.DataType,
		ColumnSize:    int(desc.ColumnSize),
		DecimalDigits: int(desc.DecimalDigits),
		Nullable:      desc.Nullable == SQL_NULLABLE,
		NullableKnown: desc.Nullable != SQL_NULLABLE_UNKNOWN,
	}, nil
}

// RowCount reports the number of rows affected by the most recent execution.
// A searched UPDATE or DELETE matching nothing reports zero.
func (s *Statement) RowCount() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("row count", stmtPrepared, stmtCursor); err != nil {
		return 0, err
	}
	n, ret := s.api.RowCount(s.handle)
	if !succeeded(ret) {
		return 0, diagError(s.api, ErrExec, "row count", SQL_HANDLE_STMT, s.handle)
	}
	return int64(n), nil
}

// Execute runs the prepared statement with whatever parameters are currently
// bound. Statements that produce a result set return a Cursor; statements
// that do not return a nil Cursor and leave the affected row count available
// through RowCount.
//
// When data-at-execution parameters were bound with BindStream, Execute
// drives the chunk feed loop from each parameter's reader before the
// execution completes. Parameters without a reader require ExecuteStreaming
// instead.
func (s *Statement) Execute() (*Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("execute", stmtPrepared); err != nil {
		return nil, err
	}

	ret := s.api.Execute(s.handle)
	if ret == SQL_NEED_DATA {
		if err := s.feedStreams(); err != nil {
			s.state = stmtFailed
			return nil, err
		}
	} else if ret != SQL_NO_DATA {
		if err := s.check(ret, ErrExec, "execute"); err != nil {
			return nil, err
		}
	}
	s.conn.markWork()

	return s.openCursor()
}

// openCursor inspects the executed statement and transitions into the cursor
// state when a result set is present. Caller holds the mutex.
func (s *Statement) openCursor() (*Cursor, error) {
	cols, ret := s.api.NumResultCols(s.handle)
	if !succeeded(ret) {
		s.state = stmtFailed
		return nil, diagError(s.api, ErrExec, "num result cols", SQL_HANDLE_STMT, s.handle)
	}
	if cols == 0 {
		return nil, nil
	}

	s.state = stmtCursor
	s.bindGen++
	return &Cursor{stmt: s, columns: int(cols)}, nil
}

// ExecuteStreaming runs the prepared statement and, when the driver asks for
// data-at-execution values, hands control to the caller through an ExecState
// instead of feeding from readers. Statements without streamed parameters
// complete immediately and the returned state is already done.
func (s *Statement) ExecuteStreaming() (*ExecState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("execute", stmtPrepared); err != nil {
		return nil, err
	}

	ret := s.api.Execute(s.handle)
	switch {
	case ret == SQL_NEED_DATA:
		es := &ExecState{stmt: s}
		if err := es.advance(); err != nil {
			s.state = stmtFailed
			return nil, err
		}
		return es, nil
	case ret == SQL_NO_DATA:
		s.conn.markWork()
		return &ExecState{stmt: s, done: true}, nil
	default:
		if err := s.check(ret, ErrExec, "execute"); err != nil {
			return nil, err
		}
		s.conn.markWork()
		return &ExecState{stmt: s, done: true}, nil
	}
}

// BindColumn attaches a single columnar buffer to one result column.
// Columns are numbered from one. Rebinding a column replaces the previous
// binding; subsequent fetches land in the new buffer. For whole-row-set
// binding use Cursor.BindRowSet instead.
func (s *Statement) BindColumn(column int, buf ColumnBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("bind column", stmtPrepared, stmtCursor); err != nil {
		return err
	}
	if column < 1 {
		return NewError(ErrBind, fmt.Sprintf("invalid column number %d", column))
	}

	ret := s.api.BindCol(s.handle, SQLUSMALLINT(column), buf.cType(), buf.valuePtr(), buf.Stride(), buf.indicatorPtr())
	if err := s.check(ret, ErrBind, fmt.Sprintf("bind column %d", column)); err != nil {
		return err
	}

	s.colBufs = append(s.colBufs, buf)
	s.bindGen++
	return nil
}

// BindParam attaches a single columnar buffer to one parameter marker.
// Parameters are numbered from one. Rebinding a marker replaces the previous
// binding. For arrayed execution use ExecuteBatch, which binds a whole
// ParamSet.
func (s *Statement) BindParam(number int, buf ColumnBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("bind param", stmtPrepared); err != nil {
		return err
	}
	if number < 1 {
		return NewError(ErrBind, fmt.Sprintf("invalid parameter number %d", number))
	}

	ret := s.api.BindParameter(s.handle, SQLUSMALLINT(number), buf.cType(), buf.sqlType(), buf.columnSize(), 0, buf.valuePtr(), buf.Stride(), buf.indicatorPtr())
	if err := s.check(ret, ErrBind, fmt.Sprintf("bind parameter %d", number)); err != nil {
		return err
	}

	s.paramBufs = append(s.paramBufs, buf)
	s.bindGen++
	return nil
}

// ResetParams releases every parameter binding, streamed ones included. The
// backing buffers become free to collect.
func (s *Statement) ResetParams() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("reset params", stmtPrepared, stmtCursor); err != nil {
		return err
	}
	if err := s.check(s.api.FreeStmt(s.handle, SQL_RESET_PARAMS), ErrBind, "reset params"); err != nil {
		return err
	}
	s.paramSet = nil
	s.streams = nil
	s.paramBufs = nil
	s.bindGen++
	return nil
}

// UnbindColumns releases every result column binding. The RowSet keeps its
// contents but no longer receives fetched rows.
func (s *Statement) UnbindColumns() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("unbind columns", stmtPrepared, stmtCursor); err != nil {
		return err
	}
	if err := s.check(s.api.FreeStmt(s.handle, SQL_UNBIND), ErrBind, "unbind columns"); err != nil {
		return err
	}
	s.rowSet = nil
	s.colBufs = nil
	s.bindGen++
	return nil
}

// Close releases the statement handle. It is idempotent. An open cursor is
// closed first; bound buffers are released back to the caller.
func (s *Statement) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.state == stmtCursor {
		if !succeeded(s.api.CloseCursor(s.handle)) {
			err = diagError(s.api, ErrGeneric, "close cursor", SQL_HANDLE_STMT, s.handle)
		}
	}
	if !succeeded(s.api.FreeHandle(SQL_HANDLE_STMT, s.handle)) && err == nil {
		err = diagError(s.api, ErrGeneric, "free statement handle", SQL_HANDLE_STMT, s.handle)
	}
	s.handle = SQL_NULL_HANDLE
	s.state = stmtClosed
	s.rowSet = nil
	s.paramSet = nil
	s.streams = nil
	s.colBufs = nil
	s.paramBufs = nil
	s.bindGen++

	s.conn.stmtClosed()
	runtime.SetFinalizer(s, nil)
	return err
}

// Diagnostics returns the records reported by the most recent call on this
// handle that completed with info. It is reset by every subsequent call.
func (s *Statement) Diagnostics() []DiagnosticRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInfo
}

// require verifies the statement is in one of the allowed states. Caller
// holds the mutex.
func (s *Statement) require(op string, allowed ...stmtState) error {
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	return NewError(ErrProtocol, fmt.Sprintf("%s on %s statement", op, s.state))
}

// check maps a three-way driver return into the package error model,
// draining statement diagnostics as needed. Caller holds the mutex.
func (s *Statement) check(ret SQLRETURN, typ ErrorType, op string) error {
	switch ret {
	case SQL_SUCCESS:
		return nil
	case SQL_SUCCESS_WITH_INFO:
		s.lastInfo = drainDiagnostics(s.api, SQL_HANDLE_STMT, s.handle)
		return nil
	default:
		return diagError(s.api, typ, op, SQL_HANDLE_STMT, s.handle)
	}
}
