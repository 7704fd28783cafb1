// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// Connection owns a live link to one data source. It is confined to one
// goroutine at a time; the internal mutex serializes calls that race anyway.
// A Connection owns zero or more Statements and refuses to close while any of
// them is still open.
type Connection struct {
	env    *Environment
	api    driverAPI
	handle SQLHANDLE
	closed int32
	stmts  int32
	inTx   int32

	connected       bool
	autocommit      bool
	rollbackOnClose bool
	ownsEnv         bool

	mu       sync.Mutex
	lastInfo []DiagnosticRecord
}

// ConnOption configures a Connection before it is opened.
type ConnOption func(*connConfig)

type connConfig struct {
	autocommit      bool
	rollbackOnClose bool
}

// WithAutocommit controls the autocommit connection attribute. It defaults to
// on; with autocommit off, executed work stays pending until Commit or
// Rollback.
func WithAutocommit(on bool) ConnOption {
	return func(cfg *connConfig) {
		cfg.autocommit = on
	}
}

// WithRollbackOnClose selects what Close does when a transaction is still
// open: roll it back (the default) or refuse to close with an error. The
// underlying API leaves this policy to the application, so it is configurable
// rather than assumed.
func WithRollbackOnClose(rollback bool) ConnOption {
	return func(cfg *connConfig) {
		cfg.rollbackOnClose = rollback
	}
}

// InTransaction reports whether work has been executed under this connection
// since the last Commit or Rollback while autocommit is off.
func (c *Connection) InTransaction() bool {
	return atomic.LoadInt32(&c.inTx) != 0
}

// markWork records that a statement executed work under this connection.
// With autocommit on the driver commits each statement itself, so no
// transaction state accumulates.
func (c *Connection) markWork() {
	if !c.autocommit {
		atomic.StoreInt32(&c.inTx, 1)
	}
}

// Commit makes all work executed since the last completion durable and
// clears the in-transaction state.
func (c *Connection) Commit() error {
	return c.endTran(SQL_COMMIT, "commit")
}

// Rollback discards all work executed since the last completion and clears
// the in-transaction state. Parameter rows that were buffered but never
// executed are untouched; rollback only affects executed statements.
func (c *Connection) Rollback() error {
	return c.endTran(SQL_ROLLBACK, "rollback")
}

func (c *Connection) endTran(completion SQLSMALLINT, op string) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return NewError(ErrProtocol, op+" on closed connection")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.check(c.api.EndTran(SQL_HANDLE_DBC, c.handle, completion), ErrTransaction, op); err != nil {
		return err
	}
	atomic.StoreInt32(&c.inTx, 0)
	return nil
}

// SetAutocommit flips the autocommit connection attribute at runtime.
// Turning autocommit on implicitly commits pending work, per the driver
// manager contract.
func (c *Connection) SetAutocommit(on bool) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return NewError(ErrProtocol, "set autocommit on closed connection")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	value := uintptr(SQL_AUTOCOMMIT_OFF)
	if on {
		value = SQL_AUTOCOMMIT_ON
	}
	if err := c.check(c.api.SetConnectAttr(c.handle, SQL_ATTR_AUTOCOMMIT, value), ErrTransaction, "set autocommit"); err != nil {
		return err
	}
	c.autocommit = on
	if on {
		atomic.StoreInt32(&c.inTx, 0)
	}
	return nil
}

// Prepare sends the SQL text to the data source for preparation and returns
// a Statement in the prepared state. Parameter markers are question marks in
// the text; the SQL dialect is the driver's business, not ours.
func (c *Connection) Prepare(query string) (*Statement, error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return nil, NewError(ErrProtocol, "prepare on closed connection")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ret := c.api.AllocHandle(SQL_HANDLE_STMT, c.handle)
	if !succeeded(ret) {
		return nil, diagError(c.api, ErrAlloc, "allocate statement handle", SQL_HANDLE_DBC, c.handle)
	}

	s := &Statement{
		conn:   c,
		api:    c.api,
		handle: handle,
		query:  query,
		state:  stmtAllocated,
	}

	if err := s.check(c.api.Prepare(handle, query), ErrPrepare, "prepare"); err != nil {
		c.api.FreeHandle(SQL_HANDLE_STMT, handle)
		return nil, err
	}
	s.state = stmtPrepared

	atomic.AddInt32(&c.stmts, 1)
	runtime.SetFinalizer(s, func(s *Statement) { _ = s.Close() })

	return s, nil
}

// ExecDirect submits SQL for one-shot execution without a prepared statement
// and returns the affected row count. A searched UPDATE or DELETE that
// matches nothing is success with zero rows.
func (c *Connection) ExecDirect(query string) (int64, error) {
	if atomic.LoadInt32(&c.closed) != 0 {
		return 0, NewError(ErrProtocol, "exec on closed connection")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	handle, ret := c.api.AllocHandle(SQL_HANDLE_STMT, c.handle)
	if !succeeded(ret) {
		return 0, diagError(c.api, ErrAlloc, "allocate statement handle", SQL_HANDLE_DBC, c.handle)
	}
	defer c.api.FreeHandle(SQL_HANDLE_STMT, handle)

	ret = c.api.ExecDirect(handle, query)
	if ret == SQL_NO_DATA {
		c.markWork()
		return 0, nil
	}
	if !succeeded(ret) {
		return 0, diagError(c.api, ErrExec, "exec direct", SQL_HANDLE_STMT, handle)
	}
	if ret == SQL_SUCCESS_WITH_INFO {
		c.lastInfo = drainDiagnostics(c.api, SQL_HANDLE_STMT, handle)
	}
	c.markWork()

	affected, ret := c.api.RowCount(handle)
	if !succeeded(ret) {
		return 0, diagError(c.api, ErrExec, "row count", SQL_HANDLE_STMT, handle)
	}
	return int64(affected), nil
}

// Close disconnects from the data source and releases the connection handle.
// It is idempotent. Closing while child statements are open fails loudly and
// frees nothing. Closing with an open transaction applies the configured
// policy: rollback by default, or an error with WithRollbackOnClose(false).
func (c *Connection) Close() error {
	if atomic.LoadInt32(&c.stmts) != 0 {
		return NewError(ErrProtocol, fmt.Sprintf("connection closed with %d open statements", atomic.LoadInt32(&c.stmts)))
	}

	if atomic.LoadInt32(&c.inTx) != 0 && !c.rollbackOnClose {
		return NewError(ErrProtocol, "connection closed with an open transaction")
	}

	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs *multierror.Error

	if atomic.LoadInt32(&c.inTx) != 0 {
		if err := c.check(c.api.EndTran(SQL_HANDLE_DBC, c.handle, SQL_ROLLBACK), ErrTransaction, "rollback on close"); err != nil {
			errs = multierror.Append(errs, err)
		}
		atomic.StoreInt32(&c.inTx, 0)
	}

	if c.connected {
		if !succeeded(c.api.Disconnect(c.handle)) {
			errs = multierror.Append(errs, diagError(c.api, ErrConnection, "disconnect", SQL_HANDLE_DBC, c.handle))
		}
		c.connected = false
	}

	if !succeeded(c.api.FreeHandle(SQL_HANDLE_DBC, c.handle)) {
		errs = multierror.Append(errs, diagError(c.api, ErrGeneric, "free connection handle", SQL_HANDLE_DBC, c.handle))
	}
	c.handle = SQL_NULL_HANDLE

	atomic.AddInt32(&c.env.conns, -1)
	runtime.SetFinalizer(c, nil)

	if c.ownsEnv {
		if err := c.env.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs.ErrorOrNil()
}

// Diagnostics returns the records reported by the most recent call on this
// handle that completed with info. It is reset by every subsequent call.
func (c *Connection) Diagnostics() []DiagnosticRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInfo
}

func (c *Connection) check(ret SQLRETURN, typ ErrorType, op string) error {
	switch ret {
	case SQL_SUCCESS:
		return nil
	case SQL_SUCCESS_WITH_INFO:
		c.lastInfo = drainDiagnostics(c.api, SQL_HANDLE_DBC, c.handle)
		return nil
	default:
		return diagError(c.api, typ, op, SQL_HANDLE_DBC, c.handle)
	}
}

// stmtClosed lets a child statement report its release.
func (c *Connection) stmtClosed() {
	atomic.AddInt32(&c.stmts, -1)
}
