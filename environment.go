// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// PoolingMode selects the connection pooling behavior requested from the
// driver manager. The pooling policy itself (eviction, reuse, matching) stays
// with the driver manager; this package only asks for pooled or fresh
// connections.
type PoolingMode int

const (
	// PoolingOff requests a fresh driver connection for every Connect.
	PoolingOff PoolingMode = iota
	// PoolingPerDriver pools connections per driver.
	PoolingPerDriver
	// PoolingPerEnvironment pools connections per environment handle.
	PoolingPerEnvironment
)

// Environment is the root handle of a driver manager session. It owns zero or
// more Connections and must outlive all of them: Close fails loudly while any
// child connection is still open, so a leaked driver handle is impossible to
// produce through this API.
//
// An Environment is safe to share across goroutines for allocating
// independent connections.
type Environment struct {
	api    driverAPI
	handle SQLHANDLE
	closed int32
	conns  int32

	mu       sync.Mutex
	lastInfo []DiagnosticRecord
}

// EnvOption configures an Environment before its handle is allocated.
type EnvOption func(*envConfig)

type envConfig struct {
	api         driverAPI
	libraryPath string
	pooling     PoolingMode
}

// WithLibraryPath names an explicit driver manager library instead of
// searching the usual system locations.
func WithLibraryPath(path string) EnvOption {
	return func(cfg *envConfig) {
		cfg.libraryPath = path
	}
}

// WithConnectionPooling requests the given pooling mode from the driver
// manager before the environment handle is allocated.
func WithConnectionPooling(mode PoolingMode) EnvOption {
	return func(cfg *envConfig) {
		cfg.pooling = mode
	}
}

// withDriverAPI substitutes the raw driver manager dispatch. Used by tests to
// run the full stack against an in-process double.
func withDriverAPI(api driverAPI) EnvOption {
	return func(cfg *envConfig) {
		cfg.api = api
	}
}

// NewEnvironment allocates an environment handle and declares ODBC 3.x
// behavior on it.
func NewEnvironment(options ...EnvOption) (*Environment, error) {
	var cfg envConfig
	for _, option := range options {
		option(&cfg)
	}

	api := cfg.api
	if api == nil {
		var err error
		if cfg.libraryPath != "" {
			var lib *libAPI
			lib, err = loadDriverManager(cfg.libraryPath)
			api = lib
		} else {
			var lib *libAPI
			lib, err = loadDefaultAPI()
			api = lib
		}
		if err != nil {
			return nil, err
		}
	}

	handle, ret := api.AllocHandle(SQL_HANDLE_ENV, SQL_NULL_HANDLE)
	if !succeeded(ret) {
		// No handle to pull diagnostics from when the root allocation fails.
		return nil, NewError(ErrAlloc, "failed to allocate environment handle")
	}

	e := &Environment{
		api:    api,
		handle: handle,
	}

	if err := e.check(api.SetEnvAttr(handle, SQL_ATTR_ODBC_VERSION, SQL_OV_ODBC3), ErrAlloc, "set ODBC version"); err != nil {
		api.FreeHandle(SQL_HANDLE_ENV, handle)
		return nil, err
	}

	if cfg.pooling != PoolingOff {
		mode := uintptr(SQL_CP_ONE_PER_DRIVER)
		if cfg.pooling == PoolingPerEnvironment {
			mode = SQL_CP_ONE_PER_HENV
		}
		if err := e.check(api.SetEnvAttr(handle, SQL_ATTR_CONNECTION_POOLING, mode), ErrAlloc, "set connection pooling"); err != nil {
			api.FreeHandle(SQL_HANDLE_ENV, handle)
			return nil, err
		}
	}

	// Backstop only. The deterministic release path is Close.
	runtime.SetFinalizer(e, func(e *Environment) { _ = e.Close() })

	return e, nil
}

// Close releases the environment handle. It is idempotent and fails loudly,
// freeing nothing, while child connections are still open.
func (e *Environment) Close() error {
	if atomic.LoadInt32(&e.conns) != 0 {
		return NewError(ErrProtocol, fmt.Sprintf("environment closed with %d open connections", atomic.LoadInt32(&e.conns)))
	}
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if ret := e.api.FreeHandle(SQL_HANDLE_ENV, e.handle); !succeeded(ret) {
		return diagError(e.api, ErrGeneric, "free environment handle", SQL_HANDLE_ENV, e.handle)
	}
	e.handle = SQL_NULL_HANDLE

	runtime.SetFinalizer(e, nil)
	return nil
}

// Diagnostics returns the records reported by the most recent call on this
// handle that completed with info. It is reset by every subsequent call.
func (e *Environment) Diagnostics() []DiagnosticRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastInfo
}

// check maps a three-way driver return into the package error model: success
// passes, success-with-info completes but parks the drained diagnostics on
// the handle, error drains into a returned *Error.
func (e *Environment) check(ret SQLRETURN, typ ErrorType, op string) error {
	switch ret {
	case SQL_SUCCESS:
		return nil
	case SQL_SUCCESS_WITH_INFO:
		e.mu.Lock()
		e.lastInfo = drainDiagnostics(e.api, SQL_HANDLE_ENV, e.handle)
		e.mu.Unlock()
		return nil
	default:
		return diagError(e.api, typ, op, SQL_HANDLE_ENV, e.handle)
	}
}

// succeeded reports whether a return code completed the operation, with or
// without info.
func succeeded(ret SQLRETURN) bool {
	return ret == SQL_SUCCESS || ret == SQL_SUCCESS_WITH_INFO
}

// Connect allocates a connection handle under this environment and opens a
// live link to the data source named by target. The target string - a DSN
// with credentials or a full driver-defined connection string - is handed to
// the driver manager verbatim; no parsing or prompting happens here.
func (e *Environment) Connect(target string, options ...ConnOption) (*Connection, error) {
	if atomic.LoadInt32(&e.closed) != 0 {
		return nil, NewError(ErrProtocol, "connect on closed environment")
	}

	cfg := connConfig{
		autocommit:      true,
		rollbackOnClose: true,
	}
	for _, option := range options {
		option(&cfg)
	}

	handle, ret := e.api.AllocHandle(SQL_HANDLE_DBC, e.handle)
	if !succeeded(ret) {
		return nil, diagError(e.api, ErrAlloc, "allocate connection handle", SQL_HANDLE_ENV, e.handle)
	}

	c := &Connection{
		env:             e,
		api:             e.api,
		handle:          handle,
		autocommit:      cfg.autocommit,
		rollbackOnClose: cfg.rollbackOnClose,
	}

	if !cfg.autocommit {
		if err := c.check(e.api.SetConnectAttr(handle, SQL_ATTR_AUTOCOMMIT, SQL_AUTOCOMMIT_OFF), ErrConnection, "disable autocommit"); err != nil {
			e.api.FreeHandle(SQL_HANDLE_DBC, handle)
			return nil, err
		}
	}

	if err := c.check(e.api.DriverConnect(handle, target), ErrConnection, "connect"); err != nil {
		e.api.FreeHandle(SQL_HANDLE_DBC, handle)
		return nil, err
	}
	c.connected = true

	atomic.AddInt32(&e.conns, 1)
	runtime.SetFinalizer(c, func(c *Connection) { _ = c.Close() })

	return c, nil
}
