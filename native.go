// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"
)

// Driver manager loader
var (
	defaultAPIOnce sync.Once
	defaultAPI     *libAPI
	defaultAPIErr  error
)

// odbcSymbols holds the resolved entry points of the driver manager. Only the
// subset of the ODBC API this package drives is loaded.
type odbcSymbols struct {
	allocHandle    unsafe.Pointer
	freeHandle     unsafe.Pointer
	setEnvAttr     unsafe.Pointer
	setConnectAttr unsafe.Pointer
	setStmtAttr    unsafe.Pointer
	driverConnect  unsafe.Pointer
	disconnect     unsafe.Pointer
	endTran        unsafe.Pointer
	prepare        unsafe.Pointer
	execute        unsafe.Pointer
	execDirect     unsafe.Pointer
	numResultCols  unsafe.Pointer
	numParams      unsafe.Pointer
	describeCol    unsafe.Pointer
	bindCol        unsafe.Pointer
	bindParameter  unsafe.Pointer
	fetch          unsafe.Pointer
	setPos         unsafe.Pointer
	closeCursor    unsafe.Pointer
	freeStmt       unsafe.Pointer
	getData        unsafe.Pointer
	putData        unsafe.Pointer
	paramData      unsafe.Pointer
	rowCount       unsafe.Pointer
	getDiagRec     unsafe.Pointer
}

// Candidate driver manager library names per OS, tried in order. The system
// loader resolves them through its usual search paths, so an explicit path is
// only needed for driver managers installed in unusual locations.
func driverManagerCandidates() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"odbc32.dll"}
	case "darwin":
		return []string{"libodbc.2.dylib", "libodbc.dylib", "libiodbc.2.dylib", "libiodbc.dylib"}
	default:
		return []string{"libodbc.so.2", "libodbc.so", "libiodbc.so.2", "libiodbc.so"}
	}
}

// loadDefaultAPI loads the system driver manager once and caches the result
// for every Environment that does not name an explicit library path.
func loadDefaultAPI() (*libAPI, error) {
	defaultAPIOnce.Do(func() {
		var lastErr error
		for _, name := range driverManagerCandidates() {
			api, err := loadDriverManager(name)
			if err == nil {
				defaultAPI = api
				return
			}
			lastErr = err
		}
		defaultAPIErr = &Error{
			Type:    ErrDriver,
			Op:      "load driver manager",
			Message: fmt.Sprintf("no ODBC driver manager found: %v", lastErr),
		}
	})
	return defaultAPI, defaultAPIErr
}

// loadDriverManager loads the named driver manager library and resolves every
// entry point this package uses. Loading fails as a whole if any symbol is
// missing, so a partially usable library is never handed out.
func loadDriverManager(path string) (*libAPI, error) {
	handle, err := loadDynamicLibrary(path)
	if err != nil {
		return nil, &Error{
			Type:    ErrDriver,
			Op:      "load driver manager",
			Message: fmt.Sprintf("failed to load %s: %v", path, err),
		}
	}

	syms := &odbcSymbols{}
	table := []struct {
		name string
		dst  *unsafe.Pointer
	}{
		{"SQLAllocHandle", &syms.allocHandle},
		{"SQLFreeHandle", &syms.freeHandle},
		{"SQLSetEnvAttr", &syms.setEnvAttr},
		{"SQLSetConnectAttr", &syms.setConnectAttr},
		{"SQLSetStmtAttr", &syms.setStmtAttr},
		{"SQLDriverConnect", &syms.driverConnect},
		{"SQLDisconnect", &syms.disconnect},
		{"SQLEndTran", &syms.endTran},
		{"SQLPrepare", &syms.prepare},
		{"SQLExecute", &syms.execute},
		{"SQLExecDirect", &syms.execDirect},
		{"SQLNumResultCols", &syms.numResultCols},
		{"SQLNumParams", &syms.numParams},
		{"SQLDescribeCol", &syms.describeCol},
		{"SQLBindCol", &syms.bindCol},
		{"SQLBindParameter", &syms.bindParameter},
		{"SQLFetch", &syms.fetch},
		{"SQLSetPos", &syms.setPos},
		{"SQLCloseCursor", &syms.closeCursor},
		{"SQLFreeStmt", &syms.freeStmt},
		{"SQLGetData", &syms.getData},
		{"SQLPutData", &syms.putData},
		{"SQLParamData", &syms.paramData},
		{"SQLRowCount", &syms.rowCount},
		{"SQLGetDiagRec", &syms.getDiagRec},
	}

	for _, entry := range table {
		sym, err := getSymbol(handle, entry.name)
		if err != nil {
			closeLibrary(handle)
			return nil, &Error{
				Type:    ErrDriver,
				Op:      "load driver manager",
				Message: fmt.Sprintf("%s: missing symbol %s", path, entry.name),
			}
		}
		*entry.dst = sym
	}

	return &libAPI{syms: syms, lib: handle}, nil
}
