// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"unsafe"
)

// colDescription carries the output of SQLDescribeCol for a single column.
// The name itself lands in the caller supplied buffer; NameLen reports the
// full length the driver would have needed.
type colDescription struct {
	NameLen       SQLSMALLINT
	DataType      SQLSMALLINT
	ColumnSize    SQLULEN
	DecimalDigits SQLSMALLINT
	Nullable      SQLSMALLINT
}

// driverAPI is the seam between the typed handle wrappers and the raw driver
// manager. The production implementation (libAPI) dispatches to dynamically
// resolved ODBC entry points; tests substitute an in-process double.
//
// Pointer arguments handed to BindCol, BindParameter and the statement
// attribute setters are registered with the driver and dereferenced by later
// calls. The wrappers in this package keep the backing Go memory reachable
// for as long as a binding is live; that invariant is what makes the rest of
// the package memory safe.
type driverAPI interface {
	AllocHandle(handleType SQLSMALLINT, parent SQLHANDLE) (SQLHANDLE, SQLRETURN)
	FreeHandle(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN

	SetEnvAttr(env SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN
	SetConnectAttr(dbc SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN
	SetStmtAttr(stmt SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN

	DriverConnect(dbc SQLHANDLE, connStr string) SQLRETURN
	Disconnect(dbc SQLHANDLE) SQLRETURN
	EndTran(handleType SQLSMALLINT, handle SQLHANDLE, completion SQLSMALLINT) SQLRETURN

	Prepare(stmt SQLHANDLE, query string) SQLRETURN
	Execute(stmt SQLHANDLE) SQLRETURN
	ExecDirect(stmt SQLHANDLE, query string) SQLRETURN
	NumResultCols(stmt SQLHANDLE) (SQLSMALLINT, SQLRETURN)
	NumParams(stmt SQLHANDLE) (SQLSMALLINT, SQLRETURN)
	DescribeCol(stmt SQLHANDLE, column SQLUSMALLINT, nameBuf []byte) (colDescription, SQLRETURN)
	RowCount(stmt SQLHANDLE) (SQLLEN, SQLRETURN)

	BindCol(stmt SQLHANDLE, column SQLUSMALLINT, cType SQLSMALLINT, value unsafe.Pointer, stride SQLLEN, indicator *SQLLEN) SQLRETURN
	BindParameter(stmt SQLHANDLE, number SQLUSMALLINT, cType, sqlType SQLSMALLINT, columnSize SQLULEN, decimalDigits SQLSMALLINT, value unsafe.Pointer, stride SQLLEN, indicator *SQLLEN) SQLRETURN

	Fetch(stmt SQLHANDLE) SQLRETURN
	SetPos(stmt SQLHANDLE, row SQLULEN, operation, lock SQLUSMALLINT) SQLRETURN
	CloseCursor(stmt SQLHANDLE) SQLRETURN
	FreeStmt(stmt SQLHANDLE, option SQLUSMALLINT) SQLRETURN

	GetData(stmt SQLHANDLE, column SQLUSMALLINT, cType SQLSMALLINT, buf []byte) (SQLLEN, SQLRETURN)
	PutData(stmt SQLHANDLE, data []byte) SQLRETURN
	ParamData(stmt SQLHANDLE) (uintptr, SQLRETURN)

	GetDiagRec(handleType SQLSMALLINT, handle SQLHANDLE, record SQLSMALLINT, state, message []byte) (SQLINTEGER, SQLSMALLINT, SQLRETURN)
}

// libAPI dispatches driverAPI calls to the dynamically loaded driver manager.
type libAPI struct {
	syms *odbcSymbols
	lib  unsafe.Pointer
}

// ptrAttr casts a bound pointer for a statement attribute call. The caller
// keeps the pointee reachable while the binding is live.
func ptrAttr[T any](p *T) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// strArg copies a Go string into a NUL terminated byte buffer for the
// narrow (ANSI) ODBC entry points. The buffer stays alive for the duration
// of the enclosing call.
func strArg(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

func (a *libAPI) AllocHandle(handleType SQLSMALLINT, parent SQLHANDLE) (SQLHANDLE, SQLRETURN) {
	var out SQLHANDLE
	ret := syscallN(a.syms.allocHandle,
		uintptr(handleType),
		uintptr(parent),
		uintptr(unsafe.Pointer(&out)))
	return out, ret
}

func (a *libAPI) FreeHandle(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN {
	return syscallN(a.syms.freeHandle, uintptr(handleType), uintptr(handle))
}

func (a *libAPI) SetEnvAttr(env SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN {
	return syscallN(a.syms.setEnvAttr, uintptr(env), uintptr(attr), value, 0)
}

func (a *libAPI) SetConnectAttr(dbc SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN {
	return syscallN(a.syms.setConnectAttr, uintptr(dbc), uintptr(attr), value, 0)
}

func (a *libAPI) SetStmtAttr(stmt SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN {
	return syscallN(a.syms.setStmtAttr, uintptr(stmt), uintptr(attr), value, 0)
}

func (a *libAPI) DriverConnect(dbc SQLHANDLE, connStr string) SQLRETURN {
	in := strArg(connStr)
	return syscallN(a.syms.driverConnect,
		uintptr(dbc),
		0, // no window handle, prompting is excluded
		uintptr(unsafe.Pointer(&in[0])),
		uintptr(uint16(len(connStr))),
		0, 0, 0,
		uintptr(SQL_DRIVER_NOPROMPT))
}

func (a *libAPI) Disconnect(dbc SQLHANDLE) SQLRETURN {
	return syscallN(a.syms.disconnect, uintptr(dbc))
}

func (a *libAPI) EndTran(handleType SQLSMALLINT, handle SQLHANDLE, completion SQLSMALLINT) SQLRETURN {
	return syscallN(a.syms.endTran, uintptr(handleType), uintptr(handle), uintptr(completion))
}

func (a *libAPI) Prepare(stmt SQLHANDLE, query string) SQLRETURN {
	in := strArg(query)
	return syscallN(a.syms.prepare,
		uintptr(stmt),
		uintptr(unsafe.Pointer(&in[0])),
		uintptr(uint32(len(query))))
}

func (a *libAPI) Execute(stmt SQLHANDLE) SQLRETURN {
	return syscallN(a.syms.execute, uintptr(stmt))
}

func (a *libAPI) ExecDirect(stmt SQLHANDLE, query string) SQLRETURN {
	in := strArg(query)
	return syscallN(a.syms.execDirect,
		uintptr(stmt),
		uintptr(unsafe.Pointer(&in[0])),
		uintptr(uint32(len(query))))
}

func (a *libAPI) NumResultCols(stmt SQLHANDLE) (SQLSMALLINT, SQLRETURN) {
	var out SQLSMALLINT
	ret := syscallN(a.syms.numResultCols, uintptr(stmt), uintptr(unsafe.Pointer(&out)))
	return out, ret
}

func (a *libAPI) NumParams(stmt SQLHANDLE) (SQLSMALLINT, SQLRETURN) {
	var out SQLSMALLINT
	ret := syscallN(a.syms.numParams, uintptr(stmt), uintptr(unsafe.Pointer(&out)))
	return out, ret
}

func (a *libAPI) DescribeCol(stmt SQLHANDLE, column SQLUSMALLINT, nameBuf []byte) (colDescription, SQLRETURN) {
	var desc colDescription
	ret := syscallN(a.syms.describeCol,
		uintptr(stmt),
		uintptr(column),
		uintptr(unsafe.Pointer(&nameBuf[0])),
		uintptr(uint16(len(nameBuf))),
		uintptr(unsafe.Pointer(&desc.NameLen)),
		uintptr(unsafe.Pointer(&desc.DataType)),
		uintptr(unsafe.Pointer(&desc.ColumnSize)),
		uintptr(unsafe.Pointer(&desc.DecimalDigits)),
		uintptr(unsafe.Pointer(&desc.Nullable)))
	return desc, ret
}

func (a *libAPI) RowCount(stmt SQLHANDLE) (SQLLEN, SQLRETURN) {
	var out SQLLEN
	ret := syscallN(a.syms.rowCount, uintptr(stmt), uintptr(unsafe.Pointer(&out)))
	return out, ret
}

func (a *libAPI) BindCol(stmt SQLHANDLE, column SQLUSMALLINT, cType SQLSMALLINT, value unsafe.Pointer, stride SQLLEN, indicator *SQLLEN) SQLRETURN {
	return syscallN(a.syms.bindCol,
		uintptr(stmt),
		uintptr(column),
		uintptr(cType),
		uintptr(value),
		uintptr(stride),
		uintptr(unsafe.Pointer(indicator)))
}

func (a *libAPI) BindParameter(stmt SQLHANDLE, number SQLUSMALLINT, cType, sqlType SQLSMALLINT, columnSize SQLULEN, decimalDigits SQLSMALLINT, value unsafe.Pointer, stride SQLLEN, indicator *SQLLEN) SQLRETURN {
	return syscallN(a.syms.bindParameter,
		uintptr(stmt),
		uintptr(number),
		uintptr(SQL_PARAM_INPUT),
		uintptr(cType),
		uintptr(sqlType),
		uintptr(columnSize),
		uintptr(decimalDigits),
		uintptr(value),
		uintptr(stride),
		uintptr(unsafe.Pointer(indicator)))
}

func (a *libAPI) Fetch(stmt SQLHANDLE) SQLRETURN {
	return syscallN(a.syms.fetch, uintptr(stmt))
}

func (a *libAPI) SetPos(stmt SQLHANDLE, row SQLULEN, operation, lock SQLUSMALLINT) SQLRETURN {
	return syscallN(a.syms.setPos,
		uintptr(stmt),
		uintptr(row),
		uintptr(operation),
		uintptr(lock))
}

func (a *libAPI) CloseCursor(stmt SQLHANDLE) SQLRETURN {
	return syscallN(a.syms.closeCursor, uintptr(stmt))
}

func (a *libAPI) FreeStmt(stmt SQLHANDLE, option SQLUSMALLINT) SQLRETURN {
	return syscallN(a.syms.freeStmt, uintptr(stmt), uintptr(option))
}

func (a *libAPI) GetData(stmt SQLHANDLE, column SQLUSMALLINT, cType SQLSMALLINT, buf []byte) (SQLLEN, SQLRETURN) {
	var indicator SQLLEN
	ret := syscallN(a.syms.getData,
		uintptr(stmt),
		uintptr(column),
		uintptr(cType),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(SQLLEN(len(buf))),
		uintptr(unsafe.Pointer(&indicator)))
	return indicator, ret
}

func (a *libAPI) PutData(stmt SQLHANDLE, data []byte) SQLRETURN {
	// A zero-length value still needs a valid data pointer.
	if len(data) == 0 {
		data = []byte{0}
		return syscallN(a.syms.putData,
			uintptr(stmt),
			uintptr(unsafe.Pointer(&data[0])),
			0)
	}
	return syscallN(a.syms.putData,
		uintptr(stmt),
		uintptr(unsafe.Pointer(&data[0])),
		uintptr(SQLLEN(len(data))))
}

func (a *libAPI) ParamData(stmt SQLHANDLE) (uintptr, SQLRETURN) {
	var token uintptr
	ret := syscallN(a.syms.paramData, uintptr(stmt), uintptr(unsafe.Pointer(&token)))
	return token, ret
}

func (a *libAPI) GetDiagRec(handleType SQLSMALLINT, handle SQLHANDLE, record SQLSMALLINT, state, message []byte) (SQLINTEGER, SQLSMALLINT, SQLRETURN) {
	var native SQLINTEGER
	var msgLen SQLSMALLINT
	ret := syscallN(a.syms.getDiagRec,
		uintptr(handleType),
		uintptr(handle),
		uintptr(record),
		uintptr(unsafe.Pointer(&state[0])),
		uintptr(unsafe.Pointer(&native)),
		uintptr(unsafe.Pointer(&message[0])),
		uintptr(uint16(len(message))),
		uintptr(unsafe.Pointer(&msgLen)))
	return native, msgLen, ret
}
