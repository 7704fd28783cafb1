package odbc

import (
	"strings"
	"testing"
	"unsafe"
)

// fakeDriver is an in-process driverAPI double. Tests script it with results
// keyed by SQL text and then drive the real handle wrappers against it. It
// records every allocation, free and transaction call so tests can assert
// ordering, and it writes fetched data into the bound buffers exactly the
// way a driver manager would, through the registered raw pointers.
type fakeDriver struct {
	nextHandle uintptr

	handles map[SQLHANDLE]*fakeHandle
	allocs  []fakeAllocation
	frees   []fakeAllocation

	script map[string]*fakeResult

	connects    int
	disconnects int
	tranCalls   []SQLSMALLINT

	connectRet SQLRETURN

	// diagnostics queued per handle, served by GetDiagRec.
	diags map[SQLHANDLE][]DiagnosticRecord
}

type fakeAllocation struct {
	kind   SQLSMALLINT
	handle SQLHANDLE
}

type fakeHandle struct {
	kind   SQLSMALLINT
	parent SQLHANDLE
	freed  bool
	attrs  map[SQLINTEGER]uintptr

	stmt *fakeStmt
}

type fakeStmt struct {
	query  string
	result *fakeResult

	cols   []fakeColBinding
	params []fakeParamBinding

	// block fetch state
	cursorOpen bool
	pos        int
	blockStart int
	blockRows  int
	curRow     int
	fetchCalls int
	getOffsets map[int]int

	// data-at-exec state
	pendingAtExec []*fakeParamBinding
	receiving     *fakeParamBinding
	received      map[int][]byte
	execDone      bool
}

type fakeColBinding struct {
	number    SQLUSMALLINT
	cType     SQLSMALLINT
	value     unsafe.Pointer
	stride    SQLLEN
	indicator *SQLLEN
}

type fakeParamBinding struct {
	number    SQLUSMALLINT
	cType     SQLSMALLINT
	sqlType   SQLSMALLINT
	value     unsafe.Pointer
	stride    SQLLEN
	indicator *SQLLEN
}

type fakeCol struct {
	name     string
	dataType SQLSMALLINT
	size     SQLULEN
	nullable SQLSMALLINT
}

// fakeResult scripts one statement's behavior. Cell values are int64,
// float64, string, []byte, Timestamp, or nil for SQL NULL.
type fakeResult struct {
	columns []fakeCol
	rows    [][]interface{}

	// long maps (global row, column) to the full value served by GetData
	// when the fetched cell was truncated.
	long map[[2]int][]byte

	affected int64
	execRet  SQLRETURN // zero value means SQL_SUCCESS
	noData   bool      // execute reports SQL_NO_DATA

	// failAtBlock makes the Nth Fetch call fail with SQL_ERROR, 0 never.
	failAtBlock int
	// rowErrors marks global row indexes reported with SQL_ROW_ERROR in
	// the row status array.
	rowErrors map[int]bool

	// failRows marks batch rows the driver rejects.
	failRows map[int]bool
	// captured receives the parameter rows read back out of the bound
	// buffers on an arrayed execute.
	captured [][]interface{}
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		nextHandle: 1,
		handles:    make(map[SQLHANDLE]*fakeHandle),
		script:     make(map[string]*fakeResult),
		diags:      make(map[SQLHANDLE][]DiagnosticRecord),
		connectRet: SQL_SUCCESS,
	}
}

func (f *fakeDriver) scriptQuery(query string, res *fakeResult) {
	f.script[query] = res
}

func (f *fakeDriver) queueDiag(h SQLHANDLE, recs ...DiagnosticRecord) {
	f.diags[h] = append(f.diags[h], recs...)
}

func (f *fakeDriver) handleFor(t *testing.T, kind SQLSMALLINT) SQLHANDLE {
	t.Helper()
	for h, fh := range f.handles {
		if fh.kind == kind && !fh.freed {
			return h
		}
	}
	t.Fatalf("no live handle of kind %d", kind)
	return 0
}

func (f *fakeDriver) AllocHandle(handleType SQLSMALLINT, parent SQLHANDLE) (SQLHANDLE, SQLRETURN) {
	if handleType != SQL_HANDLE_ENV {
		p, ok := f.handles[parent]
		if !ok || p.freed {
			return 0, SQL_INVALID_HANDLE
		}
	}
	h := SQLHANDLE(f.nextHandle)
	f.nextHandle++
	fh := &fakeHandle{
		kind:   handleType,
		parent: parent,
		attrs:  make(map[SQLINTEGER]uintptr),
	}
	if handleType == SQL_HANDLE_STMT {
		fh.stmt = &fakeStmt{
			getOffsets: make(map[int]int),
			received:   make(map[int][]byte),
		}
	}
	f.handles[h] = fh
	f.allocs = append(f.allocs, fakeAllocation{kind: handleType, handle: h})
	return h, SQL_SUCCESS
}

func (f *fakeDriver) FreeHandle(handleType SQLSMALLINT, handle SQLHANDLE) SQLRETURN {
	fh, ok := f.handles[handle]
	if !ok || fh.freed || fh.kind != handleType {
		return SQL_INVALID_HANDLE
	}
	for _, child := range f.handles {
		if child.parent == handle && !child.freed {
			return SQL_ERROR
		}
	}
	fh.freed = true
	f.frees = append(f.frees, fakeAllocation{kind: handleType, handle: handle})
	return SQL_SUCCESS
}

func (f *fakeDriver) setAttr(handle SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN {
	fh, ok := f.handles[handle]
	if !ok || fh.freed {
		return SQL_INVALID_HANDLE
	}
	fh.attrs[attr] = value
	return SQL_SUCCESS
}

func (f *fakeDriver) SetEnvAttr(env SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN {
	return f.setAttr(env, attr, value)
}

func (f *fakeDriver) SetConnectAttr(dbc SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN {
	return f.setAttr(dbc, attr, value)
}

func (f *fakeDriver) SetStmtAttr(stmt SQLHANDLE, attr SQLINTEGER, value uintptr) SQLRETURN {
	return f.setAttr(stmt, attr, value)
}

func (f *fakeDriver) DriverConnect(dbc SQLHANDLE, connStr string) SQLRETURN {
	if f.connectRet != SQL_SUCCESS && f.connectRet != SQL_SUCCESS_WITH_INFO {
		return f.connectRet
	}
	f.connects++
	return f.connectRet
}

func (f *fakeDriver) Disconnect(dbc SQLHANDLE) SQLRETURN {
	f.disconnects++
	return SQL_SUCCESS
}

func (f *fakeDriver) EndTran(handleType SQLSMALLINT, handle SQLHANDLE, completion SQLSMALLINT) SQLRETURN {
	f.tranCalls = append(f.tranCalls, completion)
	return SQL_SUCCESS
}

func (f *fakeDriver) stmtFor(handle SQLHANDLE) *fakeStmt {
	fh, ok := f.handles[handle]
	if !ok || fh.freed || fh.stmt == nil {
		return nil
	}
	return fh.stmt
}

func (f *fakeDriver) Prepare(stmt SQLHANDLE, query string) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	st.query = query
	st.result = f.script[query]
	return SQL_SUCCESS
}

func (f *fakeDriver) resultFor(st *fakeStmt) *fakeResult {
	if st.result == nil {
		st.result = &fakeResult{}
	}
	return st.result
}

func (f *fakeDriver) Execute(stmt SQLHANDLE) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	res := f.resultFor(st)
	f.diags[stmt] = nil

	if res.execRet != SQL_SUCCESS {
		if res.execRet == SQL_ERROR {
			f.queueDiag(stmt, DiagnosticRecord{State: "42000", NativeError: 102, Message: "syntax error"})
		}
		return res.execRet
	}

	// Data-at-execution parameters take over before anything runs.
	st.pendingAtExec = nil
	for i := range st.params {
		p := &st.params[i]
		ind := *p.indicator
		if ind == SQL_DATA_AT_EXEC || ind <= SQL_LEN_DATA_AT_EXEC_OFFSET {
			st.pendingAtExec = append(st.pendingAtExec, p)
		}
	}
	if len(st.pendingAtExec) > 0 {
		st.execDone = false
		st.received = make(map[int][]byte)
		return SQL_NEED_DATA
	}

	return f.completeExecute(stmt, st)
}

// completeExecute runs the scripted outcome once all parameter data is in.
func (f *fakeDriver) completeExecute(stmt SQLHANDLE, st *fakeStmt) SQLRETURN {
	res := f.resultFor(st)
	fh := f.handles[stmt]

	paramsetSize := int(fh.attrs[SQL_ATTR_PARAMSET_SIZE])
	if paramsetSize > 1 {
		return f.executeBatch(stmt, st, paramsetSize)
	}

	if len(st.params) > 0 {
		var vals []interface{}
		for i := range st.params {
			p := &st.params[i]
			ind := *p.indicator
			if ind == SQL_DATA_AT_EXEC || ind <= SQL_LEN_DATA_AT_EXEC_OFFSET {
				vals = append(vals, st.received[int(p.number)])
				continue
			}
			vals = append(vals, readCell(p, 0))
		}
		res.captured = [][]interface{}{vals}
	}

	st.execDone = true
	st.pos = 0
	st.cursorOpen = len(res.columns) > 0
	if res.noData {
		return SQL_NO_DATA
	}
	return SQL_SUCCESS
}

func (f *fakeDriver) executeBatch(stmt SQLHANDLE, st *fakeStmt, rows int) SQLRETURN {
	res := f.resultFor(st)
	fh := f.handles[stmt]

	statusPtr := fh.attrs[SQL_ATTR_PARAM_STATUS_PTR]
	processedPtr := fh.attrs[SQL_ATTR_PARAMS_PROCESSED_PTR]

	res.captured = nil
	anyFailed := false
	for row := 0; row < rows; row++ {
		var vals []interface{}
		for i := range st.params {
			vals = append(vals, readCell(&st.params[i], row))
		}
		res.captured = append(res.captured, vals)

		status := SQL_PARAM_SUCCESS
		if res.failRows[row] {
			status = SQL_PARAM_ERROR
			anyFailed = true
		}
		if statusPtr != 0 {
			*(*SQLUSMALLINT)(unsafe.Pointer(statusPtr + uintptr(row)*unsafe.Sizeof(SQLUSMALLINT(0)))) = status
		}
	}
	if processedPtr != 0 {
		*(*SQLULEN)(unsafe.Pointer(processedPtr)) = SQLULEN(rows)
	}

	st.execDone = true
	res.affected = int64(rows - len(res.failRows))
	if anyFailed {
		f.queueDiag(stmt, DiagnosticRecord{State: "23000", NativeError: 547, Message: "constraint violation"})
		return SQL_SUCCESS_WITH_INFO
	}
	return SQL_SUCCESS
}

// readCell reads one parameter value back out of the bound buffer, the way
// a driver consumes an arrayed execute.
func readCell(p *fakeParamBinding, row int) interface{} {
	ind := *(*SQLLEN)(unsafe.Add(unsafe.Pointer(p.indicator), uintptr(row)*unsafe.Sizeof(SQLLEN(0))))
	if ind == SQL_NULL_DATA {
		return nil
	}
	base := unsafe.Add(p.value, uintptr(row)*uintptr(p.stride))
	switch p.cType {
	case SQL_C_SBIGINT:
		return *(*int64)(base)
	case SQL_C_DOUBLE:
		return *(*float64)(base)
	case SQL_C_TYPE_TIMESTAMP:
		return *(*Timestamp)(base)
	default:
		n := int(ind)
		out := make([]byte, n)
		copy(out, unsafe.Slice((*byte)(base), n))
		return out
	}
}

// writeCell writes one scripted value into a bound column buffer, exactly as
// a block fetch would: value region at row*stride, indicator at row*8, NUL
// terminator and truncation for character data.
func writeCell(b *fakeColBinding, row int, v interface{}) {
	ind := (*SQLLEN)(unsafe.Add(unsafe.Pointer(b.indicator), uintptr(row)*unsafe.Sizeof(SQLLEN(0))))
	if v == nil {
		*ind = SQL_NULL_DATA
		return
	}
	base := unsafe.Add(b.value, uintptr(row)*uintptr(b.stride))
	switch val := v.(type) {
	case int64:
		*(*int64)(base) = val
		*ind = 8
	case float64:
		*(*float64)(base) = val
		*ind = 8
	case Timestamp:
		*(*Timestamp)(base) = val
		*ind = SQLLEN(unsafe.Sizeof(Timestamp{}))
	case string:
		writeBytes(b, base, ind, []byte(val), true)
	case []byte:
		writeBytes(b, base, ind, val, b.cType == SQL_C_CHAR)
	}
}

func writeBytes(b *fakeColBinding, base unsafe.Pointer, ind *SQLLEN, val []byte, text bool) {
	room := int(b.stride)
	if text {
		room--
	}
	n := len(val)
	if n > room {
		n = room
	}
	dst := unsafe.Slice((*byte)(base), int(b.stride))
	copy(dst, val[:n])
	if text {
		dst[n] = 0
	}
	// The indicator always carries the full length so truncation shows.
	*ind = SQLLEN(len(val))
}

func (f *fakeDriver) ExecDirect(stmt SQLHANDLE, query string) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	st.query = query
	st.result = f.script[query]
	return f.completeExecute(stmt, st)
}

func (f *fakeDriver) NumResultCols(stmt SQLHANDLE) (SQLSMALLINT, SQLRETURN) {
	st := f.stmtFor(stmt)
	if st == nil {
		return 0, SQL_INVALID_HANDLE
	}
	return SQLSMALLINT(len(f.resultFor(st).columns)), SQL_SUCCESS
}

func (f *fakeDriver) NumParams(stmt SQLHANDLE) (SQLSMALLINT, SQLRETURN) {
	st := f.stmtFor(stmt)
	if st == nil {
		return 0, SQL_INVALID_HANDLE
	}
	return SQLSMALLINT(strings.Count(st.query, "?")), SQL_SUCCESS
}

func (f *fakeDriver) DescribeCol(stmt SQLHANDLE, column SQLUSMALLINT, nameBuf []byte) (colDescription, SQLRETURN) {
	st := f.stmtFor(stmt)
	if st == nil {
		return colDescription{}, SQL_INVALID_HANDLE
	}
	res := f.resultFor(st)
	if int(column) < 1 || int(column) > len(res.columns) {
		return colDescription{}, SQL_ERROR
	}
	col := res.columns[column-1]

	n := len(col.name)
	if n > len(nameBuf)-1 {
		n = len(nameBuf) - 1
	}
	copy(nameBuf, col.name[:n])
	nameBuf[n] = 0

	return colDescription{
		NameLen:       SQLSMALLINT(len(col.name)),
		DataType:      col.dataType,
		ColumnSize:    col.size,
		DecimalDigits: 0,
		Nullable:      col.nullable,
	}, SQL_SUCCESS
}

func (f *fakeDriver) RowCount(stmt SQLHANDLE) (SQLLEN, SQLRETURN) {
	st := f.stmtFor(stmt)
	if st == nil {
		return 0, SQL_INVALID_HANDLE
	}
	return SQLLEN(f.resultFor(st).affected), SQL_SUCCESS
}

func (f *fakeDriver) BindCol(stmt SQLHANDLE, column SQLUSMALLINT, cType SQLSMALLINT, value unsafe.Pointer, stride SQLLEN, indicator *SQLLEN) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	b := fakeColBinding{number: column, cType: cType, value: value, stride: stride, indicator: indicator}
	for i := range st.cols {
		if st.cols[i].number == column {
			st.cols[i] = b
			return SQL_SUCCESS
		}
	}
	st.cols = append(st.cols, b)
	return SQL_SUCCESS
}

func (f *fakeDriver) BindParameter(stmt SQLHANDLE, number SQLUSMALLINT, cType, sqlType SQLSMALLINT, columnSize SQLULEN, decimalDigits SQLSMALLINT, value unsafe.Pointer, stride SQLLEN, indicator *SQLLEN) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	b := fakeParamBinding{number: number, cType: cType, sqlType: sqlType, value: value, stride: stride, indicator: indicator}
	for i := range st.params {
		if st.params[i].number == number {
			st.params[i] = b
			return SQL_SUCCESS
		}
	}
	st.params = append(st.params, b)
	return SQL_SUCCESS
}

func (f *fakeDriver) Fetch(stmt SQLHANDLE) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	if !st.cursorOpen {
		return SQL_ERROR
	}
	f.diags[stmt] = nil
	res := f.resultFor(st)
	fh := f.handles[stmt]

	st.fetchCalls++
	if res.failAtBlock != 0 && st.fetchCalls == res.failAtBlock {
		f.diags[stmt] = append(f.diags[stmt], DiagnosticRecord{
			State:       "HY000",
			NativeError: 1105,
			Message:     "data source read failure",
		})
		return SQL_ERROR
	}

	arraySize := int(fh.attrs[SQL_ATTR_ROW_ARRAY_SIZE])
	if arraySize == 0 {
		arraySize = 1
	}
	remaining := len(res.rows) - st.pos
	if remaining <= 0 {
		return SQL_NO_DATA
	}
	n := remaining
	if n > arraySize {
		n = arraySize
	}

	for row := 0; row < n; row++ {
		vals := res.rows[st.pos+row]
		for i := range st.cols {
			writeCell(&st.cols[i], row, vals[st.cols[i].number-1])
		}
	}

	if p := fh.attrs[SQL_ATTR_ROWS_FETCHED_PTR]; p != 0 {
		*(*SQLULEN)(unsafe.Pointer(p)) = SQLULEN(n)
	}
	if p := fh.attrs[SQL_ATTR_ROW_STATUS_PTR]; p != 0 {
		for row := 0; row < n; row++ {
			status := SQL_ROW_SUCCESS
			if res.rowErrors[st.pos+row] {
				status = SQL_ROW_ERROR
			}
			*(*SQLUSMALLINT)(unsafe.Pointer(p + uintptr(row)*unsafe.Sizeof(SQLUSMALLINT(0)))) = status
		}
	}

	st.blockStart = st.pos
	st.blockRows = n
	st.pos += n
	st.curRow = 0
	st.getOffsets = make(map[int]int)
	return SQL_SUCCESS
}

func (f *fakeDriver) SetPos(stmt SQLHANDLE, row SQLULEN, operation, lock SQLUSMALLINT) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	if int(row) < 1 || int(row) > st.blockRows {
		return SQL_ERROR
	}
	st.curRow = int(row) - 1
	st.getOffsets = make(map[int]int)
	return SQL_SUCCESS
}

func (f *fakeDriver) CloseCursor(stmt SQLHANDLE) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	st.cursorOpen = false
	st.pos = 0
	return SQL_SUCCESS
}

func (f *fakeDriver) FreeStmt(stmt SQLHANDLE, option SQLUSMALLINT) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	switch option {
	case SQL_RESET_PARAMS:
		st.params = nil
	case SQL_UNBIND:
		st.cols = nil
	case SQL_CLOSE:
		st.cursorOpen = false
	}
	return SQL_SUCCESS
}

// longValue resolves the full value GetData serves for the positioned cell.
func (f *fakeDriver) longValue(st *fakeStmt, column int) ([]byte, bool) {
	res := f.resultFor(st)
	globalRow := st.blockStart + st.curRow
	if v, ok := res.long[[2]int{globalRow, column}]; ok {
		return v, true
	}
	if globalRow < len(res.rows) {
		switch v := res.rows[globalRow][column-1].(type) {
		case string:
			return []byte(v), true
		case []byte:
			return v, true
		}
	}
	return nil, false
}

func (f *fakeDriver) GetData(stmt SQLHANDLE, column SQLUSMALLINT, cType SQLSMALLINT, buf []byte) (SQLLEN, SQLRETURN) {
	st := f.stmtFor(stmt)
	if st == nil {
		return 0, SQL_INVALID_HANDLE
	}
	f.diags[stmt] = nil
	val, ok := f.longValue(st, int(column))
	if !ok {
		return 0, SQL_ERROR
	}

	offset := st.getOffsets[int(column)]
	remaining := len(val) - offset
	if remaining <= 0 && offset > 0 {
		return 0, SQL_NO_DATA
	}

	room := len(buf)
	if cType == SQL_C_CHAR {
		room--
	}
	n := remaining
	if n > room {
		n = room
	}
	copy(buf, val[offset:offset+n])
	if cType == SQL_C_CHAR {
		buf[n] = 0
	}
	st.getOffsets[int(column)] = offset + n

	if n < remaining {
		f.queueDiag(stmt, DiagnosticRecord{State: "01004", Message: "String data, right truncated"})
		return SQLLEN(remaining), SQL_SUCCESS_WITH_INFO
	}
	return SQLLEN(remaining), SQL_SUCCESS
}

func (f *fakeDriver) PutData(stmt SQLHANDLE, data []byte) SQLRETURN {
	st := f.stmtFor(stmt)
	if st == nil {
		return SQL_INVALID_HANDLE
	}
	if st.receiving == nil {
		return SQL_ERROR
	}
	n := int(st.receiving.number)
	buf := st.received[n]
	if buf == nil {
		buf = []byte{}
	}
	st.received[n] = append(buf, data...)
	return SQL_SUCCESS
}

func (f *fakeDriver) ParamData(stmt SQLHANDLE) (uintptr, SQLRETURN) {
	st := f.stmtFor(stmt)
	if st == nil {
		return 0, SQL_INVALID_HANDLE
	}
	st.receiving = nil
	if len(st.pendingAtExec) > 0 {
		p := st.pendingAtExec[0]
		st.pendingAtExec = st.pendingAtExec[1:]
		st.receiving = p
		return uintptr(p.value), SQL_NEED_DATA
	}
	return 0, f.completeExecute(stmt, st)
}

func (f *fakeDriver) GetDiagRec(handleType SQLSMALLINT, handle SQLHANDLE, record SQLSMALLINT, state, message []byte) (SQLINTEGER, SQLSMALLINT, SQLRETURN) {
	recs := f.diags[handle]
	if int(record) > len(recs) {
		return 0, 0, SQL_NO_DATA
	}
	rec := recs[record-1]

	copy(state, rec.State)
	// Real drivers always NUL-terminate, truncating the text when the
	// buffer cannot hold the full message plus the terminator. The
	// returned length is the untruncated message length either way.
	n := len(rec.Message)
	if n > len(message)-1 {
		n = len(message) - 1
	}
	copy(message, rec.Message[:n])
	message[n] = 0
	return SQLINTEGER(rec.NativeError), SQLSMALLINT(len(rec.Message)), SQL_SUCCESS
}

// newTestEnv builds an Environment over a fresh fake driver.
func newTestEnv(t *testing.T) (*fakeDriver, *Environment) {
	t.Helper()
	f := newFakeDriver()
	env, err := NewEnvironment(withDriverAPI(f))
	if err != nil {
		t.Fatalf("failed to create environment: %v", err)
	}
	return f, env
}

// newTestConn builds a connected Connection over a fresh fake driver.
func newTestConn(t *testing.T, options ...ConnOption) (*fakeDriver, *Environment, *Connection) {
	t.Helper()
	f, env := newTestEnv(t)
	conn, err := env.Connect("DSN=fake", options...)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return f, env, conn
}
