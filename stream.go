// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

import (
	"fmt"
	"io"
	"unsafe"
)

// StreamParam is a data-at-execution parameter: a value delivered to the
// driver in chunks during execute instead of from a bound buffer. Construct
// one with NewTextStream or NewBinaryStream, bind it with
// Statement.BindStream, and either let Execute feed it from its reader or
// drive the chunks by hand through ExecuteStreaming.
type StreamParam struct {
	cType   SQLSMALLINT
	sqlType SQLSMALLINT
	reader  io.Reader
	number  int

	// indicator announces the data-at-exec protocol to the driver; bound at
	// BindStream and read by the driver during execute.
	indicator SQLLEN

	// fed records whether any chunk has been pushed for the current
	// need-data round, so an untouched parameter still ends up as a
	// zero-length value.
	fed bool

	// token is never read or written. Its address is registered as the bound
	// value pointer and echoed back by the driver to identify which
	// parameter wants data.
	token byte
}

// NewTextStream builds a streamed character parameter fed from r. A nil
// reader leaves the chunks to the caller via ExecuteStreaming.
func NewTextStream(r io.Reader) *StreamParam {
	return &StreamParam{
		cType:     SQL_C_CHAR,
		sqlType:   SQL_LONGVARCHAR,
		reader:    r,
		indicator: SQL_DATA_AT_EXEC,
	}
}

// NewBinaryStream builds a streamed binary parameter fed from r. A nil
// reader leaves the chunks to the caller via ExecuteStreaming.
func NewBinaryStream(r io.Reader) *StreamParam {
	return &StreamParam{
		cType:     SQL_C_BINARY,
		sqlType:   SQL_LONGVARBINARY,
		reader:    r,
		indicator: SQL_DATA_AT_EXEC,
	}
}

// SetTotalLength announces the total value length up front. Some drivers
// need it to allocate server-side storage before the chunks arrive.
func (p *StreamParam) SetTotalLength(n int64) {
	p.indicator = lenDataAtExec(SQLLEN(n))
}

// Number reports the parameter marker this stream is bound to, zero before
// binding.
func (p *StreamParam) Number() int { return p.number }

// BindStream registers a data-at-execution parameter at the given marker.
// Parameters are numbered from one. The StreamParam must stay reachable
// until the binding is reset; the Statement retains it.
func (s *Statement) BindStream(number int, p *StreamParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("bind stream", stmtPrepared); err != nil {
		return err
	}
	if number < 1 {
		return NewError(ErrBind, fmt.Sprintf("invalid parameter number %d", number))
	}

	ret := s.api.BindParameter(s.handle, SQLUSMALLINT(number), p.cType, p.sqlType, 0, 0,
		unsafe.Pointer(&p.token), 0, &p.indicator)
	if err := s.check(ret, ErrBind, fmt.Sprintf("bind stream parameter %d", number)); err != nil {
		return err
	}

	p.number = number
	s.streams = append(s.streams, p)
	s.bindGen++
	return nil
}

// streamForToken maps a driver token back to the StreamParam it was bound
// from. Caller holds the mutex.
func (s *Statement) streamForToken(token uintptr) *StreamParam {
	for _, p := range s.streams {
		if uintptr(unsafe.Pointer(&p.token)) == token {
			return p
		}
	}
	return nil
}

// feedStreams drives the data-at-execution loop from each parameter's
// reader until the driver stops asking. Caller holds the mutex.
func (s *Statement) feedStreams() error {
	for {
		token, ret := s.api.ParamData(s.handle)
		switch {
		case ret == SQL_NEED_DATA:
			p := s.streamForToken(token)
			if p == nil {
				return NewError(ErrStream, "driver requested data for an unbound parameter")
			}
			if p.reader == nil {
				return NewError(ErrStream, fmt.Sprintf("parameter %d has no reader, use ExecuteStreaming", p.number))
			}
			if err := s.feedOne(p); err != nil {
				return err
			}
		case succeeded(ret) || ret == SQL_NO_DATA:
			if ret == SQL_SUCCESS_WITH_INFO {
				s.lastInfo = drainDiagnostics(s.api, SQL_HANDLE_STMT, s.handle)
			}
			return nil
		default:
			return diagError(s.api, ErrStream, "param data", SQL_HANDLE_STMT, s.handle)
		}
	}
}

// feedOne copies one parameter's reader to the driver in chunks. A reader
// that ends immediately produces a zero-length value, not NULL. Caller holds
// the mutex.
func (s *Statement) feedOne(p *StreamParam) error {
	buf := chunks.get(mediumChunkSize)
	defer chunks.put(buf)

	wrote := false
	for {
		n, err := p.reader.Read(buf)
		if n > 0 {
			if ret := s.api.PutData(s.handle, buf[:n]); !succeeded(ret) {
				return diagError(s.api, ErrStream, fmt.Sprintf("put data for parameter %d", p.number), SQL_HANDLE_STMT, s.handle)
			}
			wrote = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return NewError(ErrStream, fmt.Sprintf("reading parameter %d: %v", p.number, err))
		}
	}
	if !wrote {
		if ret := s.api.PutData(s.handle, nil); !succeeded(ret) {
			return diagError(s.api, ErrStream, fmt.Sprintf("put empty value for parameter %d", p.number), SQL_HANDLE_STMT, s.handle)
		}
	}
	return nil
}

// ExecState is the manual side of the data-at-execution protocol. After
// ExecuteStreaming, while NeedData reports true, the caller pushes chunks
// for Param with PutChunk and moves on with NextParam. Once NeedData is
// false the execution has completed and Cursor opens the result set, if any.
type ExecState struct {
	stmt     *Statement
	needData bool
	current  *StreamParam
	done     bool
}

// NeedData reports whether the driver is waiting for chunks of the current
// parameter.
func (es *ExecState) NeedData() bool { return es.needData }

// Param returns the parameter the driver is currently waiting on, nil when
// NeedData is false.
func (es *ExecState) Param() *StreamParam { return es.current }

// PutChunk delivers the next chunk of the current parameter. An empty chunk
// is a no-op; the value ends when NextParam is called.
func (es *ExecState) PutChunk(chunk []byte) error {
	s := es.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if !es.needData {
		return NewError(ErrStream, "put chunk outside the need-data state")
	}
	if len(chunk) == 0 {
		return nil
	}
	if ret := s.api.PutData(s.handle, chunk); !succeeded(ret) {
		return diagError(s.api, ErrStream, "put data", SQL_HANDLE_STMT, s.handle)
	}
	es.current.fed = true
	return nil
}

// NextParam ends the current parameter's value and asks the driver for the
// next one. A parameter ended without any chunks carries a zero-length
// value.
func (es *ExecState) NextParam() error {
	s := es.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if !es.needData {
		return NewError(ErrStream, "next param outside the need-data state")
	}
	if !es.current.fed {
		if ret := s.api.PutData(s.handle, nil); !succeeded(ret) {
			return diagError(s.api, ErrStream, "put empty value", SQL_HANDLE_STMT, s.handle)
		}
	}
	if err := es.advance(); err != nil {
		s.state = stmtFailed
		return err
	}
	return nil
}

// advance calls SQLParamData and updates the state machine. Caller holds
// the mutex.
func (es *ExecState) advance() error {
	s := es.stmt
	token, ret := s.api.ParamData(s.handle)
	switch {
	case ret == SQL_NEED_DATA:
		p := s.streamForToken(token)
		if p == nil {
			return NewError(ErrStream, "driver requested data for an unbound parameter")
		}
		p.fed = false
		es.needData = true
		es.current = p
		return nil
	case succeeded(ret) || ret == SQL_NO_DATA:
		if ret == SQL_SUCCESS_WITH_INFO {
			s.lastInfo = drainDiagnostics(s.api, SQL_HANDLE_STMT, s.handle)
		}
		es.needData = false
		es.current = nil
		es.done = true
		s.conn.markWork()
		return nil
	default:
		return diagError(s.api, ErrStream, "param data", SQL_HANDLE_STMT, s.handle)
	}
}

// Cursor completes the streamed execution and opens the result set, nil for
// statements without one. It is an error while the driver still needs data.
func (es *ExecState) Cursor() (*Cursor, error) {
	s := es.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if es.needData {
		return nil, NewError(ErrStream, "execution still needs parameter data")
	}
	return s.openCursor()
}

// StreamReader reads one oversized cell of the current fetched block in
// chunks, forward only. It is created by Cursor.StreamColumn and stays valid
// until the cursor advances, the binding changes, or the statement closes;
// after that every read fails instead of touching moved memory.
type StreamReader struct {
	stmt   *Statement
	column SQLUSMALLINT
	text   bool
	gen    uint64
	done   bool

	pending []byte
}

// StreamColumn positions on one row of the current fetched block and returns
// a chunked reader for the given column. Row is zero-based within the block,
// column one-based. The column should be read past its bound buffer with
// this reader when the cell status is CellTruncated.
func (c *Cursor) StreamColumn(row, column int) (*StreamReader, error) {
	s := c.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("stream column", stmtCursor); err != nil {
		return nil, err
	}
	if s.rowSet == nil {
		return nil, NewError(ErrProtocol, "stream column without a bound row set")
	}
	if row < 0 || row >= s.rowSet.Rows() {
		return nil, NewError(ErrStream, fmt.Sprintf("row %d outside the fetched block of %d rows", row, s.rowSet.Rows()))
	}
	if column < 1 || column > c.columns {
		return nil, NewError(ErrStream, fmt.Sprintf("invalid column number %d", column))
	}

	if err := s.check(s.api.SetPos(s.handle, SQLULEN(row+1), SQL_POSITION, SQL_LOCK_NO_CHANGE), ErrStream, "set position"); err != nil {
		return nil, err
	}

	text := true
	switch s.rowSet.Column(column).(type) {
	case *BinaryColumn:
		text = false
	}

	return &StreamReader{
		stmt:   s,
		column: SQLUSMALLINT(column),
		text:   text,
		gen:    s.bindGen,
	}, nil
}

// GetChunk fetches up to max bytes of the remaining value. An empty result
// with a nil error means the value is exhausted.
func (r *StreamReader) GetChunk(max int) ([]byte, error) {
	s := r.stmt
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.getChunk(max)
}

// getChunk is GetChunk with the mutex already held.
func (r *StreamReader) getChunk(max int) ([]byte, error) {
	if r.done {
		return nil, nil
	}
	if max <= 0 {
		return nil, NewError(ErrStream, fmt.Sprintf("invalid chunk size %d", max))
	}
	s := r.stmt
	if r.gen != s.bindGen || s.state != stmtCursor {
		return nil, NewError(ErrStream, "stream reader invalidated by cursor advance or rebind")
	}

	// Character data is NUL terminated by the driver, so one slot of the
	// transfer buffer is lost to the terminator.
	size := max
	cType := SQL_C_BINARY
	if r.text {
		size++
		cType = SQL_C_CHAR
	}

	buf := make([]byte, size)
	ind, ret := s.api.GetData(s.handle, r.column, cType, buf)
	if ret == SQL_NO_DATA {
		r.done = true
		return nil, nil
	}
	if !succeeded(ret) {
		return nil, diagError(s.api, ErrStream, "get data", SQL_HANDLE_STMT, s.handle)
	}
	if ret == SQL_SUCCESS_WITH_INFO {
		s.lastInfo = drainDiagnostics(s.api, SQL_HANDLE_STMT, s.handle)
	}

	// The indicator holds the bytes remaining before this call, or
	// SQL_NO_TOTAL when the driver cannot tell. Either way the chunk is the
	// transfer buffer filled to its payload capacity, or the short tail.
	n := max
	if ind != SQL_NO_TOTAL && int(ind) < n {
		n = int(ind)
	}
	if ind == SQL_NULL_DATA {
		r.done = true
		return nil, nil
	}
	if n < max {
		// Short chunk, the value ends here.
		r.done = true
	}
	return buf[:n], nil
}

// Read implements io.Reader over the remaining value.
func (r *StreamReader) Read(p []byte) (int, error) {
	s := r.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(r.pending) == 0 {
		if r.done {
			return 0, io.EOF
		}
		chunk, err := r.getChunk(mediumChunkSize)
		if err != nil {
			return 0, err
		}
		if len(chunk) == 0 {
			return 0, io.EOF
		}
		r.pending = chunk
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// ReadAll drains the remaining value into one slice.
func (r *StreamReader) ReadAll() ([]byte, error) {
	s := r.stmt
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]byte(nil), r.pending...)
	r.pending = nil
	for {
		chunk, err := r.getChunk(mediumChunkSize)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
	}
}
