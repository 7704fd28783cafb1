/*
Package odbc provides a safe, high-performance Go layer over an ODBC driver manager.

# Overview

Go-ODBC wraps the handle-based ODBC C API behind typed Go objects so that
application code can open connections, run prepared and parametrized
statements, and move result data in bulk without ever touching a raw handle,
a manually sized buffer, or an unchecked status code. The driver manager
(unixODBC, iODBC, or odbc32.dll) is loaded dynamically at runtime, so the
package builds without CGO.

The package is organized around four corners of the ODBC API:

 1. Typed handles - Environment, Connection and Statement own exactly one
    driver-manager handle each and release it exactly once, in child-before-
    parent order. Freeing a handle that still has live children fails loudly
    instead of leaking driver state.
 2. Columnar buffers - fixed-stride arrays bound to result columns or
    parameter markers, with per-row indicators for NULL, length and
    truncation.
 3. Bulk transfer - block fetches that deliver up to N rows per driver round
    trip, and arrayed executes that insert M rows per round trip and report
    an uninterpreted per-row outcome array.
 4. Streaming - chunked, forward-only transfer for individual values too
    large for a fixed stride, in both directions.

# Bulk Fetch Example

	conn, err := odbc.Connect("DSN=warehouse;UID=reporting")
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	stmt, err := conn.Prepare("SELECT id, name FROM users")
	if err != nil {
		log.Fatalf("failed to prepare: %v", err)
	}
	defer stmt.Close()

	rowSet, err := odbc.NewRowSet(1000,
		odbc.BufferDesc{Kind: odbc.BufferInt64},
		odbc.BufferDesc{Kind: odbc.BufferText, Size: 64},
	)
	if err != nil {
		log.Fatalf("failed to allocate row set: %v", err)
	}

	cursor, err := stmt.Execute()
	if err != nil {
		log.Fatalf("failed to execute: %v", err)
	}
	if err := cursor.BindRowSet(rowSet); err != nil {
		log.Fatalf("failed to bind row set: %v", err)
	}

	ids := rowSet.Column(1).(*odbc.Int64Column)
	names := rowSet.Column(2).(*odbc.TextColumn)
	for {
		n, err := cursor.FetchBlock()
		if err != nil {
			log.Fatalf("fetch failed: %v", err)
		}
		if n == 0 {
			break
		}
		for row := 0; row < n; row++ {
			if rowSet.Status(row, 2) == odbc.CellNull {
				continue
			}
			fmt.Printf("%d %s\n", ids.Value(row), names.Value(row))
		}
	}

# Bulk Insert Example

	paramSet, _ := odbc.NewParamSet(500,
		odbc.BufferDesc{Kind: odbc.BufferInt64},
		odbc.BufferDesc{Kind: odbc.BufferText, Size: 64},
	)
	// ... fill paramSet.Column(1) and paramSet.Column(2) for m rows ...
	result, err := stmt.ExecuteBatch(paramSet, m)
	if err != nil {
		log.Fatalf("batch failed entirely: %v", err)
	}
	for row, outcome := range result.Outcomes() {
		if outcome == odbc.RowFailed {
			log.Printf("row %d rejected", row)
		}
	}

# Concurrency

All calls are synchronous and blocking. An Environment may be shared across
goroutines to allocate independent connections; a Connection and everything
beneath it is serialized by an internal mutex, matching the per-connection
confinement the ODBC specification requires. Buffers bound to a statement
must not be mutated while a fetch or execute that references them is
outstanding.
*/
package odbc
