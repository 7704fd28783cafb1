// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

// This file mirrors the scalar types and constants of the ODBC C headers that
// the package speaks to the driver manager with. SQLLEN and SQLULEN follow the
// 64-bit driver manager ABI (unixODBC and the Windows driver manager both use
// 8-byte lengths on 64-bit platforms).

type (
	// SQLHANDLE is an opaque driver-manager handle. Callers never see one;
	// the typed wrappers in this package own them exclusively.
	SQLHANDLE uintptr

	SQLSMALLINT  int16
	SQLUSMALLINT uint16
	SQLINTEGER   int32
	SQLUINTEGER  uint32
	SQLLEN       int64
	SQLULEN      uint64

	// SQLRETURN is the three-way (plus sentinels) status code every ODBC
	// call returns.
	SQLRETURN int16
)

// Return codes.
const (
	SQL_SUCCESS           SQLRETURN = 0
	SQL_SUCCESS_WITH_INFO SQLRETURN = 1
	SQL_STILL_EXECUTING   SQLRETURN = 2
	SQL_ERROR             SQLRETURN = -1
	SQL_INVALID_HANDLE    SQLRETURN = -2
	SQL_NEED_DATA         SQLRETURN = 99
	SQL_NO_DATA           SQLRETURN = 100
)

// Handle kinds.
const (
	SQL_HANDLE_ENV  SQLSMALLINT = 1
	SQL_HANDLE_DBC  SQLSMALLINT = 2
	SQL_HANDLE_STMT SQLSMALLINT = 3

	SQL_NULL_HANDLE SQLHANDLE = 0
)

// Environment attributes.
const (
	SQL_ATTR_ODBC_VERSION       SQLINTEGER = 200
	SQL_ATTR_CONNECTION_POOLING SQLINTEGER = 201

	SQL_OV_ODBC3 = 3

	SQL_CP_OFF            = 0
	SQL_CP_ONE_PER_DRIVER = 1
	SQL_CP_ONE_PER_HENV   = 2
)

// Connection attributes.
const (
	SQL_ATTR_AUTOCOMMIT SQLINTEGER = 102

	SQL_AUTOCOMMIT_OFF = 0
	SQL_AUTOCOMMIT_ON  = 1

	SQL_DRIVER_NOPROMPT SQLUSMALLINT = 0
)

// Statement attributes used for block fetching and array parameter binding.
const (
	SQL_ATTR_ROW_BIND_TYPE        SQLINTEGER = 5
	SQL_ATTR_PARAM_BIND_TYPE      SQLINTEGER = 18
	SQL_ATTR_PARAM_STATUS_PTR     SQLINTEGER = 20
	SQL_ATTR_PARAMS_PROCESSED_PTR SQLINTEGER = 21
	SQL_ATTR_PARAMSET_SIZE        SQLINTEGER = 22
	SQL_ATTR_ROW_STATUS_PTR       SQLINTEGER = 25
	SQL_ATTR_ROWS_FETCHED_PTR     SQLINTEGER = 26
	SQL_ATTR_ROW_ARRAY_SIZE       SQLINTEGER = 27

	SQL_BIND_BY_COLUMN = 0
)

// Per-row status values reported through the row status array bound with
// SQL_ATTR_ROW_STATUS_PTR.
const (
	SQL_ROW_SUCCESS           SQLUSMALLINT = 0
	SQL_ROW_DELETED           SQLUSMALLINT = 1
	SQL_ROW_UPDATED           SQLUSMALLINT = 2
	SQL_ROW_NOROW             SQLUSMALLINT = 3
	SQL_ROW_ADDED             SQLUSMALLINT = 4
	SQL_ROW_ERROR             SQLUSMALLINT = 5
	SQL_ROW_SUCCESS_WITH_INFO SQLUSMALLINT = 6
)

// Per-row status values reported through the parameter status array bound
// with SQL_ATTR_PARAM_STATUS_PTR after an arrayed execute.
const (
	SQL_PARAM_SUCCESS           SQLUSMALLINT = 0
	SQL_PARAM_DIAG_UNAVAILABLE  SQLUSMALLINT = 1
	SQL_PARAM_ERROR             SQLUSMALLINT = 5
	SQL_PARAM_SUCCESS_WITH_INFO SQLUSMALLINT = 6
	SQL_PARAM_UNUSED            SQLUSMALLINT = 7
)

// Indicator sentinels.
const (
	SQL_NULL_DATA    SQLLEN = -1
	SQL_DATA_AT_EXEC SQLLEN = -2
	SQL_NTS          SQLLEN = -3
	SQL_NO_TOTAL     SQLLEN = -4

	SQL_LEN_DATA_AT_EXEC_OFFSET SQLLEN = -100
)

// lenDataAtExec builds the indicator value announcing a data-at-execution
// parameter with a known total length, per the SQL_LEN_DATA_AT_EXEC macro.
func lenDataAtExec(length SQLLEN) SQLLEN {
	return SQL_LEN_DATA_AT_EXEC_OFFSET - length
}

// SQL data types.
const (
	SQL_UNKNOWN_TYPE   SQLSMALLINT = 0
	SQL_CHAR           SQLSMALLINT = 1
	SQL_NUMERIC        SQLSMALLINT = 2
	SQL_DECIMAL        SQLSMALLINT = 3
	SQL_INTEGER        SQLSMALLINT = 4
	SQL_SMALLINT       SQLSMALLINT = 5
	SQL_FLOAT          SQLSMALLINT = 6
	SQL_REAL           SQLSMALLINT = 7
	SQL_DOUBLE         SQLSMALLINT = 8
	SQL_TIMESTAMP      SQLSMALLINT = 11
	SQL_VARCHAR        SQLSMALLINT = 12
	SQL_TYPE_DATE      SQLSMALLINT = 91
	SQL_TYPE_TIME      SQLSMALLINT = 92
	SQL_TYPE_TIMESTAMP SQLSMALLINT = 93
	SQL_LONGVARCHAR    SQLSMALLINT = -1
	SQL_BINARY         SQLSMALLINT = -2
	SQL_VARBINARY      SQLSMALLINT = -3
	SQL_LONGVARBINARY  SQLSMALLINT = -4
	SQL_BIGINT         SQLSMALLINT = -5
	SQL_TINYINT        SQLSMALLINT = -6
	SQL_BIT            SQLSMALLINT = -7

	SQL_SIGNED_OFFSET SQLSMALLINT = -20
)

// C data types identifying the layout of bound application buffers.
const (
	SQL_C_CHAR           = SQL_CHAR
	SQL_C_LONG           = SQL_INTEGER
	SQL_C_SHORT          = SQL_SMALLINT
	SQL_C_DOUBLE         = SQL_DOUBLE
	SQL_C_TYPE_TIMESTAMP = SQL_TYPE_TIMESTAMP
	SQL_C_BINARY         = SQL_BINARY
	SQL_C_SBIGINT        = SQL_BIGINT + SQL_SIGNED_OFFSET
)

// Transaction completion types for SQLEndTran.
const (
	SQL_COMMIT   SQLSMALLINT = 0
	SQL_ROLLBACK SQLSMALLINT = 1
)

// Parameter direction. Only input parameters are supported by this layer.
const SQL_PARAM_INPUT SQLSMALLINT = 1

// SQLFreeStmt options.
const (
	SQL_CLOSE        SQLUSMALLINT = 0
	SQL_UNBIND       SQLUSMALLINT = 2
	SQL_RESET_PARAMS SQLUSMALLINT = 3
)

// SQLSetPos operations and lock types.
const (
	SQL_POSITION       SQLUSMALLINT = 0
	SQL_LOCK_NO_CHANGE SQLUSMALLINT = 0
)

// Nullability as reported by SQLDescribeCol.
const (
	SQL_NO_NULLS         SQLSMALLINT = 0
	SQL_NULLABLE         SQLSMALLINT = 1
	SQL_NULLABLE_UNKNOWN SQLSMALLINT = 2
)

const (
	sqlStateLength      = 5
	sqlMaxMessageLength = 512
)
