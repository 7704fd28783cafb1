// Package odbc provides a safe, allocation-conscious Go layer over an ODBC driver manager.
package odbc

// Connect opens a connection to the data source named by target under a
// private Environment. Closing the connection closes the environment with
// it. Applications that open several connections should allocate one
// Environment themselves and call its Connect instead.
func Connect(target string, options ...ConnOption) (*Connection, error) {
	env, err := NewEnvironment()
	if err != nil {
		return nil, err
	}

	conn, err := env.Connect(target, options...)
	if err != nil {
		_ = env.Close()
		return nil, err
	}
	conn.ownsEnv = true
	return conn, nil
}
