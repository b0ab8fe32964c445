// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlgen

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which counts
// the statements prepared and closed on the driver. Tests use the counts to
// check that statements are reused and not leaked.

var driverStmts struct {
	sync.Mutex
	opened []string
	closed int
}

func resetDriverStmts() {
	driverStmts.Lock()
	defer driverStmts.Unlock()
	driverStmts.opened = nil
	driverStmts.closed = 0
}

// driverStmtCounts returns the queries prepared and the number of
// statements closed since the last reset.
func driverStmtCounts() ([]string, int) {
	driverStmts.Lock()
	defer driverStmts.Unlock()
	return append([]string(nil), driverStmts.opened...), driverStmts.closed
}

type countingDriver struct {
	sqlite3.SQLiteDriver
}

type countingConn struct {
	*sqlite3.SQLiteConn
}

type countingStmt struct {
	*sqlite3.SQLiteStmt
}

func (s *countingStmt) Close() error {
	driverStmts.Lock()
	driverStmts.closed++
	driverStmts.Unlock()
	return s.SQLiteStmt.Close()
}

func (c *countingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	driverStmts.Lock()
	driverStmts.opened = append(driverStmts.opened, query)
	driverStmts.Unlock()
	return &countingStmt{SQLiteStmt: sm}, nil
}

func (c *countingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (d *countingDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.SQLiteDriver.Open(name)
	if err != nil {
		return nil, err
	}
	sc, ok := conn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &countingConn{SQLiteConn: sc}, nil
}

func init() {
	sql.Register("sqlite3_counting", &countingDriver{})
}
