// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlgen

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open opens a database of the named backend with its driver. MySQL DSNs
// are parsed and always get parseTime set so that DATETIME columns scan
// into time.Time.
func Open(backendName, dsn string) (*DB, error) {
	b, err := LookupBackend(backendName)
	if err != nil {
		return nil, err
	}
	if b.Driver == "mysql" {
		dsn, err = mysqlDSN(dsn)
		if err != nil {
			return nil, err
		}
	}
	sqldb, err := sql.Open(b.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s database: %w", b.Name, err)
	}
	return NewDB(sqldb, b), nil
}

func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
