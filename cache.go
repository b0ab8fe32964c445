// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlgen

import (
	"context"
	"database/sql"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/canonical/sqlgen/internal/expr"
)

type dbID = uint64
type stmtID = uint64

// statementCache caches the driver prepared statements of Statements whose
// SQL does not depend on their inputs. A Statement can have one sql.Stmt per
// DB it runs on. The cache is indexed by the Statement ID and the DB ID.
//
// A finalizer on each Statement closes its sql.Stmt values once the
// Statement is garbage collected. A finalizer on each DB closes the
// statements prepared on it and then the DB itself, unless [DB.Close] did
// so first.
//
// The mutex must be held when accessing either map.
type statementCache struct {
	stmtDBCache map[stmtID]map[dbID]*sql.Stmt
	dbStmtCache map[dbID]map[stmtID]bool
	mutex       sync.RWMutex

	stmtIDCount atomic.Uint64
	dbIDCount   atomic.Uint64
}

func newStatementCache() *statementCache {
	return &statementCache{
		stmtDBCache: map[stmtID]map[dbID]*sql.Stmt{},
		dbStmtCache: map[dbID]map[stmtID]bool{},
	}
}

// newStatement returns a new Statement and allocates it in the cache.
func (sc *statementCache) newStatement(query string, pe *expr.Prepared) *Statement {
	cacheID := sc.stmtIDCount.Add(1)
	s := &Statement{cacheID: cacheID, query: query, pe: pe}
	if _, static := pe.SQL(); !static {
		// Only statements with a fixed text are prepared on the driver.
		return s
	}
	sc.mutex.Lock()
	sc.stmtDBCache[cacheID] = map[dbID]*sql.Stmt{}
	sc.mutex.Unlock()
	runtime.SetFinalizer(s, sc.removeStmt)
	return s
}

// newDB returns a new DB and allocates it in the cache.
func (sc *statementCache) newDB(sqldb *sql.DB, b *Backend) *DB {
	cacheID := sc.dbIDCount.Add(1)
	sc.mutex.Lock()
	sc.dbStmtCache[cacheID] = map[stmtID]bool{}
	sc.mutex.Unlock()
	db := &DB{cacheID: cacheID, sqldb: sqldb, backend: b}
	runtime.SetFinalizer(db, func(db *DB) {
		sc.removeDB(db)
		db.sqldb.Close()
	})
	return db
}

// lookupStmt returns the driver statement prepared for s on db, if any.
func (sc *statementCache) lookupStmt(db *DB, s *Statement) (*sql.Stmt, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	sqlstmt, ok := sc.stmtDBCache[s.cacheID][db.cacheID]
	return sqlstmt, ok
}

// prepareStmt returns the driver statement for s on db, preparing it if it
// is not cached yet.
func (sc *statementCache) prepareStmt(ctx context.Context, db *DB, s *Statement) (*sql.Stmt, error) {
	if sqlstmt, ok := sc.lookupStmt(db, s); ok {
		return sqlstmt, nil
	}
	query, _ := s.pe.SQL()
	sqlstmt, err := db.sqldb.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	dbCache, ok := sc.stmtDBCache[s.cacheID]
	dbStmts, dbOK := sc.dbStmtCache[db.cacheID]
	if !ok || !dbOK {
		// The DB was closed while preparing.
		sqlstmt.Close()
		return nil, sql.ErrConnDone
	}
	// Someone else may have prepared the statement since we last checked.
	if alt, ok := dbCache[db.cacheID]; ok {
		sqlstmt.Close()
		return alt, nil
	}
	dbCache[db.cacheID] = sqlstmt
	dbStmts[s.cacheID] = true
	slog.Debug("statement prepared on driver", "statement", s.cacheID, "db", db.cacheID)
	return sqlstmt, nil
}

// removeStmt closes every driver statement prepared for s and forgets it.
func (sc *statementCache) removeStmt(s *Statement) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for id, sqlstmt := range sc.stmtDBCache[s.cacheID] {
		sqlstmt.Close()
		delete(sc.dbStmtCache[id], s.cacheID)
	}
	delete(sc.stmtDBCache, s.cacheID)
}

// removeDB closes every driver statement prepared on db and forgets it.
func (sc *statementCache) removeDB(db *DB) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for id := range sc.dbStmtCache[db.cacheID] {
		dbCache := sc.stmtDBCache[id]
		if sqlstmt, ok := dbCache[db.cacheID]; ok {
			sqlstmt.Close()
			delete(dbCache, db.cacheID)
		}
	}
	delete(sc.dbStmtCache, db.cacheID)
}
