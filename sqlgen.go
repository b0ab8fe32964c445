// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlgen

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync/atomic"

	"github.com/canonical/sqlgen/internal/expr"
	"github.com/canonical/sqlgen/internal/typeinfo"
)

// M is a convenience type for passing host variables by name. Any map type
// with string keys can be used in its place.
//
// Example:
//
//	stmt := gen.MustPrepare("UPDATE person SET name = {name} WHERE id = {id}")
//	err := db.Query(ctx, stmt, sqlgen.M{"id": 10, "name": "Fred"}).Run()
type M map[string]any

// ErrNoRows is returned by Get when a statement expected to return rows
// returns none.
var ErrNoRows = sql.ErrNoRows

// ErrTXDone is returned when a query is run on a transaction that has
// already been committed or rolled back.
var ErrTXDone = sql.ErrTxDone

// Error kinds returned by Prepare. They can be matched with errors.Is.
var (
	ErrSyntax         = expr.ErrSyntax
	ErrSchema         = expr.ErrSchema
	ErrCapability     = expr.ErrCapability
	ErrStatementShape = expr.ErrStatementShape
)

// ValidationError lists every problem found in a statement.
type ValidationError = expr.ValidationError

// stmtCache stores the driver prepared statements associated to the
// Statement objects.
var stmtCache = newStatementCache()

// Generator prepares statements for one schema and backend. It is safe for
// concurrent use.
type Generator struct {
	compiler *expr.Compiler
}

// NewGenerator returns a Generator checking statements against the schema
// and generating SQL for the backend. The schema is validated.
func NewGenerator(s *Schema, b *Backend) (*Generator, error) {
	c, err := expr.NewCompiler(s, b)
	if err != nil {
		return nil, err
	}
	return &Generator{compiler: c}, nil
}

// Schema returns the schema statements are checked against.
func (g *Generator) Schema() *Schema {
	return g.compiler.Schema()
}

// Backend returns the backend SQL is generated for.
func (g *Generator) Backend() *Backend {
	return g.compiler.Backend()
}

// Prepare parses and validates the query and generates a [Statement].
// Every problem found is reported together in a [*ValidationError].
func (g *Generator) Prepare(query string) (*Statement, error) {
	return g.prepare(query, false)
}

// PrepareLazy is like [Generator.Prepare] but the statement streams its rows
// and may only be run with [Query.Iter]. Statements that return no rows
// cannot be lazy.
func (g *Generator) PrepareLazy(query string) (*Statement, error) {
	return g.prepare(query, true)
}

// MustPrepare is the same as [Generator.Prepare] except that it panics on
// error.
func (g *Generator) MustPrepare(query string) *Statement {
	s, err := g.Prepare(query)
	if err != nil {
		panic(err)
	}
	return s
}

func (g *Generator) prepare(query string, lazy bool) (*Statement, error) {
	pe, err := g.compiler.Prepare(query, lazy)
	if err != nil {
		return nil, fmt.Errorf("cannot prepare statement: %w", err)
	}
	slog.Debug("statement prepared",
		"kind", pe.Kind(),
		"backend", pe.Backend().Name,
		"lazy", lazy,
		"template", pe.Template(),
	)
	return stmtCache.newStatement(query, pe), nil
}

// Statement is a validated statement ready to be bound to its inputs and run
// on a database of the backend it was generated for.
type Statement struct {
	// cacheID is used to look up the driver prepared statements associated with
	// this Statement.
	cacheID uint64
	query   string
	pe      *expr.Prepared
}

// Query returns the text the statement was prepared from.
func (s *Statement) Query() string {
	return s.query
}

// Kind returns the kind of statement: SELECT, EXISTS, INSERT, UPDATE or
// DELETE.
func (s *Statement) Kind() string {
	return s.pe.Kind().String()
}

// Lazy reports whether the statement was prepared with PrepareLazy.
func (s *Statement) Lazy() bool {
	return s.pe.Lazy()
}

// Columns returns the names of the columns the statement returns.
func (s *Statement) Columns() []string {
	return s.pe.Columns()
}

// Template returns the generated SQL with {p0}, {p1} and so on in place of
// the placeholders.
func (s *Statement) Template() string {
	return s.pe.Template()
}

// Render binds the inputs and returns the SQL and its parameters. Inputs are
// maps with string keys, or structs with db tags, holding the host variables
// named in the statement.
func (s *Statement) Render(inputs ...any) (string, []any, error) {
	pq, err := s.pe.Bind(inputs...)
	if err != nil {
		return "", nil, err
	}
	return pq.SQL(), pq.Params(), nil
}

// DB wraps a database/sql DB opened for one backend. Statements run on it
// must have been generated for the same backend.
type DB struct {
	// cacheID is used to look up the cached driver prepared statements prepared
	// on this database.
	cacheID uint64
	// sqldb is the underlying database/sql DB object.
	sqldb   *sql.DB
	backend *Backend
}

// NewDB creates a new [DB] from a [sql.DB] talking to a database of the
// backend.
func NewDB(sqldb *sql.DB, b *Backend) *DB {
	if sqldb == nil || b == nil {
		return nil
	}
	return stmtCache.newDB(sqldb, b)
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb
}

// Backend returns the backend of the database.
func (db *DB) Backend() *Backend {
	return db.backend
}

// Close closes the statements prepared on the database and then the
// database itself.
func (db *DB) Close() error {
	runtime.SetFinalizer(db, nil)
	stmtCache.removeDB(db)
	return db.sqldb.Close()
}

// checkBackend reports statements generated for a different backend.
func checkBackend(db *DB, s *Statement) error {
	if name := s.pe.Backend().Name; name != db.backend.Name {
		return fmt.Errorf("cannot run statement: generated for backend %q, database is %q", name, db.backend.Name)
	}
	return nil
}

// Query represents a query on a database. It is designed to be run once.
type Query struct {
	// run executes the Query against the DB or the TX.
	run func(context.Context) (*sql.Rows, sql.Result, error)
	// acquire, when set, must succeed before rows are read.
	acquire func() (release func(), err error)
	ctx     context.Context
	err     error
	stmt    *Statement
	pq      *expr.Primed
}

// Iterator is used to iterate over the results of the query.
type Iterator struct {
	pq      *expr.Primed
	rows    *sql.Rows
	cols    []string
	err     error
	result  sql.Result
	started bool
	release func()
}

func (q *Query) returnsRows() bool {
	return len(q.pq.Columns()) > 0
}

// newQuery binds the inputs and builds a Query running with run.
func newQuery(ctx context.Context, s *Statement, inputs []any, run func(context.Context, *expr.Primed) (*sql.Rows, sql.Result, error)) *Query {
	pq, err := s.pe.Bind(inputs...)
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}
	q := &Query{ctx: ctx, stmt: s, pq: pq}
	q.run = func(innerCtx context.Context) (*sql.Rows, sql.Result, error) {
		slog.Debug("running statement", "sql", pq.SQL(), "params", len(pq.Params()))
		return run(innerCtx, pq)
	}
	return q
}

// Query builds a new query from a context, a [Statement] and its inputs.
// The query is run on the database when one of [Query.Iter], [Query.Run],
// [Query.Get], [Query.GetOptional], [Query.GetAll] or [Query.Exists] is
// executed.
func (db *DB) Query(ctx context.Context, s *Statement, inputs ...any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := checkBackend(db, s); err != nil {
		return &Query{ctx: ctx, err: err}
	}

	return newQuery(ctx, s, inputs, func(innerCtx context.Context, pq *expr.Primed) (rows *sql.Rows, result sql.Result, err error) {
		if _, static := s.pe.SQL(); !static {
			if len(pq.Columns()) > 0 {
				rows, err = db.sqldb.QueryContext(innerCtx, pq.SQL(), pq.Params()...)
			} else {
				result, err = db.sqldb.ExecContext(innerCtx, pq.SQL(), pq.Params()...)
			}
			return rows, result, err
		}

		sqlstmt, err := stmtCache.prepareStmt(innerCtx, db, s)
		if err != nil {
			return nil, nil, err
		}
		if len(pq.Columns()) > 0 {
			rows, err = sqlstmt.QueryContext(innerCtx, pq.Params()...)
		} else {
			result, err = sqlstmt.ExecContext(innerCtx, pq.Params()...)
		}
		return rows, result, err
	})
}

// checkEager reports lazy statements run with anything but Iter.
func (q *Query) checkEager(method string) error {
	if q.stmt.Lazy() {
		return fmt.Errorf("cannot use %s with a lazy statement: use Iter", method)
	}
	return nil
}

// Run is used to run a query on a database and disregard any results.
func (q *Query) Run() error {
	if q.err != nil {
		return q.err
	}
	if err := q.checkEager("Run"); err != nil {
		return err
	}
	iter := q.Iter()
	for iter.Next() {
	}
	return iter.Close()
}

// Get runs the query and decodes the first row returned into the provided
// output arguments. It returns [ErrNoRows] if the statement returns rows but
// none were found.
//
// A pointer to an empty [Outcome] struct may be provided as the first output
// variable to fill it with information about query execution.
func (q *Query) Get(outputArgs ...any) error {
	found, err := q.get("Get", outputArgs)
	if err == nil && !found && q.returnsRows() {
		err = ErrNoRows
	}
	return err
}

// GetOptional is like [Query.Get] but reports whether a row was found
// instead of returning [ErrNoRows].
func (q *Query) GetOptional(outputArgs ...any) (bool, error) {
	return q.get("GetOptional", outputArgs)
}

func (q *Query) get(method string, outputArgs []any) (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	if err := q.checkEager(method); err != nil {
		return false, err
	}
	var outcome *Outcome
	if len(outputArgs) > 0 {
		if oc, ok := outputArgs[0].(*Outcome); ok {
			outcome = oc
			outputArgs = outputArgs[1:]
		}
	}
	if !q.returnsRows() && len(outputArgs) > 0 {
		return false, fmt.Errorf("cannot get results: output variables provided but statement returns no rows")
	}

	var err error
	iter := q.Iter()
	if outcome != nil {
		err = iter.Get(outcome)
	}
	if err == nil && !iter.Next() {
		return false, iter.Close()
	}
	if err == nil {
		err = iter.Get(outputArgs...)
	}
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	return err == nil, err
}

// Exists runs an EXISTS statement and returns its result.
func (q *Query) Exists() (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	if err := q.checkEager("Exists"); err != nil {
		return false, err
	}
	if kind := q.stmt.pe.Kind(); kind != expr.ExistsKind {
		return false, fmt.Errorf("cannot use Exists with a %s statement", kind)
	}
	var exists bool
	m := map[string]any{}
	if err := q.Get(m); err != nil {
		return false, err
	}
	switch v := m["exists"].(type) {
	case bool:
		exists = v
	case int64:
		exists = v != 0
	case []byte:
		exists = string(v) == "1" || string(v) == "t" || string(v) == "true"
	default:
		return false, fmt.Errorf("cannot read EXISTS result of type %T", v)
	}
	return exists, nil
}

// Iter returns an [Iterator] to iterate through the results row by row.
// [Iterator.Close] must be run once iteration is finished.
func (q *Query) Iter() *Iterator {
	if q.err != nil {
		return &Iterator{err: q.err}
	}

	var release func()
	if q.acquire != nil {
		var err error
		release, err = q.acquire()
		if err != nil {
			return &Iterator{pq: q.pq, err: err}
		}
	}

	var cols []string
	rows, result, err := q.run(q.ctx)
	if err == nil && q.returnsRows() {
		cols, err = rows.Columns()
	}
	if err != nil {
		if rows != nil {
			rows.Close()
		}
		if release != nil {
			release()
		}
		return &Iterator{pq: q.pq, err: err}
	}

	return &Iterator{pq: q.pq, rows: rows, cols: cols, result: result, release: release}
}

// Next prepares the next row for [Iterator.Get]. If an error occurs during
// iteration it will be returned with [Iterator.Close].
func (iter *Iterator) Next() bool {
	iter.started = true
	if iter.err != nil || iter.rows == nil {
		return false
	}
	return iter.rows.Next()
}

// Get decodes the result from the previous [Iterator.Next] call into the
// provided output arguments. Outputs are pointers to structs with db tags,
// or maps with string keys. A column goes to the first struct with a
// matching member, or else to the first map.
//
// Before the first call of [Iterator.Next] a pointer to an empty [Outcome]
// struct may be passed to Get as the only argument to fill it information
// about query execution.
func (iter *Iterator) Get(outputArgs ...any) (err error) {
	if iter.err != nil {
		return iter.err
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot get result: %s", err)
		}
	}()

	if !iter.started {
		if len(outputArgs) == 1 {
			if oc, ok := outputArgs[0].(*Outcome); ok {
				oc.result = iter.result
				return nil
			}
		}
		return fmt.Errorf("cannot call Get before Next unless getting outcome")
	}

	if iter.rows == nil {
		return fmt.Errorf("iteration ended")
	}

	outputs, err := typeinfo.ValidateOutputs(outputArgs)
	if err != nil {
		return err
	}
	ptrs, proxies, err := typeinfo.ScanTargets(outputs, iter.cols)
	if err != nil {
		return err
	}
	if err := iter.rows.Scan(ptrs...); err != nil {
		return err
	}
	for _, p := range proxies {
		p.OnSuccess()
	}
	return nil
}

// Close finishes the iteration and returns any errors encountered. Close can
// be called multiple times on the [Iterator] and the same error will be
// returned.
func (iter *Iterator) Close() error {
	iter.started = true
	if iter.release != nil {
		iter.release()
		iter.release = nil
	}
	if iter.rows == nil {
		return iter.err
	}
	err := iter.rows.Err()
	if cerr := iter.rows.Close(); err == nil {
		err = cerr
	}
	iter.rows = nil
	if iter.err != nil {
		return iter.err
	}
	iter.err = err
	return err
}

// Outcome holds metadata about executed queries, and can be provided as the
// first output argument to any of the Get methods to populate it with
// information about the query execution.
type Outcome struct {
	result sql.Result
}

// Result returns a [sql.Result] containing information about the query
// execution. If no result is set then Result returns nil.
func (o *Outcome) Result() sql.Result {
	return o.result
}

// GetAll iterates over the query and scans all rows into the provided slices.
// sliceArgs must contain pointers to slices of structs or maps.
// A pointer to an empty [Outcome] struct may be provided as the first output
// variable to get information about query execution.
//
// [ErrNoRows] will be returned if no rows are found.
func (q *Query) GetAll(sliceArgs ...any) (err error) {
	if q.err != nil {
		return q.err
	}
	if err := q.checkEager("GetAll"); err != nil {
		return err
	}

	var outcome *Outcome
	if len(sliceArgs) > 0 {
		if oc, ok := sliceArgs[0].(*Outcome); ok {
			outcome = oc
			sliceArgs = sliceArgs[1:]
		}
	}
	if !q.returnsRows() && len(sliceArgs) > 0 {
		return fmt.Errorf("output variables provided but statement returns no rows")
	}
	// Check slice inputs are valid using reflection.
	var slicePtrVals = []reflect.Value{}
	var sliceVals = []reflect.Value{}
	for _, ptr := range sliceArgs {
		ptrVal := reflect.ValueOf(ptr)
		if ptrVal.Kind() != reflect.Pointer {
			return fmt.Errorf("need pointer to slice, got %s", ptrVal.Kind())
		}
		if ptrVal.IsNil() {
			return fmt.Errorf("need pointer to slice, got nil")
		}
		slicePtrVals = append(slicePtrVals, ptrVal)
		sliceVal := ptrVal.Elem()
		if sliceVal.Kind() != reflect.Slice {
			return fmt.Errorf("need pointer to slice, got pointer to %s", sliceVal.Kind())
		}
		sliceVals = append(sliceVals, sliceVal)
	}

	rowsReturned := false
	iter := q.Iter()
	if outcome != nil {
		if err := iter.Get(outcome); err != nil {
			iter.Close()
			return err
		}
	}
	for iter.Next() {
		rowsReturned = true
		var outputArgs = []any{}
		for _, sliceVal := range sliceVals {
			elemType := sliceVal.Type().Elem()
			var outputArg reflect.Value
			switch elemType.Kind() {
			case reflect.Pointer:
				if elemType.Elem().Kind() != reflect.Struct {
					iter.Close()
					return fmt.Errorf("need slice of structs/maps, got slice of pointer to %s", elemType.Elem().Kind())
				}
				outputArg = reflect.New(elemType.Elem())
			case reflect.Struct:
				outputArg = reflect.New(elemType)
			case reflect.Map:
				outputArg = reflect.MakeMap(elemType)
			default:
				iter.Close()
				return fmt.Errorf("need slice of structs/maps, got slice of %s", elemType.Kind())
			}
			outputArgs = append(outputArgs, outputArg.Interface())
		}
		if err := iter.Get(outputArgs...); err != nil {
			iter.Close()
			return err
		}
		for i, outputArg := range outputArgs {
			switch k := sliceVals[i].Type().Elem().Kind(); k {
			case reflect.Pointer, reflect.Map:
				sliceVals[i] = reflect.Append(sliceVals[i], reflect.ValueOf(outputArg))
			case reflect.Struct:
				sliceVals[i] = reflect.Append(sliceVals[i], reflect.ValueOf(outputArg).Elem())
			default:
				iter.Close()
				return fmt.Errorf("internal error: output arg has unexpected kind %s", k)
			}
		}
	}
	err = iter.Close()
	if err != nil {
		return err
	} else if !rowsReturned && q.returnsRows() {
		return ErrNoRows
	}

	for i, ptrVal := range slicePtrVals {
		ptrVal.Elem().Set(sliceVals[i])
	}

	return nil
}

// TX represents a transaction on the database. A transaction allows one open
// [Iterator] at a time.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
	// iterating is set while an Iterator holds the transaction.
	iterating int32
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

func (tx *TX) acquire() (func(), error) {
	if !atomic.CompareAndSwapInt32(&tx.iterating, 0, 1) {
		return nil, fmt.Errorf("cannot run query: transaction has an open iterator")
	}
	return func() { atomic.StoreInt32(&tx.iterating, 0) }, nil
}

// Begin starts a transaction. A transaction must be ended
// with a [TX.Commit] or [TX.Rollback].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.sqldb.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Query builds a new query from a context, a [Statement] and its inputs.
// The query is run in the transaction when one of the methods of [Query]
// is executed.
func (tx *TX) Query(ctx context.Context, s *Statement, inputs ...any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.isDone() {
		return &Query{ctx: ctx, err: ErrTXDone}
	}
	if err := checkBackend(tx.db, s); err != nil {
		return &Query{ctx: ctx, err: err}
	}

	q := newQuery(ctx, s, inputs, func(innerCtx context.Context, pq *expr.Primed) (rows *sql.Rows, result sql.Result, err error) {
		if sqlstmt, ok := stmtCache.lookupStmt(tx.db, s); ok {
			// Register the prepared statement on the transaction. Note that
			// this does not re-prepare the statement on the driver.
			// The txstmt is closed by database/sql when the transaction is
			// commited or rolled back.
			txstmt := tx.sqltx.Stmt(sqlstmt)
			if len(pq.Columns()) > 0 {
				rows, err = txstmt.QueryContext(innerCtx, pq.Params()...)
			} else {
				result, err = txstmt.ExecContext(innerCtx, pq.Params()...)
			}
			return rows, result, err
		}

		if len(pq.Columns()) > 0 {
			rows, err = tx.sqltx.QueryContext(innerCtx, pq.SQL(), pq.Params()...)
		} else {
			result, err = tx.sqltx.ExecContext(innerCtx, pq.SQL(), pq.Params()...)
		}
		return rows, result, err
	})
	if q.err == nil {
		q.acquire = tx.acquire
	}
	return q
}
