// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlgen_test

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlgen"
)

type PackageSuite struct {
	schema *sqlgen.Schema
	gen    *sqlgen.Generator
	db     *sqlgen.DB
}

var _ = Suite(&PackageSuite{})

const staffSchema = `
tables:
  - name: team
    columns:
      - {name: id, type: int, primary_key: true, auto_increment: true}
      - {name: name, type: string, unique: true}
  - name: employee
    columns:
      - {name: id, type: int, primary_key: true, auto_increment: true}
      - {name: uid, type: uuid, unique_id: true}
      - {name: name, type: string}
      - {name: email, type: string, nullable: true}
      - {name: team_id, type: int, references: team.id}
joins:
  - name: staff
    base: employee
    clauses: [{table: team}]
outputs:
  - {name: EmployeeOut, table: employee, fields: [{name: id}, {name: name}, {name: email}]}
  - {name: Badge, table: employee, fields: [{name: id}, {name: uid}]}
  - name: Staff
    table: staff
    fields:
      - {name: name, table: employee}
      - {name: team, column: name, table: team}
  - {name: TeamOut, table: team, fields: [{name: id}, {name: name}]}
inserts:
  - {name: NewTeam, table: team, fields: [name]}
  - {name: NewEmployee, table: employee, fields: [name, email, team_id]}
updates:
  - {name: Move, table: employee, fields: [team_id]}
`

type Employee struct {
	ID     int     `db:"id"`
	UID    string  `db:"uid"`
	Name   string  `db:"name"`
	Email  *string `db:"email"`
	TeamID int     `db:"team_id"`
}

type Team struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}

type StaffMember struct {
	Name string `db:"name"`
	Team string `db:"team"`
}

func strPtr(s string) *string {
	return &s
}

func (s *PackageSuite) SetUpSuite(c *C) {
	sch, err := sqlgen.ParseSchema([]byte(staffSchema))
	c.Assert(err, IsNil)
	s.schema = sch
	b, err := sqlgen.LookupBackend("sqlite")
	c.Assert(err, IsNil)
	s.gen, err = sqlgen.NewGenerator(sch, b)
	c.Assert(err, IsNil)
}

func (s *PackageSuite) SetUpTest(c *C) {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	c.Assert(err, IsNil)
	// Every connection to :memory: opens a new database.
	sqldb.SetMaxOpenConns(1)
	s.db = sqlgen.NewDB(sqldb, s.gen.Backend())
	c.Assert(s.db.CreateTables(context.Background(), s.schema), IsNil)

	ctx := context.Background()
	insertTeams := s.gen.MustPrepare("INSERT INTO team (NewTeam) VALUES {teams}")
	err = s.db.Query(ctx, insertTeams, sqlgen.M{"teams": []Team{{Name: "red"}, {Name: "blue"}}}).Run()
	c.Assert(err, IsNil)
	insertEmployees := s.gen.MustPrepare("INSERT INTO employee (NewEmployee) VALUES {employees}")
	err = s.db.Query(ctx, insertEmployees, sqlgen.M{"employees": []Employee{
		{Name: "ann", TeamID: 1},
		{Name: "bob", TeamID: 2},
		{Name: "cat", TeamID: 2, Email: strPtr("cat@example.com")},
	}}).Run()
	c.Assert(err, IsNil)
}

func (s *PackageSuite) TearDownTest(c *C) {
	if s.db != nil {
		c.Check(s.db.Close(), IsNil)
		s.db = nil
	}
}

func (s *PackageSuite) TestGet(c *C) {
	stmt := s.gen.MustPrepare("SELECT EmployeeOut FROM employee WHERE name = {name}")

	var e Employee
	err := s.db.Query(nil, stmt, sqlgen.M{"name": "cat"}).Get(&e)
	c.Assert(err, IsNil)
	c.Check(e, DeepEquals, Employee{ID: 3, Name: "cat", Email: strPtr("cat@example.com")})

	// Host variables can be read from structs.
	m := sqlgen.M{}
	err = s.db.Query(nil, stmt, Employee{Name: "ann"}).Get(m)
	c.Assert(err, IsNil)
	c.Check(m, DeepEquals, sqlgen.M{"id": int64(1), "name": "ann", "email": nil})
}

func (s *PackageSuite) TestGetNoRows(c *C) {
	stmt := s.gen.MustPrepare("SELECT EmployeeOut FROM employee WHERE name = {name}")

	var e Employee
	err := s.db.Query(nil, stmt, sqlgen.M{"name": "dan"}).Get(&e)
	c.Check(errors.Is(err, sqlgen.ErrNoRows), Equals, true)

	found, err := s.db.Query(nil, stmt, sqlgen.M{"name": "dan"}).GetOptional(&e)
	c.Assert(err, IsNil)
	c.Check(found, Equals, false)

	found, err = s.db.Query(nil, stmt, sqlgen.M{"name": "bob"}).GetOptional(&e)
	c.Assert(err, IsNil)
	c.Check(found, Equals, true)
	c.Check(e.ID, Equals, 2)
}

func (s *PackageSuite) TestGetAll(c *C) {
	stmt := s.gen.MustPrepare("SELECT Staff FROM staff WHERE team.name = {team} ORDER BY employee.name")

	var members []StaffMember
	err := s.db.Query(nil, stmt, sqlgen.M{"team": "blue"}).GetAll(&members)
	c.Assert(err, IsNil)
	c.Check(members, DeepEquals, []StaffMember{{"bob", "blue"}, {"cat", "blue"}})

	var ptrs []*StaffMember
	err = s.db.Query(nil, stmt, sqlgen.M{"team": "red"}).GetAll(&ptrs)
	c.Assert(err, IsNil)
	c.Check(ptrs, DeepEquals, []*StaffMember{{"ann", "red"}})

	var maps []sqlgen.M
	err = s.db.Query(nil, stmt, sqlgen.M{"team": "red"}).GetAll(&maps)
	c.Assert(err, IsNil)
	c.Check(maps, DeepEquals, []sqlgen.M{{"name": "ann", "team": "red"}})

	err = s.db.Query(nil, stmt, sqlgen.M{"team": "green"}).GetAll(&members)
	c.Check(err, Equals, sqlgen.ErrNoRows)

	err = s.db.Query(nil, stmt, sqlgen.M{"team": "red"}).GetAll(members)
	c.Check(err, ErrorMatches, "need pointer to slice, got slice")
}

func (s *PackageSuite) TestIterLazy(c *C) {
	stmt, err := s.gen.PrepareLazy("SELECT EmployeeOut FROM employee WHERE id IN {ids} ORDER BY id DESC")
	c.Assert(err, IsNil)
	c.Check(stmt.Lazy(), Equals, true)

	var names []string
	iter := s.db.Query(nil, stmt, sqlgen.M{"ids": []int{1, 3}}).Iter()
	for iter.Next() {
		var e Employee
		c.Assert(iter.Get(&e), IsNil)
		names = append(names, e.Name)
	}
	c.Assert(iter.Close(), IsNil)
	c.Check(names, DeepEquals, []string{"cat", "ann"})

	var e Employee
	err = s.db.Query(nil, stmt, sqlgen.M{"ids": []int{1}}).Get(&e)
	c.Check(err, ErrorMatches, "cannot use Get with a lazy statement: use Iter")
	var all []Employee
	err = s.db.Query(nil, stmt, sqlgen.M{"ids": []int{1}}).GetAll(&all)
	c.Check(err, ErrorMatches, "cannot use GetAll with a lazy statement: use Iter")
}

func (s *PackageSuite) TestLazyNeedsRows(c *C) {
	for _, query := range []string{
		"EXISTS FROM employee",
		"DELETE FROM employee WHERE id = 1",
		"UPDATE employee SET name = 'x'",
	} {
		_, err := s.gen.PrepareLazy(query)
		c.Check(errors.Is(err, sqlgen.ErrStatementShape), Equals, true, Commentf("query: %s", query))
	}
	_, err := s.gen.PrepareLazy("DELETE FROM employee WHERE id = 1 RETURNING EmployeeOut")
	c.Check(err, IsNil)
}

func (s *PackageSuite) TestIterMethodOrder(c *C) {
	stmt := s.gen.MustPrepare("SELECT TeamOut FROM team ORDER BY id")

	iter := s.db.Query(nil, stmt).Iter()
	var t Team
	c.Check(iter.Get(&t), ErrorMatches, "cannot get result: cannot call Get before Next unless getting outcome")
	c.Assert(iter.Next(), Equals, true)
	c.Assert(iter.Get(&t), IsNil)
	c.Check(t, DeepEquals, Team{ID: 1, Name: "red"})
	c.Assert(iter.Close(), IsNil)
	c.Check(iter.Next(), Equals, false)
	c.Check(iter.Get(&t), ErrorMatches, "cannot get result: iteration ended")
	c.Check(iter.Close(), IsNil)
}

func (s *PackageSuite) TestExists(c *C) {
	stmt := s.gen.MustPrepare("EXISTS FROM staff WHERE team.name = {team}")

	exists, err := s.db.Query(nil, stmt, sqlgen.M{"team": "red"}).Exists()
	c.Assert(err, IsNil)
	c.Check(exists, Equals, true)

	exists, err = s.db.Query(nil, stmt, sqlgen.M{"team": "green"}).Exists()
	c.Assert(err, IsNil)
	c.Check(exists, Equals, false)

	sel := s.gen.MustPrepare("SELECT TeamOut FROM team")
	_, err = s.db.Query(nil, sel).Exists()
	c.Check(err, ErrorMatches, "cannot use Exists with a SELECT statement")
}

func (s *PackageSuite) TestRunWithOutcome(c *C) {
	stmt := s.gen.MustPrepare("UPDATE employee SET (Move) {to} WHERE name IN {names}")

	var outcome sqlgen.Outcome
	err := s.db.Query(nil, stmt, sqlgen.M{"to": sqlgen.M{"team_id": 1}, "names": []string{"bob", "cat"}}).Get(&outcome)
	c.Assert(err, IsNil)
	n, err := outcome.Result().RowsAffected()
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(2))

	var members []StaffMember
	err = s.db.Query(nil, s.gen.MustPrepare("SELECT Staff FROM staff WHERE team.name = 'red' ORDER BY employee.name")).GetAll(&members)
	c.Assert(err, IsNil)
	c.Check(members, DeepEquals, []StaffMember{{"ann", "red"}, {"bob", "red"}, {"cat", "red"}})

	err = s.db.Query(nil, stmt, sqlgen.M{"to": sqlgen.M{"team_id": 1}, "names": []string{}}).Get(&members)
	c.Check(err, ErrorMatches, "cannot get results: output variables provided but statement returns no rows")
}

func (s *PackageSuite) TestInsertReturning(c *C) {
	stmt := s.gen.MustPrepare("INSERT INTO employee (NewEmployee) VALUES {rows} RETURNING Badge")

	var badges []Employee
	err := s.db.Query(nil, stmt, sqlgen.M{"rows": []Employee{
		{Name: "dan", TeamID: 1},
		{Name: "eve", TeamID: 1},
	}}).GetAll(&badges)
	c.Assert(err, IsNil)
	c.Assert(badges, HasLen, 2)
	sort.Slice(badges, func(i, j int) bool { return badges[i].ID < badges[j].ID })
	c.Check(badges[0].ID, Equals, 4)
	c.Check(badges[1].ID, Equals, 5)

	for _, b := range badges {
		id, err := uuid.Parse(b.UID)
		c.Assert(err, IsNil)
		c.Check(id.Version(), Equals, uuid.Version(7))
	}
	c.Check(badges[0].UID, Not(Equals), badges[1].UID)
}

func (s *PackageSuite) TestTransactions(c *C) {
	ctx := context.Background()
	insert := s.gen.MustPrepare("INSERT INTO team (NewTeam) VALUES {teams}")
	count := s.gen.MustPrepare("SELECT TeamOut FROM team")

	tx, err := s.db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Assert(tx.Query(ctx, insert, sqlgen.M{"teams": []Team{{Name: "green"}}}).Run(), IsNil)
	c.Assert(tx.Rollback(), IsNil)

	var teams []Team
	c.Assert(s.db.Query(ctx, count).GetAll(&teams), IsNil)
	c.Check(teams, HasLen, 2)

	tx, err = s.db.Begin(ctx, &sqlgen.TXOptions{})
	c.Assert(err, IsNil)
	c.Assert(tx.Query(ctx, insert, sqlgen.M{"teams": []Team{{Name: "green"}}}).Run(), IsNil)
	c.Assert(tx.Commit(), IsNil)

	teams = nil
	c.Assert(s.db.Query(ctx, count).GetAll(&teams), IsNil)
	c.Check(teams, HasLen, 3)

	c.Check(tx.Query(ctx, count).GetAll(&teams), Equals, sqlgen.ErrTXDone)
	c.Check(tx.Commit(), Equals, sqlgen.ErrTXDone)
	c.Check(tx.Rollback(), Equals, sqlgen.ErrTXDone)
}

func (s *PackageSuite) TestTransactionOneIterator(c *C) {
	ctx := context.Background()
	stmt := s.gen.MustPrepare("SELECT TeamOut FROM team ORDER BY id")

	tx, err := s.db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	defer tx.Rollback()

	iter := tx.Query(ctx, stmt).Iter()
	c.Assert(iter.Next(), Equals, true)

	var t Team
	err = tx.Query(ctx, stmt).Get(&t)
	c.Check(err, ErrorMatches, "cannot run query: transaction has an open iterator")

	c.Assert(iter.Close(), IsNil)
	err = tx.Query(ctx, stmt).Get(&t)
	c.Assert(err, IsNil)
	c.Check(t, DeepEquals, Team{ID: 1, Name: "red"})
}

func (s *PackageSuite) TestRender(c *C) {
	b, err := sqlgen.LookupBackend("postgres")
	c.Assert(err, IsNil)
	gen, err := sqlgen.NewGenerator(s.schema, b)
	c.Assert(err, IsNil)

	stmt := gen.MustPrepare("SELECT EmployeeOut FROM employee WHERE team_id IN {ids} AND name <> {name}")
	c.Check(stmt.Kind(), Equals, "SELECT")
	c.Check(stmt.Columns(), DeepEquals, []string{"id", "name", "email"})

	query, params, err := stmt.Render(sqlgen.M{"ids": []int{1, 2}, "name": "x"})
	c.Assert(err, IsNil)
	c.Check(query, Equals, `SELECT "id", "name", "email" FROM "employee" WHERE "team_id" IN ($1, $2) AND "name" <> $3`)
	c.Check(params, DeepEquals, []any{1, 2, "x"})

	_, _, err = stmt.Render(sqlgen.M{"ids": []int{1}})
	c.Check(err, ErrorMatches, `invalid input parameter: .*`)

	// Statements only run on databases of the backend they were generated for.
	err = s.db.Query(nil, stmt, sqlgen.M{"ids": []int{1}, "name": "x"}).Run()
	c.Check(err, ErrorMatches, `cannot run statement: generated for backend "postgres", database is "sqlite"`)
}

func (s *PackageSuite) TestPrepareErrors(c *C) {
	_, err := s.gen.Prepare("SELECT EmployeeOut FROM employee WHERE")
	c.Check(err, ErrorMatches, "cannot prepare statement: syntax error: .*")
	c.Check(errors.Is(err, sqlgen.ErrSyntax), Equals, true)

	_, err = s.gen.Prepare("SELECT EmployeeOut FROM employee WHERE nope = 1 AND other = 2")
	c.Check(errors.Is(err, sqlgen.ErrSchema), Equals, true)
	var verr *sqlgen.ValidationError
	c.Assert(errors.As(err, &verr), Equals, true)
	c.Check(verr.Problems, HasLen, 2)

	mysql, err := sqlgen.LookupBackend("mysql")
	c.Assert(err, IsNil)
	gen, err := sqlgen.NewGenerator(s.schema, mysql)
	c.Assert(err, IsNil)
	_, err = gen.Prepare("SELECT EmployeeOut FROM employee WHERE name || 'x' = 'annx'")
	c.Check(errors.Is(err, sqlgen.ErrCapability), Equals, true)

	c.Check(func() { s.gen.MustPrepare("SELECT Nope FROM employee") }, PanicMatches, "cannot prepare statement: .*")
}

func (s *PackageSuite) TestRegisterBackend(c *C) {
	base, err := sqlgen.LookupBackend("sqlite")
	c.Assert(err, IsNil)
	custom := base.Derive("sqlite-noconcat")
	delete(custom.Operators, "Concat")
	c.Assert(sqlgen.RegisterBackend(custom), IsNil)

	b, err := sqlgen.LookupBackend("sqlite-noconcat")
	c.Assert(err, IsNil)
	c.Check(b.Name, Equals, "sqlite-noconcat")
	gen, err := sqlgen.NewGenerator(s.schema, b)
	c.Assert(err, IsNil)

	_, err = gen.Prepare("SELECT EmployeeOut FROM employee WHERE name || email = {x}")
	c.Check(errors.Is(err, sqlgen.ErrCapability), Equals, true)

	stmt, err := gen.Prepare("SELECT EmployeeOut FROM employee WHERE name = {x}")
	c.Assert(err, IsNil)
	query, params, err := stmt.Render(sqlgen.M{"x": "ann"})
	c.Assert(err, IsNil)
	c.Check(query, Equals, `SELECT "id", "name", "email" FROM "employee" WHERE "name" = ?1`)
	c.Check(params, DeepEquals, []any{"ann"})

	// The registered base backend still supports the operator.
	_, err = s.gen.Prepare("SELECT EmployeeOut FROM employee WHERE name || email = {x}")
	c.Check(err, IsNil)
}

func (s *PackageSuite) TestOpen(c *C) {
	db, err := sqlgen.Open("sqlite", ":memory:")
	c.Assert(err, IsNil)
	c.Check(db.Backend().Name, Equals, "sqlite")
	c.Check(db.PlainDB().Ping(), IsNil)
	c.Check(db.Close(), IsNil)

	_, err = sqlgen.Open("nosql", "")
	c.Check(err, ErrorMatches, `unknown backend "nosql", have: .*`)

	_, err = sqlgen.Open("mysql", "not a dsn")
	c.Check(err, ErrorMatches, "invalid mysql DSN: .*")
}
