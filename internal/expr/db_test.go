// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr_test

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlgen/internal/backend"
	"github.com/canonical/sqlgen/internal/expr"
	"github.com/canonical/sqlgen/internal/schema"
)

type DBSuite struct {
	schema *schema.Schema
	db     *sql.DB
	comp   *expr.Compiler
}

var _ = Suite(&DBSuite{})

func (s *DBSuite) SetUpSuite(c *C) {
	sch, err := schema.ParseYAML([]byte(testSchema))
	c.Assert(err, IsNil)
	s.schema = sch
}

func (s *DBSuite) SetUpTest(c *C) {
	db, err := sql.Open("sqlite3", ":memory:")
	c.Assert(err, IsNil)
	// Every connection to :memory: opens a new database.
	db.SetMaxOpenConns(1)
	s.db = db

	b := backend.SQLite()
	for _, t := range s.schema.Tables {
		_, err := db.Exec(b.CreateTable(t))
		c.Assert(err, IsNil)
	}
	s.comp, err = expr.NewCompiler(s.schema, b)
	c.Assert(err, IsNil)
}

func (s *DBSuite) TearDownTest(c *C) {
	if s.db != nil {
		c.Check(s.db.Close(), IsNil)
	}
}

func (s *DBSuite) exec(c *C, query string, inputs ...any) {
	p, err := s.comp.Prepare(query, false)
	c.Assert(err, IsNil)
	pq, err := p.Bind(inputs...)
	c.Assert(err, IsNil)
	_, err = s.db.Exec(pq.SQL(), pq.Params()...)
	c.Assert(err, IsNil, Commentf("sql: %s", pq.SQL()))
}

// strings runs a statement and returns its rows with every column read as
// a string.
func (s *DBSuite) strings(c *C, query string, inputs ...any) [][]string {
	p, err := s.comp.Prepare(query, false)
	c.Assert(err, IsNil)
	pq, err := p.Bind(inputs...)
	c.Assert(err, IsNil)
	rows, err := s.db.Query(pq.SQL(), pq.Params()...)
	c.Assert(err, IsNil, Commentf("sql: %s", pq.SQL()))
	defer rows.Close()

	columns, err := rows.Columns()
	c.Assert(err, IsNil)
	c.Check(columns, DeepEquals, pq.Columns())

	var result [][]string
	for rows.Next() {
		row := make([]string, len(columns))
		ptrs := make([]any, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		c.Assert(rows.Scan(ptrs...), IsNil)
		result = append(result, row)
	}
	c.Assert(rows.Err(), IsNil)
	return result
}

func (s *DBSuite) populate(c *C) {
	s.exec(c, "INSERT INTO team (NewTeam) VALUES {teams}", M{"teams": []Team{
		{Name: "red", City: strPtr("Leeds")},
		{Name: "blue"},
		{Name: "green"},
	}})
	s.exec(c, "INSERT INTO person (NewPerson) VALUES {people}", M{"people": []Person{
		{Name: "ann", TeamID: 1},
		{Name: "bob", TeamID: 2},
		{Name: "cat", TeamID: 2},
	}})
}

func (s *DBSuite) TestJoins(c *C) {
	s.populate(c)

	c.Check(s.strings(c, "SELECT PersonTeam FROM person_team WHERE team.name = {team} ORDER BY person.name", M{"team": "blue"}),
		DeepEquals, [][]string{{"bob", "blue"}, {"cat", "blue"}})

	c.Check(s.strings(c, "SELECT PersonOut FROM person LEFT JOIN team ON person.team_id = team.id WHERE team.city = 'Leeds'"),
		DeepEquals, [][]string{{"1", "ann"}})

	c.Check(s.strings(c, "EXISTS FROM person JOIN team WHERE team.name = {team}", M{"team": "green"}),
		DeepEquals, [][]string{{"0"}})
}

func (s *DBSuite) TestDynamicIn(c *C) {
	s.populate(c)
	query := "SELECT PersonOut FROM person WHERE id IN {ids} AND score >= {min} ORDER BY id"

	c.Check(s.strings(c, query, M{"ids": []int{}, "min": 0}), HasLen, 0)
	c.Check(s.strings(c, query, M{"ids": []int{2}, "min": 0}), DeepEquals, [][]string{{"2", "bob"}})
	c.Check(s.strings(c, query, M{"ids": []int{1, 2, 3, 4, 5}, "min": 0}), DeepEquals,
		[][]string{{"1", "ann"}, {"2", "bob"}, {"3", "cat"}})
	c.Check(s.strings(c, query, M{"ids": []int{1, 2, 3}, "min": 1}), HasLen, 0)
}

func (s *DBSuite) TestUniqueIDs(c *C) {
	s.populate(c)
	rows := s.strings(c, "EXISTS FROM person WHERE uid IS NULL OR uid = ''")
	c.Check(rows, DeepEquals, [][]string{{"0"}})

	var distinct int
	err := s.db.QueryRow(`SELECT COUNT(DISTINCT "uid") FROM "person"`).Scan(&distinct)
	c.Assert(err, IsNil)
	c.Check(distinct, Equals, 3)
}

func (s *DBSuite) TestUpdateReturning(c *C) {
	s.populate(c)

	// Placeholders follow SET, WHERE and then the RETURNING arguments.
	rows := s.strings(c, "UPDATE person SET score = score + {n} WHERE name = {name} RETURNING Scored({n}, '!')",
		M{"n": 5, "name": "ann"})
	c.Check(rows, DeepEquals, [][]string{{"1", "10", "ann!"}})

	s.exec(c, "UPDATE person SET (Rename) {p} WHERE id = {id}", M{"p": Person{Name: "dan"}, "id": 3})
	c.Check(s.strings(c, "SELECT PersonOut FROM person WHERE id = 3"), DeepEquals, [][]string{{"3", "dan"}})
}

func (s *DBSuite) TestDeleteReturning(c *C) {
	s.populate(c)

	rows := s.strings(c, "DELETE FROM person WHERE team_id IN team RETURNING PersonOut")
	c.Check(rows, HasLen, 3)
}

func (s *DBSuite) TestCustomSelectLiteral(c *C) {
	s.populate(c)
	c.Check(s.strings(c, "SELECT Quoted FROM person WHERE id = 1"), DeepEquals, [][]string{{"1", "it's ann"}})
	c.Check(s.strings(c, "SELECT Counted FROM person"), DeepEquals, [][]string{{"3"}})
}
