// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"errors"
	"strings"

	. "gopkg.in/check.v1"
)

type ParserSuite struct{}

var _ = Suite(&ParserSuite{})

var exprTests = []struct {
	summary  string
	input    string
	expected string
}{{
	"single column",
	"a",
	"Column[a]",
}, {
	"equality",
	"a = 1",
	"Chain[Column[a] = Literal[1]]",
}, {
	"qualified column and string",
	"t.a <> 'x'",
	"Chain[Column[t.a] <> Literal['x']]",
}, {
	"bang equals",
	"a != b",
	"Chain[Column[a] <> Column[b]]",
}, {
	"quoted identifiers",
	`"select"."from" = TRUE`,
	"Chain[Column[select.from] = Literal[TRUE]]",
}, {
	"null literal",
	"a = null",
	"Chain[Column[a] = Literal[NULL]]",
}, {
	"not",
	"NOT a",
	"Chain[NOT Column[a]]",
}, {
	"parentheses",
	"(a OR b) AND c",
	"Chain[Paren[Chain[Column[a] OR Column[b]]] AND Column[c]]",
}, {
	"is null",
	"a IS NULL",
	"IsNull[Column[a]]",
}, {
	"is not null",
	"a IS NOT NULL OR b is null",
	"Chain[IsNotNull[Column[a]] OR IsNull[Column[b]]]",
}, {
	"in list",
	"a IN (1, 2, {x})",
	"In[Column[a] List[Literal[1], Literal[2], Var[x]]]",
}, {
	"in table",
	"a IN team",
	"In[Column[a] Select[team]]",
}, {
	"in table column",
	"a in team.id",
	"In[Column[a] Select[team.id]]",
}, {
	"in host variable",
	"a IN {ids}",
	"In[Column[a] Var[ids]]",
}, {
	"between",
	"a BETWEEN 1 AND 10",
	"Between[Column[a] Literal[1] Literal[10]]",
}, {
	"count star",
	"COUNT(*) > 1",
	"Chain[Func[COUNT(Star)] > Literal[1]]",
}, {
	"function",
	"coalesce(a, 'x')",
	"Func[coalesce(Column[a], Literal['x'])]",
}, {
	"function without arguments",
	"random()",
	"Func[random()]",
}, {
	"builtin without parentheses",
	"CURRENT_TIMESTAMP",
	"Func[CURRENT_TIMESTAMP]",
}, {
	"cast",
	"CAST(a AS DOUBLE PRECISION)",
	"Cast[Column[a] AS DOUBLE PRECISION]",
}, {
	"member of host variable",
	"{p.name} LIKE 'a%'",
	"Chain[Var[p.name] LIKE Literal['a%']]",
}, {
	"json operators",
	"a -> 'k' ->> 'j'",
	"Chain[Column[a] -> Literal['k'] ->> Literal['j']]",
}, {
	"numbers",
	"-1.5 + 2e3 - 7",
	"Chain[Literal[-1.5] + Literal[2000] - Literal[7]]",
}, {
	"bit operators",
	"a << 2 | b",
	"Chain[Column[a] << Literal[2] | Column[b]]",
}, {
	"escaped quote",
	"a || 'it''s'",
	"Chain[Column[a] || Literal['it''s']]",
}, {
	"comments",
	"a /* first */ = 1 -- last",
	"Chain[Column[a] = Literal[1]]",
}, {
	"multiple lines",
	"a = 1\n  AND b = 2",
	"Chain[Column[a] = Literal[1] AND Column[b] = Literal[2]]",
}}

func (s *ParserSuite) TestParseExpr(c *C) {
	p := NewParser()
	for i, t := range exprTests {
		e, err := p.ParseExpr(t.input)
		if c.Check(err, IsNil, Commentf("test %d failed (%s):\ninput: %s", i, t.summary, t.input)) {
			c.Check(e.String(), Equals, t.expected, Commentf("test %d failed (%s):\ninput: %s", i, t.summary, t.input))
		}
	}
}

func (s *ParserSuite) TestParseExprErrors(c *C) {
	tests := []struct {
		input string
		err   string
	}{
		{"", `syntax error: column 1: missing condition: use "true" to match every row`},
		{"a =", `syntax error: column 4: expected expression after =`},
		{"a IN ()", `syntax error: column 6: empty IN list`},
		{"'abc", `syntax error: column 1: missing closing quote in string literal`},
		{`"abc = 1`, `syntax error: column 1: missing closing quote in quoted identifier`},
		{"a BETWEEN 1 OR 2", `syntax error: column 13: expected AND after lower bound of BETWEEN`},
		{"a NOT = 1", `syntax error: column 3: NOT must precede an operand: negate the whole comparison instead, as in NOT \(name LIKE 'a%'\)`},
		{"name NOT LIKE 'a%'", `syntax error: column 6: NOT must precede an operand: .*`},
		{"a NOT IN (1, 2)", `syntax error: column 3: NOT must precede an operand: .*`},
		{"a NOT BETWEEN 1 AND 2", `syntax error: column 3: NOT must precede an operand: .*`},
		{"CAST(a)", `syntax error: column 1: CAST must be of the form CAST\(expr AS type\)`},
		{"COUNT(*, a)", `syntax error: column 7: \* must be the only argument of COUNT`},
		{"a = ?", `syntax error: column 5: raw placeholder "\?": use a host variable such as \{name\}`},
		{"{} = 1", `syntax error: column 1: empty host variable`},
		{"a = 1 b", `syntax error: column 7: unexpected "b"`},
		{"(a = 1", `syntax error: column 1: missing closing parenthesis`},
		{"a = 1\nAND", `syntax error: line 2, column 4: expected expression after AND`},
		{"a = 12abc", `syntax error: column 5: invalid number "12abc"`},
	}
	p := NewParser()
	for _, t := range tests {
		_, err := p.ParseExpr(t.input)
		c.Check(err, ErrorMatches, t.err, Commentf("input: %q", t.input))
		c.Check(errors.Is(err, ErrSyntax), Equals, true, Commentf("input: %q", t.input))
	}
}

func (s *ParserSuite) TestNotChains(c *C) {
	p := NewParser()
	for n := 0; n <= 5; n++ {
		nots := strings.Repeat("NOT ", n)

		e, err := p.ParseExpr(nots + "a = 1")
		c.Assert(err, IsNil)
		c.Check(e.String(), Equals, "Chain["+nots+"Column[a] = Literal[1]]")

		e, err = p.ParseExpr("a = " + nots + "b")
		c.Assert(err, IsNil)
		c.Check(e.String(), Equals, "Chain[Column[a] = "+nots+"Column[b]]")
	}
}

func (s *ParserSuite) TestBetweenBindsItsOwnAnd(c *C) {
	e, err := NewParser().ParseExpr("a BETWEEN b AND c AND d = 1")
	c.Assert(err, IsNil)
	c.Check(e.String(), Equals, "Chain[Between[Column[a] Column[b] Column[c]] AND Column[d] = Literal[1]]")
}

func (s *ParserSuite) TestParseCustomSelect(c *C) {
	e, err := ParseCustomSelect("score + {arg0} || {arg12}")
	c.Assert(err, IsNil)
	c.Check(e.String(), Equals, "Chain[Column[score] + Var[arg0] || Var[arg12]]")

	_, err = ParseCustomSelect("{x} + 1")
	c.Check(err, ErrorMatches, `syntax error: column 1: custom select expressions may only use arguments named arg0, arg1 and so on, got \{x\}`)

	_, err = ParseCustomSelect("a IN {arg0}")
	c.Check(err, ErrorMatches, `syntax error: column 6: custom select expressions cannot use IN with a host variable`)
}

var statementTests = []struct {
	summary  string
	input    string
	expected string
}{{
	"select",
	"SELECT PersonOut FROM person WHERE id = {id}",
	"SELECT[Output[PersonOut] From[person] Where[Chain[Column[id] = Var[id]]]]",
}, {
	"select with every clause",
	"SELECT DISTINCT Scored({b}, 'x') FROM person LEFT JOIN team ON person.team_id = team.id ORDER BY name DESC, id LIMIT 10",
	"SELECT[DISTINCT Output[Scored(Var[b], Literal['x'])] " +
		"From[person LEFT JOIN team ON Chain[Column[person.team_id] = Column[team.id]]] " +
		"OrderBy[Column[name] DESC, Column[id]] Limit[Literal[10]]]",
}, {
	"lower case keywords",
	"select PersonOut from person group by id, name having count(*) > 1",
	"SELECT[Output[PersonOut] From[person] GroupBy[Column[id], Column[name]] Having[Chain[Func[count(Star)] > Literal[1]]]]",
}, {
	"exists",
	"EXISTS FROM person CROSS JOIN team",
	"EXISTS[From[person CROSS JOIN team]]",
}, {
	"join without condition",
	"EXISTS FROM person JOIN team WHERE team.name = {name}",
	"EXISTS[From[person INNER JOIN team] Where[Chain[Column[team.name] = Var[name]]]]",
}, {
	"insert",
	"INSERT INTO person (NewPerson) VALUES {people} RETURNING PersonOut",
	"INSERT[Table[person] Shape[NewPerson] Values[people] Returning[PersonOut]]",
}, {
	"update with shape",
	"UPDATE person SET (Rename) {p} WHERE id = {p.id}",
	"UPDATE[Table[person] Shape[Rename] Values[p] Where[Chain[Column[id] = Var[p.id]]]]",
}, {
	"update with assignments",
	"UPDATE item SET field = field + 1, flag = FALSE",
	"UPDATE[Table[item] Set[field = Chain[Column[field] + Literal[1]], flag = Literal[FALSE]]]",
}, {
	"delete",
	"DELETE FROM item WHERE true;",
	"DELETE[Table[item] Where[Literal[TRUE]]]",
}}

func (s *ParserSuite) TestParseStatement(c *C) {
	p := NewParser()
	for i, t := range statementTests {
		stmt, err := p.ParseStatement(t.input)
		if c.Check(err, IsNil, Commentf("test %d failed (%s):\ninput: %s", i, t.summary, t.input)) {
			c.Check(stmt.String(), Equals, t.expected, Commentf("test %d failed (%s):\ninput: %s", i, t.summary, t.input))
		}
	}
}

func (s *ParserSuite) TestParseStatementErrors(c *C) {
	tests := []struct {
		input string
		err   string
	}{
		{"SELECT PersonOut FROM person WHERE", `syntax error: column 35: missing condition after WHERE: use "true" to match every row`},
		{"DROP TABLE person", `syntax error: column 1: expected SELECT, EXISTS, INSERT, UPDATE or DELETE`},
		{"SELECT FROM person", `syntax error: .*expected output name after SELECT`},
		{"SELECT PersonOut WHERE true", `syntax error: .*expected FROM after output PersonOut`},
		{"EXISTS FROM a CROSS JOIN b ON a.x = b.y", `syntax error: .*CROSS JOIN cannot have an ON condition`},
		{"INSERT INTO person VALUES {x}", `syntax error: .*expected \(shape\) after table name`},
		{"INSERT INTO person (NewPerson) VALUES (1, 2)", `syntax error: .*expected host variable after VALUES, such as \{rows\}`},
		{"UPDATE item SET field", `syntax error: .*expected = after column field`},
		{"DELETE item", `syntax error: .*expected FROM after DELETE`},
		{"DELETE FROM item WHERE true garbage", `syntax error: column 29: unexpected "garbage"`},
	}
	p := NewParser()
	for _, t := range tests {
		_, err := p.ParseStatement(t.input)
		c.Check(err, ErrorMatches, t.err, Commentf("input: %q", t.input))
	}
}

type parseHelperTest struct {
	charf    func(rune) bool
	stringf  func(string) bool
	stringf0 func() bool
	result   []bool
	input    string
	data     []string
}

func (s *ParserSuite) TestRunTable(c *C) {
	var p = NewParser()
	var parseTests = []parseHelperTest{
		{charf: p.peekChar, result: []bool{false}, input: "", data: []string{"a"}},
		{charf: p.peekChar, result: []bool{true}, input: "a", data: []string{"a"}},

		{charf: p.skipChar, result: []bool{false}, input: "abc", data: []string{"b"}},
		{charf: p.skipChar, result: []bool{true, true}, input: "abc", data: []string{"a", "b"}},

		{stringf0: p.skipBlanks, result: []bool{false}, input: "", data: []string{}},
		{stringf0: p.skipBlanks, result: []bool{true}, input: "  \t\n abcd", data: []string{}},
		{stringf0: p.skipBlanks, result: []bool{true}, input: "-- comment\nabcd", data: []string{}},
		{stringf0: p.skipBlanks, result: []bool{true}, input: "/* comment */abcd", data: []string{}},
		{stringf0: p.skipBlanks, result: []bool{false}, input: "- 1", data: []string{}},

		{stringf: p.skipString, result: []bool{false}, input: "", data: []string{"a"}},
		{stringf: p.skipString, result: []bool{true, true}, input: "helloworld", data: []string{"hElLo", "w"}},

		{stringf: p.skipKeyword, result: []bool{false}, input: "ORDERS", data: []string{"ORDER"}},
		{stringf: p.skipKeyword, result: []bool{true}, input: "order by", data: []string{"ORDER"}},
		{stringf: p.skipKeyword, result: []bool{true}, input: "AND(", data: []string{"AND"}},
	}
	for _, v := range parseTests {
		p.init(v.input)
		for i := range v.result {
			var result bool
			if v.charf != nil {
				result = v.charf(rune(v.data[i][0]))
			}
			if v.stringf != nil {
				result = v.stringf(v.data[i])
			}
			if v.stringf0 != nil {
				result = v.stringf0()
			}
			c.Check(result, Equals, v.result[i], Commentf("input: %q, step %d", v.input, i))
		}
	}
}

func (s *ParserSuite) TestSkipKeywords(c *C) {
	p := NewParser()
	p.init("GROUP   BY a")
	c.Check(p.skipKeywords("GROUP", "BY"), Equals, true)
	c.Check(p.pos, Equals, 10)

	p.init("GROUP a")
	c.Check(p.skipKeywords("GROUP", "BY"), Equals, false)
	c.Check(p.pos, Equals, 0)
}
