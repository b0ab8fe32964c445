// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlgen

import (
	. "gopkg.in/check.v1"
)

type OpenSuite struct{}

var _ = Suite(&OpenSuite{})

func (s *OpenSuite) TestMySQLDSNParsesTime(c *C) {
	dsn, err := mysqlDSN("user:secret@tcp(localhost:3306)/staff")
	c.Assert(err, IsNil)
	c.Check(dsn, Matches, `user:secret@tcp\(localhost:3306\)/staff\?.*parseTime=true.*`)

	dsn, err = mysqlDSN("user@/staff?parseTime=false&loc=UTC")
	c.Assert(err, IsNil)
	c.Check(dsn, Matches, `.*parseTime=true.*`)

	_, err = mysqlDSN("staff")
	c.Check(err, ErrorMatches, "invalid mysql DSN: .*")
}
