package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novapg/internal/sql"
)

func TestParse_CreateTable(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE users (
		id SERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		age INT,
		bio TEXT,
		balance NUMERIC(12, 2),
		org_id INT REFERENCES orgs(id)
	)`)
	require.NoError(t, err)
	s, ok := stmt.(*sql.CreateTableStmt)
	require.True(t, ok, "want *sql.CreateTableStmt, got %T", stmt)

	assert.Equal(t, "users", s.Name)
	require.Len(t, s.Columns, 6)

	id := s.Columns[0]
	assert.Equal(t, sql.TypeSerial, id.Type.Name)
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.Unique)
	assert.False(t, id.Nullable)

	email := s.Columns[1]
	assert.Equal(t, sql.TypeVarchar, email.Type.Name)
	assert.Equal(t, 255, email.Type.Length)
	assert.False(t, email.Nullable)
	assert.True(t, email.Unique)

	assert.True(t, s.Columns[2].Nullable)

	bal := s.Columns[4]
	assert.Equal(t, sql.TypeNumeric, bal.Type.Name)
	assert.Equal(t, 12, bal.Type.Precision)
	assert.Equal(t, 2, bal.Type.Scale)

	org := s.Columns[5]
	require.NotNil(t, org.ForeignKey)
	assert.Equal(t, "orgs", org.ForeignKey.Table)
	assert.Equal(t, "id", org.ForeignKey.Column)
}

func TestParse_TypeSpellings(t *testing.T) {
	stmt, err := Parse(`CREATE TABLE t (
		a SMALLINT, b INT2, c INTEGER, d INT8, e BIGINT,
		f DOUBLE PRECISION, g FLOAT8, h DECIMAL(5,1),
		i CHARACTER VARYING(10), j CHAR(3), k BOOL,
		l TIMESTAMP WITHOUT TIME ZONE, m TIMESTAMPTZ,
		n UUID, o JSONB, p BYTEA, q mood
	)`)
	require.NoError(t, err)
	s := stmt.(*sql.CreateTableStmt)

	assert.Equal(t, sql.TypeSmallInt, s.Columns[0].Type.Name)
	assert.Equal(t, sql.TypeSmallInt, s.Columns[1].Type.Name)
	assert.Equal(t, sql.TypeInteger, s.Columns[2].Type.Name)
	assert.Equal(t, sql.TypeInteger, s.Columns[3].Type.Name)
	assert.Equal(t, sql.TypeInteger, s.Columns[4].Type.Name)
	assert.Equal(t, sql.TypeReal, s.Columns[5].Type.Name)
	assert.Equal(t, sql.TypeReal, s.Columns[6].Type.Name)
	assert.Equal(t, sql.TypeNumeric, s.Columns[7].Type.Name)
	assert.Equal(t, sql.TypeVarchar, s.Columns[8].Type.Name)
	assert.Equal(t, 10, s.Columns[8].Type.Length)
	assert.Equal(t, sql.TypeChar, s.Columns[9].Type.Name)
	assert.Equal(t, sql.TypeBoolean, s.Columns[10].Type.Name)
	assert.Equal(t, sql.TypeTimestamp, s.Columns[11].Type.Name)
	assert.Equal(t, sql.TypeTimestampTz, s.Columns[12].Type.Name)
	assert.Equal(t, sql.TypeUUID, s.Columns[13].Type.Name)
	assert.Equal(t, sql.TypeJSONB, s.Columns[14].Type.Name)
	assert.Equal(t, sql.TypeBytea, s.Columns[15].Type.Name)
	assert.Equal(t, sql.TypeEnum, s.Columns[16].Type.Name)
	assert.Equal(t, "mood", s.Columns[16].Type.EnumName)
}

func TestParse_InsertMultiRow(t *testing.T) {
	stmt, err := Parse(`INSERT INTO users (name, age) VALUES ('ada', 36), ('grace', 45)`)
	require.NoError(t, err)
	s := stmt.(*sql.InsertStmt)
	assert.Equal(t, "users", s.Table)
	assert.Equal(t, []string{"name", "age"}, s.Columns)
	require.Len(t, s.Rows, 2)
	require.Len(t, s.Rows[0], 2)
}

func TestParse_UpdateAndDelete(t *testing.T) {
	stmt, err := Parse(`UPDATE users SET age = age + 1, name = 'x' WHERE id = 3`)
	require.NoError(t, err)
	u := stmt.(*sql.UpdateStmt)
	assert.Equal(t, "users", u.Table)
	require.Len(t, u.Set, 2)
	assert.Equal(t, "age", u.Set[0].Column)
	require.NotNil(t, u.Where)

	stmt, err = Parse(`DELETE FROM users WHERE age > 100`)
	require.NoError(t, err)
	d := stmt.(*sql.DeleteStmt)
	assert.Equal(t, "users", d.Table)
	require.NotNil(t, d.Where)
}

func TestParse_SelectFull(t *testing.T) {
	stmt, err := Parse(`SELECT u.name, COUNT(*) AS n
		FROM users u
		JOIN orders o ON o.user_id = u.id
		WHERE u.age >= 18 AND o.total > 0
		GROUP BY u.name
		HAVING COUNT(*) > 1
		ORDER BY n DESC, u.name
		LIMIT 10 OFFSET 5`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)

	assert.Equal(t, "users", s.From)
	assert.Equal(t, "u", s.FromAlias)
	require.Len(t, s.Joins, 1)
	assert.Equal(t, sql.JoinInner, s.Joins[0].Kind)
	assert.Equal(t, "orders", s.Joins[0].Table)
	assert.Equal(t, "o", s.Joins[0].Alias)
	require.Len(t, s.Items, 2)
	assert.Equal(t, "n", s.Items[1].Alias)
	require.Len(t, s.GroupBy, 1)
	require.NotNil(t, s.Having)
	require.Len(t, s.OrderBy, 2)
	assert.True(t, s.OrderBy[0].Desc)
	assert.False(t, s.OrderBy[1].Desc)
	assert.Equal(t, 10, s.Limit)
	assert.Equal(t, 5, s.Offset)
}

func TestParse_SelectJoinKinds(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM a LEFT OUTER JOIN b ON a.id = b.id RIGHT JOIN c ON c.id = a.id`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)
	require.Len(t, s.Joins, 2)
	assert.Equal(t, sql.JoinLeft, s.Joins[0].Kind)
	assert.Equal(t, sql.JoinRight, s.Joins[1].Kind)
}

func TestParse_SetOperations(t *testing.T) {
	stmt, err := Parse(`SELECT a FROM t1 UNION ALL SELECT a FROM t2 ORDER BY a LIMIT 3`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)
	require.NotNil(t, s.SetOp)
	assert.Equal(t, sql.SetUnionAll, s.SetOp.Kind)
	// ORDER BY and LIMIT bind to the combined result, not the right arm
	require.Len(t, s.OrderBy, 1)
	assert.Equal(t, 3, s.Limit)
	assert.Empty(t, s.SetOp.Right.OrderBy)
	assert.Equal(t, -1, s.SetOp.Right.Limit)
}

func TestParse_Subqueries(t *testing.T) {
	stmt, err := Parse(`SELECT name FROM users WHERE id IN (SELECT user_id FROM orders)
		AND EXISTS (SELECT 1 FROM logins WHERE logins.user_id = users.id)`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)
	require.NotNil(t, s.Where)
}

func TestParse_CaseCastBetweenLike(t *testing.T) {
	stmt, err := Parse(`SELECT
		CASE WHEN age < 18 THEN 'minor' ELSE 'adult' END,
		CAST(age AS TEXT),
		age::text,
		name LIKE 'a%',
		age BETWEEN 10 AND 20,
		age NOT IN (1, 2, 3),
		name IS NOT NULL
	FROM users`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)
	require.Len(t, s.Items, 7)
	_, ok := s.Items[0].Expr.(*sql.CaseExpr)
	assert.True(t, ok)
	_, ok = s.Items[1].Expr.(*sql.CastExpr)
	assert.True(t, ok)
	_, ok = s.Items[2].Expr.(*sql.CastExpr)
	assert.True(t, ok)
}

func TestParse_WindowFunctions(t *testing.T) {
	stmt, err := Parse(`SELECT name, ROW_NUMBER() OVER (PARTITION BY dept ORDER BY salary DESC) FROM emp`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)
	fc, ok := s.Items[1].Expr.(*sql.FuncCall)
	require.True(t, ok)
	assert.Equal(t, "ROW_NUMBER", fc.Name)
	require.NotNil(t, fc.Over)
	require.Len(t, fc.Over.PartitionBy, 1)
	require.Len(t, fc.Over.OrderBy, 1)
	assert.True(t, fc.Over.OrderBy[0].Desc)
}

func TestParse_NegativeNumbersFold(t *testing.T) {
	stmt, err := Parse(`SELECT -5, -2.5`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)
	lit, ok := s.Items[0].Expr.(*sql.Literal)
	require.True(t, ok)
	assert.Equal(t, int64(-5), lit.Val.I)
}

func TestParse_StringEscapes(t *testing.T) {
	stmt, err := Parse(`SELECT 'it''s fine'`)
	require.NoError(t, err)
	s := stmt.(*sql.SelectStmt)
	lit := s.Items[0].Expr.(*sql.Literal)
	assert.Equal(t, "it's fine", lit.Val.S)
}

func TestParse_AlterTable(t *testing.T) {
	cases := map[string]func(*testing.T, *sql.AlterTableStmt){
		`ALTER TABLE t ADD COLUMN c INT`: func(t *testing.T, s *sql.AlterTableStmt) {
			assert.Equal(t, sql.AlterAddColumn, s.Action)
			require.NotNil(t, s.Column)
			assert.Equal(t, "c", s.Column.Name)
		},
		`ALTER TABLE t DROP COLUMN c`: func(t *testing.T, s *sql.AlterTableStmt) {
			assert.Equal(t, sql.AlterDropColumn, s.Action)
			assert.Equal(t, "c", s.Name)
		},
		`ALTER TABLE t RENAME COLUMN a TO b`: func(t *testing.T, s *sql.AlterTableStmt) {
			assert.Equal(t, sql.AlterRenameColumn, s.Action)
			assert.Equal(t, "a", s.Name)
			assert.Equal(t, "b", s.NewName)
		},
		`ALTER TABLE t RENAME TO t2`: func(t *testing.T, s *sql.AlterTableStmt) {
			assert.Equal(t, sql.AlterRenameTable, s.Action)
			assert.Equal(t, "t2", s.NewName)
		},
		`ALTER TABLE t OWNER TO bob`: func(t *testing.T, s *sql.AlterTableStmt) {
			assert.Equal(t, sql.AlterOwnerTo, s.Action)
			assert.Equal(t, "bob", s.NewName)
		},
	}
	for src, check := range cases {
		stmt, err := Parse(src)
		require.NoError(t, err, src)
		check(t, stmt.(*sql.AlterTableStmt))
	}
}

func TestParse_IndexStatements(t *testing.T) {
	stmt, err := Parse(`CREATE UNIQUE INDEX users_email ON users USING btree (email, org_id)`)
	require.NoError(t, err)
	ci := stmt.(*sql.CreateIndexStmt)
	assert.True(t, ci.Unique)
	assert.Equal(t, "users_email", ci.Name)
	assert.Equal(t, []string{"email", "org_id"}, ci.Columns)

	stmt, err = Parse(`CREATE INDEX h ON users USING hash (email)`)
	require.NoError(t, err)
	assert.Equal(t, "hash", stmt.(*sql.CreateIndexStmt).Using)

	stmt, err = Parse(`DROP INDEX h`)
	require.NoError(t, err)
	assert.Equal(t, "h", stmt.(*sql.DropIndexStmt).Name)
}

func TestParse_RolesAndGrants(t *testing.T) {
	stmt, err := Parse(`CREATE ROLE bob LOGIN PASSWORD 'secret'`)
	require.NoError(t, err)
	cr := stmt.(*sql.CreateRoleStmt)
	assert.Equal(t, "bob", cr.Name)
	assert.True(t, cr.Login)
	assert.Equal(t, "secret", cr.Password)

	stmt, err = Parse(`GRANT SELECT, INSERT ON users TO bob`)
	require.NoError(t, err)
	gp := stmt.(*sql.GrantPrivilegeStmt)
	assert.Equal(t, []string{"SELECT", "INSERT"}, gp.Privileges)
	assert.Equal(t, "users", gp.Table)
	assert.Equal(t, "bob", gp.To)

	stmt, err = Parse(`GRANT team TO bob`)
	require.NoError(t, err)
	gr := stmt.(*sql.GrantRoleStmt)
	assert.Equal(t, "team", gr.Role)
	assert.Equal(t, "bob", gr.To)

	stmt, err = Parse(`REVOKE ALL ON users FROM bob`)
	require.NoError(t, err)
	rp := stmt.(*sql.RevokePrivilegeStmt)
	assert.Equal(t, "users", rp.Table)
}

func TestParse_TransactionControl(t *testing.T) {
	for src, want := range map[string]any{
		`BEGIN`:       &sql.BeginStmt{},
		`COMMIT`:      &sql.CommitStmt{},
		`ROLLBACK`:    &sql.RollbackStmt{},
		`BEGIN TRANSACTION`: &sql.BeginStmt{},
	} {
		stmt, err := Parse(src)
		require.NoError(t, err, src)
		assert.IsType(t, want, stmt, src)
	}
}

func TestParse_MiscStatements(t *testing.T) {
	stmt, err := Parse(`CREATE TYPE mood AS ENUM ('sad', 'happy')`)
	require.NoError(t, err)
	ce := stmt.(*sql.CreateEnumStmt)
	assert.Equal(t, []string{"sad", "happy"}, ce.Values)

	stmt, err = Parse(`CREATE VIEW adults AS SELECT * FROM users WHERE age >= 18`)
	require.NoError(t, err)
	cv := stmt.(*sql.CreateViewStmt)
	assert.Equal(t, "adults", cv.Name)

	stmt, err = Parse(`VACUUM users`)
	require.NoError(t, err)
	assert.Equal(t, "users", stmt.(*sql.VacuumStmt).Table)

	stmt, err = Parse(`EXPLAIN SELECT * FROM users`)
	require.NoError(t, err)
	require.NotNil(t, stmt.(*sql.ExplainStmt).Query)

	stmt, err = Parse(`COPY users (id, name) FROM STDIN WITH (FORMAT binary)`)
	require.NoError(t, err)
	cp := stmt.(*sql.CopyStmt)
	assert.True(t, cp.From)
	assert.True(t, cp.Binary)
	assert.Equal(t, []string{"id", "name"}, cp.Columns)

	stmt, err = Parse(`COPY users TO STDOUT`)
	require.NoError(t, err)
	cp = stmt.(*sql.CopyStmt)
	assert.False(t, cp.From)
	assert.False(t, cp.Binary)

	stmt, err = Parse(`DROP TABLE IF EXISTS users`)
	require.NoError(t, err)
	dt := stmt.(*sql.DropTableStmt)
	assert.True(t, dt.IfExists)
}

func TestParse_SystemRelationNames(t *testing.T) {
	stmt, err := Parse(`SELECT table_name FROM information_schema.tables`)
	require.NoError(t, err)
	assert.Equal(t, "information_schema.tables", stmt.(*sql.SelectStmt).From)
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, src := range []string{
		`SELEC * FROM t`,
		`SELECT FROM`,
		`CREATE TABLE (id INT)`,
		`INSERT INTO t VALUES`,
		`SELECT * FROM t WHERE`,
		`SELECT * FROM t GROUP`,
	} {
		_, err := Parse(src)
		require.Error(t, err, src)
	}
}

func TestSplitStatements(t *testing.T) {
	parts := SplitStatements(`INSERT INTO t VALUES ('a;b'); SELECT 1; `)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "a;b")
	assert.Contains(t, parts[1], "SELECT 1")
}
