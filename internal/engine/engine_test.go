package engine_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novapg/internal/engine"
	"github.com/tuannm99/novapg/internal/executor"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/sql/parser"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(engine.Options{DataDir: t.TempDir(), PoolSize: 64})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap("admin", "secret", "testdb"))
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func mustExec(t *testing.T, s *engine.Session, src string) *executor.Result {
	t.Helper()
	stmt, err := parser.Parse(src)
	require.NoError(t, err, src)
	res, err := s.Exec(stmt)
	require.NoError(t, err, src)
	return res
}

func execErr(t *testing.T, s *engine.Session, src string) error {
	t.Helper()
	stmt, err := parser.Parse(src)
	require.NoError(t, err, src)
	_, err = s.Exec(stmt)
	require.Error(t, err, src)
	return err
}

// cell renders one result value for compact assertions.
func cell(res *executor.Result, row, col int) string {
	v := res.Rows[row][col]
	if v.IsNull() {
		return "<null>"
	}
	return v.String()
}

func TestEngine_CreateInsertSelect(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")

	res := mustExec(t, s, `CREATE TABLE users (id SERIAL PRIMARY KEY, name TEXT NOT NULL, age INT)`)
	assert.Equal(t, "CREATE TABLE", res.Tag)

	res = mustExec(t, s, `INSERT INTO users (name, age) VALUES ('ada', 36), ('grace', 45), ('alan', NULL)`)
	assert.Equal(t, "INSERT 0 3", res.Tag)

	res = mustExec(t, s, `SELECT id, name, age FROM users ORDER BY id`)
	assert.Equal(t, "SELECT 3", res.Tag)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "1", cell(res, 0, 0))
	assert.Equal(t, "ada", cell(res, 0, 1))
	assert.Equal(t, "<null>", cell(res, 2, 2))
	assert.Equal(t, "id", res.Columns[0].Name)
}

func TestEngine_ConstraintViolations(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE users (id INT PRIMARY KEY, email TEXT UNIQUE, name TEXT NOT NULL)`)
	mustExec(t, s, `INSERT INTO users VALUES (1, 'a@x.io', 'ada')`)

	err := execErr(t, s, `INSERT INTO users VALUES (1, 'b@x.io', 'bob')`)
	assert.ErrorIs(t, err, executor.ErrUniqueViolation)

	err = execErr(t, s, `INSERT INTO users VALUES (2, 'a@x.io', 'bob')`)
	assert.ErrorIs(t, err, executor.ErrUniqueViolation)

	err = execErr(t, s, `INSERT INTO users VALUES (3, 'c@x.io', NULL)`)
	assert.ErrorIs(t, err, executor.ErrNotNullViolation)

	// NULLs are exempt from uniqueness
	mustExec(t, s, `INSERT INTO users VALUES (4, NULL, 'x')`)
	mustExec(t, s, `INSERT INTO users VALUES (5, NULL, 'y')`)
}

func TestEngine_UpdateDelete(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT PRIMARY KEY, n INT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1, 10), (2, 20), (3, 30)`)

	res := mustExec(t, s, `UPDATE t SET n = n + 1 WHERE n >= 20`)
	assert.Equal(t, "UPDATE 2", res.Tag)

	res = mustExec(t, s, `SELECT n FROM t ORDER BY id`)
	assert.Equal(t, "10", cell(res, 0, 0))
	assert.Equal(t, "21", cell(res, 1, 0))
	assert.Equal(t, "31", cell(res, 2, 0))

	res = mustExec(t, s, `DELETE FROM t WHERE id = 2`)
	assert.Equal(t, "DELETE 1", res.Tag)
	res = mustExec(t, s, `SELECT COUNT(*) FROM t`)
	assert.Equal(t, "2", cell(res, 0, 0))
}

func TestEngine_ReadCommittedIsolation(t *testing.T) {
	eng := newTestEngine(t)
	writer := eng.NewSession("admin")
	reader := eng.NewSession("admin")
	mustExec(t, writer, `CREATE TABLE t (id INT)`)

	mustExec(t, writer, `BEGIN`)
	mustExec(t, writer, `INSERT INTO t VALUES (1)`)

	// uncommitted insert invisible to the other session
	res := mustExec(t, reader, `SELECT * FROM t`)
	assert.Empty(t, res.Rows)

	// but visible to the writer itself
	res = mustExec(t, writer, `SELECT * FROM t`)
	require.Len(t, res.Rows, 1)

	mustExec(t, writer, `COMMIT`)
	res = mustExec(t, reader, `SELECT * FROM t`)
	require.Len(t, res.Rows, 1)
}

func TestEngine_RollbackDiscardsWrites(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT)`)

	mustExec(t, s, `BEGIN`)
	mustExec(t, s, `INSERT INTO t VALUES (1), (2)`)
	res := mustExec(t, s, `ROLLBACK`)
	assert.Equal(t, "ROLLBACK", res.Tag)

	res = mustExec(t, s, `SELECT * FROM t`)
	assert.Empty(t, res.Rows)
}

func TestEngine_FailedTransactionBlock(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT PRIMARY KEY)`)
	mustExec(t, s, `INSERT INTO t VALUES (1)`)

	mustExec(t, s, `BEGIN`)
	execErr(t, s, `INSERT INTO t VALUES (1)`) // unique violation poisons the block
	assert.Equal(t, byte('E'), s.TxStatus())

	err := execErr(t, s, `SELECT * FROM t`)
	assert.ErrorIs(t, err, engine.ErrTxAborted)

	// COMMIT of a failed block rolls back
	res := mustExec(t, s, `COMMIT`)
	assert.Equal(t, "ROLLBACK", res.Tag)
	assert.Equal(t, byte('I'), s.TxStatus())

	res = mustExec(t, s, `SELECT COUNT(*) FROM t`)
	assert.Equal(t, "1", cell(res, 0, 0))
}

func TestEngine_DDLAutoCommitsInTransactionBlock(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")

	mustExec(t, s, `BEGIN`)
	mustExec(t, s, `CREATE TABLE t (id INT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1)`)
	mustExec(t, s, `ROLLBACK`)

	// the rollback discarded the insert but not the DDL
	res := mustExec(t, s, `SELECT COUNT(*) FROM t`)
	assert.Equal(t, "0", cell(res, 0, 0))
}

func TestEngine_VacuumRejectedInTransactionBlock(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT)`)

	mustExec(t, s, `BEGIN`)
	err := execErr(t, s, `VACUUM t`)
	assert.ErrorIs(t, err, engine.ErrInTxBlock)
	mustExec(t, s, `ROLLBACK`)
}

func TestEngine_JoinsAndAggregates(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE dept (id INT PRIMARY KEY, name TEXT)`)
	mustExec(t, s, `CREATE TABLE emp (id INT PRIMARY KEY, dept_id INT, salary INT)`)
	mustExec(t, s, `INSERT INTO dept VALUES (1, 'eng'), (2, 'ops'), (3, 'empty')`)
	mustExec(t, s, `INSERT INTO emp VALUES (1, 1, 100), (2, 1, 200), (3, 2, 150)`)

	res := mustExec(t, s, `SELECT d.name, COUNT(*) AS n, SUM(e.salary)
		FROM emp e JOIN dept d ON e.dept_id = d.id
		GROUP BY d.name ORDER BY d.name`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "eng", cell(res, 0, 0))
	assert.Equal(t, "2", cell(res, 0, 1))
	assert.Equal(t, "300", cell(res, 0, 2))
	assert.Equal(t, "ops", cell(res, 1, 0))

	// LEFT JOIN pads unmatched right side with NULL
	res = mustExec(t, s, `SELECT d.name, e.id FROM dept d LEFT JOIN emp e ON e.dept_id = d.id
		WHERE e.id IS NULL`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "empty", cell(res, 0, 0))

	res = mustExec(t, s, `SELECT AVG(salary) FROM emp`)
	assert.Equal(t, "150", cell(res, 0, 0))

	res = mustExec(t, s, `SELECT COUNT(*) FROM emp WHERE salary > 1000`)
	assert.Equal(t, "0", cell(res, 0, 0))
}

func TestEngine_SubqueriesAndSetOps(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE a (x INT)`)
	mustExec(t, s, `CREATE TABLE b (x INT)`)
	mustExec(t, s, `INSERT INTO a VALUES (1), (2), (3)`)
	mustExec(t, s, `INSERT INTO b VALUES (2), (3), (4)`)

	res := mustExec(t, s, `SELECT x FROM a WHERE x IN (SELECT x FROM b) ORDER BY x`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "2", cell(res, 0, 0))

	res = mustExec(t, s, `SELECT x FROM a WHERE EXISTS (SELECT 1 FROM b WHERE b.x = a.x)`)
	require.Len(t, res.Rows, 2)

	res = mustExec(t, s, `SELECT x FROM a UNION SELECT x FROM b ORDER BY x`)
	require.Len(t, res.Rows, 4)

	res = mustExec(t, s, `SELECT x FROM a INTERSECT SELECT x FROM b ORDER BY x`)
	require.Len(t, res.Rows, 2)

	res = mustExec(t, s, `SELECT x FROM a EXCEPT SELECT x FROM b`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "1", cell(res, 0, 0))
}

func TestEngine_WindowFunctions(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE emp (name TEXT, dept TEXT, salary INT)`)
	mustExec(t, s, `INSERT INTO emp VALUES
		('a', 'eng', 300), ('b', 'eng', 200), ('c', 'eng', 200), ('d', 'ops', 100)`)

	res := mustExec(t, s, `SELECT name, RANK() OVER (PARTITION BY dept ORDER BY salary DESC) AS r
		FROM emp ORDER BY dept, r, name`)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, "a", cell(res, 0, 0))
	assert.Equal(t, "1", cell(res, 0, 1))
	assert.Equal(t, "2", cell(res, 1, 1))
	assert.Equal(t, "2", cell(res, 2, 1))
	assert.Equal(t, "1", cell(res, 3, 1))

	res = mustExec(t, s, `SELECT name, DENSE_RANK() OVER (PARTITION BY dept ORDER BY salary DESC) AS r
		FROM emp ORDER BY dept, r, name`)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, "1", cell(res, 0, 1)) // a: 300
	assert.Equal(t, "2", cell(res, 1, 1)) // b: 200, no gap after ties
	assert.Equal(t, "2", cell(res, 2, 1))

	// LAG looks at the previous row in the partition, NULL at the edge
	res = mustExec(t, s, `SELECT name, LAG(salary) OVER (PARTITION BY dept ORDER BY salary DESC) AS prev
		FROM emp ORDER BY dept, salary DESC, name`)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, "<null>", cell(res, 0, 1))
	assert.Equal(t, "300", cell(res, 1, 1))
	assert.Equal(t, "<null>", cell(res, 3, 1)) // first row of ops

	// LEAD with an explicit default instead of NULL
	res = mustExec(t, s, `SELECT name, LEAD(salary, 1, 0) OVER (ORDER BY salary DESC) AS nxt
		FROM emp ORDER BY salary DESC, name`)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, "0", cell(res, 3, 1))
}

func TestEngine_IndexScanAndExplain(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT PRIMARY KEY, v TEXT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1, 'a'), (2, 'b'), (3, 'c')`)

	res := mustExec(t, s, `EXPLAIN SELECT * FROM t WHERE id = 2`)
	assert.Equal(t, "QUERY PLAN", res.Columns[0].Name)
	joined := ""
	for _, row := range res.Rows {
		joined += row[0].S + "\n"
	}
	assert.Contains(t, joined, "Unique Index Scan using t_pkey (btree) on t")
	assert.Contains(t, joined, "Cost: O(log n)")
	assert.Contains(t, joined, "Estimated rows: 1")

	// non-unique secondary index reports a plain Index Scan
	mustExec(t, s, `CREATE INDEX t_v ON t (v)`)
	res = mustExec(t, s, `EXPLAIN SELECT * FROM t WHERE v = 'b'`)
	joined = ""
	for _, row := range res.Rows {
		joined += row[0].S + "\n"
	}
	assert.Contains(t, joined, "Index Scan using t_v (btree) on t")
	assert.NotContains(t, joined, "Unique Index Scan")
	mustExec(t, s, `DROP INDEX t_v`)

	res = mustExec(t, s, `EXPLAIN SELECT * FROM t WHERE v = 'b'`)
	joined = ""
	for _, row := range res.Rows {
		joined += row[0].S + "\n"
	}
	assert.Contains(t, joined, "Seq Scan on t")
	assert.Contains(t, joined, "Cost: O(n)")

	// the scan itself returns the right row
	res = mustExec(t, s, `SELECT v FROM t WHERE id = 2`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "b", cell(res, 0, 0))

	// range scan through the pkey index
	res = mustExec(t, s, `SELECT id FROM t WHERE id >= 2 ORDER BY id`)
	require.Len(t, res.Rows, 2)
}

func TestEngine_CompositeIndexSelection(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (a INT, b INT, v TEXT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1, 1, 'x'), (1, 2, 'y'), (2, 1, 'z')`)
	mustExec(t, s, `CREATE INDEX t_ab ON t (a, b)`)

	plan := func(q string) string {
		res := mustExec(t, s, q)
		out := ""
		for _, row := range res.Rows {
			out += row[0].S + "\n"
		}
		return out
	}

	assert.Contains(t, plan(`EXPLAIN SELECT * FROM t WHERE a = 1 AND b = 2`),
		"Index Scan using t_ab (btree)")
	assert.Contains(t, plan(`EXPLAIN SELECT * FROM t WHERE a = 1`),
		"Seq Scan on t", "a partial prefix does not use the composite index")
	assert.Contains(t, plan(`EXPLAIN SELECT * FROM t WHERE a = 1 OR b = 2`),
		"Seq Scan on t", "disjunctions do not use the composite index")

	res := mustExec(t, s, `SELECT v FROM t WHERE a = 1 AND b = 2`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "y", cell(res, 0, 0))
}

func TestEngine_HashIndexEqualityOnly(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT, email TEXT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1, 'a@x'), (2, 'b@x')`)
	mustExec(t, s, `CREATE INDEX t_email ON t USING HASH (email)`)

	res := mustExec(t, s, `EXPLAIN SELECT * FROM t WHERE email = 'b@x'`)
	joined := ""
	for _, row := range res.Rows {
		joined += row[0].S + "\n"
	}
	assert.Contains(t, joined, "Bitmap Heap Scan using t_email (hash)")
	assert.Contains(t, joined, "Cost: O(1)")

	res = mustExec(t, s, `SELECT id FROM t WHERE email = 'b@x'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "2", cell(res, 0, 0))
}

func TestEngine_SecondaryIndexBackfillAndMaintenance(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT PRIMARY KEY, email TEXT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1, 'a@x'), (2, 'b@x')`)

	mustExec(t, s, `CREATE INDEX t_email ON t (email)`)
	res := mustExec(t, s, `SELECT id FROM t WHERE email = 'b@x'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "2", cell(res, 0, 0))

	mustExec(t, s, `UPDATE t SET email = 'c@x' WHERE id = 2`)
	res = mustExec(t, s, `SELECT id FROM t WHERE email = 'c@x'`)
	require.Len(t, res.Rows, 1)
	res = mustExec(t, s, `SELECT id FROM t WHERE email = 'b@x'`)
	assert.Empty(t, res.Rows)

	// unique index creation fails on duplicate existing values
	mustExec(t, s, `INSERT INTO t VALUES (3, 'c@x')`)
	execErr(t, s, `CREATE UNIQUE INDEX t_email_u ON t (email)`)
}

func TestEngine_ForeignKeys(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE orgs (id INT PRIMARY KEY, name TEXT)`)
	mustExec(t, s, `CREATE TABLE users (id INT PRIMARY KEY, org_id INT REFERENCES orgs(id))`)
	mustExec(t, s, `INSERT INTO orgs VALUES (1, 'acme')`)

	mustExec(t, s, `INSERT INTO users VALUES (1, 1)`)
	mustExec(t, s, `INSERT INTO users VALUES (2, NULL)`) // NULL FK allowed

	err := execErr(t, s, `INSERT INTO users VALUES (3, 99)`)
	assert.ErrorIs(t, err, executor.ErrFKViolation)

	err = execErr(t, s, `DELETE FROM orgs WHERE id = 1`)
	assert.ErrorIs(t, err, executor.ErrFKViolation)

	mustExec(t, s, `DELETE FROM users WHERE org_id = 1`)
	mustExec(t, s, `DELETE FROM orgs WHERE id = 1`)

	// dropping a referenced table is blocked while the reference exists
	mustExec(t, s, `INSERT INTO orgs VALUES (2, 'b')`)
	execErr(t, s, `DROP TABLE orgs`)
	mustExec(t, s, `DROP TABLE users`)
	mustExec(t, s, `DROP TABLE orgs`)
}

func TestEngine_AlterTable(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT PRIMARY KEY, a TEXT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1, 'x')`)

	mustExec(t, s, `ALTER TABLE t ADD COLUMN b INT`)
	res := mustExec(t, s, `SELECT b FROM t`)
	assert.Equal(t, "<null>", cell(res, 0, 0))

	mustExec(t, s, `ALTER TABLE t RENAME COLUMN a TO label`)
	res = mustExec(t, s, `SELECT label FROM t`)
	assert.Equal(t, "x", cell(res, 0, 0))

	mustExec(t, s, `ALTER TABLE t DROP COLUMN b`)
	execErr(t, s, `SELECT b FROM t`)

	mustExec(t, s, `ALTER TABLE t RENAME TO t2`)
	res = mustExec(t, s, `SELECT label FROM t2 WHERE id = 1`)
	require.Len(t, res.Rows, 1)
	execErr(t, s, `SELECT * FROM t`)
}

func TestEngine_EnumTypes(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TYPE mood AS ENUM ('sad', 'ok', 'happy')`)
	mustExec(t, s, `CREATE TABLE p (id INT, m mood)`)
	mustExec(t, s, `INSERT INTO p VALUES (1, 'happy')`)

	execErr(t, s, `INSERT INTO p VALUES (2, 'angry')`)

	res := mustExec(t, s, `SELECT m FROM p WHERE m = 'happy'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "happy", cell(res, 0, 0))
}

func TestEngine_ViewsAndPrivileges(t *testing.T) {
	eng := newTestEngine(t)
	admin := eng.NewSession("admin")
	mustExec(t, admin, `CREATE TABLE users (id INT, age INT)`)
	mustExec(t, admin, `INSERT INTO users VALUES (1, 20), (2, 15)`)
	mustExec(t, admin, `CREATE VIEW adults AS SELECT id FROM users WHERE age >= 18`)
	mustExec(t, admin, `CREATE ROLE bob LOGIN PASSWORD 'pw'`)

	bob := eng.NewSession("bob")
	err := execErr(t, bob, `SELECT * FROM users`)
	assert.ErrorIs(t, err, executor.ErrPermissionDenied)

	mustExec(t, admin, `GRANT SELECT ON users TO bob`)
	res := mustExec(t, bob, `SELECT * FROM users ORDER BY id`)
	require.Len(t, res.Rows, 2)

	err = execErr(t, bob, `INSERT INTO users VALUES (3, 30)`)
	assert.ErrorIs(t, err, executor.ErrPermissionDenied)

	// the view carries its own grants
	err = execErr(t, bob, `SELECT * FROM adults`)
	assert.ErrorIs(t, err, executor.ErrPermissionDenied)
	mustExec(t, admin, `GRANT SELECT ON adults TO bob`)
	res = mustExec(t, bob, `SELECT * FROM adults`)
	require.Len(t, res.Rows, 1)

	mustExec(t, admin, `REVOKE SELECT ON users FROM bob`)
	execErr(t, bob, `SELECT * FROM users`)
}

func TestEngine_SystemCatalogs(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE widgets (id INT PRIMARY KEY, name TEXT)`)

	res := mustExec(t, s, `SELECT tablename FROM pg_tables WHERE tablename = 'widgets'`)
	require.Len(t, res.Rows, 1)

	res = mustExec(t, s, `SELECT column_name FROM information_schema.columns
		WHERE table_name = 'widgets' ORDER BY ordinal_position`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "id", cell(res, 0, 0))

	res = mustExec(t, s, `SELECT rolname FROM pg_roles`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "admin", cell(res, 0, 0))

	mustExec(t, s, `CREATE ROLE reader`)
	mustExec(t, s, `GRANT SELECT ON widgets TO reader`)
	res = mustExec(t, s, `SELECT grantee, privilege_type FROM information_schema.table_privileges
		WHERE table_name = 'widgets'`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "reader", cell(res, 0, 0))
	assert.Equal(t, "SELECT", cell(res, 0, 1))

	// system catalogs reject writes
	execErr(t, s, `INSERT INTO pg_tables VALUES ('x', 'y', 'z')`)
}

func TestEngine_ScalarFunctions(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")

	res := mustExec(t, s, `SELECT UPPER('abc'), LENGTH('abcd'), ABS(-5), COALESCE(NULL, 'x')`)
	assert.Equal(t, "ABC", cell(res, 0, 0))
	assert.Equal(t, "4", cell(res, 0, 1))
	assert.Equal(t, "5", cell(res, 0, 2))
	assert.Equal(t, "x", cell(res, 0, 3))

	res = mustExec(t, s, `SELECT CURRENT_DATABASE(), CURRENT_USER()`)
	assert.Equal(t, "testdb", cell(res, 0, 0))
	assert.Equal(t, "admin", cell(res, 0, 1))
}

func TestEngine_Vacuum(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT PRIMARY KEY)`)
	mustExec(t, s, `INSERT INTO t VALUES (1), (2), (3), (4)`)
	mustExec(t, s, `DELETE FROM t WHERE id > 2`)

	res := mustExec(t, s, `VACUUM t`)
	assert.Equal(t, "VACUUM", res.Tag)
	require.Len(t, res.Rows, 1)
	assert.Contains(t, cell(res, 0, 0), "removed 2 dead tuples")

	// surviving rows still reachable, also through the index
	res = mustExec(t, s, `SELECT id FROM t WHERE id = 2`)
	require.Len(t, res.Rows, 1)
	res = mustExec(t, s, `SELECT COUNT(*) FROM t`)
	assert.Equal(t, "2", cell(res, 0, 0))

	// a second pass finds nothing left to remove
	res = mustExec(t, s, `VACUUM t`)
	assert.Contains(t, cell(res, 0, 0), "removed 0 dead tuples")
}

func TestEngine_RecoveryReplaysCommittedWrites(t *testing.T) {
	dir := t.TempDir()
	eng, err := engine.Open(engine.Options{DataDir: dir, PoolSize: 64})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap("admin", "secret", "testdb"))

	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT PRIMARY KEY, v TEXT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1, 'a'), (2, 'b')`)
	mustExec(t, s, `UPDATE t SET v = 'b2' WHERE id = 2`)
	mustExec(t, s, `DELETE FROM t WHERE id = 1`)

	// leave an explicit transaction in flight and "crash" without Close
	mustExec(t, s, `BEGIN`)
	mustExec(t, s, `INSERT INTO t VALUES (9, 'uncommitted')`)

	eng2, err := engine.Open(engine.Options{DataDir: dir, PoolSize: 64})
	require.NoError(t, err)
	defer func() { _ = eng2.Close() }()

	s2 := eng2.NewSession("admin")
	res := mustExec(t, s2, `SELECT id, v FROM t ORDER BY id`)
	require.Len(t, res.Rows, 1, "committed state only: delete applied, in-flight tx aborted")
	assert.Equal(t, "2", cell(res, 0, 0))
	assert.Equal(t, "b2", cell(res, 0, 1))

	// the index was rebuilt over the recovered heap
	res = mustExec(t, s2, `SELECT v FROM t WHERE id = 2`)
	require.Len(t, res.Rows, 1)

	// and the engine keeps working after recovery
	mustExec(t, s2, `INSERT INTO t VALUES (3, 'c')`)
	res = mustExec(t, s2, `SELECT COUNT(*) FROM t`)
	assert.Equal(t, "2", cell(res, 0, 0))
}

func TestEngine_RecoveryAfterCleanShutdown(t *testing.T) {
	dir := t.TempDir()
	eng, err := engine.Open(engine.Options{DataDir: dir, PoolSize: 64})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap("admin", "secret", "testdb"))
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id INT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1), (2)`)
	require.NoError(t, eng.Close())

	eng2, err := engine.Open(engine.Options{DataDir: dir, PoolSize: 64})
	require.NoError(t, err)
	defer func() { _ = eng2.Close() }()
	s2 := eng2.NewSession("admin")
	res := mustExec(t, s2, `SELECT COUNT(*) FROM t`)
	assert.Equal(t, "2", cell(res, 0, 0))
}

func TestEngine_AuthenticateAndBootstrapIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	assert.True(t, eng.Authenticate("admin", "secret"))
	assert.False(t, eng.Authenticate("admin", "wrong"))
	assert.Equal(t, "testdb", eng.DatabaseName())

	// second bootstrap is a no-op
	require.NoError(t, eng.Bootstrap("other", "pw", "otherdb"))
	assert.Equal(t, "testdb", eng.DatabaseName())
	assert.False(t, eng.Authenticate("other", "pw"))
}

func TestEngine_TypeRoundTrips(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (
		a SMALLINT, b INT, c REAL, d NUMERIC(10,2), e TEXT, f VARCHAR(5),
		g CHAR(3), h BOOLEAN, i DATE, j TIMESTAMP, k UUID, l JSONB, m BYTEA
	)`)
	mustExec(t, s, `INSERT INTO t VALUES (
		1, 2, 1.5, 10.25, 'txt', 'abc', 'xy',
		TRUE, '2025-06-01', '2025-06-01 10:30:00',
		'6ba7b810-9dad-11d1-80b4-00c04fd430c8', '{"a":1}', '\x00ff'
	)`)

	res := mustExec(t, s, `SELECT a, b, c, d, e, f, g, h, i, j, k, l, m FROM t`)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "1", cell(res, 0, 0))
	assert.Equal(t, "10.25", cell(res, 0, 3))
	assert.Equal(t, "xy ", cell(res, 0, 6), "char(3) pads with spaces")
	assert.Equal(t, "t", cell(res, 0, 7))
	assert.Equal(t, "2025-06-01", cell(res, 0, 8))
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", cell(res, 0, 10))
	assert.Equal(t, `\x00ff`, cell(res, 0, 12))

	// range violations are rejected
	execErr(t, s, `INSERT INTO t (a) VALUES (40000)`)
	execErr(t, s, `INSERT INTO t (f) VALUES ('toolong')`)
}

func TestEngine_SerialAndSequencesSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	eng, err := engine.Open(engine.Options{DataDir: dir, PoolSize: 64})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap("admin", "secret", "testdb"))
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (id SERIAL PRIMARY KEY, v TEXT)`)
	mustExec(t, s, `INSERT INTO t (v) VALUES ('a'), ('b')`)
	require.NoError(t, eng.Close())

	eng2, err := engine.Open(engine.Options{DataDir: dir, PoolSize: 64})
	require.NoError(t, err)
	defer func() { _ = eng2.Close() }()
	s2 := eng2.NewSession("admin")
	mustExec(t, s2, `INSERT INTO t (v) VALUES ('c')`)
	res := mustExec(t, s2, `SELECT id FROM t ORDER BY id`)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "3", cell(res, 2, 0))
}

func TestEngine_DumpRestoreRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TYPE mood AS ENUM ('sad', 'happy')`)
	mustExec(t, s, `CREATE TABLE orgs (id SERIAL PRIMARY KEY, name TEXT NOT NULL)`)
	mustExec(t, s, `CREATE TABLE users (id SERIAL PRIMARY KEY, org_id INT REFERENCES orgs(id), m mood, note TEXT)`)
	mustExec(t, s, `CREATE INDEX users_org ON users (org_id)`)
	mustExec(t, s, `CREATE VIEW happy_users AS SELECT id FROM users WHERE m = 'happy'`)
	mustExec(t, s, `INSERT INTO orgs (name) VALUES ('acme'), ('it''s quoted')`)
	mustExec(t, s, `INSERT INTO users (org_id, m, note) VALUES (1, 'happy', NULL), (2, 'sad', 'x')`)
	mustExec(t, s, `DELETE FROM users WHERE id = 2`) // dead versions stay out of the dump

	var first bytes.Buffer
	require.NoError(t, eng.DumpSQL(&first, false, false))
	dump1 := first.String()

	assert.Less(t, strings.Index(dump1, "CREATE TABLE orgs"), strings.Index(dump1, "CREATE TABLE users"),
		"foreign-key targets dump before their referrers")
	assert.Contains(t, dump1, "CREATE TYPE mood AS ENUM ('sad', 'happy');")
	assert.Contains(t, dump1, "'it''s quoted'")
	assert.NotContains(t, dump1, "'x'")
	assert.NotContains(t, dump1, "_pkey", "primary key indexes are implied, not dumped")

	// restore into a fresh engine and dump again
	eng2, err := engine.Open(engine.Options{DataDir: t.TempDir(), PoolSize: 64})
	require.NoError(t, err)
	defer func() { _ = eng2.Close() }()
	require.NoError(t, eng2.Bootstrap("admin", "secret", "testdb"))

	s2 := eng2.NewSession("admin")
	for _, src := range parser.SplitStatements(dump1) {
		stmt, err := parser.Parse(src)
		require.NoError(t, err, src)
		_, err = s2.Exec(stmt)
		require.NoError(t, err, src)
	}

	var second bytes.Buffer
	require.NoError(t, eng2.DumpSQL(&second, false, false))
	assert.ElementsMatch(t, splitNonEmptyLines(dump1), splitNonEmptyLines(second.String()))

	// sequences advanced past the restored explicit ids
	mustExec(t, s2, `INSERT INTO orgs (name) VALUES ('fresh')`)
	res := mustExec(t, s2, `SELECT id FROM orgs ORDER BY id`)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, "3", cell(res, 2, 0))
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func TestEngine_DistinctLimitOffset(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (x INT)`)
	mustExec(t, s, `INSERT INTO t VALUES (1), (2), (2), (3), (3), (3)`)

	res := mustExec(t, s, `SELECT DISTINCT x FROM t ORDER BY x`)
	require.Len(t, res.Rows, 3)

	res = mustExec(t, s, `SELECT x FROM t ORDER BY x LIMIT 2 OFFSET 3`)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "3", cell(res, 0, 0))
}

func TestEngine_CaseAndCast(t *testing.T) {
	eng := newTestEngine(t)
	s := eng.NewSession("admin")
	mustExec(t, s, `CREATE TABLE t (x INT)`)
	mustExec(t, s, `INSERT INTO t VALUES (5), (25)`)

	res := mustExec(t, s, `SELECT CASE WHEN x < 10 THEN 'small' ELSE 'big' END FROM t ORDER BY x`)
	assert.Equal(t, "small", cell(res, 0, 0))
	assert.Equal(t, "big", cell(res, 1, 0))

	res = mustExec(t, s, `SELECT CAST(x AS TEXT) FROM t ORDER BY x`)
	assert.Equal(t, sql.TypeText, res.Columns[0].Type.Name)
	assert.Equal(t, "5", cell(res, 0, 0))
}
