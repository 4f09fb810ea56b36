package engine

import (
	"errors"
	"fmt"

	"github.com/tuannm99/novapg/internal/executor"
	"github.com/tuannm99/novapg/internal/sql"
	"github.com/tuannm99/novapg/internal/tx"
	"github.com/tuannm99/novapg/internal/wal"
)

var (
	ErrTxAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")
	// ErrInTxBlock rejects VACUUM inside an explicit transaction;
	// reclamation cannot coexist with the session's own uncommitted
	// changes.
	ErrInTxBlock = errors.New("cannot run inside a transaction block")
)

// Session is one connection's execution state: its authenticated role,
// its explicit-transaction status and, inside a transaction, the
// current tx id. Statements outside BEGIN/COMMIT run in an implicit
// single-statement transaction.
type Session struct {
	eng      *Engine
	user     string
	database string

	explicit bool
	failed   bool
	txID     uint64
	snap     *tx.Snapshot
}

// NewSession opens a session for an authenticated role.
func (e *Engine) NewSession(user string) *Session {
	return &Session{eng: e, user: user, database: e.cat.DatabaseName()}
}

func (s *Session) User() string     { return s.user }
func (s *Session) Database() string { return s.database }

// TxStatus is the ReadyForQuery status byte: I idle, T in transaction,
// E failed transaction.
func (s *Session) TxStatus() byte {
	switch {
	case s.failed:
		return 'E'
	case s.explicit:
		return 'T'
	default:
		return 'I'
	}
}

// Exec runs one parsed statement under this session's transaction
// state.
func (s *Session) Exec(stmt sql.Statement) (*executor.Result, error) {
	switch stmt.(type) {
	case *sql.BeginStmt:
		return s.execBegin()
	case *sql.CommitStmt:
		return s.execCommit()
	case *sql.RollbackStmt:
		return s.execRollback()
	}

	if s.failed {
		return nil, ErrTxAborted
	}

	if isNonTransactional(stmt) && s.explicit {
		// VACUUM physically removes tuples and cannot run while the
		// session itself holds uncommitted changes.
		if _, ok := stmt.(*sql.VacuumStmt); ok {
			return nil, fmt.Errorf("VACUUM: %w", ErrInTxBlock)
		}
		// DDL commits immediately in a transaction of its own; the
		// surrounding block stays open. ROLLBACK will not undo it.
		return s.execImmediate(stmt)
	}

	if s.explicit {
		// read committed: a fresh snapshot per statement inside the
		// running transaction
		s.snap = s.eng.txm.Snapshot()
		res, err := s.run(stmt)
		if err != nil {
			s.failed = true
			return nil, err
		}
		return res, nil
	}

	// implicit single-statement transaction
	if err := s.begin(); err != nil {
		return nil, err
	}
	res, err := s.run(stmt)
	if err != nil {
		s.abort()
		return nil, err
	}
	if err := s.commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// execImmediate runs one statement in its own committed transaction
// without disturbing the session's open block.
func (s *Session) execImmediate(stmt sql.Statement) (*executor.Result, error) {
	savedTx, savedSnap := s.txID, s.snap
	restore := func() { s.txID, s.snap = savedTx, savedSnap }

	if err := s.begin(); err != nil {
		restore()
		return nil, err
	}
	res, err := s.run(stmt)
	if err != nil {
		s.abort()
		restore()
		s.failed = true
		return nil, err
	}
	if err := s.commit(); err != nil {
		restore()
		s.failed = true
		return nil, err
	}
	restore()
	return res, nil
}

func (s *Session) run(stmt sql.Statement) (*executor.Result, error) {
	sess := &executor.Session{
		User:     s.user,
		Database: s.database,
		TxID:     s.txID,
		Snapshot: s.snap,
	}
	return s.eng.exec.Exec(sess, stmt)
}

// ExecSession exposes the executor-level session for COPY, which the
// wire layer drives row by row.
func (s *Session) ExecSession() (*executor.Session, func(error) error, error) {
	if s.failed {
		return nil, nil, ErrTxAborted
	}
	if s.explicit {
		s.snap = s.eng.txm.Snapshot()
		done := func(err error) error {
			if err != nil {
				s.failed = true
			}
			return err
		}
		return &executor.Session{User: s.user, Database: s.database, TxID: s.txID, Snapshot: s.snap}, done, nil
	}
	if err := s.begin(); err != nil {
		return nil, nil, err
	}
	sess := &executor.Session{User: s.user, Database: s.database, TxID: s.txID, Snapshot: s.snap}
	done := func(err error) error {
		if err != nil {
			s.abort()
			return err
		}
		return s.commit()
	}
	return sess, done, nil
}

// Executor exposes the statement executor for the wire layer's COPY
// helpers.
func (s *Session) Executor() *executor.Executor { return s.eng.exec }

func (s *Session) execBegin() (*executor.Result, error) {
	if s.explicit {
		// already in a block; match the server's lenient behavior
		return &executor.Result{Tag: "BEGIN"}, nil
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	s.explicit = true
	return &executor.Result{Tag: "BEGIN"}, nil
}

func (s *Session) execCommit() (*executor.Result, error) {
	if !s.explicit {
		return &executor.Result{Tag: "COMMIT"}, nil
	}
	if s.failed {
		// a failed block can only roll back
		s.abort()
		s.explicit, s.failed = false, false
		return &executor.Result{Tag: "ROLLBACK"}, nil
	}
	if err := s.commit(); err != nil {
		return nil, err
	}
	s.explicit = false
	return &executor.Result{Tag: "COMMIT"}, nil
}

func (s *Session) execRollback() (*executor.Result, error) {
	if s.explicit {
		s.abort()
	}
	s.explicit, s.failed = false, false
	return &executor.Result{Tag: "ROLLBACK"}, nil
}

func (s *Session) begin() error {
	id, snap := s.eng.txm.Begin()
	s.txID, s.snap = id, snap
	_, err := s.eng.wal.Append(&wal.Record{Kind: wal.KindBegin, Tx: id})
	return err
}

// commit makes the transaction durable before it becomes visible: the
// commit record is fsynced first, only then does the tx manager flip
// the transaction to committed.
func (s *Session) commit() error {
	if _, err := s.eng.wal.Append(&wal.Record{Kind: wal.KindCommit, Tx: s.txID}); err != nil {
		return err
	}
	if err := s.eng.wal.Sync(); err != nil {
		return err
	}
	s.eng.txm.Commit(s.txID)
	s.txID, s.snap = 0, nil
	return nil
}

func (s *Session) abort() {
	if _, err := s.eng.wal.Append(&wal.Record{Kind: wal.KindAbort, Tx: s.txID}); err != nil {
		s.eng.log.Error("abort record append failed", "tx", s.txID, "error", err)
	}
	s.eng.txm.Abort(s.txID)
	s.txID, s.snap = 0, nil
}

// isNonTransactional marks statements that auto-commit outside the
// MVCC machinery.
func isNonTransactional(stmt sql.Statement) bool {
	switch stmt.(type) {
	case *sql.CreateTableStmt, *sql.DropTableStmt, *sql.AlterTableStmt,
		*sql.CreateEnumStmt, *sql.CreateIndexStmt, *sql.DropIndexStmt,
		*sql.CreateViewStmt, *sql.DropViewStmt,
		*sql.CreateRoleStmt, *sql.DropRoleStmt,
		*sql.GrantRoleStmt, *sql.RevokeRoleStmt,
		*sql.GrantPrivilegeStmt, *sql.RevokePrivilegeStmt,
		*sql.VacuumStmt:
		return true
	}
	return false
}
