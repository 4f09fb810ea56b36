package pgwire

import (
	"errors"
	"strings"

	"github.com/tuannm99/novapg/internal/catalog"
	"github.com/tuannm99/novapg/internal/engine"
	"github.com/tuannm99/novapg/internal/executor"
)

// sqlState maps engine errors onto SQLSTATE codes so drivers can
// classify failures the way they do against a real server.
func sqlState(err error) string {
	switch {
	case errors.Is(err, executor.ErrUniqueViolation):
		return "23505"
	case errors.Is(err, executor.ErrNotNullViolation):
		return "23502"
	case errors.Is(err, executor.ErrFKViolation):
		return "23503"
	case errors.Is(err, executor.ErrPermissionDenied):
		return "42501"
	case errors.Is(err, executor.ErrReadOnlyRelation):
		return "42809"
	case errors.Is(err, executor.ErrDivisionByZero):
		return "22012"
	case errors.Is(err, executor.ErrUnknownColumn):
		return "42703"
	case errors.Is(err, executor.ErrAmbiguousColumn):
		return "42702"
	case errors.Is(err, catalog.ErrNoSuchTable), errors.Is(err, catalog.ErrNoSuchView):
		return "42P01"
	case errors.Is(err, catalog.ErrTableExists), errors.Is(err, catalog.ErrViewExists):
		return "42P07"
	case errors.Is(err, catalog.ErrIndexExists), errors.Is(err, catalog.ErrRoleExists),
		errors.Is(err, catalog.ErrEnumExists):
		return "42710"
	case errors.Is(err, catalog.ErrNoSuchIndex), errors.Is(err, catalog.ErrNoSuchRole),
		errors.Is(err, catalog.ErrNoSuchEnum):
		return "42704"
	case errors.Is(err, catalog.ErrDependentRows):
		return "2BP01"
	case errors.Is(err, engine.ErrTxAborted):
		return "25P02"
	case errors.Is(err, engine.ErrInTxBlock):
		return "25001"
	case isParseError(err):
		return "42601"
	case strings.Contains(err.Error(), "does not exist"):
		return "42P01"
	}
	return "XX000"
}

func isParseError(err error) bool {
	return strings.HasPrefix(err.Error(), "syntax error")
}

// errorResponse builds an ErrorResponse message with severity,
// SQLSTATE and message fields.
func errorResponse(err error) *msg {
	m := newMsg('E')
	m.byte1('S')
	m.zstring("ERROR")
	m.byte1('V')
	m.zstring("ERROR")
	m.byte1('C')
	m.zstring(sqlState(err))
	m.byte1('M')
	m.zstring(err.Error())
	m.byte1(0)
	return m
}
