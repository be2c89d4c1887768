package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a targeted row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrMissingRelation is returned when a queried table has not been
	// provisioned (undefined_table).
	ErrMissingRelation = errors.New("relation does not exist")
)

const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
)

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// conflict. Token-number serialization relies on this to retry.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUndefinedTable
}
