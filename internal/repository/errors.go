package repository

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned by updates that matched no row.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a write violates a unique constraint, such
// as assigning a username that another principal already holds.
var ErrConflict = errors.New("conflict")

// ErrUndecryptable is returned when a stored secret fails to open, for
// example after ENCRYPTION_KEY was set or rotated.
var ErrUndecryptable = errors.New("stored value cannot be decrypted")

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

// optionalRow turns a single-row lookup into (nil, nil) when nothing matched.
func optionalRow[T any](row *T, err error) (*T, error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return row, nil
}
