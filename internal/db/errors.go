package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound        = errors.New("db: key not found")
	ErrCollectionNotFound = errors.New("db: collection not found")
	ErrEntityNotFound     = errors.New("db: entity not found")
	// ErrEndOfData is returned by Cursor.NextBatch once the scan is exhausted.
	ErrEndOfData = errors.New("db: end of data")
)

// Op constants name the backend operation for error context.
const (
	OpGet      = "GET"
	OpSet      = "SET"
	OpExpire   = "EXPIRE"
	OpSearch   = "SEARCH"
	OpQuery    = "QUERY"
	OpDescribe = "DESCRIBE"
	OpList     = "LIST"
	OpLoad     = "LOAD"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
