package db

import "fmt"

// Common errors
var (
	ErrEntityNotFound     = fmt.Errorf("entity not found")
	ErrNoEntriesFound     = fmt.Errorf("no history entries found")
	ErrReportNotFound     = fmt.Errorf("run report not found")
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrDatabaseConnection = fmt.Errorf("database connection error")
	ErrTransactionFailed  = fmt.Errorf("transaction failed")
)

// Append and report errors
var (
	// ErrOverlap means an append supplied a date at or before the entity's
	// last stored date.
	ErrOverlap = fmt.Errorf("append overlaps stored history")
	// ErrOutOfOrder means the supplied entries were not strictly ascending.
	ErrOutOfOrder = fmt.Errorf("append entries out of order")
	// ErrDuplicateRun means a report already exists for the run date.
	ErrDuplicateRun = fmt.Errorf("run report already exists")
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"
