package services

import (
	"strings"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

const (
	mysqlDuplicateEntry  = 1062
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// isWriteContention reports whether the store refused a write because
// another transaction got there first (unique index on the lock owner,
// InnoDB deadlock/lock wait, or a busy SQLite file).
func isWriteContention(err error) bool {
	if err == nil {
		return false
	}
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		switch merr.Number {
		case mysqlDuplicateEntry, mysqlLockWaitTimeout, mysqlDeadlock:
			return true
		}
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint failed") ||
		strings.Contains(lower, "duplicate entry") ||
		strings.Contains(lower, "database is locked")
}

// isUniqueViolation reports whether a write hit a unique index.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == mysqlDuplicateEntry
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
