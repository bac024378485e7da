package db

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// IsNoRows reports whether a lookup matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation reports whether err is a duplicate-key insert and names the
// violated index. At-least-once writers treat it as already done.
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != mysqlDuplicateEntry {
		return "", false
	}
	_, index, found := strings.Cut(myErr.Message, " for key ")
	if !found {
		return "", true
	}
	return strings.Trim(index, " `'\""), true
}
