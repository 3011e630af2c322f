// Package repository holds the MySQL access for repairs, messages,
// locations and the identity tables. Every status write is a
// compare-and-swap on the current status so that two clients racing on
// the same repair cannot both win.
package repository

import (
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
var ErrEmailExists = errors.New("email already exists")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// notFound maps sql.ErrNoRows to model.ErrNotFound and wraps the rest.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(model.ErrNotFound, what)
	}
	return errors.Wrap(err, what)
}

// affected turns "zero rows" into a rejected transition.
func affected(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errors.Wrapf(model.ErrTransitionRejected, format, args...)
	}
	return nil
}
