// Package sqlxrepos implements the repositories on PostgreSQL with sqlx.
package sqlxrepos

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/eduanalytics/core"
)

// Postgres error codes
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// dbError translates the errors of the driver: sql.ErrNoRows becomes notFound,
// constraint violations become conflict or invalidRef.
func dbError(err, notFound, conflict, invalidRef error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows && notFound != nil {
		return notFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == uniqueViolation && conflict != nil:
			return errors.Wrap(conflict, pqErr.Message)
		case pqErr.Code == foreignKeyViolation && invalidRef != nil:
			return errors.Wrap(invalidRef, pqErr.Message)
		}
	}
	return err
}

// checkAffected returns notFound when res changed no row.
func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// where builds a WHERE clause with positional parameters; "?" in conditions is replaced by the argument's position.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func orderBy(orderings []core.DBOrdering, prefix string) string {
	if len(orderings) == 0 {
		return ""
	}
	cols := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		cols = append(cols, prefix+ord.String())
	}
	return " ORDER BY " + strings.Join(cols, ", ")
}
