package postgres

import (
	"fmt"
	"strings"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// listQuery accumulates a WHERE clause and its positional arguments.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

// where appends "AND <cond>" with cond's %s replaced by the next placeholder.
func (q *listQuery) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sb.WriteString(" AND ")
	q.sb.WriteString(fmt.Sprintf(cond, fmt.Sprintf("$%d", len(q.args))))
}

// window applies opts against the given timestamp column and finishes the
// query with ordering and paging.
func (q *listQuery) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(col+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col+" <= %s", *opts.Until)
	}
	q.sb.WriteString(" ORDER BY " + col + " DESC")
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&q.sb, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&q.sb, " OFFSET $%d", len(q.args))
	}
}

func (q *listQuery) String() string { return q.sb.String() }
