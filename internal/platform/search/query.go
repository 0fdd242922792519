// Package search builds the filtered, sorted and paginated SELECTs behind the
// list endpoints.
package search

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// ParamType says how a query parameter becomes a WHERE clause.
type ParamType int

const (
	Exact ParamType = iota // column = value
	Text                   // value is contained in any of Columns, case-insensitive
	Ref                    // column = uuid
	Bool                   // column = true/false
	From                   // column >= date
	To                     // column < date + 1 day, or <= timestamp
	Flag                   // Column is a predicate applied when the value is true
)

// ParamConfig maps a query parameter to its database representation.
type ParamConfig struct {
	Type    ParamType
	Column  string
	Columns []string
	// Values restricts Exact parameters to a fixed set.
	Values map[string]bool
}

// Config describes one searchable resource.
type Config struct {
	Params       map[string]ParamConfig
	Sorts        map[string]string
	DefaultOrder string
}

// Query builds SQL WHERE clauses with positional arguments.
type Query struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// NewQuery creates a Query selecting cols from table. table may be a join
// expression.
func NewQuery(table, cols string) *Query {
	return &Query{table: table, cols: cols, idx: 1}
}

// Idx returns the next placeholder index.
func (q *Query) Idx() int { return q.idx }

// Add appends a raw WHERE clause fragment (without leading "AND"). The
// fragment's placeholders must start at Idx().
func (q *Query) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

func (q *Query) next() string {
	return fmt.Sprintf("$%d", q.idx)
}

// AddText matches value as a case-insensitive substring of any column.
func (q *Query) AddText(columns []string, value string) {
	value = strings.TrimSpace(value)
	if value == "" || len(columns) == 0 {
		return
	}
	p := q.next()
	ors := make([]string, len(columns))
	for i, col := range columns {
		ors[i] = fmt.Sprintf("%s ILIKE %s", col, p)
	}
	q.Add("("+strings.Join(ors, " OR ")+")", "%"+escapeLike(value)+"%")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ApplyParam applies a single parameter. name is used in error messages.
func (q *Query) ApplyParam(name string, cfg ParamConfig, value string) error {
	switch cfg.Type {
	case Exact:
		if cfg.Values != nil && !cfg.Values[value] {
			return apperr.Validation("invalid %s: %q", name, value)
		}
		q.Add(fmt.Sprintf("%s = %s", cfg.Column, q.next()), value)
	case Text:
		cols := cfg.Columns
		if len(cols) == 0 {
			cols = []string{cfg.Column}
		}
		q.AddText(cols, value)
	case Ref:
		id, err := uuid.Parse(value)
		if err != nil {
			return apperr.Validation("invalid %s: must be a UUID", name)
		}
		q.Add(fmt.Sprintf("%s = %s", cfg.Column, q.next()), id)
	case Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return apperr.Validation("invalid %s: must be true or false", name)
		}
		q.Add(fmt.Sprintf("%s = %s", cfg.Column, q.next()), b)
	case From:
		t, _, err := parseDate(value)
		if err != nil {
			return apperr.Validation("invalid %s: %v", name, err)
		}
		q.Add(fmt.Sprintf("%s >= %s", cfg.Column, q.next()), t)
	case To:
		t, dateOnly, err := parseDate(value)
		if err != nil {
			return apperr.Validation("invalid %s: %v", name, err)
		}
		if dateOnly {
			q.Add(fmt.Sprintf("%s < %s", cfg.Column, q.next()), t.AddDate(0, 0, 1))
		} else {
			q.Add(fmt.Sprintf("%s <= %s", cfg.Column, q.next()), t)
		}
	case Flag:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return apperr.Validation("invalid %s: must be true or false", name)
		}
		if b {
			q.where += " AND " + cfg.Column
		}
	}
	return nil
}

// ParseDate accepts YYYY-MM-DD or RFC 3339. The flag reports a bare date.
func ParseDate(s string) (time.Time, bool, error) {
	return parseDate(s)
}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected YYYY-MM-DD or RFC 3339 timestamp, got %q", s)
	}
	return t, false, nil
}

// ApplyParams applies every configured parameter found in params in name
// order; unknown names are ignored and empty values skipped.
func (q *Query) ApplyParams(params map[string]string, cfg Config) error {
	names := make([]string, 0, len(params))
	for name := range params {
		if _, ok := cfg.Params[name]; ok && params[name] != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if err := q.ApplyParam(name, cfg.Params[name], params[name]); err != nil {
			return err
		}
	}
	return nil
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *Query) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

// ApplySort turns "name,-scheduled_at" into an ORDER BY over whitelisted
// columns, falling back to the default order.
func (q *Query) ApplySort(sortParam string, cfg Config) {
	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		dir := "ASC"
		if strings.HasPrefix(field, "-") {
			dir = "DESC"
			field = field[1:]
		}
		if col, ok := cfg.Sorts[field]; ok {
			parts = append(parts, col+" "+dir)
		}
	}
	if len(parts) > 0 {
		q.orderBy = strings.Join(parts, ", ")
		return
	}
	q.orderBy = cfg.DefaultOrder
}

// Build applies params and sort in one step.
func (q *Query) Build(params map[string]string, sortParam string, cfg Config) error {
	if err := q.ApplyParams(params, cfg); err != nil {
		return err
	}
	q.ApplySort(sortParam, cfg)
	return nil
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *Query) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query SQL with ORDER BY and LIMIT/OFFSET.
func (q *Query) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

// DataArgs returns the search args followed by limit and offset.
func (q *Query) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}
