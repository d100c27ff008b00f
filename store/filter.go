package store

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/teranos/easyjob/errors"
)

// ErrInvalidField is returned when a filter, sort or key names a field that
// is not a plain identifier.
var ErrInvalidField = errors.New("invalid field name")

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Filter matches documents on top-level fields. A plain value means
// equality; a Cond applies a comparison.
//
//	store.Filter{"Disabled": 0}
//	store.Filter{"StartTime": store.Gte("2026-01-01 00:00:00")}
type Filter map[string]interface{}

// Cond is a comparison against a field.
type Cond struct {
	Op    string
	Value interface{}
}

func Gte(v interface{}) Cond { return Cond{Op: ">=", Value: v} }
func Gt(v interface{}) Cond  { return Cond{Op: ">", Value: v} }
func Lte(v interface{}) Cond { return Cond{Op: "<=", Value: v} }
func Lt(v interface{}) Cond  { return Cond{Op: "<", Value: v} }
func Ne(v interface{}) Cond  { return Cond{Op: "!=", Value: v} }

// In matches any of values.
func In(values ...interface{}) Cond { return Cond{Op: "IN", Value: values} }

// SortField orders results by one field.
type SortField struct {
	Field string
	Desc  bool
}

func Asc(field string) SortField  { return SortField{Field: field} }
func Desc(field string) SortField { return SortField{Field: field, Desc: true} }

// FindOptions controls ordering and paging for FindMany.
type FindOptions struct {
	Sort  []SortField
	Limit int // 0 = no limit
	Skip  int
}

// DeleteOptions controls which matches Delete removes and what happens to them.
type DeleteOptions struct {
	Skip        int
	Limit       int  // 0 = every match after Skip
	Recycle     bool // copy deleted documents into <name>_recycle first
	DropIfEmpty bool // drop the collection when nothing is left
}

func validateField(field string) error {
	if !fieldPattern.MatchString(field) {
		return errors.Wrapf(ErrInvalidField, "%q", field)
	}
	return nil
}

func fieldExpr(field string) string {
	return fmt.Sprintf("json_extract(body, '$.%s')", field)
}

// where renders the filter as SQL conditions, always scoped to collection.
// Fields are emitted in sorted order so generated SQL is stable.
func (f Filter) where(collection string) (string, []interface{}, error) {
	clauses := []string{"collection = ?"}
	args := []interface{}{collection}

	fields := make([]string, 0, len(f))
	for field := range f {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if err := validateField(field); err != nil {
			return "", nil, err
		}
		expr := fieldExpr(field)

		switch v := f[field].(type) {
		case Cond:
			clause, condArgs, err := v.render(expr)
			if err != nil {
				return "", nil, errors.Wrapf(err, "filter on %s", field)
			}
			clauses = append(clauses, clause)
			args = append(args, condArgs...)
		case nil:
			clauses = append(clauses, expr+" IS NULL")
		default:
			clauses = append(clauses, expr+" = ?")
			args = append(args, bindValue(v))
		}
	}

	return strings.Join(clauses, " AND "), args, nil
}

func (c Cond) render(expr string) (string, []interface{}, error) {
	switch c.Op {
	case ">=", ">", "<=", "<":
		return expr + " " + c.Op + " ?", []interface{}{bindValue(c.Value)}, nil
	case "!=":
		if c.Value == nil {
			return expr + " IS NOT NULL", nil, nil
		}
		return "(" + expr + " IS NULL OR " + expr + " != ?)", []interface{}{bindValue(c.Value)}, nil
	case "IN":
		values, _ := c.Value.([]interface{})
		if len(values) == 0 {
			return "0", nil, nil
		}
		args := make([]interface{}, len(values))
		for i, v := range values {
			args[i] = bindValue(v)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return expr + " IN (" + placeholders + ")", args, nil
	default:
		return "", nil, errors.Newf("unsupported operator %q", c.Op)
	}
}

func (o FindOptions) orderAndPage() (string, []interface{}, error) {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString(" ORDER BY ")
	for _, s := range o.Sort {
		if err := validateField(s.Field); err != nil {
			return "", nil, err
		}
		sb.WriteString(fieldExpr(s.Field))
		if s.Desc {
			sb.WriteString(" DESC")
		}
		sb.WriteString(", ")
	}
	// Insertion order breaks ties
	sb.WriteString("id")

	if o.Limit > 0 || o.Skip > 0 {
		limit := o.Limit
		if limit <= 0 {
			limit = -1
		}
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, o.Skip)
	}
	return sb.String(), args, nil
}
