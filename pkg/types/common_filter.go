package types

import (
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm/clause"

	"github.com/fatflowers/subtrack/pkg/errs"
)

type CommonFilterOperator string

const (
	CommonFilterOperatorEq        CommonFilterOperator = "eq"
	CommonFilterOperatorNotEq     CommonFilterOperator = "not_eq"
	CommonFilterOperatorLt        CommonFilterOperator = "lt"
	CommonFilterOperatorLte       CommonFilterOperator = "lte"
	CommonFilterOperatorGt        CommonFilterOperator = "gt"
	CommonFilterOperatorGte       CommonFilterOperator = "gte"
	CommonFilterOperatorDateRange CommonFilterOperator = "date_range"
	CommonFilterOperatorRange     CommonFilterOperator = "range"
	CommonFilterOperatorIn        CommonFilterOperator = "in"
)

type CommonFilter struct {
	Field    string               `json:"field"`
	Operator CommonFilterOperator `json:"operator"`
	Values   []any                `json:"values"`
	Filters  []CommonFilter       `json:"filters"`
}

// Build constructs a GORM expression.
func (f *CommonFilter) Build(builder clause.Builder) {
	if len(f.Values) == 0 {
		builder.WriteString("1=1")
		return
	}

	value := f.Values[0]

	switch f.Operator {
	case CommonFilterOperatorEq:
		// jsonb paths (extra->>'key') can't go through clause.Eq, which would quote them as a column
		if strings.Contains(f.Field, "->") {
			clause.Expr{SQL: fmt.Sprintf("%s = ?", f.Field), Vars: []interface{}{value}}.Build(builder)
		} else {
			clause.Eq{Column: f.Field, Value: value}.Build(builder)
		}
	case CommonFilterOperatorNotEq:
		clause.NotConditions{Exprs: []clause.Expression{clause.Eq{Column: f.Field, Value: value}}}.Build(builder)
	case CommonFilterOperatorLt:
		clause.Lt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorLte:
		clause.Lte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGt:
		clause.Gt{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorGte:
		clause.Gte{Column: f.Field, Value: value}.Build(builder)
	case CommonFilterOperatorRange, CommonFilterOperatorDateRange:
		if len(f.Values) < 2 {
			builder.WriteString("1=1")
			return
		}
		clause.And(clause.Gte{Column: f.Field, Value: f.Values[0]}, clause.Lte{Column: f.Field, Value: f.Values[1]}).Build(builder)
	case CommonFilterOperatorIn:
		clause.IN{Column: f.Field, Values: f.Values}.Build(builder)
	default:
		builder.WriteString("1=1")
	}
}

// AndFilters joins filters with AND; an empty list matches everything.
type AndFilters []*CommonFilter

func (w AndFilters) Build(builder clause.Builder) {
	if len(w) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w))
	for _, f := range w {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

// ScanRequest is the paginated, filterable listing request used by admin pages.
type ScanRequest struct {
	Filters   []*CommonFilter `json:"filters"`
	From      int             `json:"from"`
	Size      int             `json:"size"`
	SortBy    string          `json:"sort_by"`
	SortOrder string          `json:"sort_order"`
}

const maxScanSize = 500

// Normalize applies paging defaults and rejects filter or sort fields outside
// the allowed column list.
func (r *ScanRequest) Normalize(defaultSort string, allowed ...string) error {
	if r.Size <= 0 {
		r.Size = 10
	}
	if r.Size > maxScanSize {
		r.Size = maxScanSize
	}
	if r.From < 0 {
		r.From = 0
	}
	if r.SortBy == "" {
		r.SortBy = defaultSort
	}
	if r.SortOrder != "asc" {
		r.SortOrder = "desc"
	}
	if !slices.Contains(allowed, r.SortBy) {
		return errs.NewValidationError("sort_by", fmt.Sprintf("unsupported sort field: %s", r.SortBy))
	}
	for _, f := range r.Filters {
		if f == nil || !slices.Contains(allowed, f.Field) {
			return errs.NewValidationError("filters", fmt.Sprintf("unsupported filter field: %v", fieldOf(f)))
		}
	}
	return nil
}

// OrderBy returns the sort clause for a normalized request.
func (r *ScanRequest) OrderBy() clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: r.SortBy}, Desc: r.SortOrder != "asc"}}}
}

func fieldOf(f *CommonFilter) string {
	if f == nil {
		return "<nil>"
	}
	return f.Field
}
