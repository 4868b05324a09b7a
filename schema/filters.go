package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/siphon-data/siphon/types"
)

// FilterConfig holds comma-separated regular expression lists. Include lists
// win over exclude lists: when an include list is present the matching
// exclude list is ignored, the way the original connector configuration
// treats whitelists and blacklists.
type FilterConfig struct {
	DatabaseInclude string `json:"database_include,omitempty"`
	DatabaseExclude string `json:"database_exclude,omitempty"`
	TableInclude    string `json:"table_include,omitempty"`
	TableExclude    string `json:"table_exclude,omitempty"`
	ColumnExclude   string `json:"column_exclude,omitempty"`
}

// Filters are the compiled include/exclude predicates for databases, tables
// and columns. Table patterns match the qualified "database.table" form;
// column patterns match "database.table.column".
type Filters struct {
	dbInclude     []*regexp.Regexp
	dbExclude     []*regexp.Regexp
	tableInclude  []*regexp.Regexp
	tableExclude  []*regexp.Regexp
	columnExclude []*regexp.Regexp
}

func NewFilters(cfg FilterConfig) (*Filters, error) {
	f := &Filters{}
	var err error
	if f.dbInclude, err = compileList(cfg.DatabaseInclude); err != nil {
		return nil, fmt.Errorf("invalid database include filter: %s", err)
	}
	if f.dbExclude, err = compileList(cfg.DatabaseExclude); err != nil {
		return nil, fmt.Errorf("invalid database exclude filter: %s", err)
	}
	if f.tableInclude, err = compileList(cfg.TableInclude); err != nil {
		return nil, fmt.Errorf("invalid table include filter: %s", err)
	}
	if f.tableExclude, err = compileList(cfg.TableExclude); err != nil {
		return nil, fmt.Errorf("invalid table exclude filter: %s", err)
	}
	if f.columnExclude, err = compileList(cfg.ColumnExclude); err != nil {
		return nil, fmt.Errorf("invalid column exclude filter: %s", err)
	}
	return f, nil
}

// PassthroughFilters allows everything.
func PassthroughFilters() *Filters {
	return &Filters{}
}

// CanonicalDatabase normalizes absent database names to the empty string so
// name comparisons never depend on how a parser represented "no database".
func CanonicalDatabase(db string) string {
	return strings.TrimSpace(db)
}

func (f *Filters) DatabaseAllowed(db string) bool {
	db = CanonicalDatabase(db)
	if len(f.dbInclude) > 0 {
		return matchAny(f.dbInclude, db)
	}
	return !matchAny(f.dbExclude, db)
}

func (f *Filters) TableAllowed(id types.TableId) bool {
	if !f.DatabaseAllowed(id.Catalog) {
		return false
	}
	qualified := fmt.Sprintf("%s.%s", CanonicalDatabase(id.Catalog), id.Table)
	if len(f.tableInclude) > 0 {
		return matchAny(f.tableInclude, qualified)
	}
	return !matchAny(f.tableExclude, qualified)
}

func (f *Filters) ColumnAllowed(id types.TableId, column string) bool {
	qualified := fmt.Sprintf("%s.%s.%s", CanonicalDatabase(id.Catalog), id.Table, column)
	return !matchAny(f.columnExclude, qualified)
}

func compileList(list string) ([]*regexp.Regexp, error) {
	var compiled []*regexp.Regexp
	for _, expr := range strings.Split(list, ",") {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		re, err := regexp.Compile(fmt.Sprintf("^(?:%s)$", expr))
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, value string) bool {
	for _, re := range patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
