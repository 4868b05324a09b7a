package types

import (
	"fmt"
	"strings"
)

// TableId identifies a table by catalog, schema and table name; any part may
// be empty. Equality is structural across the triple.
type TableId struct {
	Catalog string `json:"catalog,omitempty"`
	Schema  string `json:"schema,omitempty"`
	Table   string `json:"table"`
}

func NewTableId(catalog, schema, table string) TableId {
	return TableId{Catalog: catalog, Schema: schema, Table: table}
}

func (t TableId) ID() string {
	parts := []string{}
	if t.Catalog != "" {
		parts = append(parts, t.Catalog)
	}
	if t.Schema != "" {
		parts = append(parts, t.Schema)
	}
	parts = append(parts, t.Table)
	return strings.Join(parts, ".")
}

func (t TableId) String() string {
	return t.ID()
}

// Column describes one table column the way DDL declared it.
type Column struct {
	Name          string `json:"name"`
	TypeName      string `json:"type_name"` // upper-cased SQL type keyword, e.g. VARCHAR
	Length        int    `json:"length,omitempty"`
	Scale         int    `json:"scale,omitempty"`
	Position      int    `json:"position"`
	Nullable      bool   `json:"nullable"`
	AutoIncrement bool   `json:"auto_increment,omitempty"`
	Generated     bool   `json:"generated,omitempty"`
}

// TableDef is the structural description of a table at a specific point in
// DDL history. Column order matches the write order of the DDL; primary key
// names are a subset of the column names.
type TableDef struct {
	ID          TableId  `json:"id"`
	Columns     []Column `json:"columns"`
	PrimaryKeys []string `json:"primary_keys,omitempty"`
}

func (t *TableDef) Clone() *TableDef {
	clone := &TableDef{
		ID:          t.ID,
		Columns:     make([]Column, len(t.Columns)),
		PrimaryKeys: append([]string{}, t.PrimaryKeys...),
	}
	copy(clone.Columns, t.Columns)
	return clone
}

func (t *TableDef) Column(name string) (Column, bool) {
	idx, found := columnIndex(t.Columns, name)
	if !found {
		return Column{}, false
	}
	return t.Columns[idx], true
}

// SetColumn appends the column or replaces an existing one in place,
// preserving declaration order.
func (t *TableDef) SetColumn(col Column) {
	if idx, found := columnIndex(t.Columns, col.Name); found {
		col.Position = t.Columns[idx].Position
		t.Columns[idx] = col
		return
	}
	col.Position = len(t.Columns) + 1
	t.Columns = append(t.Columns, col)
}

func (t *TableDef) RemoveColumn(name string) {
	idx, found := columnIndex(t.Columns, name)
	if !found {
		return
	}
	t.Columns = append(t.Columns[:idx], t.Columns[idx+1:]...)
	for i := range t.Columns {
		t.Columns[i].Position = i + 1
	}
	remaining := t.PrimaryKeys[:0]
	for _, pk := range t.PrimaryKeys {
		if pk != name {
			remaining = append(remaining, pk)
		}
	}
	t.PrimaryKeys = remaining
}

// Validate checks the TableDef invariants: non-empty table name and primary
// key names being a subset of column names.
func (t *TableDef) Validate() error {
	if t.ID.Table == "" {
		return fmt.Errorf("table definition missing table name")
	}
	for _, pk := range t.PrimaryKeys {
		if _, found := columnIndex(t.Columns, pk); !found {
			return fmt.Errorf("primary key column [%s] missing from table [%s]", pk, t.ID)
		}
	}
	return nil
}

func columnIndex(cols []Column, name string) (int, bool) {
	for idx, col := range cols {
		if strings.EqualFold(col.Name, name) {
			return idx, true
		}
	}
	return -1, false
}
