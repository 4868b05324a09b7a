package types

import (
	"fmt"
)

type DataType string

const (
	Null           DataType = "null"
	Int32          DataType = "integer_small"
	Int64          DataType = "integer"
	Float32        DataType = "number_small"
	Float64        DataType = "number"
	String         DataType = "string"
	Bool           DataType = "boolean"
	Bytes          DataType = "bytes"
	Decimal        DataType = "decimal"
	Unknown        DataType = "unknown"
	Timestamp      DataType = "timestamp"
	TimestampMilli DataType = "timestamp_milli" // storing datetime up to 3 precisions
	TimestampMicro DataType = "timestamp_micro" // storing datetime up to 6 precisions
)

// Field is one column of a derived record schema. Order follows the column
// order of the TableDef the schema was derived from.
type Field struct {
	Name     string   `json:"name"`
	Type     DataType `json:"type"`
	Optional bool     `json:"optional"`
}

// StructSchema is a serialization-ready schema derived from a TableDef with
// column filters and type mappers applied. It reflects the TableDef at the
// time it was derived and is never mutated in place; the registry rebuilds it
// whenever the TableDef changes.
type StructSchema struct {
	Name      string   `json:"name"`
	Fields    []Field  `json:"fields"`
	KeyFields []string `json:"key_fields,omitempty"`
}

func (s *StructSchema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (s *StructSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// ValidateValue checks that a record value conforms to the schema: it must be
// a map carrying only known fields, with required fields present.
func (s *StructSchema) ValidateValue(value any) error {
	if value == nil {
		return nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("value for schema [%s] is %T, expected map", s.Name, value)
	}
	for name := range m {
		if _, found := s.Field(name); !found {
			return fmt.Errorf("field [%s] not part of schema [%s]", name, s.Name)
		}
	}
	for _, f := range s.Fields {
		if f.Optional {
			continue
		}
		if _, present := m[f.Name]; !present {
			return fmt.Errorf("required field [%s] missing from value for schema [%s]", f.Name, s.Name)
		}
	}
	return nil
}
