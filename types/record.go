package types

import (
	"time"
)

// Payload couples a typed value with the schema it conforms to. A nil schema
// means the value is schemaless (e.g. raw DDL notifications).
type Payload struct {
	Schema *StructSchema `json:"schema,omitempty"`
	Value  any           `json:"value"`
}

// Record is a single change event produced by a source task. Key may be nil
// for keyless tables; a nil Value marks a tombstone emitted after a delete.
type Record struct {
	Topic     string    `json:"topic"`
	Key       *Payload  `json:"key,omitempty"`
	Value     *Payload  `json:"value,omitempty"`
	Partition Partition `json:"partition"`
	Offset    Offset    `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

func (r *Record) Position() Position {
	return Position{Partition: r.Partition, Offset: r.Offset}
}

func (r *Record) IsTombstone() bool {
	return r.Value == nil
}
