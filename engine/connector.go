package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/siphon-data/siphon/types"
)

// OffsetReader hands a starting task its previously committed positions.
// Results are keyed by Partition.ID().
type OffsetReader interface {
	OffsetsFor(partitions ...types.Partition) (map[string]types.Offset, error)
}

// SourceConnector is the contract a source implementation satisfies to run
// inside the engine.
type SourceConnector interface {
	// Initialize hands the connector the engine configuration and returns one
	// or more task configurations. The embedded engine runs the first one.
	Initialize(config map[string]string) ([]map[string]string, error)
	// NewTask builds a task instance; the engine drives its lifecycle.
	NewTask() SourceTask
	// Stop releases connector-level resources after its task has stopped.
	Stop() error
}

// SourceTask produces batches of change records from the source.
type SourceTask interface {
	// Start prepares the task. It receives prior positions through the reader
	// and must not block on source I/O longer than connection setup needs.
	Start(config map[string]string, offsets OffsetReader) error
	// Poll returns the next batch. It may block briefly or return an empty
	// batch when the source is idle. A ctx cancellation between batches is a
	// clean shutdown, not an error.
	Poll(ctx context.Context) ([]types.Record, error)
	// Stop requests the task to halt; Poll calls in flight should return.
	Stop() error
}

// RecordCommitter is the optional hook a task implements to learn when a
// record has been safely handed to the queue.
type RecordCommitter interface {
	CommitRecord(record types.Record) error
}

// ConnectorFactory builds a connector instance. The host registers factories
// under logical names; the engine never reflects on type names itself.
type ConnectorFactory func() SourceConnector

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]ConnectorFactory)
)

// RegisterConnector makes a connector available under the given name for the
// "connector.class" engine option.
func RegisterConnector(name string, factory ConnectorFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

func connectorFactory(name string) (ConnectorFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	factory, found := factories[name]
	return factory, found
}

// BuildConnector instantiates a registered connector by its logical name.
func BuildConnector(name string) (SourceConnector, error) {
	factory, found := connectorFactory(name)
	if !found {
		return nil, configErrorf("no connector registered under [%s]", name)
	}
	return factory(), nil
}

// Codec serializes partitions and offsets for the offset store. The encoding
// must round-trip: Load after Flush hands tasks exactly what they stored.
type Codec interface {
	EncodePartition(p types.Partition) ([]byte, error)
	DecodePartition(b []byte) (types.Partition, error)
	EncodeOffset(o types.Offset) ([]byte, error)
	DecodeOffset(b []byte) (types.Offset, error)
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) EncodePartition(p types.Partition) ([]byte, error) {
	return json.Marshal(p)
}

func (JSONCodec) DecodePartition(b []byte) (types.Partition, error) {
	var p types.Partition
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to decode partition: %s", err)
	}
	return p, nil
}

func (JSONCodec) EncodeOffset(o types.Offset) ([]byte, error) {
	return json.Marshal(o)
}

func (JSONCodec) DecodeOffset(b []byte) (types.Offset, error) {
	var o types.Offset
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("failed to decode offset: %s", err)
	}
	return o, nil
}

// storeOffsetReader reads prior positions back through the store + codec.
type storeOffsetReader struct {
	load  func() (map[string][]byte, error)
	codec Codec
}

func (r *storeOffsetReader) OffsetsFor(partitions ...types.Partition) (map[string]types.Offset, error) {
	persisted, err := r.load()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(partitions))
	for _, p := range partitions {
		wanted[p.ID()] = true
	}

	found := make(map[string]types.Offset)
	for key, value := range persisted {
		partition, err := r.codec.DecodePartition([]byte(key))
		if err != nil {
			return nil, err
		}
		if !wanted[partition.ID()] {
			continue
		}
		offset, err := r.codec.DecodeOffset(value)
		if err != nil {
			return nil, err
		}
		found[partition.ID()] = offset
	}
	return found, nil
}
