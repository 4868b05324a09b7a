package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"

	"github.com/siphon-data/siphon/engine"
	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/types"
)

// Task streams binlog events and turns them into change records. One task per
// engine; the runtime drives Poll from its dedicated worker.
type Task struct {
	connector *Connector
	cfg       *Config

	partition types.Partition
	syncer    *replication.BinlogSyncer
	streamer  *replication.BinlogStreamer
	pos       mysql.Position

	pending []types.Record
	stopped atomic.Bool
	emitted atomic.Int64
}

// Start resolves the resume position from prior offsets, recovers the schema
// registry to that point (or bootstraps it from metadata on a first start)
// and opens the binlog stream.
func (t *Task) Start(_ map[string]string, offsets engine.OffsetReader) error {
	t.cfg = t.connector.config
	t.partition = types.Partition{"server": t.cfg.ServerName}

	if err := t.connector.registry.Start(); err != nil {
		return fmt.Errorf("failed to start ddl history: %s", err)
	}

	prior, err := offsets.OffsetsFor(t.partition)
	if err != nil {
		return fmt.Errorf("failed to read prior offsets: %s", err)
	}

	if offset, found := prior[t.partition.ID()]; found {
		t.pos = positionFromOffset(offset)
		if err := t.connector.registry.LoadHistory(types.Position{Partition: t.partition, Offset: offset}); err != nil {
			return err
		}
		logger.Infof("resuming MySQL CDC from binlog position %s:%d", t.pos.Name, t.pos.Pos)
	} else {
		pos, err := t.connector.currentBinlogPosition()
		if err != nil {
			return err
		}
		t.pos = pos
		if t.cfg.SnapshotMode == SnapshotInitial {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			position := types.Position{Partition: t.partition, Offset: offsetFromPosition(pos, 0)}
			if err := t.connector.registry.LoadFromMetadata(ctx, t.connector.metadataReader(), position); err != nil {
				return err
			}
		}
		logger.Infof("starting MySQL CDC from current binlog position %s:%d", t.pos.Name, t.pos.Pos)
	}

	t.syncer = replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID:        t.cfg.ServerID,
		Flavor:          "mysql",
		Host:            t.cfg.Hostname,
		Port:            uint16(t.cfg.Port),
		User:            t.cfg.User,
		Password:        t.cfg.Password,
		Charset:         "utf8mb4",
		VerifyChecksum:  true,
		HeartbeatPeriod: 30 * time.Second,
	})
	t.streamer, err = t.syncer.StartSync(t.pos)
	if err != nil {
		return fmt.Errorf("failed to start binlog sync: %w", err)
	}
	return nil
}

// Poll returns the records of the next binlog event; events that carry no
// row or schema change yield an empty batch.
func (t *Task) Poll(ctx context.Context) ([]types.Record, error) {
	if len(t.pending) > 0 {
		batch := t.pending
		t.pending = nil
		return batch, nil
	}

	ev, err := t.streamer.GetEvent(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if t.stopped.Load() {
			return nil, context.Canceled
		}
		return nil, fmt.Errorf("failed to get binlog event: %w", err)
	}

	t.pos.Pos = ev.Header.LogPos

	switch e := ev.Event.(type) {
	case *replication.RotateEvent:
		t.pos.Name = string(e.NextLogName)
		t.pos.Pos = uint32(e.Position)
		logger.Infof("binlog rotated to %s:%d", t.pos.Name, t.pos.Pos)

	case *replication.QueryEvent:
		return t.handleQuery(e, ev.Header)

	case *replication.RowsEvent:
		return t.handleRows(e, ev.Header)
	}
	return nil, nil
}

// CommitRecord is the post-enqueue hook; it only tracks throughput.
func (t *Task) CommitRecord(_ types.Record) error {
	t.emitted.Add(1)
	return nil
}

func (t *Task) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if t.syncer != nil {
		t.syncer.Close()
	}
	return t.connector.registry.Stop()
}

// handleQuery feeds DDL through the schema registry and emits one schema
// change record per affected database. Transaction noise is filtered by the
// registry's ignored set.
func (t *Task) handleQuery(e *replication.QueryEvent, header *replication.EventHeader) ([]types.Record, error) {
	ddlText := string(e.Query)
	defaultDB := string(e.Schema)
	position := t.position(0)
	timestamp := time.Unix(int64(header.Timestamp), 0).UTC()

	var records []types.Record
	changed, err := t.connector.registry.ApplyDdl(position, defaultDB, ddlText, func(db, statement string) {
		records = append(records, types.Record{
			Topic: t.cfg.ServerName,
			Key: &types.Payload{
				Value: map[string]any{"databaseName": db},
			},
			Value: &types.Payload{
				Value: map[string]any{
					"source":       map[string]any{"server": t.cfg.ServerName},
					"databaseName": db,
					"ddl":          statement,
				},
			},
			Partition: t.partition,
			Offset:    position.Offset,
			Timestamp: timestamp,
		})
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return records, nil
}

// handleRows decodes a rows event into one record per row image, keyed by the
// table's primary key; deletes are followed by a tombstone.
func (t *Task) handleRows(e *replication.RowsEvent, header *replication.EventHeader) ([]types.Record, error) {
	id := types.NewTableId(string(e.Table.Schema), "", string(e.Table.Table))
	valueSchema := t.connector.registry.SchemaFor(id)
	if valueSchema == nil {
		// Unknown to the catalog or excluded by the filters.
		return nil, nil
	}
	def := t.connector.registry.TableFor(id)
	timestamp := time.Unix(int64(header.Timestamp), 0).UTC()

	var op string
	switch header.EventType {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		op = "c"
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		op = "u"
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		op = "d"
	default:
		return nil, nil
	}

	topic := fmt.Sprintf("%s.%s.%s", t.cfg.ServerName, id.Catalog, id.Table)
	var records []types.Record
	row := 0

	emit := func(before, after map[string]any) {
		keySource := after
		if keySource == nil {
			keySource = before
		}
		record := types.Record{
			Topic: topic,
			Key:   t.keyPayload(valueSchema, keySource),
			Value: &types.Payload{
				Schema: valueSchema,
				Value: map[string]any{
					"before": before,
					"after":  after,
					"op":     op,
					"ts_ms":  timestamp.UnixMilli(),
					"source": map[string]any{
						"server": t.cfg.ServerName,
						"file":   t.pos.Name,
						"pos":    t.pos.Pos,
					},
				},
			},
			Partition: t.partition,
			Offset:    t.position(row).Offset,
			Timestamp: timestamp,
		}
		records = append(records, record)
		if op == "d" {
			// Tombstone marks logical deletion of the key for log-compacted
			// consumers.
			records = append(records, types.Record{
				Topic:     topic,
				Key:       record.Key,
				Value:     nil,
				Partition: t.partition,
				Offset:    t.position(row).Offset,
				Timestamp: timestamp,
			})
		}
		row++
	}

	switch op {
	case "u":
		// Update rows come in (before, after) pairs.
		for i := 1; i < len(e.Rows); i += 2 {
			before, err := t.mapRow(def, e.Rows[i-1])
			if err != nil {
				return nil, err
			}
			after, err := t.mapRow(def, e.Rows[i])
			if err != nil {
				return nil, err
			}
			emit(before, after)
		}
	case "d":
		for _, r := range e.Rows {
			before, err := t.mapRow(def, r)
			if err != nil {
				return nil, err
			}
			emit(before, nil)
		}
	default:
		for _, r := range e.Rows {
			after, err := t.mapRow(def, r)
			if err != nil {
				return nil, err
			}
			emit(nil, after)
		}
	}

	// Hand back the first record now and buffer the rest so stop signals are
	// observed between batches even on large multi-row events.
	if len(records) > 1 {
		t.pending = records[1:]
		records = records[:1]
	}
	return records, nil
}

func (t *Task) mapRow(def *types.TableDef, row []any) (map[string]any, error) {
	if len(row) < len(def.Columns) {
		return nil, fmt.Errorf("column count mismatch for table [%s]: definition has %d, event has %d", def.ID, len(def.Columns), len(row))
	}
	record := make(map[string]any, len(def.Columns))
	for i, col := range def.Columns {
		if !t.connector.filters.ColumnAllowed(def.ID, col.Name) {
			continue
		}
		record[col.Name] = convertValue(col, row[i])
	}
	return record, nil
}

func (t *Task) keyPayload(valueSchema *types.StructSchema, row map[string]any) *types.Payload {
	if len(valueSchema.KeyFields) == 0 || row == nil {
		return nil
	}
	key := make(map[string]any, len(valueSchema.KeyFields))
	for _, field := range valueSchema.KeyFields {
		key[field] = row[field]
	}
	return &types.Payload{Value: key}
}

func (t *Task) position(row int) types.Position {
	return types.Position{
		Partition: t.partition,
		Offset:    offsetFromPosition(t.pos, row),
	}
}

func offsetFromPosition(pos mysql.Position, row int) types.Offset {
	return types.Offset{
		"file": pos.Name,
		"pos":  pos.Pos,
		"row":  row,
	}
}

func positionFromOffset(offset types.Offset) mysql.Position {
	pos := mysql.Position{}
	if file, ok := offset["file"].(string); ok {
		pos.Name = file
	}
	switch v := offset["pos"].(type) {
	case float64:
		pos.Pos = uint32(v)
	case uint32:
		pos.Pos = v
	case int:
		pos.Pos = uint32(v)
	case int64:
		pos.Pos = uint32(v)
	}
	return pos
}
