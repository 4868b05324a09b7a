package history

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/types"
	"github.com/siphon-data/siphon/utils"
)

// ErrHistoryWrite marks a failed append. Continuing after one would produce
// unrecoverable state, so callers treat it as fatal.
var ErrHistoryWrite = errors.New("ddl history write failed")

// Record is one appended schema change. Tables carries a snapshot of every
// table definition at the recorded position; it is optional on disk but
// written by this store to speed up recovery inspection.
type Record struct {
	Position     types.Position             `json:"position"`
	DatabaseName string                     `json:"databaseName"`
	DDL          string                     `json:"ddl"`
	Tables       map[string]*types.TableDef `json:"tables,omitempty"`
}

// Comparator reports whether a recorded offset should be replayed when
// recovering up to the desired offset. Both offsets belong to one partition;
// the connector that wrote them defines their ordering.
type Comparator func(recorded, desired types.Offset) bool

// Store is an append-only log of schema change records, scannable in write
// order.
type Store interface {
	Start() error
	Stop() error
	Record(position types.Position, defaultDB string, tables map[string]*types.TableDef, ddl string) error
	Recover(stop types.Position, replay func(Record) error) error
}

// FileStore keeps the history as JSON lines, one record per line, synced on
// every append. Record serializes against Recover.
type FileStore struct {
	path       string
	comparator Comparator

	mu      sync.Mutex
	file    *os.File
	started bool
}

func NewFileStore(path string, comparator Comparator) *FileStore {
	if comparator == nil {
		comparator = AtOrBefore
	}
	return &FileStore{path: path, comparator: comparator}
}

func (s *FileStore) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ddl history [%s]: %s", s.path, err)
	}
	s.file = file
	s.started = true
	return nil
}

func (s *FileStore) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	return s.file.Close()
}

// Record appends one history record atomically with respect to Recover.
func (s *FileStore) Record(position types.Position, defaultDB string, tables map[string]*types.TableDef, ddl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("%w: store not started", ErrHistoryWrite)
	}

	rec := Record{
		Position:     position,
		DatabaseName: defaultDB,
		DDL:          ddl,
		Tables:       tables,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrHistoryWrite, err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: %s", ErrHistoryWrite, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: %s", ErrHistoryWrite, err)
	}
	return nil
}

// Recover replays records in append order, feeding each to replay, until the
// comparator reports a record past the stopping position. Records belonging
// to a different partition than stop are skipped. A torn trailing line (a
// crash mid-append) ends the replay with a warning rather than an error.
func (s *FileStore) Recover(stop types.Position, replay func(Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ddl history [%s]: %s", s.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)

	stopPartition := stop.Partition.ID()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warnf("stopping ddl history replay at torn record: %s", err)
			return nil
		}
		if rec.Position.Partition.ID() != stopPartition {
			logger.Debugf("skipping history record from foreign partition [%s]", rec.Position.Partition.ID())
			continue
		}
		if !s.comparator(rec.Position.Offset, stop.Offset) {
			return nil
		}
		if err := replay(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// StrictlyBefore orders MySQL-family binlog offsets encoded as
// {file, pos, row, event} by file name, then position, then row within the
// event, and replays only records strictly before the stopping offset.
func StrictlyBefore(recorded, desired types.Offset) bool {
	if cmp := utils.CompareInterfaceValue(str(recorded["file"]), str(desired["file"])); cmp != 0 {
		return cmp < 0
	}
	if cmp := utils.CompareInterfaceValue(num(recorded["pos"]), num(desired["pos"])); cmp != 0 {
		return cmp < 0
	}
	if cmp := utils.CompareInterfaceValue(num(recorded["row"]), num(desired["row"])); cmp != 0 {
		return cmp < 0
	}
	return utils.CompareInterfaceValue(num(recorded["event"]), num(desired["event"])) < 0
}

// AtOrBefore replays records at the stopping offset too. It is the default:
// connectors store the position of the last applied event, so the DDL written
// at exactly that position was already processed and must be replayed.
func AtOrBefore(recorded, desired types.Offset) bool {
	return StrictlyBefore(recorded, desired) || equal(recorded, desired)
}

func equal(a, b types.Offset) bool {
	return utils.CompareInterfaceValue(str(a["file"]), str(b["file"])) == 0 &&
		utils.CompareInterfaceValue(num(a["pos"]), num(b["pos"])) == 0 &&
		utils.CompareInterfaceValue(num(a["row"]), num(b["row"])) == 0 &&
		utils.CompareInterfaceValue(num(a["event"]), num(b["event"])) == 0
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
