package schema

import (
	"sort"

	"github.com/siphon-data/siphon/types"
)

// Tables is the mutable table catalog. It tracks which table ids changed
// since the last drain so the registry can rebuild only affected record
// schemas. Single-writer: only the task worker mutates it during DDL apply or
// snapshot load.
type Tables struct {
	defs    map[types.TableId]*types.TableDef
	changes *types.Set[types.TableId]
}

func NewTables() *Tables {
	return &Tables{
		defs:    make(map[types.TableId]*types.TableDef),
		changes: types.NewSet[types.TableId](),
	}
}

// Overwrite stores the definition, replacing any previous one, and marks the
// table changed.
func (t *Tables) Overwrite(def *types.TableDef) {
	t.defs[def.ID] = def.Clone()
	t.changes.Insert(def.ID)
}

// Remove drops the definition and marks the table changed. It reports whether
// the table existed.
func (t *Tables) Remove(id types.TableId) bool {
	_, found := t.defs[id]
	if found {
		delete(t.defs, id)
		t.changes.Insert(id)
	}
	return found
}

// Rename moves the definition to a new id; both ids are marked changed.
func (t *Tables) Rename(from, to types.TableId) bool {
	def, found := t.defs[from]
	if !found {
		return false
	}
	delete(t.defs, from)
	renamed := def.Clone()
	renamed.ID = to
	t.defs[to] = renamed
	t.changes.Insert(from, to)
	return true
}

// TableFor returns the current definition or nil. Callers must not mutate the
// result; use Overwrite with a clone instead.
func (t *Tables) TableFor(id types.TableId) *types.TableDef {
	return t.defs[id]
}

func (t *Tables) IDs() []types.TableId {
	ids := make([]types.TableId, 0, len(t.defs))
	for id := range t.defs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].ID() < ids[j].ID() })
	return ids
}

func (t *Tables) Len() int {
	return len(t.defs)
}

// DrainChanges returns the ids changed since the previous drain and clears
// the change set.
func (t *Tables) DrainChanges() []types.TableId {
	changed := t.changes.Array()
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID() < changed[j].ID() })
	t.changes = types.NewSet[types.TableId]()
	return changed
}

// Clone deep-copies the catalog without its pending change set.
func (t *Tables) Clone() *Tables {
	clone := NewTables()
	for id, def := range t.defs {
		clone.defs[id] = def.Clone()
	}
	return clone
}

// Reset empties the catalog and its change set.
func (t *Tables) Reset() {
	t.defs = make(map[types.TableId]*types.TableDef)
	t.changes = types.NewSet[types.TableId]()
}

// Snapshot returns the catalog keyed by table identity string, suitable for
// embedding in a history record.
func (t *Tables) Snapshot() map[string]*types.TableDef {
	snapshot := make(map[string]*types.TableDef, len(t.defs))
	for id, def := range t.defs {
		snapshot[id.ID()] = def.Clone()
	}
	return snapshot
}
