package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siphon-data/siphon/types"
)

func tableDef(db, name string, cols ...string) *types.TableDef {
	def := &types.TableDef{ID: types.NewTableId(db, "", name)}
	for _, col := range cols {
		def.SetColumn(types.Column{Name: col, TypeName: "INT", Nullable: true})
	}
	return def
}

func TestOverwriteTracksChanges(t *testing.T) {
	tables := NewTables()
	tables.Overwrite(tableDef("db", "t1", "id"))
	tables.Overwrite(tableDef("db", "t2", "id"))

	changed := tables.DrainChanges()
	assert.Len(t, changed, 2)
	assert.Empty(t, tables.DrainChanges(), "drain clears the change set")

	tables.Overwrite(tableDef("db", "t1", "id", "v"))
	changed = tables.DrainChanges()
	require.Len(t, changed, 1)
	assert.Equal(t, "db.t1", changed[0].ID())
}

func TestRemoveMarksChanged(t *testing.T) {
	tables := NewTables()
	tables.Overwrite(tableDef("db", "t", "id"))
	tables.DrainChanges()

	assert.True(t, tables.Remove(types.NewTableId("db", "", "t")))
	assert.False(t, tables.Remove(types.NewTableId("db", "", "t")))
	changed := tables.DrainChanges()
	require.Len(t, changed, 1)
	assert.Nil(t, tables.TableFor(changed[0]))
}

func TestRenameMovesDefinition(t *testing.T) {
	tables := NewTables()
	tables.Overwrite(tableDef("db", "old", "id"))
	tables.DrainChanges()

	from := types.NewTableId("db", "", "old")
	to := types.NewTableId("db", "", "new")
	require.True(t, tables.Rename(from, to))

	assert.Nil(t, tables.TableFor(from))
	require.NotNil(t, tables.TableFor(to))
	assert.Equal(t, to, tables.TableFor(to).ID)
	assert.Len(t, tables.DrainChanges(), 2, "both ids are marked changed")
}

func TestCloneIsDeep(t *testing.T) {
	tables := NewTables()
	tables.Overwrite(tableDef("db", "t", "id"))

	clone := tables.Clone()
	clone.TableFor(types.NewTableId("db", "", "t")).Columns[0].Name = "mutated"

	assert.Equal(t, "id", tables.TableFor(types.NewTableId("db", "", "t")).Columns[0].Name)
	assert.Empty(t, clone.DrainChanges(), "clone starts with no pending changes")
}

func TestOverwriteStoresCopy(t *testing.T) {
	tables := NewTables()
	def := tableDef("db", "t", "id")
	tables.Overwrite(def)

	def.Columns[0].Name = "mutated"
	assert.Equal(t, "id", tables.TableFor(def.ID).Columns[0].Name)
}
