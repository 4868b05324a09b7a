package ddl

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/mysql"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver" // expression evaluation backend for the parser

	"github.com/siphon-data/siphon/schema"
	"github.com/siphon-data/siphon/types"
)

// Parser adapts the TiDB SQL parser to the schema registry's parsing
// contract. Statements that do not affect table structure (DML, SET, FLUSH,
// transaction control) are recognized and skipped without error.
//
// Not safe for concurrent use; the registry serializes all parsing on the
// task worker.
type Parser struct {
	p *parser.Parser
}

func NewParser() *Parser {
	return &Parser{p: parser.New()}
}

// Parse applies the ;-separated DDL statements to the catalog, resolving
// unqualified table names against defaultDB, and reports the set of affected
// databases. On a syntax error no statement is applied.
func (d *Parser) Parse(defaultDB, ddl string, catalog *schema.Tables) (*types.Set[string], error) {
	affected := types.NewSet[string]()
	if strings.TrimSpace(ddl) == "" {
		return affected, nil
	}

	stmts, _, err := d.p.ParseSQL(ddl)
	if err != nil {
		return affected, fmt.Errorf("failed to parse ddl: %s", err)
	}

	for _, stmt := range stmts {
		if err := d.apply(stmt, defaultDB, catalog, affected); err != nil {
			return affected, err
		}
	}
	return affected, nil
}

func (d *Parser) apply(stmt ast.StmtNode, defaultDB string, catalog *schema.Tables, affected *types.Set[string]) error {
	switch node := stmt.(type) {
	case *ast.CreateTableStmt:
		id := tableId(node.Table, defaultDB)
		affected.Insert(id.Catalog)
		if node.ReferTable != nil {
			// CREATE TABLE ... LIKE copies the referenced definition.
			ref := catalog.TableFor(tableId(node.ReferTable, defaultDB))
			if ref == nil {
				return fmt.Errorf("cannot create table [%s] like unknown table [%s]", id, node.ReferTable.Name)
			}
			def := ref.Clone()
			def.ID = id
			catalog.Overwrite(def)
			return nil
		}
		if node.IfNotExists && catalog.TableFor(id) != nil {
			return nil
		}
		def := buildTableDef(id, node.Cols, node.Constraints)
		if err := def.Validate(); err != nil {
			return err
		}
		catalog.Overwrite(def)

	case *ast.DropTableStmt:
		for _, table := range node.Tables {
			id := tableId(table, defaultDB)
			affected.Insert(id.Catalog)
			if !catalog.Remove(id) && !node.IfExists {
				return fmt.Errorf("cannot drop unknown table [%s]", id)
			}
		}

	case *ast.AlterTableStmt:
		id := tableId(node.Table, defaultDB)
		affected.Insert(id.Catalog)
		existing := catalog.TableFor(id)
		if existing == nil {
			return fmt.Errorf("cannot alter unknown table [%s]", id)
		}
		def := existing.Clone()
		for _, spec := range node.Specs {
			to, changedName, err := applyAlterSpec(def, spec, defaultDB)
			if err != nil {
				return fmt.Errorf("failed to alter table [%s]: %s", id, err)
			}
			if changedName {
				affected.Insert(to.Catalog)
				catalog.Rename(id, to)
				id = to
				def.ID = to
			}
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("failed to alter table [%s]: %s", id, err)
		}
		catalog.Overwrite(def)

	case *ast.RenameTableStmt:
		for _, pair := range node.TableToTables {
			from := tableId(pair.OldTable, defaultDB)
			to := tableId(pair.NewTable, defaultDB)
			affected.Insert(from.Catalog, to.Catalog)
			if !catalog.Rename(from, to) {
				return fmt.Errorf("cannot rename unknown table [%s]", from)
			}
		}

	case *ast.CreateDatabaseStmt:
		affected.Insert(node.Name.O)

	case *ast.DropDatabaseStmt:
		db := node.Name.O
		affected.Insert(db)
		for _, id := range catalog.IDs() {
			if strings.EqualFold(id.Catalog, db) {
				catalog.Remove(id)
			}
		}

	case *ast.TruncateTableStmt:
		// Data-only; the definition is untouched.
		affected.Insert(tableId(node.Table, defaultDB).Catalog)

	default:
		// DML, SET, GRANT and friends flow through the binlog as query events
		// too; they carry no schema change.
	}
	return nil
}

func applyAlterSpec(def *types.TableDef, spec *ast.AlterTableSpec, defaultDB string) (types.TableId, bool, error) {
	switch spec.Tp {
	case ast.AlterTableAddColumns:
		for _, col := range spec.NewColumns {
			def.SetColumn(buildColumn(col, false))
		}

	case ast.AlterTableDropColumn:
		def.RemoveColumn(spec.OldColumnName.Name.O)

	case ast.AlterTableModifyColumn:
		if len(spec.NewColumns) > 0 {
			def.SetColumn(buildColumn(spec.NewColumns[0], false))
		}

	case ast.AlterTableChangeColumn:
		if len(spec.NewColumns) > 0 {
			old := spec.OldColumnName.Name.O
			replacement := buildColumn(spec.NewColumns[0], false)
			if existing, found := def.Column(old); found {
				replacement.Position = existing.Position
				def.RemoveColumn(old)
			}
			def.SetColumn(replacement)
		}

	case ast.AlterTableRenameColumn:
		if existing, found := def.Column(spec.OldColumnName.Name.O); found {
			def.RemoveColumn(existing.Name)
			existing.Name = spec.NewColumnName.Name.O
			def.SetColumn(existing)
		}

	case ast.AlterTableAddConstraint:
		if spec.Constraint != nil && spec.Constraint.Tp == ast.ConstraintPrimaryKey {
			def.PrimaryKeys = nil
			for _, key := range spec.Constraint.Keys {
				def.PrimaryKeys = append(def.PrimaryKeys, key.Column.Name.O)
			}
		}

	case ast.AlterTableDropPrimaryKey:
		def.PrimaryKeys = nil

	case ast.AlterTableRenameTable:
		return tableId(spec.NewTable, defaultDB), true, nil

	default:
		// Index, charset, comment and option changes do not alter the column
		// structure the record schemas depend on.
	}
	return def.ID, false, nil
}

func buildTableDef(id types.TableId, cols []*ast.ColumnDef, constraints []*ast.Constraint) *types.TableDef {
	def := &types.TableDef{ID: id}
	for _, col := range cols {
		pk := hasOption(col, ast.ColumnOptionPrimaryKey)
		def.SetColumn(buildColumn(col, pk))
		if pk {
			def.PrimaryKeys = append(def.PrimaryKeys, col.Name.Name.O)
		}
	}
	for _, constraint := range constraints {
		if constraint.Tp != ast.ConstraintPrimaryKey {
			continue
		}
		def.PrimaryKeys = nil
		for _, key := range constraint.Keys {
			def.PrimaryKeys = append(def.PrimaryKeys, key.Column.Name.O)
		}
	}
	return def
}

func buildColumn(col *ast.ColumnDef, pk bool) types.Column {
	column := types.Column{
		Name:          col.Name.Name.O,
		TypeName:      typeName(col),
		Nullable:      !pk,
		AutoIncrement: hasOption(col, ast.ColumnOptionAutoIncrement),
		Generated:     hasOption(col, ast.ColumnOptionGenerated),
	}
	if flen := col.Tp.GetFlen(); flen > 0 {
		column.Length = flen
	}
	if scale := col.Tp.GetDecimal(); scale > 0 {
		column.Scale = scale
	}
	if hasOption(col, ast.ColumnOptionNotNull) || hasOption(col, ast.ColumnOptionPrimaryKey) {
		column.Nullable = false
	}
	return column
}

func hasOption(col *ast.ColumnDef, tp ast.ColumnOptionType) bool {
	for _, opt := range col.Options {
		if opt.Tp == tp {
			return true
		}
	}
	return false
}

func typeName(col *ast.ColumnDef) string {
	switch col.Tp.GetType() {
	case mysql.TypeTiny:
		return "TINYINT"
	case mysql.TypeShort:
		return "SMALLINT"
	case mysql.TypeInt24:
		return "MEDIUMINT"
	case mysql.TypeLong:
		return "INT"
	case mysql.TypeLonglong:
		return "BIGINT"
	case mysql.TypeFloat:
		return "FLOAT"
	case mysql.TypeDouble:
		return "DOUBLE"
	case mysql.TypeNewDecimal:
		return "DECIMAL"
	case mysql.TypeBit:
		return "BIT"
	case mysql.TypeString:
		return "CHAR"
	case mysql.TypeVarchar, mysql.TypeVarString:
		return "VARCHAR"
	case mysql.TypeTinyBlob:
		return "TINYBLOB"
	case mysql.TypeBlob:
		return blobOrText(col, "BLOB", "TEXT")
	case mysql.TypeMediumBlob:
		return blobOrText(col, "MEDIUMBLOB", "MEDIUMTEXT")
	case mysql.TypeLongBlob:
		return blobOrText(col, "LONGBLOB", "LONGTEXT")
	case mysql.TypeDate:
		return "DATE"
	case mysql.TypeDuration:
		return "TIME"
	case mysql.TypeDatetime:
		return "DATETIME"
	case mysql.TypeTimestamp:
		return "TIMESTAMP"
	case mysql.TypeYear:
		return "YEAR"
	case mysql.TypeJSON:
		return "JSON"
	case mysql.TypeEnum:
		return "ENUM"
	case mysql.TypeSet:
		return "SET"
	default:
		return "VARCHAR"
	}
}

func blobOrText(col *ast.ColumnDef, binaryName, textName string) string {
	if col.Tp.GetCharset() == "binary" {
		return binaryName
	}
	return textName
}

func tableId(name *ast.TableName, defaultDB string) types.TableId {
	db := name.Schema.O
	if db == "" {
		db = defaultDB
	}
	return types.NewTableId(schema.CanonicalDatabase(db), "", name.Name.O)
}
