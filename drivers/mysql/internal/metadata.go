package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"

	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/schema"
	"github.com/siphon-data/siphon/types"
)

// columnRow is one information_schema.columns row.
type columnRow struct {
	TableSchema string `db:"table_schema"`
	TableName   string `db:"table_name"`
	ColumnName  string `db:"column_name"`
	DataType    string `db:"data_type"`
	Length      int64  `db:"length"`
	Scale       int64  `db:"scale"`
	IsNullable  string `db:"is_nullable"`
	ColumnKey   string `db:"column_key"`
	Extra       string `db:"extra"`
}

const columnsQuery = `
SELECT c.table_schema   AS table_schema,
       c.table_name     AS table_name,
       c.column_name    AS column_name,
       c.data_type      AS data_type,
       COALESCE(c.character_maximum_length, c.numeric_precision, 0) AS length,
       COALESCE(c.numeric_scale, 0)                                 AS scale,
       c.is_nullable    AS is_nullable,
       c.column_key     AS column_key,
       c.extra          AS extra
FROM information_schema.columns c
WHERE c.table_schema NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

// metadataReader populates the catalog from live information_schema metadata,
// used for the bootstrap snapshot before any history exists.
func (c *Connector) metadataReader() schema.MetadataReader {
	return func(ctx context.Context, catalog *schema.Tables) error {
		rows, err := c.client.QueryxContext(ctx, columnsQuery)
		if err != nil {
			return fmt.Errorf("failed to query column metadata: %w", err)
		}
		defer rows.Close()

		defs := make(map[types.TableId]*types.TableDef)
		var order []types.TableId
		for rows.Next() {
			var col columnRow
			if err := rows.StructScan(&col); err != nil {
				return fmt.Errorf("failed to scan column metadata: %w", err)
			}

			id := types.NewTableId(col.TableSchema, "", col.TableName)
			if !c.filters.TableAllowed(id) {
				continue
			}
			def, found := defs[id]
			if !found {
				def = &types.TableDef{ID: id}
				defs[id] = def
				order = append(order, id)
			}

			extra := strings.ToLower(col.Extra)
			def.SetColumn(types.Column{
				Name:          col.ColumnName,
				TypeName:      strings.ToUpper(col.DataType),
				Length:        int(col.Length),
				Scale:         int(col.Scale),
				Nullable:      strings.EqualFold(col.IsNullable, "yes"),
				AutoIncrement: strings.Contains(extra, "auto_increment"),
				Generated:     strings.Contains(extra, "generated"),
			})
			if col.ColumnKey == "PRI" {
				def.PrimaryKeys = append(def.PrimaryKeys, col.ColumnName)
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating column metadata: %w", err)
		}

		for _, id := range order {
			if err := defs[id].Validate(); err != nil {
				return fmt.Errorf("inconsistent metadata for table [%s]: %s", id, err)
			}
			catalog.Overwrite(defs[id])
		}
		logger.Infof("loaded %d table definitions from database metadata", len(order))
		return nil
	}
}

// currentBinlogPosition retrieves the current binlog position from the
// server.
func (c *Connector) currentBinlogPosition() (mysql.Position, error) {
	rows, err := c.client.Query("SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to get master status: %s", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return mysql.Position{}, fmt.Errorf("no binlog position available")
	}

	var file string
	var position uint32
	var binlogDoDB, binlogIgnoreDB, executedGtidSet string
	if err := rows.Scan(&file, &position, &binlogDoDB, &binlogIgnoreDB, &executedGtidSet); err != nil {
		return mysql.Position{}, fmt.Errorf("failed to scan binlog position: %s", err)
	}

	return mysql.Position{Name: file, Pos: position}, nil
}
