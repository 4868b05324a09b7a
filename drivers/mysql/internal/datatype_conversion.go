package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/siphon-data/siphon/types"
)

var dateTimeFormats = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// convertValue normalizes a binlog row value to the logical type of its
// column: text as string, decimals as decimal.Decimal, temporal values as UTC
// time.Time, binary columns as raw bytes.
func convertValue(col types.Column, val any) any {
	if val == nil {
		return nil
	}

	switch strings.ToUpper(col.TypeName) {
	case "DECIMAL", "NUMERIC":
		if d, err := decimal.NewFromString(asString(val)); err == nil {
			return d
		}
		return asString(val)

	case "DATE", "DATETIME", "TIMESTAMP":
		switch v := val.(type) {
		case time.Time:
			return v.UTC()
		case string, []byte:
			raw := asString(val)
			for _, layout := range dateTimeFormats {
				if parsed, err := time.Parse(layout, raw); err == nil {
					return parsed.UTC()
				}
			}
			return raw
		}
		return val

	case "BINARY", "VARBINARY", "TINYBLOB", "BLOB", "MEDIUMBLOB", "LONGBLOB":
		switch v := val.(type) {
		case []byte:
			return v
		case string:
			return []byte(v)
		}
		return val

	default:
		if b, ok := val.([]byte); ok {
			return string(b)
		}
		return val
	}
}

func asString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
