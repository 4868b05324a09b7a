package driver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/siphon-data/siphon/engine"
	"github.com/siphon-data/siphon/schema"
	"github.com/siphon-data/siphon/utils"
)

// Connector options recognized from the engine option map.
const (
	optHostname        = "database.hostname"
	optPort            = "database.port"
	optUser            = "database.user"
	optPassword        = "database.password"
	optServerName      = "database.server.name"
	optServerID        = "database.server.id"
	optDatabaseInclude = "database.include.list"
	optDatabaseExclude = "database.exclude.list"
	optTableInclude    = "table.include.list"
	optTableExclude    = "table.exclude.list"
	optColumnExclude   = "column.exclude.list"
	optHistoryFile     = "database.history.file.filename"
	optSnapshotMode    = "snapshot.mode"
)

const (
	// SnapshotInitial bootstraps the table catalog from database metadata on
	// the first start, then streams.
	SnapshotInitial = "initial"
	// SnapshotNever trusts the recorded history alone.
	SnapshotNever = "never"
)

// Config holds the MySQL connection and capture settings.
type Config struct {
	Hostname     string `json:"hostname" validate:"required"`
	Port         int    `json:"port"`
	User         string `json:"user" validate:"required"`
	Password     string `json:"password"`
	ServerName   string `json:"server_name" validate:"required"`
	ServerID     uint32 `json:"server_id"`
	HistoryFile  string `json:"history_file" validate:"required"`
	SnapshotMode string `json:"snapshot_mode"`

	Filters    schema.FilterConfig   `json:"filters"`
	DdlOnError schema.DdlErrorPolicy `json:"ddl_on_error"`
}

func parseConfig(options map[string]string) (*Config, error) {
	cfg := &Config{
		Hostname:     options[optHostname],
		User:         options[optUser],
		Password:     options[optPassword],
		ServerName:   options[optServerName],
		HistoryFile:  options[optHistoryFile],
		SnapshotMode: options[optSnapshotMode],
		Filters: schema.FilterConfig{
			DatabaseInclude: options[optDatabaseInclude],
			DatabaseExclude: options[optDatabaseExclude],
			TableInclude:    options[optTableInclude],
			TableExclude:    options[optTableExclude],
			ColumnExclude:   options[optColumnExclude],
		},
		DdlOnError: schema.DdlErrorPolicy(options[engine.OptDdlOnError]),
	}

	if raw := options[optPort]; raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s [%s]: %s", optPort, raw, err)
		}
		cfg.Port = port
	}
	if raw := options[optServerID]; raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s [%s]: %s", optServerID, raw, err)
		}
		cfg.ServerID = uint32(id)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or invalid fields and fills
// defaults.
func (c *Config) Validate() error {
	if strings.Contains(c.Hostname, "http") {
		return fmt.Errorf("hostname should not contain http or https: %s", c.Hostname)
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port number: must be between 1 and 65535")
	}
	if c.ServerID == 0 {
		// A replica id unique enough for a single embedded engine per server.
		c.ServerID = uint32(1000 + time.Now().UnixNano()%9000)
	}
	switch c.SnapshotMode {
	case "":
		c.SnapshotMode = SnapshotInitial
	case SnapshotInitial, SnapshotNever:
	default:
		return fmt.Errorf("invalid snapshot.mode [%s]; valid are %s, %s", c.SnapshotMode, SnapshotInitial, SnapshotNever)
	}
	switch c.DdlOnError {
	case "":
		c.DdlOnError = schema.DdlErrorContinue
	case schema.DdlErrorContinue, schema.DdlErrorFail, schema.DdlErrorSkip:
	default:
		return fmt.Errorf("invalid ddl.on.error [%s]; valid are fail, continue, skip", c.DdlOnError)
	}

	return utils.Validate(c)
}

// URI generates the DSN used by the metadata reader connection.
func (c *Config) URI() string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/information_schema?parseTime=true",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Hostname,
		c.Port,
	)
}
