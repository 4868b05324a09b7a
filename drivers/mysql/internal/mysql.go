package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// MySQL driver
	_ "github.com/go-sql-driver/mysql"

	"github.com/siphon-data/siphon/engine"
	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/pkg/ddl"
	"github.com/siphon-data/siphon/pkg/history"
	"github.com/siphon-data/siphon/schema"
)

// ConnectorName is the value the "connector.class" engine option selects this
// connector by.
const ConnectorName = "mysql"

// Connector captures row-level changes from a MySQL-family server's binlog,
// tracking table schemas through the DDL it observes.
type Connector struct {
	config   *Config
	filters  *schema.Filters
	registry *schema.Registry
	client   *sqlx.DB
}

func NewConnector() *Connector {
	return &Connector{}
}

// Register makes the connector available to the engine's factory registry.
func Register() {
	engine.RegisterConnector(ConnectorName, func() engine.SourceConnector {
		return NewConnector()
	})
}

// Initialize validates configuration, prepares the schema registry and opens
// the metadata connection. The single returned task configuration is the
// input option map itself.
func (c *Connector) Initialize(config map[string]string) ([]map[string]string, error) {
	cfg, err := parseConfig(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrConfig, err)
	}

	filters, err := schema.NewFilters(cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrConfig, err)
	}

	client, err := sqlx.Open("mysql", cfg.URI())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c.config = cfg
	c.filters = filters
	c.client = client
	c.registry = schema.NewRegistry(
		ddl.NewParser(),
		history.NewFileStore(cfg.HistoryFile, history.AtOrBefore),
		filters,
		schema.WithServerName(cfg.ServerName),
		schema.WithDdlErrorPolicy(cfg.DdlOnError),
	)

	logger.Infof("initialized MySQL connector for server [%s] at %s:%d", cfg.ServerName, cfg.Hostname, cfg.Port)
	return []map[string]string{config}, nil
}

func (c *Connector) NewTask() engine.SourceTask {
	return &Task{connector: c}
}

// Registry exposes the table catalog and derived schemas to the host.
func (c *Connector) Registry() *schema.Registry {
	return c.registry
}

// Check verifies the server is reachable and has binary logging enabled.
func (c *Connector) Check() error {
	if c.client == nil {
		return fmt.Errorf("connector is not initialized")
	}
	var variable, value string
	if err := c.client.QueryRow("SHOW VARIABLES LIKE 'log_bin'").Scan(&variable, &value); err != nil {
		return fmt.Errorf("failed to read log_bin variable: %w", err)
	}
	if value != "ON" {
		return fmt.Errorf("binary logging is disabled on the server; set log_bin=ON")
	}
	return nil
}

func (c *Connector) Stop() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
