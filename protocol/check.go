package protocol

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siphon-data/siphon/engine"
	"github.com/siphon-data/siphon/logger"
)

// checkCmd validates the engine options and verifies the connector can reach
// its source.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check command",
	PreRunE: func(_ *cobra.Command, _ []string) error {
		return loadEngineOptions()
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := engine.ParseConfig(engineOptions)
		if err != nil {
			return err
		}

		connector, err := engine.BuildConnector(cfg.ConnectorClass)
		if err != nil {
			return err
		}
		if _, err := connector.Initialize(engineOptions); err != nil {
			return err
		}
		defer connector.Stop()

		// Connectors that expose a health probe get it exercised too.
		if checker, ok := connector.(interface{ Check() error }); ok {
			if err := checker.Check(); err != nil {
				return fmt.Errorf("connector check failed: %s", err)
			}
		}

		logger.Infof("check passed for engine [%s] with connector [%s]", cfg.Name, cfg.ConnectorClass)
		return nil
	},
}
