package protocol

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/siphon-data/siphon/engine"
)

// specCmd prints the options the engine recognizes.
var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "spec command",
	RunE: func(_ *cobra.Command, _ []string) error {
		spec := map[string]string{
			engine.OptName:                "(Required) Logical engine identifier used in logs",
			engine.OptConnectorClass:      "(Required) Registered name of the source connector",
			engine.OptOffsetStorageFile:   "(Required) Path for the file-backed offset store",
			engine.OptOffsetFlushInterval: "Offset flush period in ms; 0 flushes after every poll batch",
			engine.OptOffsetCommitTimeout: "Per-flush deadline in ms",
			engine.OptOffsetCommitPolicy:  "periodic (default) or always",
			engine.OptOffsetFlushRetries:  "Consecutive flush failures tolerated before the engine fails",
			engine.OptShutdownTimeout:     "Worker termination deadline in ms",
			engine.OptQueueSize:           "Record queue capacity",
			engine.OptPollInterval:        "Consumer wait interval in ms",
			engine.OptDdlOnError:          "DDL parse failure policy: fail, continue or skip",
		}
		encoded, err := json.MarshalIndent(spec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(encoded))
		return nil
	},
}
