package protocol

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/siphon-data/siphon/engine"
	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/types"
)

// runCmd hosts one embedded engine until the source stops or the process is
// signalled.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run command",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return loadEngineOptions()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := engine.New(engineOptions,
			engine.WithRecordCallback(printRecord),
			engine.WithCompletionCallback(func(success bool, message string, err error) {
				if success {
					logger.Info(message)
					return
				}
				logger.Errorf("%s: %s", message, err)
			}),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		done := make(chan struct{})
		logger.StatsLogger(done, e.Stats)
		defer close(done)

		return e.Run(ctx)
	},
}

// printRecord forwards each consumed record to stdout as one JSON line, the
// downstream contract for piped consumers.
func printRecord(record types.Record) {
	encoded, err := json.Marshal(record)
	if err != nil {
		logger.Errorf("failed to marshal record at %s: %s", record.Position(), err)
		return
	}
	fmt.Println(string(encoded))
}
