package protocol

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siphon-data/siphon/logger"
	"github.com/siphon-data/siphon/utils"
)

var (
	configPath string
	noSave     bool

	engineOptions map[string]string

	commands = []*cobra.Command{}
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "siphon",
	Short: "root command",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return fmt.Errorf("'%s' is an invalid command. Use 'siphon --help' to display usage guide", args[0])
	},
}

// loadEngineOptions reads the engine option map from the --config file and
// points the artifact folder at its directory.
func loadEngineOptions() error {
	if configPath == "" {
		return fmt.Errorf("--config not passed")
	}

	engineOptions = map[string]string{}
	if err := utils.UnmarshalFile(configPath, &engineOptions); err != nil {
		return err
	}

	if !noSave {
		viper.Set("CONFIG_FOLDER", filepath.Dir(configPath))
	}
	// logger uses CONFIG_FOLDER
	logger.Init()
	return nil
}

// CreateRootCommand assembles the CLI; hosts execute the returned command.
func CreateRootCommand() *cobra.Command {
	RootCmd.AddCommand(commands...)
	return RootCmd
}

func init() {
	commands = append(commands, specCmd, checkCmd, runCmd)
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "", "", "(Required) Engine options file")
	RootCmd.PersistentFlags().BoolVarP(&noSave, "no-save", "", false, "(Optional) Flag to skip logging artifacts in file")
	// Disable Cobra CLI's built-in usage and error handling
	RootCmd.SilenceUsage = true
	RootCmd.SilenceErrors = true
}
