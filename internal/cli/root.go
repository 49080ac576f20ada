// Package cli wires the cmdservd binary's cobra command tree: config
// initialization, logging setup, and the start/stop/status/run
// subcommands, following the teacher's cmd.NewRootCommand shape.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.cmdserv.dev/cmdserv/internal/core"
)

// NewDaemonRootCommand builds the cmdservd command tree.
func NewDaemonRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:     "cmdservd",
		Short:   "cmdservd - multi-client remote command execution daemon",
		Long:    `cmdservd accepts concurrent clients over a Unix domain socket and runs their commands through a fixed-size worker pool.`,
		Version: core.FormatVersion(core.Version),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			messages, err := core.InitializeConfig(cmd)
			for _, message := range messages {
				fmt.Println(message)
			}
			if err != nil {
				return err
			}
			core.SetupLogging(core.Config.GetInt("verbose"))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewStartCommand(),
		NewStopCommand(),
		NewStatusCommand(),
		newRunCommand(),
	)

	return rootCmd
}
