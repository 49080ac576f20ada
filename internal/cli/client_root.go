package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.cmdserv.dev/cmdserv/internal/client"
	"go.cmdserv.dev/cmdserv/internal/core"
)

// NewClientRootCommand builds the cmdserv command tree. It takes no
// subcommands; any positional argument is treated as a usage error that
// exits 0 rather than 1, per the original driver's own argument check.
func NewClientRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:     "cmdserv",
		Short:   "cmdserv - interactive client for cmdservd",
		Version: core.FormatVersion(core.Version),
		Args:    cobra.ArbitraryArgs,
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
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				cmd.Usage()
				os.Exit(0)
			}
			os.Exit(client.Run())
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	return rootCmd
}
