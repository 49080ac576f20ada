package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.cmdserv.dev/cmdserv/internal/daemon"
)

// newRunCommand is the hidden subcommand StartDaemon execs into a
// detached child process. It runs the daemon in the foreground of that
// child; it is never meant to be invoked directly by a user.
func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.New().Run(); err != nil {
				fmt.Fprintf(os.Stderr, "cmdservd: %v\n", err)
				os.Exit(1)
			}
			return nil
		},
	}
}
