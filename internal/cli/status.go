package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.cmdserv.dev/cmdserv/internal/daemon"
)

// NewStatusCommand reports whether a daemon is currently running.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, running, err := daemon.Status()
			if err != nil {
				fmt.Fprintf(os.Stderr, "cmdservd: %v\n", err)
				os.Exit(1)
			}
			if !running {
				fmt.Println("daemon is not running")
				return nil
			}
			fmt.Printf("daemon running (pid %d)\n", pid)
			return nil
		},
	}
}
