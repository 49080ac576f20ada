package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.cmdserv.dev/cmdserv/internal/daemon"
)

// NewStartCommand launches a detached daemon and waits for the startup
// rendezvous before returning.
func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.StartDaemon(); err != nil {
				fmt.Fprintf(os.Stderr, "cmdservd: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("daemon started")
			return nil
		},
	}
}
