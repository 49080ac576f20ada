package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go.cmdserv.dev/cmdserv/internal/daemon"
)

const stopTimeout = 10 * time.Second

// NewStopCommand sends SIGTERM to the running daemon and waits for its
// registry segment to be removed.
func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := daemon.StopDaemon(stopTimeout); err != nil {
				fmt.Fprintf(os.Stderr, "cmdservd: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("daemon stopped")
			return nil
		},
	}
}
