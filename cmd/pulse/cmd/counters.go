package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Print the unread counters for the current identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		s.Refresh()
		c := s.Counters()
		fmt.Printf("notifications: %d\n", c.Notifications)
		for category, n := range c.Messages {
			fmt.Printf("messages/%s: %d\n", category, n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countersCmd)
}
