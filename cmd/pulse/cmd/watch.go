package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelsocial/pulse/internal/dispatch"
	"github.com/kestrelsocial/pulse/pkg/wire"
)

var watchCmd = &cobra.Command{
	Use:   "watch <user-id> [user-id...]",
	Short: "Follow presence transitions for a set of users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		dispose := s.On(dispatch.ChannelConnection, func(ev wire.Event) {
			if ev.Kind == wire.EventIdleDisconnect {
				fmt.Println("disconnected by the server for inactivity")
			}
		})
		defer dispose()

		s.AddInterest(args)

		// Presence lives in the store, not on a callback channel, so a
		// watcher polls for transitions.
		last := make(map[string]string, len(args))
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.RemoveInterest(args)
				return nil
			case <-ticker.C:
				for _, id := range args {
					status := string(s.Presence().Status(id))
					if status == last[id] {
						continue
					}
					last[id] = status
					fmt.Printf("%s  %s is %s\n", time.Now().Format(time.TimeOnly), id, status)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
