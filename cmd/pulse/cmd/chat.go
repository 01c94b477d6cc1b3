package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/kestrelsocial/pulse/internal/dispatch"
	"github.com/kestrelsocial/pulse/pkg/wire"
)

var chatCmd = &cobra.Command{
	Use:   "chat <room-id>",
	Short: "Join a room and exchange messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		roomID := args[0]

		disposeChat := s.On(dispatch.ChannelRoomChat, func(ev wire.Event) {
			if ev.RoomID != roomID {
				return
			}
			switch ev.Kind {
			case wire.EventRoomHistory:
				for _, m := range ev.History {
					printMessage(m)
				}
			case wire.EventRoomMessage:
				if ev.Message != nil {
					printMessage(*ev.Message)
				}
			}
		})
		defer disposeChat()

		disposeRoom := s.On(dispatch.ChannelRoom, func(ev wire.Event) {
			if ev.RoomID != roomID {
				return
			}
			names := lo.Map(ev.Members, func(m wire.RoomMember, _ int) string {
				if m.Muted {
					return m.UserID + " (muted)"
				}
				return m.UserID
			})
			fmt.Printf("* in the room: %s\n", strings.Join(names, ", "))
		})
		defer disposeRoom()

		disposeTyping := s.On(dispatch.ChannelTyping, func(ev wire.Event) {
			if ev.RoomID == roomID && ev.Typing {
				fmt.Printf("* %s is typing\n", ev.UserID)
			}
		})
		defer disposeTyping()

		s.JoinRoom(roomID)
		defer s.LeaveRoom(roomID)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				s.SendRoomMessage(roomID, line)
			}
		}
	},
}

func printMessage(m wire.RoomMessage) {
	fmt.Printf("%s  <%s> %s\n", m.SentAt.Local().Format("15:04:05"), m.Sender, m.Body)
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
