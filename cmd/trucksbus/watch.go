package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	trucksbus "github.com/trucksbus/marketplace/sdk/golang"
)

var (
	watchRoute  string
	watchActive string
	watchJSON   bool
)

func init() {
	watchCmd.Flags().StringVar(&watchRoute, "route", "/", "Route the client pretends to be on (badge updates are ignored on messaging routes)")
	watchCmd.Flags().StringVar(&watchActive, "active", "", "Conversation treated as open on screen")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print events as JSON lines")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream realtime messages and notifications until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getClient()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := newMessenger(client)
		defer m.Close()

		m.SetRoute(watchRoute)
		if watchActive != "" {
			m.SetActiveConversationID(watchActive)
		}

		m.OnStateChange(trucksbus.NewSubscriber(func(s trucksbus.RealtimeState) {
			printEvent("state", s, "connection %s", s)
		}))
		m.OnMessage(trucksbus.NewSubscriber(func(msg trucksbus.Message) {
			from := msg.Sender.DisplayName()
			if from == "" {
				from = msg.SenderID
			}
			printEvent("message", msg, "[%s] %s: %s", msg.ConversationID, from, msg.Content)
		}))
		m.OnTyping(trucksbus.NewSubscriber(func(ev trucksbus.TypingEvent) {
			verb := "stopped typing"
			if ev.Typing {
				verb = "is typing"
			}
			who := ev.UserName
			if who == "" {
				who = ev.UserID
			}
			printEvent("typing", ev, "[%s] %s %s", ev.ConversationID, who, verb)
		}))
		m.OnNotification(trucksbus.NewSubscriber(func(n trucksbus.Notification) {
			printEvent("notification", n, "%s: %s", n.Title, n.Content)
		}))
		m.OnUnreadChange(trucksbus.NewSubscriber(func(count int) {
			printEvent("unread", count, "unread %d", count)
		}))

		if err := m.Connect(session); err != nil {
			return err
		}

		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "Stopping...")
		m.Disconnect()
		return nil
	},
}

func printEvent(kind string, v any, format string, args ...any) {
	if watchJSON {
		data, err := json.Marshal(map[string]any{"event": kind, "data": v})
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
}
