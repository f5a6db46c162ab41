package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	trucksbus "github.com/trucksbus/marketplace/sdk/golang"
)

var sendTimeout time.Duration

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 20*time.Second, "How long to wait for the server to confirm")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message...>",
	Short: "Send a message over the realtime channel",
	Long:  "Send a message over the realtime channel. If the server does not acknowledge in time the message is sent through the REST API instead.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getClient()
		convID := args[0]
		content := strings.Join(args[1:], " ")

		m := newMessenger(client)
		defer m.Close()

		connected := make(chan struct{})
		var once sync.Once
		m.OnStateChange(trucksbus.NewSubscriber(func(s trucksbus.RealtimeState) {
			if s == trucksbus.StateConnected {
				once.Do(func() { close(connected) })
			}
		}))
		if err := m.Connect(session); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		select {
		case <-connected:
		case <-ctx.Done():
			return fmt.Errorf("could not connect: %w", trucksbus.ErrNotConnected)
		}

		acked := make(chan trucksbus.Message, 1)
		if !m.SendMessage(ctx, convID, content, func(msg trucksbus.Message) {
			acked <- msg
		}) {
			return trucksbus.ErrNotConnected
		}

		select {
		case msg := <-acked:
			fmt.Printf("Sent %s\n", msg.ID)
			return nil
		case <-ctx.Done():
			return fmt.Errorf("message was not confirmed within %s", sendTimeout)
		}
	},
}
