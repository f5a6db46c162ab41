package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	conversationsJSON bool

	messagesLimit int
	messagesPage  int
	messagesJSON  bool
)

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 50, "Max messages to fetch")
	messagesCmd.Flags().IntVar(&messagesPage, "page", 1, "Page number")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(unreadCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		res, err := client.Messaging().GetConversations(ctx)
		if err != nil {
			return err
		}
		if conversationsJSON {
			return printJSON(res.Conversations)
		}
		if len(res.Conversations) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range res.Conversations {
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			title := c.OtherParticipant.DisplayName()
			if c.Listing != nil && c.Listing.Title != "" {
				title += " / " + c.Listing.Title
			}
			fmt.Printf("  %s: %s%s\n", c.ID, title, unread)
			if c.LastMessage != nil {
				fmt.Printf("      %s\n", c.LastMessage.Content)
			}
		}
		fmt.Printf("\nTotal unread: %d\n", res.TotalUnread())
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, session := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.Messaging().GetMessages(ctx, args[0], messagesPage, messagesLimit)
		if err != nil {
			return err
		}
		if messagesJSON {
			return printJSON(msgs)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			from := m.Sender.DisplayName()
			if m.SenderID == session.UserID {
				from = "me"
			} else if from == "" {
				from = m.SenderID
			}
			fmt.Printf("  [%s] %s: %s\n", m.CreatedAt, from, m.Content)
		}
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation-id>",
	Short: "Mark every message of a conversation as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Messaging().MarkAllMessagesRead(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Marked %s as read\n", args[0])
		return nil
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print the server-side unread message count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		res, err := client.Messaging().GetUnreadCount(ctx)
		if err != nil {
			return err
		}
		fmt.Println(res.Data.Count)
		return nil
	},
}
