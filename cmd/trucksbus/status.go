package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	trucksbus "github.com/trucksbus/marketplace/sdk/golang"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and backend reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL:   %s\n", valueOrDefault(cfg.Default.BaseURL, trucksbus.DefaultBaseURL+" (default)"))
		fmt.Printf("  Socket URL: %s\n", valueOrDefault(cfg.Default.SocketURL, "(derived from base URL)"))

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.UserID == "" {
			fmt.Println("  User:  (not logged in)")
			return nil
		}
		fmt.Printf("  User:  %s\n", cfg.Auth.UserID)
		fmt.Printf("  Role:  %s\n", valueOrDefault(cfg.Auth.Role, "(not set)"))
		if cfg.Auth.Token != "" {
			fmt.Printf("  Token: %s\n", maskKey(cfg.Auth.Token))
		} else {
			fmt.Println("  Token: (not set)")
			return nil
		}

		client, _ := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println()
		fmt.Println("Live status:")
		res, err := client.Messaging().GetUnreadCount(ctx)
		if err != nil {
			fmt.Printf("  Error: %v\n", err)
			return nil
		}
		fmt.Printf("  Unread: %d\n", res.Data.Count)
		return nil
	},
}

// maskKey shows the first and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
