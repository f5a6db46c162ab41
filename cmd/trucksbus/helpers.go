package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	trucksbus "github.com/trucksbus/marketplace/sdk/golang"
)

// getClient creates a client authenticated with the stored session.
func getClient() (*trucksbus.Client, trucksbus.Session) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	session := trucksbus.Session{UserID: cfg.Auth.UserID, Role: cfg.Auth.Role, Token: cfg.Auth.Token}
	if !session.Valid() {
		fmt.Fprintln(os.Stderr, "No session. Run 'trucksbus login --token <token> --user-id <id>' first.")
		os.Exit(1)
	}

	opts := []trucksbus.ClientOption{trucksbus.WithToken(session.Token)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, trucksbus.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.SocketURL != "" {
		opts = append(opts, trucksbus.WithSocketURL(cfg.Default.SocketURL))
	}
	return trucksbus.NewClient(opts...), session
}

// newMessenger builds a messenger logging through the CLI's slog handler.
func newMessenger(client *trucksbus.Client) *trucksbus.Messenger {
	cfg := trucksbus.DefaultRealtimeConfig()
	cfg.Logger = slog.Default()
	return client.Realtime().NewMessenger(cfg)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
