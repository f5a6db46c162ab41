package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initSocketURL string

	loginToken  string
	loginUserID string
	loginRole   string
)

func init() {
	initCmd.Flags().StringVar(&initSocketURL, "socket-url", "", "Realtime endpoint origin (default: origin of the base URL)")
	rootCmd.AddCommand(initCmd)

	loginCmd.Flags().StringVar(&loginToken, "token", "", "Access token issued by the auth provider")
	loginCmd.Flags().StringVar(&loginUserID, "user-id", "", "User id the token belongs to")
	loginCmd.Flags().StringVar(&loginRole, "role", "USER", "User role (USER or ADMIN)")
	loginCmd.MarkFlagRequired("token")
	loginCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(loginCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <base-url>",
	Short: "Store the API base URL in ~/.trucksbus/config.toml",
	Long:  "Initialize the CLI by storing the REST base URL (for example https://api.example.com/api).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Default.BaseURL, err = cleanConfigValue("default.base_url", args[0]); err != nil {
			return err
		}
		if initSocketURL != "" {
			if cfg.Default.SocketURL, err = cleanConfigValue("default.socket_url", initSocketURL); err != nil {
				return err
			}
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Base URL saved to %s\n", path)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the session used for REST and realtime calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		role, err := cleanConfigValue("auth.role", loginRole)
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{Token: strings.TrimSpace(loginToken), UserID: loginUserID, Role: role}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Logged in as %s (%s)\n", cfg.Auth.UserID, cfg.Auth.Role)
		return nil
	},
}
