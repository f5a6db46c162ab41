package main

import (
	"fmt"
	"net/url"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configReveal bool

func init() {
	configShowCmd.Flags().BoolVar(&configReveal, "reveal", false, "Print the token unmasked")

	configCmd.AddCommand(configShowCmd, configSetCmd, configUnsetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage TrucksBus configuration",
	Long:  "View or modify the CLI configuration stored in ~/.trucksbus/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out, err := renderConfig(cfg, configReveal)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: trucksbus config set default.socket_url wss://rt.example.com",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value, err := cleanConfigValue(key, args[1])
		if err != nil {
			return err
		}
		if err := updateConfig(key, value); err != nil {
			return err
		}
		if key == "auth.token" {
			value = maskKey(value)
		}
		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Clear a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := updateConfig(args[0], ""); err != nil {
			return err
		}
		fmt.Printf("Cleared %s\n", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the location of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func updateConfig(key, value string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// cleanConfigValue validates value for key and returns its stored form.
// Endpoints must be absolute URLs of the right scheme and lose a trailing
// slash; roles are stored upper case.
func cleanConfigValue(key, value string) (string, error) {
	switch key {
	case "default.base_url":
		return cleanURL(key, value, "http", "https")
	case "default.socket_url":
		return cleanURL(key, value, "ws", "wss", "http", "https")
	case "auth.role":
		role := strings.ToUpper(strings.TrimSpace(value))
		if role != "USER" && role != "ADMIN" {
			return "", fmt.Errorf("auth.role must be USER or ADMIN, got %q", value)
		}
		return role, nil
	}
	return value, nil
}

func cleanURL(key, value string, schemes ...string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%s must be an absolute URL, got %q", key, value)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return strings.TrimRight(u.String(), "/"), nil
		}
	}
	return "", fmt.Errorf("%s must use one of %s, got %q", key, strings.Join(schemes, ", "), u.Scheme)
}

// renderConfig encodes cfg as TOML, masking the token unless reveal is set.
func renderConfig(cfg *Config, reveal bool) (string, error) {
	shown := *cfg
	if !reveal && shown.Auth.Token != "" {
		shown.Auth.Token = maskKey(shown.Auth.Token)
	}
	data, err := toml.Marshal(&shown)
	if err != nil {
		return "", fmt.Errorf("cannot marshal config: %w", err)
	}
	return string(data), nil
}
