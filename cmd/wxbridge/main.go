package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/wxbridge/internal/config"
	"github.com/memohai/wxbridge/internal/version"
)

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wxbridge",
		Short: "Relay a personal messaging account through a Telegram bot",
		Long: `wxbridge runs one puppet session per Telegram chat. Tenants log in by
scanning a QR code, then exchange messages with their contacts and groups
through the bot.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("wxbridge %s\n", version.GetInfo()))
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default $CONFIG_PATH or "+config.DefaultConfigPath+")")

	root.AddCommand(newServeCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// resolveConfigPath prefers the flag, then CONFIG_PATH, then the default file.
func resolveConfigPath() string {
	if path := strings.TrimSpace(configFile); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		return path
	}
	return config.DefaultConfigPath
}
