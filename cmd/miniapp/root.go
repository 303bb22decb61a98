package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Wang-tianhao/iframe-identity-go/conf"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var configFile = ""

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "miniapp",
		Short:         "Embedded mini-app with host identity handshake",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execWithConfig(cmd, serve)
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "the .env file to load")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the handshake listener and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execWithConfig(cmd, serve)
		},
	}
	versionCmd := &cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
	root.AddCommand(serveCmd, versionCmd)
	return root
}

func execWithConfig(cmd *cobra.Command, fn func(cmd *cobra.Command, config *conf.Configuration) error) error {
	config, err := conf.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return fn(cmd, config)
}
