package main

import (
	"fmt"
	"os"

	relayconfig "github.com/md-rashed-zaman/delayrelay/services/relay-service/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "relay-service",
		Short:         "Delayed-delivery relay between Kafka topics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", relayconfig.DefaultPath,
		"properties file; RELAY_* environment variables override its values")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(pendingCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
