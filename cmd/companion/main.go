// Companion - presence companion for the Riot chat service.
//
// Companion holds a chat session on behalf of the signed-in player, tracks
// friends' presence, broadcasts modified presence on request and exposes
// the session over a local REST API, a websocket feed and MQTT.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	AppName    = "Companion"
	AppVersion = "1.0.0"
	Banner     = `
   ____                                  _
  / ___|___  _ __ ___  _ __   __ _ _ __ (_) ___  _ __
 | |   / _ \| '_ ' _ \| '_ \ / _' | '_ \| |/ _ \| '_ \
 | |__| (_) | | | | | | |_) | (_| | | | | | (_) | | | |
  \____\___/|_| |_| |_| .__/ \__,_|_| |_|_|\___/|_| |_|
                      |_|  v%s
 Presence companion for Riot chat
`
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "companion",
		Short:        "Presence companion for the Riot chat service",
		SilenceUsage: true,
	}

	serve := newServeCmd()
	rootCmd.AddCommand(serve, newVersionCmd())

	// running the bare binary starts the service
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", AppName, AppVersion)
			return err
		},
	}
}
