package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "lanvault",
		Short: "lanvault — LAN file gateway for paired devices",
		Long:  "Serves a sandboxed storage folder to paired mobile devices over the local network: pairing, live notification channels, and chunked file transfer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(
		serveCmd(),
		fingerprintCmd(),
		devicesCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
