package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avaropoint/espota/internal/version"
)

// Environment defaults for the global flags.
const (
	envServer = "ESPOTA_SERVER"
	envToken  = "ESPOTA_TOKEN"
)

// app is the state shared by every command.
type app struct {
	server string
	token  string
	output string

	client *Client
	out    *printer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "otactl",
		Short: "Manage an ESP8266 OTA update server",
		Long: `otactl administers platforms, firmware, access lists and OTA arguments
on an OTA update server, and can act as a device for testing.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.server == "" {
				return fmt.Errorf("no server: pass --server or set %s", envServer)
			}
			p, err := newPrinter(cmd.OutOrStdout(), a.output)
			if err != nil {
				return err
			}
			a.out = p
			a.client = NewClient(a.server, a.token)
			return nil
		},
	}

	server := os.Getenv(envServer)
	if server == "" {
		server = "http://localhost:5000"
	}
	root.PersistentFlags().StringVar(&a.server, "server", server, "server base URL (env "+envServer+")")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv(envToken), "admin token (env "+envToken+")")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", formatTable, "output format: table, json, yaml")

	root.AddCommand(
		newPlatformsCmd(a),
		newUploadCmd(a),
		newAccessCmd(a),
		newOTAArgsCmd(a),
		newCheckCmd(a),
		newLogCmd(a),
		newTailCmd(a),
		newEventsCmd(a),
	)
	return root
}
