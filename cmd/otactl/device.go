package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avaropoint/espota/internal/logsink"
	"github.com/avaropoint/espota/internal/protocol"
	"github.com/avaropoint/espota/internal/store"
)

// device holds the identity flags of a simulated device request.
type device struct {
	platform string
	version  string
	mac      string
}

func (d *device) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.platform, "dev", "", "device platform")
	cmd.Flags().StringVar(&d.version, "ver", "", "firmware version on the device")
	cmd.Flags().StringVar(&d.mac, "mac", "", "device station MAC")
	_ = cmd.MarkFlagRequired("dev")
	_ = cmd.MarkFlagRequired("ver")
	_ = cmd.MarkFlagRequired("mac")
}

func newCheckCmd(a *app) *cobra.Command {
	var (
		dev    device
		output string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Request an update the way a device does",
		Long: `Send an update check with the device headers. When firmware is served it
is saved to --out, or discarded if no file is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var w io.Writer = io.Discard
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close() //nolint:errcheck
				w = f
			}
			res, err := a.client.Check(cmd.Context(), dev.platform, dev.version, dev.mac, w)
			if err != nil {
				return fmt.Errorf("update check: %w", err)
			}
			out := cmd.OutOrStdout()
			if res.Status == http.StatusNotModified {
				fmt.Fprintln(out, "Up to date.")
				return nil
			}
			fmt.Fprintf(out, "Update served: %d bytes, md5 %s\n", res.Bytes, res.MD5)
			if output != "" {
				fmt.Fprintf(out, "Saved to %s\n", output)
			}
			return nil
		},
	}
	dev.addFlags(cmd)
	cmd.Flags().StringVar(&output, "out", "", "write served firmware to this file")
	return cmd
}

func newLogCmd(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "log TEXT...",
		Short: "Append a line to a device log stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.client.Log(cmd.Context(), id, strings.Join(args, " ")+"\n")
			if err != nil {
				return fmt.Errorf("log: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged to %s.\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "log identity (default "+logsink.DefaultIdentity+")")
	return cmd
}

func newTailCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tail [ID]",
		Short: "Follow a device log stream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := logsink.DefaultIdentity
			if len(args) == 1 {
				id = args[0]
			}
			out := cmd.OutOrStdout()
			return a.client.Tail(cmd.Context(), id, func(rec protocol.LogRecord) {
				fmt.Fprintf(out, "%s %s\n", rec.Time.Local().Format(logsink.RecordTimeLayout), rec.Line)
			})
		},
	}
}

func newEventsCmd(a *app) *cobra.Command {
	var f store.EventFilter
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recorded events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := a.client.Events(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			return a.out.print(events, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "TIME\tKIND\tPLATFORM\tMAC\tVERSION\tDETAIL")
				for _, e := range events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						e.Time.Local().Format(logsink.RecordTimeLayout), e.Kind, e.Platform,
						displayMAC(e.MAC), e.Version, e.Detail)
				}
			})
		},
	}
	cmd.Flags().StringVar(&f.Platform, "platform", "", "only events for this platform")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "only events of this kind")
	cmd.Flags().IntVar(&f.Limit, "limit", store.DefaultLimit, "maximum number of events")
	return cmd
}
