package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avaropoint/espota/internal/registry"
)

func newPlatformsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "platforms",
		Aliases: []string{"platform", "pf"},
		Short:   "Manage platforms",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List platforms with their current firmware",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ps, err := a.client.ListPlatforms(cmd.Context())
			if err != nil {
				return fmt.Errorf("list platforms: %w", err)
			}
			return a.out.print(ps, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "NAME\tVERSION\tFILE\tUPLOADED\tDOWNLOADS\tDEVICES\tOTAARGS")
				for _, p := range ps {
					uploaded := "-"
					if p.Uploaded != nil {
						uploaded = p.Uploaded.String()
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
						p.Name, orDash(p.Version), orDash(p.File), uploaded,
						p.Downloads, len(p.AccessList), orDash(p.OTAArgs))
				}
			})
		},
	}

	show := &cobra.Command{
		Use:   "devices PLATFORM",
		Short: "List the devices on a platform's access list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.client.ListPlatforms(cmd.Context())
			if err != nil {
				return fmt.Errorf("list platforms: %w", err)
			}
			name := strings.ToLower(args[0])
			for _, p := range ps {
				if p.Name != name {
					continue
				}
				macs := make([]string, 0, len(p.AccessList))
				for mac := range p.AccessList {
					macs = append(macs, mac)
				}
				sort.Strings(macs)
				return a.out.print(p.AccessList, func(tw *tabwriter.Writer) {
					fmt.Fprintln(tw, "MAC\tOTAARGS")
					for _, mac := range macs {
						fmt.Fprintf(tw, "%s\t%s\n", registry.FormatMAC(mac), orDash(p.AccessList[mac].OTAArgs))
					}
				})
			}
			return fmt.Errorf("unknown platform %q", args[0])
		},
	}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := a.client.CreatePlatform(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("create platform: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Platform %q created.\n", name)
			return nil
		},
	}

	del := &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a platform and its firmware binary",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.DeletePlatform(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("delete platform: %w", err)
			}
			w := cmd.OutOrStdout()
			if !res.Deleted {
				fmt.Fprintf(w, "Platform %q not found.\n", args[0])
				return nil
			}
			fmt.Fprintf(w, "Platform %q deleted.\n", args[0])
			if res.Warning != "" {
				fmt.Fprintln(w, "Warning:", res.Warning)
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, create, del)
	return cmd
}

func newUploadCmd(a *app) *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Publish a firmware image",
		Long: `Publish a firmware image. The platform and version are read from the
image itself; --platform overrides platform detection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Upload(cmd.Context(), args[0], platform)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			return a.out.print(res, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "Platform:\t%s\n", res.Platform)
				fmt.Fprintf(tw, "Version:\t%s\n", res.Version)
				fmt.Fprintf(tw, "File:\t%s\n", res.File)
				if res.Previous != "" {
					fmt.Fprintf(tw, "Replaced:\t%s\n", res.Previous)
				}
				if res.Warning != "" {
					fmt.Fprintf(tw, "Warning:\t%s\n", res.Warning)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "target platform (default: detect from image)")
	return cmd
}

func newAccessCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "access",
		Aliases: []string{"acl"},
		Short:   "Manage platform access lists",
	}
	add := &cobra.Command{
		Use:   "add PLATFORM MAC",
		Short: "Authorize a device on a platform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.AddAccess(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("add device: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s added to %s.\n", displayMAC(args[1]), args[0])
			return nil
		},
	}
	remove := &cobra.Command{
		Use:     "remove PLATFORM MAC",
		Aliases: []string{"rm"},
		Short:   "Revoke a device",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client.RemoveAccess(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("remove device: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed from %s.\n", displayMAC(args[1]), args[0])
			return nil
		},
	}
	cmd.AddCommand(add, remove)
	return cmd
}

func newOTAArgsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otaargs",
		Short: "Manage OTA arguments",
	}
	var mac string
	set := &cobra.Command{
		Use:   "set PLATFORM [ARGS]",
		Short: "Set the platform default, or a device override with --mac",
		Long: `Set OTA arguments. Without --mac the platform default is set; with --mac
the override for that device. Omitting ARGS clears the value.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			}
			if err := a.client.SetOTAArgs(cmd.Context(), args[0], mac, value); err != nil {
				return fmt.Errorf("set otaargs: %w", err)
			}
			target := args[0]
			if mac != "" {
				target = displayMAC(mac) + " on " + args[0]
			}
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "OTA arguments cleared for %s.\n", target)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "OTA arguments set for %s.\n", target)
			}
			return nil
		},
	}
	set.Flags().StringVar(&mac, "mac", "", "device MAC address")

	var dev device
	get := &cobra.Command{
		Use:   "get",
		Short: "Show the OTA arguments a device receives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args, err := a.client.OTAArgs(cmd.Context(), dev.platform, dev.version, dev.mac)
			if err != nil {
				return fmt.Errorf("get otaargs: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), args)
			return nil
		},
	}
	dev.addFlags(get)

	cmd.AddCommand(set, get)
	return cmd
}

// displayMAC formats a well-formed address with colons and leaves anything
// else as typed.
func displayMAC(raw string) string {
	mac := registry.NormalizeMAC(raw)
	if !registry.ValidMAC(mac) {
		return raw
	}
	return registry.FormatMAC(mac)
}
