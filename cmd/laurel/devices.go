package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/laurel-core/internal/directory"
	"github.com/nerrad567/laurel-core/internal/infrastructure/logging"
	"github.com/nerrad567/laurel-core/internal/mesh"
)

func devicesCmd(configPath *string) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the meshes and devices published by the directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			// Keep stdout for the listing.
			logCfg := cfg.Logging
			logCfg.Output = "stderr"
			log := logging.New(logCfg, version)

			records, err := loadRecords(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json, or yaml")
	return cmd
}

// printRecords writes records in the requested format. Access keys are
// never printed.
func printRecords(w io.Writer, records []directory.Record, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)

	case "yaml":
		redacted := make([]directory.Record, len(records))
		for i, r := range records {
			r.AccessKey = ""
			redacted[i] = r
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"meshes": redacted}); err != nil {
			return err
		}
		return enc.Close()

	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MESH\tID\tMAC\tTYPE\tNAME\tCAPABILITIES")
		for _, r := range records {
			for _, d := range r.Devices {
				caps := mesh.CapabilitiesOf(mesh.TypeCode(d.TypeCode))
				fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\t%s\n",
					r.MeshAddress, d.DeviceID, d.MAC, d.TypeCode, d.Name, formatCapabilities(caps))
			}
		}
		return tw.Flush()

	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func formatCapabilities(caps []mesh.Capability) string {
	if len(caps) == 0 {
		return "-"
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	return strings.Join(names, ",")
}
