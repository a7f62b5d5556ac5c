// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuGH/qtrader/internal/manifest"
)

func newManifestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with pinned dependency manifests",
	}

	var asJSON bool
	check := &cobra.Command{
		Use:   "check FILE",
		Short: "Parse and validate a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.ParseFile(args[0])
			if err != nil {
				return err
			}
			issues := m.Validate()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"categories": m.Categories(),
					"issues":     issues,
				}); err != nil {
					return err
				}
			} else {
				for _, c := range m.Categories() {
					fmt.Fprintf(out, "%s (%d)\n", c.Name, len(c.Entries))
					for _, e := range c.Entries {
						fmt.Fprintf(out, "  %s==%s\n", e.Name, e.Version)
					}
				}
				for _, i := range issues {
					fmt.Fprintln(out, i.String())
				}
			}

			if len(issues) > 0 {
				return fmt.Errorf("%s: %d issue(s)", args[0], len(issues))
			}
			return nil
		},
	}
	check.Flags().BoolVar(&asJSON, "json", false, "print categories and issues as JSON")

	cmd.AddCommand(check)
	return cmd
}
