// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

func newModelsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models sessions can switch to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := a.cfg.Registry()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Default string       `json:"default"`
					Models  []model.Info `json:"models"`
				}{a.cfg.DefaultModel, reg.List()})
			}
			printModels(cmd.OutOrStdout(), reg, a.cfg.DefaultModel)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// printModels writes one row per model and marks current with "*".
func printModels(w io.Writer, reg *model.Registry, current string) {
	models := reg.List()
	width := 0
	for _, m := range models {
		width = max(width, util.StringWidth(m.Name))
	}

	fmt.Fprintln(w, TitleStyle.Render("Available models"))
	for _, m := range models {
		marker := "  "
		if m.ID == current {
			marker = "* "
		}
		fmt.Fprintf(w, "%s%s  %s\n", marker, util.PadRight(m.Name, width), DimStyle.Render(m.ID))
	}
	fmt.Fprintln(w, DimStyle.Render("Switch with: model: <name or id>"))
}
