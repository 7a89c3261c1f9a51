// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"strings"
	"text/tabwriter"

	"github.com/AleutianAI/contentgraph/services/contentgraph/dimension"
	"github.com/spf13/cobra"
)

// dimensionReport describes a validated dimension configuration.
type dimensionReport struct {
	File           string           `json:"file"`
	Hash           string           `json:"hash"`
	Dimensions     []string         `json:"dimensions"`
	LegalPoints    []string         `json:"legalPoints"`
	VariationGraph []variationEntry `json:"variationGraph"`
}

type variationEntry struct {
	Point           string   `json:"point"`
	Weight          int      `json:"weight"`
	Primary         string   `json:"primaryGeneralization,omitempty"`
	Generalizations []string `json:"generalizations"`
}

func newDimensionsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dimensions",
		Short: "Inspect dimension configurations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check FILE",
		Short: "Validate a dimension file and print its dimension space",
		Long: `Parses FILE, computes the legal points and the variation graph and
prints them. Exits non-zero with the first configuration error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			report, err := checkDimensions(args[0])
			if err != nil {
				return err
			}
			return opts.render(report, func(w *tabwriter.Writer) { report.text(w) })
		},
	})
	return cmd
}

func checkDimensions(path string) (*dimensionReport, error) {
	dims, err := dimension.LoadFile(path)
	if err != nil {
		return nil, err
	}
	snap, err := dimension.Build(dims)
	if err != nil {
		return nil, err
	}

	report := &dimensionReport{
		File:        path,
		Hash:        snap.Hash(),
		Dimensions:  snap.DimensionNames(),
		LegalPoints: snap.Legal().Hashes(),
	}
	graph := snap.Graph()
	for _, p := range graph.Points() {
		entry := variationEntry{Point: p.Hash(), Weight: graph.Weight(p), Generalizations: []string{}}
		if primary, ok := graph.PrimaryGeneralization(p); ok {
			entry.Primary = primary.Hash()
		}
		for _, g := range graph.Generalizations(p) {
			entry.Generalizations = append(entry.Generalizations, g.Hash())
		}
		report.VariationGraph = append(report.VariationGraph, entry)
	}
	return report, nil
}

func (r *dimensionReport) text(w *tabwriter.Writer) {
	row(w, "file:", r.File)
	row(w, "hash:", r.Hash)
	row(w, "dimensions:", strings.Join(r.Dimensions, ", "))
	row(w, "legal points:", len(r.LegalPoints))
	row(w)
	row(w, "POINT", "WEIGHT", "PRIMARY", "FALLBACK")
	for _, e := range r.VariationGraph {
		point := e.Point
		if point == "" {
			point = "(empty)"
		}
		row(w, point, e.Weight, dash(e.Primary), dash(strings.Join(e.Generalizations, " > ")))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
