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
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/AleutianAI/contentgraph/services/contentgraph"
	"github.com/spf13/cobra"
)

// streamFingerprint is one line of the replay report.
type streamFingerprint struct {
	Stream      string `json:"stream"`
	Parent      string `json:"parent,omitempty"`
	Version     uint64 `json:"version"`
	Archived    bool   `json:"archived"`
	Fingerprint string `json:"fingerprint"`
}

type replayReport struct {
	Streams  []streamFingerprint `json:"streams"`
	Duration string              `json:"duration"`
}

func newReplayCmd(opts *cliOptions) *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild every content stream and print graph fingerprints",
		Long: `Replays every content stream of the configured event store from its
first event into a fresh graph and prints the blake3 fingerprint of each
result. Two stores holding the same events print the same fingerprints.
The store must not be in use by a running server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := replay(cmd.Context(), svc, includeArchived)
			if err != nil {
				return err
			}
			return opts.render(report, func(w *tabwriter.Writer) {
				row(w, "STREAM", "VERSION", "ARCHIVED", "FINGERPRINT")
				for _, s := range report.Streams {
					row(w, s.Stream, s.Version, s.Archived, s.Fingerprint)
				}
				row(w)
				row(w, fmt.Sprintf("%d streams replayed in %s", len(report.Streams), report.Duration))
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "include archived streams in the report")
	return cmd
}

func replay(ctx context.Context, svc *contentgraph.Service, includeArchived bool) (*replayReport, error) {
	start := time.Now()
	if err := svc.Projection().RebuildAll(ctx); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	infos, err := svc.Store().Streams(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })

	report := &replayReport{Streams: []streamFingerprint{}}
	for _, info := range infos {
		if info.Archived && !includeArchived {
			continue
		}
		fp, err := svc.Projection().Fingerprint(ctx, info.ID)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", info.ID, err)
		}
		report.Streams = append(report.Streams, streamFingerprint{
			Stream:      string(info.ID),
			Parent:      string(info.Parent),
			Version:     info.Version,
			Archived:    info.Archived,
			Fingerprint: fp,
		})
	}
	report.Duration = time.Since(start).Round(time.Millisecond).String()
	return report, nil
}
