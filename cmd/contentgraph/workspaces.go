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
	"text/tabwriter"

	"github.com/AleutianAI/contentgraph/services/contentgraph"
	"github.com/AleutianAI/contentgraph/services/contentgraph/workspace"
	"github.com/spf13/cobra"
)

func newWorkspacesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List workspaces with their pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := opts.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := workspaceStatuses(cmd.Context(), svc)
			if err != nil {
				return err
			}
			return opts.render(statuses, func(w *tabwriter.Writer) {
				row(w, "NAME", "KIND", "BASE", "OWNER", "PENDING", "OUTDATED", "STREAM")
				for _, s := range statuses {
					ws := s.Workspace
					row(w, ws.Name, ws.Kind, dash(ws.BaseWorkspace), dash(ws.Owner),
						s.PendingCommands, s.Outdated, ws.ContentStreamID)
				}
			})
		},
	}
}

func workspaceStatuses(ctx context.Context, svc *contentgraph.Service) ([]workspace.Status, error) {
	list, err := svc.Workspaces().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]workspace.Status, 0, len(list))
	for _, ws := range list {
		status, err := svc.Workspaces().Status(ctx, ws.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}
