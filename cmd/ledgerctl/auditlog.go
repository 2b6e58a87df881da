package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofpulse/evidence-ledger/pkg/audit"
)

type auditPage struct {
	Items         []audit.Record `json:"items"`
	NextPageToken string         `json:"nextPageToken"`
	TotalSize     int64          `json:"totalSize"`
}

func newAuditCmd() *cobra.Command {
	var (
		action, actor, projectID, artifactID, pageToken string
		pageSize                                        int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded repair and attestation requests (operator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			for k, v := range map[string]string{
				"action":     action,
				"actor":      actor,
				"projectId":  projectID,
				"artifactId": artifactID,
				"pageToken":  pageToken,
			} {
				if v != "" {
					query.Set(k, v)
				}
			}
			if pageSize > 0 {
				query.Set("pageSize", strconv.Itoa(pageSize))
			}

			var page auditPage
			if err := newClient().getJSON(cmd.Context(), apiBase+"/audit/events", query, &page); err != nil {
				return err
			}
			if done, err := printStructured(page); done {
				return err
			}
			rows := make([][]string, 0, len(page.Items))
			for _, r := range page.Items {
				rows = append(rows, []string{
					r.CreatedAt.UTC().Format(time.RFC3339),
					r.Action,
					r.Actor,
					orDash(r.ProjectID),
					orDash(r.ArtifactID),
					r.Outcome,
					strconv.Itoa(r.StatusCode),
				})
			}
			printTable([]string{"Time", "Action", "Actor", "Project", "Artifact", "Outcome", "Status"}, rows)
			if page.NextPageToken != "" {
				fmt.Fprintf(stdout, "\nnext page: --page-token %s\n", page.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "Filter by action: "+audit.ActionRepair+" or "+audit.ActionAttestGenerate)
	cmd.Flags().StringVar(&actor, "actor", "", "Filter by actor")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Filter by project ID")
	cmd.Flags().StringVarP(&artifactID, "artifact", "a", "", "Filter by artifact ID")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Records per page (server default 20)")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}
