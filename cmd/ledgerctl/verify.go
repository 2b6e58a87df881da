package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

const verifyAllConcurrency = 8

func newVerifyCmd() *cobra.Command {
	var (
		projectID, artifactID string
		all                   bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify one chain, or every chain with --all",
		Long: `Verify recomputes every hash of a chain on the server and reports the
first mismatch. The command exits non-zero when any verified chain is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			var reports []*ledger.VerifyReport
			switch {
			case all:
				var err error
				if reports, err = verifyAll(cmd.Context(), client); err != nil {
					return err
				}
			case projectID != "" && artifactID != "":
				var report ledger.VerifyReport
				if err := client.getJSON(cmd.Context(), apiBase+"/chains/verify", pairQuery(projectID, artifactID), &report); err != nil {
					return err
				}
				reports = []*ledger.VerifyReport{&report}
			default:
				return fmt.Errorf("either --all or both --project and --artifact are required")
			}

			var out any = reports
			if !all {
				out = reports[0]
			}
			if done, err := printStructured(out); done {
				if err != nil {
					return err
				}
				return invalidCount(reports)
			}
			printReports(reports)
			return invalidCount(reports)
		},
	}
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID")
	cmd.Flags().StringVarP(&artifactID, "artifact", "a", "", "Artifact ID")
	cmd.Flags().BoolVar(&all, "all", false, "Verify every chain")
	cmd.MarkFlagsMutuallyExclusive("all", "project")
	return cmd
}

// verifyAll lists chains and verifies each with bounded concurrency,
// keeping the listing order.
func verifyAll(ctx context.Context, client *ledgerClient) ([]*ledger.VerifyReport, error) {
	var list chainList
	if err := client.getJSON(ctx, apiBase+"/chains", nil, &list); err != nil {
		return nil, err
	}
	reports := make([]*ledger.VerifyReport, len(list.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyAllConcurrency)
	for i, c := range list.Items {
		g.Go(func() error {
			var report ledger.VerifyReport
			if err := client.getJSON(gctx, apiBase+"/chains/verify", pairQuery(c.ProjectID, c.ArtifactID), &report); err != nil {
				return fmt.Errorf("verify %s: %w", ledger.ChainKey(c.ProjectID, c.ArtifactID), err)
			}
			reports[i] = &report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func printReports(reports []*ledger.VerifyReport) {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{
			r.ProjectID, r.ArtifactID,
			strconv.FormatBool(r.Valid),
			strconv.FormatInt(r.TotalEvents, 10),
			formatIndex(r.HeadChainIndex),
			formatIndex(r.FirstMismatchIndex),
			orDash(r.Reason),
		})
	}
	printTable([]string{"Project", "Artifact", "Valid", "Events", "Head", "Mismatch", "Reason"}, rows)
}

func invalidCount(reports []*ledger.VerifyReport) error {
	n := 0
	for _, r := range reports {
		if !r.Valid {
			n++
		}
	}
	if n > 0 {
		return fmt.Errorf("%d of %d chain(s) failed verification", n, len(reports))
	}
	return nil
}

func newRepairCmd() *cobra.Command {
	var (
		projectID, artifactID string
		yes                   bool
	)
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Recompute the integrity hashes of a chain (operator)",
		Long: `Repair rewrites prevHash and eventHash of every row whose stored values
differ from the current canonical form. Attestations issued before the
repair will no longer verify against rewritten hashes.

Requires --yes and the operator role (--role operator in header auth mode).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("repair invalidates previously issued attestations; rerun with --yes to proceed")
			}
			var res ledger.RepairResult
			if err := newClient().postJSON(cmd.Context(), apiBase+"/chains/repair", pairQuery(projectID, artifactID), nil, nil, &res); err != nil {
				return err
			}
			if done, err := printStructured(res); done {
				return err
			}
			fmt.Fprintf(stdout, "rows rewritten: %d\nwarning: %s\n\n", res.RowsRewritten, res.Warning)
			if res.Report != nil {
				printReports([]*ledger.VerifyReport{res.Report})
			}
			return nil
		},
	}
	addPairFlags(cmd, &projectID, &artifactID)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the repair")
	return cmd
}
