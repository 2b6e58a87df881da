package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofpulse/evidence-ledger/pkg/jobs"
)

type sweepList struct {
	Items         []jobs.SweepRun `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Start and inspect integrity sweeps over every chain",
	}
	cmd.AddCommand(newSweepRunCmd(), newSweepListCmd(), newSweepGetCmd())
	return cmd
}

func newSweepRunCmd() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a sweep now (operator)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			var run jobs.SweepRun
			if err := client.postJSON(cmd.Context(), apiBase+"/sweeps", nil, nil, nil, &run); err != nil {
				return err
			}
			if wait {
				deadline := time.Now().Add(timeout)
				for !run.IsTerminal() {
					if time.Now().After(deadline) {
						return fmt.Errorf("sweep %s still running after %s", run.ID, timeout)
					}
					select {
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					case <-time.After(500 * time.Millisecond):
					}
					if err := client.getJSON(cmd.Context(), apiBase+"/sweeps/"+run.ID, nil, &run); err != nil {
						return err
					}
				}
			}
			if done, err := printStructured(run); done {
				return err
			}
			printRuns([]jobs.SweepRun{run})
			if len(run.InvalidChains) > 0 {
				return fmt.Errorf("%d chain(s) failed verification: %s", len(run.InvalidChains), strings.Join(run.InvalidChains, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the sweep to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "How long --wait waits")
	return cmd
}

func newSweepListCmd() *cobra.Command {
	var (
		pageSize  int
		pageToken string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if pageSize > 0 {
				q.Set("pageSize", strconv.Itoa(pageSize))
			}
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			var list sweepList
			if err := newClient().getJSON(cmd.Context(), apiBase+"/sweeps", q, &list); err != nil {
				return err
			}
			if done, err := printStructured(list); done {
				return err
			}
			printRuns(list.Items)
			if list.NextPageToken != "" {
				fmt.Fprintf(stdout, "\nnext page: --page-token %s\n", list.NextPageToken)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Runs per page (server default 20)")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}

func newSweepGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get RUN_ID",
		Short: "Show one sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run jobs.SweepRun
			if err := newClient().getJSON(cmd.Context(), apiBase+"/sweeps/"+args[0], nil, &run); err != nil {
				return err
			}
			if done, err := printStructured(run); done {
				return err
			}
			printRuns([]jobs.SweepRun{run})
			for _, key := range run.InvalidChains {
				fmt.Fprintf(stdout, "invalid: %s\n", key)
			}
			return nil
		},
	}
}

func printRuns(runs []jobs.SweepRun) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			string(r.Trigger),
			string(r.State),
			r.StartedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(r.ChainsChecked),
			strconv.Itoa(len(r.InvalidChains)),
			orDash(r.LastError),
		})
	}
	printTable([]string{"ID", "Trigger", "State", "Started", "Chains", "Invalid", "Error"}, rows)
}
