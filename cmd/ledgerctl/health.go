package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health and readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			var healthResp map[string]any
			if err := client.getJSON(cmd.Context(), "/healthz", nil, &healthResp); err != nil {
				return err
			}
			// A 503 from /readyz still carries a component breakdown.
			var readyResp map[string]any
			_, data, err := client.do(cmd.Context(), http.MethodGet, "/readyz", nil, nil, nil, http.StatusServiceUnavailable)
			if err == nil {
				err = decode(data, &readyResp)
			}
			if err != nil {
				readyResp = map[string]any{"status": "unknown", "error": err.Error()}
			}

			combined := map[string]any{"health": healthResp, "readiness": readyResp}
			if done, err := printStructured(combined); done {
				return err
			}
			status, _ := healthResp["status"].(string)
			uptime, _ := healthResp["uptime"].(string)
			ready, _ := readyResp["status"].(string)
			printTable([]string{"Check", "Status"}, [][]string{
				{"Liveness", status},
				{"Uptime", uptime},
				{"Readiness", ready},
			})
			if ready != "ready" {
				return fmt.Errorf("server is not ready")
			}
			return nil
		},
	}
}
