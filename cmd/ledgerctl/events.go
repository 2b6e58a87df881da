package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/proofpulse/evidence-ledger/pkg/idempotency"
	"github.com/proofpulse/evidence-ledger/pkg/ledger"
)

type appendResponse struct {
	OK bool `json:"ok"`
	ledger.AppendResult
}

func newAppendCmd() *cobra.Command {
	var (
		file, projectID, artifactID, eventType, source string
		eventID, timestamp, payload, idemKey             string
	)
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append an evidence event",
		Long: `Append an event either from a JSON file (--file, "-" for stdin) or from
field flags. With field flags, eventId defaults to a new UUID and timestamp
to now.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if file != "" {
				raw, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				if !json.Valid(raw) {
					return fmt.Errorf("%s is not valid JSON", file)
				}
				body = json.RawMessage(raw)
			} else {
				ev, err := eventFromFlags(projectID, artifactID, eventType, source, eventID, timestamp, payload)
				if err != nil {
					return err
				}
				body = ev
			}

			headers := map[string]string{}
			if idemKey != "" {
				headers[idempotency.Header] = idemKey
			}
			var res appendResponse
			if err := newClient().postJSON(cmd.Context(), apiBase+"/events", nil, body, headers, &res); err != nil {
				return err
			}
			if done, err := printStructured(res); done {
				return err
			}
			printTable([]string{"Event ID", "Chain Index", "Event Hash"},
				[][]string{{res.EventID, strconv.FormatInt(res.ChainIndex, 10), res.EventHash}})
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON event file, - for stdin")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID")
	cmd.Flags().StringVarP(&artifactID, "artifact", "a", "", "Artifact ID")
	cmd.Flags().StringVar(&eventType, "type", "", "Event type")
	cmd.Flags().StringVar(&source, "source", "ledgerctl", "Event source")
	cmd.Flags().StringVar(&eventID, "event-id", "", "Event ID (default: new UUID)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "RFC 3339 timestamp (default: now)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload object")
	cmd.Flags().StringVar(&idemKey, "idempotency-key", "", "Idempotency-Key header for safe retries")
	cmd.MarkFlagsMutuallyExclusive("file", "project")
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func eventFromFlags(projectID, artifactID, eventType, source, eventID, timestamp, payload string) (map[string]any, error) {
	if projectID == "" || artifactID == "" || eventType == "" {
		return nil, fmt.Errorf("--project, --artifact and --type are required without --file")
	}
	if eventID == "" {
		eventID = uuid.NewString()
	}
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("--payload is not valid JSON")
	}
	return map[string]any{
		"schemaVersion": ledger.SupportedSchemaVersion,
		"eventId":       eventID,
		"projectId":     projectID,
		"artifactId":    artifactID,
		"source":        source,
		"timestamp":     timestamp,
		"type":          eventType,
		"payload":       json.RawMessage(payload),
	}, nil
}

func newHeadCmd() *cobra.Command {
	var projectID, artifactID string
	cmd := &cobra.Command{
		Use:   "head",
		Short: "Show the head of a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			var head ledger.ChainHead
			if err := newClient().getJSON(cmd.Context(), apiBase+"/chains/head", pairQuery(projectID, artifactID), &head); err != nil {
				return err
			}
			if done, err := printStructured(head); done {
				return err
			}
			printTable([]string{"Project", "Artifact", "Chain Index", "Event Hash"},
				[][]string{{head.ProjectID, head.ArtifactID, strconv.FormatInt(head.ChainIndex, 10), head.EventHash}})
			return nil
		},
	}
	addPairFlags(cmd, &projectID, &artifactID)
	return cmd
}

type chainList struct {
	Items []ledger.ChainSummary `json:"items"`
	Size  int                   `json:"size"`
}

func newChainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list chainList
			if err := newClient().getJSON(cmd.Context(), apiBase+"/chains", nil, &list); err != nil {
				return err
			}
			if done, err := printStructured(list); done {
				return err
			}
			rows := make([][]string, 0, len(list.Items))
			for _, c := range list.Items {
				rows = append(rows, []string{c.ProjectID, c.ArtifactID,
					strconv.FormatInt(c.TotalEvents, 10), strconv.FormatInt(c.HeadChainIndex, 10)})
			}
			printTable([]string{"Project", "Artifact", "Events", "Head Index"}, rows)
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	var (
		projectID, artifactID, pageToken string
		pageSize                         int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List the events of a chain in chain order",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := pairQuery(projectID, artifactID)
			if pageSize > 0 {
				q.Set("pageSize", strconv.Itoa(pageSize))
			}
			if pageToken != "" {
				q.Set("pageToken", pageToken)
			}
			var page ledger.EventPage
			if err := newClient().getJSON(cmd.Context(), apiBase+"/chains/events", q, &page); err != nil {
				return err
			}
			if done, err := printStructured(page); done {
				return err
			}
			rows := make([][]string, 0, len(page.Items))
			for _, ev := range page.Items {
				rows = append(rows, []string{strconv.FormatInt(ev.ChainIndex, 10), ev.EventID,
					ev.Type, ev.Timestamp, truncate(ev.EventHash, 16)})
			}
			printTable([]string{"Index", "Event ID", "Type", "Timestamp", "Event Hash"}, rows)
			if page.NextPageToken != "" {
				fmt.Fprintf(stdout, "\nnext page: --page-token %s\n", page.NextPageToken)
			}
			return nil
		},
	}
	addPairFlags(cmd, &projectID, &artifactID)
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Events per page (server default 100)")
	cmd.Flags().StringVar(&pageToken, "page-token", "", "Token from a previous page")
	return cmd
}
