package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	serverURL string
	outputFmt string
	roleFlag  string
	userFlag  string
	stdout    io.Writer = os.Stdout
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "CLI for the evidence ledger",
		Long: `ledgerctl appends evidence events, inspects and verifies hash chains,
and generates or checks signed chain attestations.

The server URL defaults to $LEDGER_SERVER or http://localhost:8080.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultServer := os.Getenv("LEDGER_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "Ledger server URL")
	root.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().StringVar(&roleFlag, "role", "", "Role sent as X-User-Role (operator for repair)")
	root.PersistentFlags().StringVar(&userFlag, "user", "", "User sent as X-Remote-User")

	root.AddCommand(
		newAppendCmd(),
		newHeadCmd(),
		newChainsCmd(),
		newEventsCmd(),
		newVerifyCmd(),
		newRepairCmd(),
		newAttestCmd(),
		newAuditCmd(),
		newSweepCmd(),
		newHealthCmd(),
	)
	return root
}

// addPairFlags registers the required --project and --artifact flags.
func addPairFlags(cmd *cobra.Command, projectID, artifactID *string) {
	cmd.Flags().StringVarP(projectID, "project", "p", "", "Project ID")
	cmd.Flags().StringVarP(artifactID, "artifact", "a", "", "Artifact ID")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("artifact")
}
