package main

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/proofpulse/evidence-ledger/pkg/attest"
	"github.com/proofpulse/evidence-ledger/pkg/canonical"
)

func newAttestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Generate, fetch and verify signed chain attestations",
	}
	cmd.AddCommand(newAttestGenerateCmd(), newAttestGetCmd(), newAttestVerifyCmd())
	return cmd
}

func newAttestGenerateCmd() *cobra.Command {
	var projectID, artifactID, issuer, save string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Sign the current head of a valid chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := pairQuery(projectID, artifactID)
			if issuer != "" {
				q.Set("issuer", issuer)
			}
			var out attest.StoredBundle
			if err := newClient().postJSON(cmd.Context(), apiBase+"/attestations/generate", q, nil, nil, &out); err != nil {
				return err
			}
			if save != "" && out.Bundle != nil {
				data, err := out.Bundle.Encode()
				if err != nil {
					return err
				}
				if err := os.WriteFile(save, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", save, err)
				}
			}
			if done, err := printStructured(out); done {
				return err
			}
			download := out.DownloadURL
			if download == "" {
				download = out.DownloadEndpoint
			}
			if out.Bundle == nil {
				return fmt.Errorf("server returned no bundle")
			}
			head, _ := out.Bundle.Payload.Field("headChainIndex")
			headHash, _ := out.Bundle.Payload.Field("headHash")
			hash, _ := headHash.AsString()
			printTable([]string{"Bundle ID", "Head Index", "Head Hash", "Download"},
				[][]string{{orDash(out.BundleID), valueText(head), hash, orDash(download)}})
			return nil
		},
	}
	addPairFlags(cmd, &projectID, &artifactID)
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer recorded in the payload (default: server identity)")
	cmd.Flags().StringVar(&save, "save", "", "Write the bundle to this file")
	return cmd
}

func newAttestGetCmd() *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "get BUNDLE_ID",
		Short: "Fetch a stored bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, data, err := newClient().do(cmd.Context(), http.MethodGet, apiBase+"/attestations/"+args[0], nil, nil, nil)
			if err != nil {
				return err
			}
			if save != "" {
				return os.WriteFile(save, data, 0o644)
			}
			bundle, err := attest.DecodeBundle(data)
			if err != nil {
				return err
			}
			if outputFmt == "yaml" {
				return printYAML(bundle)
			}
			_, err = stdout.Write(append(data, '\n'))
			return err
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "Write the bundle to this file instead of stdout")
	return cmd
}

func newAttestVerifyCmd() *cobra.Command {
	var (
		file    string
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a bundle against the live ledger, or only its signature with --offline",
		Long: `Verify checks the bundle's canonical form and Ed25519 signature, then has
the server re-verify the chain and compare its head with the attested head.

With --offline only the canonical form and signature are checked, locally,
without contacting the server. The command exits non-zero when the bundle
does not verify.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			bundle, err := attest.DecodeBundle(data)
			if err != nil {
				return err
			}

			if offline {
				sc, err := attest.CheckSignature(bundle)
				if err != nil {
					return err
				}
				result := map[string]any{
					"ok":                      sc.SignatureValid && sc.PayloadCanonicalMatches,
					"signatureValid":          sc.SignatureValid,
					"payloadCanonicalMatches": sc.PayloadCanonicalMatches,
				}
				if done, err := printStructured(result); !done {
					printTable([]string{"Check", "Result"}, [][]string{
						{"Signature", strconv.FormatBool(sc.SignatureValid)},
						{"Canonical form", strconv.FormatBool(sc.PayloadCanonicalMatches)},
					})
				} else if err != nil {
					return err
				}
				if !sc.SignatureValid || !sc.PayloadCanonicalMatches {
					return fmt.Errorf("bundle signature does not verify")
				}
				return nil
			}

			_, body, err := newClient().do(cmd.Context(), http.MethodPost, apiBase+"/attestations/verify", nil,
				bytes.NewReader(data), nil, http.StatusConflict)
			if err != nil {
				return err
			}
			var res attest.VerifyResult
			if err := decode(body, &res); err != nil {
				return err
			}
			if done, err := printStructured(res); !done {
				printVerifyResult(&res)
			} else if err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("attestation does not verify")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Bundle file, - for stdin")
	cmd.Flags().BoolVar(&offline, "offline", false, "Check only the canonical form and signature, locally")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printVerifyResult(res *attest.VerifyResult) {
	current := "-"
	if res.CurrentHeadChainIndex != nil {
		current = strconv.FormatInt(*res.CurrentHeadChainIndex, 10)
	}
	rows := [][]string{
		{"OK", strconv.FormatBool(res.OK)},
		{"Signature", strconv.FormatBool(res.SignatureValid)},
		{"Canonical form", strconv.FormatBool(res.PayloadCanonicalMatches)},
		{"Chain valid", strconv.FormatBool(res.ChainValid)},
		{"Head matches", strconv.FormatBool(res.ChainHeadMatchesAttestation)},
		{"Attested head", valueText(res.AttestationHeadChainIndex)},
		{"Current head", current},
	}
	if res.RepairedSinceIssued {
		rows = append(rows, []string{"Repaired since issue", res.LastRepairAt})
	}
	printTable([]string{"Check", "Result"}, rows)
}

// valueText renders a payload value for a table cell: numbers with their
// exact digits, strings unquoted, anything else in canonical form.
func valueText(v canonical.Value) string {
	if d, ok := v.AsDecimal(); ok {
		return d
	}
	if str, ok := v.AsString(); ok {
		return orDash(str)
	}
	if v.IsNull() {
		return "-"
	}
	out, err := canonical.Canonicalize(v)
	if err != nil {
		return "-"
	}
	return out
}
