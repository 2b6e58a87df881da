// Package main provides a minimal HTTP healthcheck binary for container
// probes. It GETs the ledger readiness endpoint and exits 0 on a 2xx
// response, 1 otherwise.
//
// Usage: healthcheck [--timeout 5s] [url]
//
// The URL defaults to $LEDGER_HEALTHCHECK_URL, then http://localhost:8080/readyz.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
)

const defaultURL = "http://localhost:8080/readyz"

func main() {
	timeout := pflag.Duration("timeout", 5*time.Second, "Request timeout")
	pflag.Parse()

	url := pflag.Arg(0)
	if url == "" {
		url = os.Getenv("LEDGER_HEALTHCHECK_URL")
	}
	if url == "" {
		url = defaultURL
	}

	if err := check(&http.Client{Timeout: *timeout}, url); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
}

func check(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}
