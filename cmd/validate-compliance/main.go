// Package main is a smoke-test utility that verifies a running QMS server's
// compliance endpoint is reachable and reporting a healthy verdict. It issues
// a real HTTP request to the full compliance report endpoint, prints the
// response, and exits 0 when the overall status is COMPLIANT, 1 when it is
// NON_COMPLIANT, and 2 on ERROR or any transport failure, making it usable
// from deployment pipelines without external tooling. The session token is
// read from QMS_TOKEN.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jinkaiteo/qms-backend/internal/compliance"
)

func main() {
	baseURL := os.Getenv("QMS_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	os.Exit(run(os.Stdout, baseURL, os.Getenv("QMS_TOKEN")))
}

func run(out io.Writer, baseURL, token string) int {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/v1/compliance/report/full", nil)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 2
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 2
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(out, "Error reading body: %v\n", err)
		return 2
	}

	fmt.Fprintf(out, "Status: %d\n", resp.StatusCode)
	fmt.Fprintf(out, "Response:\n%s\n", string(body))

	if resp.StatusCode != http.StatusOK {
		return 2
	}

	// The endpoint reports non-compliance in the body, not the status code.
	var report struct {
		OverallStatus string `json:"overall_status"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		fmt.Fprintf(out, "Error parsing report: %v\n", err)
		return 2
	}

	switch report.OverallStatus {
	case compliance.StatusCompliant:
		return 0
	case compliance.StatusNonCompliant:
		fmt.Fprintln(out, "Overall status: NON_COMPLIANT")
		return 1
	default:
		fmt.Fprintf(out, "Overall status: %s\n", report.OverallStatus)
		return 2
	}
}
