//go:build integration

// Package integration provides end-to-end tests against a running Kestrel
// server.
//
// The tests write small extracts under the server's input directory and
// submit paths relative to it, so the server must share the test's
// filesystem:
//
//	kestrel serve --input-dir /tmp/kestrel-it &
//	KESTREL_TEST_URL=http://localhost:8080 KESTREL_TEST_INPUT_DIR=/tmp/kestrel-it \
//	  go test -tags=integration -v ./tests/integration/...
//
// The extracts score as follows with the built-in rule table:
//
// | Claim | Policy coverage | Claim amount | Days since start | Fraud | Risk score |
// |-------|-----------------|--------------|------------------|-------|------------|
// | CL1   | 2000            | 1000         | 10               | no    | 70         |
// | CL2   | 2000            | 1800         | 4                | yes   | 95         |
// | CL3   | 10000           | 500          | 1613             | no    | 2.5        |
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "integration-" + time.Now().UTC().Format("20060102150405"),
	}
}

type inputPaths struct {
	Customers string `json:"customers"`
	Policies  string `json:"policies"`
	Claims    string `json:"claims"`
	Fraud     string `json:"fraud,omitempty"`
}

type runResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Summary struct {
		ClaimsScored    int            `json:"claimsScored"`
		ClaimsAlerted   int            `json:"claimsAlerted"`
		CustomersScored int            `json:"customersScored"`
		SegmentCounts   map[string]int `json:"segmentCounts"`
	} `json:"summary"`
	Metadata struct {
		TraceID       string `json:"traceId"`
		EngineVersion string `json:"engineVersion"`
	} `json:"metadata"`
}

type claimsResponse struct {
	Claims []struct {
		ClaimID        string   `json:"claimId"`
		RiskScore      float64  `json:"riskScore"`
		AnomalyReasons []string `json:"anomalyReasons"`
	} `json:"claims"`
	Count int `json:"count"`
}

type customersResponse struct {
	Customers []struct {
		CustomerID string `json:"customerId"`
		Segment    string `json:"segment"`
	} `json:"customers"`
	Count int `json:"count"`
}

func writeExtracts(t *testing.T) inputPaths {
	t.Helper()
	inputDir := os.Getenv("KESTREL_TEST_INPUT_DIR")
	if inputDir == "" {
		t.Skip("KESTREL_TEST_INPUT_DIR not set")
	}
	dir, err := os.MkdirTemp(inputDir, "integration")
	if err != nil {
		t.Fatalf("failed to create extract dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	rel := filepath.Base(dir)
	files := map[string]string{
		"customers.csv": "customer_id\nC1\nC2\n",
		"policies.csv": "policy_id,customer_id,policy_type,coverage_amount,start_date,status,annual_premium\n" +
			"P1,C1,AUTO,2000,2024-01-01,ACTIVE,1000\n" +
			"P2,C2,HOME,10000,2020-01-01,ACTIVE,500\n",
		"claims.csv": "claim_id,policy_id,customer_id,claim_amount,claim_date\n" +
			"CL1,P1,C1,1000,2024-01-11\n" +
			"CL2,P1,C1,1800,2024-01-05\n" +
			"CL3,P2,C2,500,2024-06-01\n",
		"fraud.csv": "claim_id,is_fraudulent\nCL2,True\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return inputPaths{
		Customers: filepath.Join(rel, "customers.csv"),
		Policies:  filepath.Join(rel, "policies.csv"),
		Claims:    filepath.Join(rel, "claims.csv"),
		Fraud:     filepath.Join(rel, "fraud.csv"),
	}
}

func do(t *testing.T, config TestConfig, method, path string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, config.BaseURL+path, reader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if config.TenantID != "" {
		req.Header.Set("X-Tenant-ID", config.TenantID)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

func createRun(t *testing.T, config TestConfig) runResponse {
	t.Helper()
	var run runResponse
	status := do(t, config, http.MethodPost, "/runs", map[string]any{"input": writeExtracts(t)}, &run)
	if status != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", status)
	}
	return run
}

func TestHealth(t *testing.T) {
	config := getTestConfig()
	config.TenantID = ""

	var health struct {
		Status string `json:"status"`
	}
	if status := do(t, config, http.MethodGet, "/health", nil, &health); status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}
	if health.Status == "" {
		t.Error("expected health status")
	}

	if status := do(t, config, http.MethodGet, "/ready", nil, nil); status != http.StatusOK {
		t.Errorf("expected ready server, got %d", status)
	}
}

func TestSynchronousRun(t *testing.T) {
	config := getTestConfig()
	run := createRun(t, config)

	if run.ID == "" || run.Status != "COMPLETED" {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.Summary.ClaimsScored != 3 {
		t.Errorf("expected 3 claims scored, got %d", run.Summary.ClaimsScored)
	}
	if run.Summary.CustomersScored != 2 {
		t.Errorf("expected 2 customers scored, got %d", run.Summary.CustomersScored)
	}
	if run.Metadata.TraceID == "" {
		t.Error("expected metadata.traceId")
	}

	t.Run("ClaimsReport", func(t *testing.T) {
		var claims claimsResponse
		if status := do(t, config, http.MethodGet, "/runs/"+run.ID+"/claims", nil, &claims); status != http.StatusOK {
			t.Fatalf("expected status 200, got %d", status)
		}
		if claims.Count != 3 {
			t.Fatalf("expected 3 claims, got %d", claims.Count)
		}
		top := claims.Claims[0]
		if top.ClaimID != "CL2" || top.RiskScore != 95 {
			t.Errorf("expected CL2 with 95 first, got %s with %.2f", top.ClaimID, top.RiskScore)
		}
		if len(top.AnomalyReasons) != 3 {
			t.Errorf("expected 3 reasons on CL2, got %v", top.AnomalyReasons)
		}
	})

	t.Run("CustomersReport", func(t *testing.T) {
		var customers customersResponse
		if status := do(t, config, http.MethodGet, "/runs/"+run.ID+"/customers", nil, &customers); status != http.StatusOK {
			t.Fatalf("expected status 200, got %d", status)
		}
		segments := map[string]string{}
		for _, c := range customers.Customers {
			segments[c.CustomerID] = c.Segment
		}
		if segments["C1"] != "Risk Management" {
			t.Errorf("expected C1 in Risk Management, got %q", segments["C1"])
		}
		if segments["C2"] != "Premium Partner" {
			t.Errorf("expected C2 in Premium Partner, got %q", segments["C2"])
		}
	})

	t.Run("OtherTenantCannotRead", func(t *testing.T) {
		other := config
		other.TenantID = config.TenantID + "-other"
		if status := do(t, other, http.MethodGet, "/runs/"+run.ID, nil, nil); status != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", status)
		}
	})
}

func TestAsyncRun(t *testing.T) {
	config := getTestConfig()
	config.TenantID = "default"

	var accepted struct {
		TraceID string `json:"traceId"`
	}
	status := do(t, config, http.MethodPost, "/runs/async", map[string]any{"input": writeExtracts(t)}, &accepted)
	if status != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", status)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var list struct {
			Runs []runResponse `json:"runs"`
		}
		do(t, config, http.MethodGet, "/runs?limit=50", nil, &list)
		for _, r := range list.Runs {
			if r.Metadata.TraceID == accepted.TraceID {
				if r.Status != "COMPLETED" {
					t.Errorf("expected COMPLETED, got %s", r.Status)
				}
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("run with trace %s did not appear", accepted.TraceID)
}

func TestRunErrors(t *testing.T) {
	config := getTestConfig()

	t.Run("MissingTenant", func(t *testing.T) {
		noTenant := config
		noTenant.TenantID = ""
		if status := do(t, noTenant, http.MethodGet, "/runs", nil, nil); status != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", status)
		}
	})

	t.Run("MissingExtract", func(t *testing.T) {
		paths := writeExtracts(t)
		paths.Claims = "absent.csv"
		if status := do(t, config, http.MethodPost, "/runs", map[string]any{"input": paths}, nil); status != http.StatusUnprocessableEntity {
			t.Errorf("expected status 422, got %d", status)
		}
	})

	t.Run("PathOutsideInputDir", func(t *testing.T) {
		paths := writeExtracts(t)
		paths.Customers = "/etc/passwd"
		if status := do(t, config, http.MethodPost, "/runs", map[string]any{"input": paths}, nil); status != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", status)
		}
	})

	t.Run("UnknownRun", func(t *testing.T) {
		if status := do(t, config, http.MethodGet, "/runs/does-not-exist", nil, nil); status != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", status)
		}
	})
}
