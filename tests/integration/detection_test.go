//go:build integration
// +build integration

// Package integration runs end-to-end scenarios against a running VoxGuard.
//
// The pipeline under test:
//
//	SIP INVITE → sliding window → CDR metrics → verdict → alert → blacklist
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The server must use the default detection policy: a 5 second window,
// caller threshold 5 and probability threshold 0.5. Set VOXGUARD_TEST_URL to
// target a remote instance and VOXGUARD_TEST_UDP to also exercise the
// datagram listener.
package integration

import (
	"bytes"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
	UDPAddr string
}

func getTestConfig(t *testing.T) TestConfig {
	t.Helper()
	baseURL := os.Getenv("VOXGUARD_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	cfg := TestConfig{BaseURL: baseURL, UDPAddr: os.Getenv("VOXGUARD_TEST_UDP")}

	resp, err := http.Get(cfg.BaseURL + "/health")
	if err != nil {
		t.Skipf("VoxGuard not reachable at %s: %v", cfg.BaseURL, err)
	}
	resp.Body.Close()
	return cfg
}

// SignalResult is what POST /signals returns.
type SignalResult struct {
	Decision        string `json:"decision"`
	DistinctCallers int    `json:"distinctCallers"`
	AlertID         string `json:"alertId"`
	Alert           *Alert `json:"alert"`
	Prediction      *struct {
		Probability float64 `json:"probability"`
		IsFraud     bool    `json:"isFraud"`
	} `json:"prediction"`
}

// Alert mirrors the alert JSON.
type Alert struct {
	ID              string   `json:"id"`
	BNumber         string   `json:"bNumber"`
	FraudType       string   `json:"fraudType"`
	DistinctCallers int      `json:"distinctCallers"`
	Status          string   `json:"status"`
	ANumbers        []string `json:"aNumbers"`
	AcknowledgedBy  string   `json:"acknowledgedBy"`
	Resolution      string   `json:"resolution"`
}

// BlacklistEntry mirrors the blacklist JSON.
type BlacklistEntry struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// ============================================================================
// Helpers
// ============================================================================

func uniqueBNumber() string {
	return fmt.Sprintf("+23480%08d", rand.IntN(100_000_000))
}

func uniqueCaller(i int) string {
	return fmt.Sprintf("+23470%04d%04d", rand.IntN(10_000), i)
}

func invite(bNumber, caller, asserted, sourceIP string) []byte {
	lines := []string{
		fmt.Sprintf("INVITE sip:%s@voxguard.test SIP/2.0", bNumber),
		fmt.Sprintf("Via: SIP/2.0/UDP %s:5060;branch=z9hG4bK%s", sourceIP, uuid.NewString()[:8]),
		fmt.Sprintf("From: <sip:%s@%s>;tag=1", caller, sourceIP),
		fmt.Sprintf("To: <sip:%s@voxguard.test>", bNumber),
		"Call-ID: " + uuid.NewString(),
		"CSeq: 1 INVITE",
	}
	if asserted != "" {
		lines = append(lines, fmt.Sprintf("P-Asserted-Identity: <sip:%s@%s>", asserted, sourceIP))
	}
	lines = append(lines, "Content-Length: 0", "", "")
	return []byte(strings.Join(lines, "\r\n"))
}

func do(t *testing.T, method, url string, body []byte, out any) int {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil && len(respBody) > 0 && resp.StatusCode < 300 {
		if err := json.Unmarshal(respBody, out); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
	return resp.StatusCode
}

func submit(t *testing.T, cfg TestConfig, msg []byte) (int, SignalResult) {
	t.Helper()
	var res SignalResult
	status := do(t, http.MethodPost, cfg.BaseURL+"/signals", msg, &res)
	return status, res
}

// burst sends n INVITEs from distinct callers and returns the last result.
func burst(t *testing.T, cfg TestConfig, bNumber string, n int) (int, SignalResult) {
	t.Helper()
	var (
		status int
		res    SignalResult
	)
	for i := 0; i < n; i++ {
		status, res = submit(t, cfg, invite(bNumber, uniqueCaller(i), "", "10.9.0.1"))
	}
	return status, res
}

// ============================================================================
// SCENARIO 1: Normal traffic stays below the caller threshold
// ============================================================================

func TestBelowThreshold_NoAlert(t *testing.T) {
	/*
	   SCENARIO: Five distinct callers dial one destination inside the window.

	   EXPECTED BEHAVIOR:
	   - Distinct callers (5) do not exceed the threshold (5).
	   - Every signal is observed, none alerted.
	*/
	cfg := getTestConfig(t)

	status, res := burst(t, cfg, uniqueBNumber(), 5)

	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if res.Decision != "observed" {
		t.Errorf("Expected decision observed, got %s", res.Decision)
	}
	if res.DistinctCallers != 5 {
		t.Errorf("Expected 5 distinct callers, got %d", res.DistinctCallers)
	}
	if res.AlertID != "" {
		t.Errorf("Expected no alert, got %s", res.AlertID)
	}

	t.Logf("✓ Below threshold: decision=%s, callers=%d", res.Decision, res.DistinctCallers)
}

// ============================================================================
// SCENARIO 2: SIM box burst raises exactly one alert
// ============================================================================

func TestSIMBoxBurst_Alert(t *testing.T) {
	/*
	   SCENARIO: Six distinct callers dial one destination inside the window,
	   then a second burst of six arrives during the cooldown.

	   EXPECTED BEHAVIOR:
	   - The sixth INVITE alerts with fraud type SIM_BOX (201 Created).
	   - The alert clears the window, so the second burst is counted afresh.
	   - Its sixth INVITE is suppressed and references the same alert.
	*/
	cfg := getTestConfig(t)
	bNumber := uniqueBNumber()

	status, res := burst(t, cfg, bNumber, 6)
	if status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	if res.Decision != "alerted" || res.Alert == nil {
		t.Fatalf("Expected an alert, got decision=%s", res.Decision)
	}
	if res.Alert.FraudType != "SIM_BOX" {
		t.Errorf("Expected SIM_BOX, got %s", res.Alert.FraudType)
	}
	if res.Alert.BNumber != bNumber {
		t.Errorf("Expected alert for %s, got %s", bNumber, res.Alert.BNumber)
	}
	if len(res.Alert.ANumbers) != 6 {
		t.Errorf("Expected 6 A-numbers as evidence, got %d", len(res.Alert.ANumbers))
	}

	_, next := burst(t, cfg, bNumber, 6)
	if next.Decision != "suppressed" {
		t.Errorf("Expected suppressed during cooldown, got %s", next.Decision)
	}
	if next.AlertID != res.Alert.ID {
		t.Errorf("Suppressed signal should reference %s, got %s", res.Alert.ID, next.AlertID)
	}

	t.Logf("✓ SIM box burst: alert=%s, callers=%d", res.Alert.ID, res.Alert.DistinctCallers)
}

// ============================================================================
// SCENARIO 3: Duplicate Call-IDs are not counted twice
// ============================================================================

func TestDuplicateInvite_Idempotent(t *testing.T) {
	cfg := getTestConfig(t)
	msg := invite(uniqueBNumber(), uniqueCaller(1), "", "10.9.0.2")

	_, first := submit(t, cfg, msg)
	_, second := submit(t, cfg, msg)

	if first.Decision != "observed" {
		t.Errorf("Expected first INVITE observed, got %s", first.Decision)
	}
	if second.Decision != "duplicate" {
		t.Errorf("Expected retransmission to be duplicate, got %s", second.Decision)
	}
	if second.DistinctCallers != first.DistinctCallers {
		t.Errorf("Duplicate changed the caller count: %d → %d", first.DistinctCallers, second.DistinctCallers)
	}
}

// ============================================================================
// SCENARIO 4: Non-SIP payloads are rejected
// ============================================================================

func TestNonSIP_BadRequest(t *testing.T) {
	cfg := getTestConfig(t)

	status, _ := submit(t, cfg, []byte(`{"hello":"world"}`))
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-SIP body, got %d", status)
	}
}

// ============================================================================
// SCENARIO 5: Alert triage lifecycle
// ============================================================================

func TestAlertLifecycle(t *testing.T) {
	/*
	   PENDING → ACKNOWLEDGED → RESOLVED; a second resolve conflicts.
	*/
	cfg := getTestConfig(t)

	status, res := burst(t, cfg, uniqueBNumber(), 6)
	if status != http.StatusCreated || res.Alert == nil {
		t.Fatalf("Expected an alert to triage, got status %d", status)
	}
	id := res.Alert.ID

	var acked Alert
	if s := do(t, http.MethodPost, cfg.BaseURL+"/alerts/"+id+"/acknowledge", []byte(`{"by":"noc-analyst"}`), &acked); s != http.StatusOK {
		t.Fatalf("Acknowledge returned %d", s)
	}
	if acked.Status != "ACKNOWLEDGED" || acked.AcknowledgedBy != "noc-analyst" {
		t.Errorf("Unexpected acknowledged alert: %+v", acked)
	}

	var resolved Alert
	body := []byte(`{"by":"noc-analyst","resolution":"CONFIRMED","notes":"gateway traced"}`)
	if s := do(t, http.MethodPost, cfg.BaseURL+"/alerts/"+id+"/resolve", body, &resolved); s != http.StatusOK {
		t.Fatalf("Resolve returned %d", s)
	}
	if resolved.Status != "RESOLVED" || resolved.Resolution != "CONFIRMED" {
		t.Errorf("Unexpected resolved alert: %+v", resolved)
	}

	if s := do(t, http.MethodPost, cfg.BaseURL+"/alerts/"+id+"/resolve", body, nil); s != http.StatusConflict {
		t.Errorf("Expected 409 resolving twice, got %d", s)
	}

	if s := do(t, http.MethodGet, cfg.BaseURL+"/alerts/"+uuid.NewString(), nil, nil); s != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown alert, got %d", s)
	}

	t.Logf("✓ Alert %s resolved", id)
}

// ============================================================================
// SCENARIO 6: Blacklist management
// ============================================================================

func TestBlacklist_AddLookupRemove(t *testing.T) {
	cfg := getTestConfig(t)
	value := uniqueCaller(7)

	var entry BlacklistEntry
	body := []byte(fmt.Sprintf(`{"value":%q,"reason":"integration","durationHours":1}`, value))
	if s := do(t, http.MethodPost, cfg.BaseURL+"/blacklist/", body, &entry); s != http.StatusCreated {
		t.Fatalf("Add returned %d", s)
	}

	var lookup struct {
		Active bool            `json:"active"`
		Entry  *BlacklistEntry `json:"entry"`
	}
	if s := do(t, http.MethodGet, cfg.BaseURL+"/blacklist/"+value, nil, &lookup); s != http.StatusOK {
		t.Fatalf("Lookup returned %d", s)
	}
	if !lookup.Active {
		t.Errorf("Expected %s to be blacklisted", value)
	}

	if s := do(t, http.MethodDelete, cfg.BaseURL+"/blacklist/"+entry.ID, nil, nil); s != http.StatusNoContent {
		t.Errorf("Delete returned %d", s)
	}
}

// ============================================================================
// SCENARIO 7: Threshold validation
// ============================================================================

func TestThreshold_RejectsOutOfRange(t *testing.T) {
	cfg := getTestConfig(t)

	if s := do(t, http.MethodPut, cfg.BaseURL+"/threshold", []byte(`{"threshold":1.5}`), nil); s != http.StatusBadRequest {
		t.Errorf("Expected 400 for threshold 1.5, got %d", s)
	}

	var current struct {
		Threshold float64 `json:"threshold"`
	}
	if s := do(t, http.MethodGet, cfg.BaseURL+"/threshold", nil, &current); s != http.StatusOK {
		t.Fatalf("Get threshold returned %d", s)
	}
	if current.Threshold < 0 || current.Threshold > 1 {
		t.Errorf("Threshold out of range: %f", current.Threshold)
	}
}

// ============================================================================
// SCENARIO 8: UDP ingest reaches the detector
// ============================================================================

func TestUDPIngest_Alert(t *testing.T) {
	cfg := getTestConfig(t)
	if cfg.UDPAddr == "" {
		t.Skip("VOXGUARD_TEST_UDP not set")
	}

	conn, err := net.Dial("udp", cfg.UDPAddr)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", cfg.UDPAddr, err)
	}
	defer conn.Close()

	bNumber := uniqueBNumber()
	for i := 0; i < 6; i++ {
		if _, err := conn.Write(invite(bNumber, uniqueCaller(i), "", "10.9.0.3")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var list struct {
			Alerts []Alert `json:"alerts"`
		}
		do(t, http.MethodGet, cfg.BaseURL+"/alerts/?status=pending", nil, &list)
		for _, a := range list.Alerts {
			if a.BNumber == bNumber {
				t.Logf("✓ UDP burst raised alert %s", a.ID)
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("No alert for %s after UDP burst", bNumber)
}
