package sonar_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gateline/gateline/internal/domain"
	"github.com/gateline/gateline/internal/infrastructure/sonar"
)

func TestClient_PassingMeasures(t *testing.T) {
	var gotRevision string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRevision = r.URL.Query().Get("revision")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"coverage": 91.5, "newBugs": 0, "securityHotspots": 1}`))
	}))
	defer srv.Close()

	client := &sonar.Client{BaseURL: srv.URL}
	verdict, err := client.Evaluate(context.Background(),
		domain.Revision{CommitID: "abc123"},
		domain.GateRuleset{MinCoverage: 80, MaxNewBugs: 0, MaxSecurityHotspots: 2},
	)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if gotRevision != "abc123" {
		t.Errorf("requested revision = %q, want abc123", gotRevision)
	}
	if !verdict.Passed {
		t.Errorf("Passed = false, violations: %v", verdict.Violations)
	}
	if verdict.Metrics.Coverage != 91.5 {
		t.Errorf("Coverage = %v, want 91.5", verdict.Metrics.Coverage)
	}
}

func TestClient_FailingMeasuresAreAVerdictNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"coverage": 55.0, "newBugs": 4, "securityHotspots": 0}`))
	}))
	defer srv.Close()

	client := &sonar.Client{BaseURL: srv.URL}
	verdict, err := client.Evaluate(context.Background(),
		domain.Revision{CommitID: "def456"},
		domain.GateRuleset{MinCoverage: 80, MaxNewBugs: 0},
	)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if verdict.Passed {
		t.Error("Passed = true, want false")
	}
	if len(verdict.Violations) != 2 {
		t.Errorf("Violations = %v, want 2 entries", verdict.Violations)
	}
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &sonar.Client{BaseURL: srv.URL}
	_, err := client.Evaluate(context.Background(), domain.Revision{CommitID: "abc123"}, domain.GateRuleset{})
	if !errors.Is(err, domain.ErrAnalysisUnavailable) {
		t.Fatalf("Evaluate: got %v, want ErrAnalysisUnavailable", err)
	}
}

func TestClient_UnreachableBackendIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := &sonar.Client{BaseURL: srv.URL}
	_, err := client.Evaluate(context.Background(), domain.Revision{CommitID: "abc123"}, domain.GateRuleset{})
	if !errors.Is(err, domain.ErrAnalysisUnavailable) {
		t.Fatalf("Evaluate: got %v, want ErrAnalysisUnavailable", err)
	}
}

func TestClient_RejectedRequestIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown revision", http.StatusNotFound)
	}))
	defer srv.Close()

	client := &sonar.Client{BaseURL: srv.URL}
	_, err := client.Evaluate(context.Background(), domain.Revision{CommitID: "abc123"}, domain.GateRuleset{})
	if err == nil {
		t.Fatal("Evaluate: expected error")
	}
	if errors.Is(err, domain.ErrAnalysisUnavailable) {
		t.Errorf("a 404 must not be classified transient: %v", err)
	}
}

func TestClient_SendsToken(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _, _ = r.BasicAuth()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := &sonar.Client{BaseURL: srv.URL, Token: "squ_secret"}
	if _, err := client.Evaluate(context.Background(), domain.Revision{CommitID: "abc123"}, domain.GateRuleset{}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if gotUser != "squ_secret" {
		t.Errorf("basic auth user = %q, want the token", gotUser)
	}
}
