// Package sonar consumes the static-analysis backend's measures API to
// render quality-gate verdicts.
package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gateline/gateline/internal/domain"
)

// Client implements [domain.GateEvaluator] against an HTTP measures
// endpoint. The verdict itself is rendered locally from the returned
// metrics, so two evaluations of the same snapshot and ruleset always
// agree.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type measuresResponse struct {
	Coverage         float64 `json:"coverage"`
	NewBugs          int     `json:"newBugs"`
	SecurityHotspots int     `json:"securityHotspots"`
}

func (c *Client) Evaluate(ctx context.Context, revision domain.Revision, ruleset domain.GateRuleset) (domain.QualityGateVerdict, error) {
	endpoint := fmt.Sprintf("%s/api/measures?revision=%s", c.BaseURL, url.QueryEscape(revision.CommitID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.QualityGateVerdict{}, fmt.Errorf("build measures request: %w", err)
	}
	if c.Token != "" {
		req.SetBasicAuth(c.Token, "")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return domain.QualityGateVerdict{}, fmt.Errorf("%w: %v", domain.ErrAnalysisUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return domain.QualityGateVerdict{}, fmt.Errorf("%w: backend returned %s", domain.ErrAnalysisUnavailable, resp.Status)
	case resp.StatusCode != http.StatusOK:
		// A rejected request will not improve on retry.
		return domain.QualityGateVerdict{}, fmt.Errorf("analysis request rejected: %s", resp.Status)
	}

	var measures measuresResponse
	if err := json.NewDecoder(resp.Body).Decode(&measures); err != nil {
		return domain.QualityGateVerdict{}, fmt.Errorf("%w: decode measures: %v", domain.ErrAnalysisUnavailable, err)
	}

	return domain.EvaluateThresholds(domain.GateMetrics{
		Coverage:         measures.Coverage,
		NewBugs:          measures.NewBugs,
		SecurityHotspots: measures.SecurityHotspots,
	}, ruleset), nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
