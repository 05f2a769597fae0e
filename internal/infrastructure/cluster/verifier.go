// Package cluster polls live environment state to confirm that the
// GitOps controller converged a deployment.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gateline/gateline/internal/domain"
)

// DefaultPollInterval spaces observation polls unless configured.
const DefaultPollInterval = 5 * time.Second

// Observation is one sample of an environment's live state.
type Observation struct {
	Reference string `json:"reference"`
	Healthy   bool   `json:"healthy"`
}

// Verifier implements [domain.SyncVerifier] against an HTTP status
// endpoint exposing the observed reference and health probe per
// environment.
type Verifier struct {
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

func (v *Verifier) Verify(ctx context.Context, env domain.Environment, expected domain.PublishedReference, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := v.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	converged := false
	for {
		obs, err := v.observe(ctx, env)
		if err == nil {
			if obs.Reference == string(expected) {
				if obs.Healthy {
					return nil
				}
				converged = true
			}
		}

		select {
		case <-ctx.Done():
			if converged {
				return fmt.Errorf("%w: %s runs %s but its health probe is red", domain.ErrSyncUnhealthy, env, expected)
			}
			return fmt.Errorf("%w: %s never converged to %s within %s", domain.ErrSyncTimeout, env, expected, timeout)
		case <-ticker.C:
		}
	}
}

func (v *Verifier) observe(ctx context.Context, env domain.Environment) (Observation, error) {
	endpoint := fmt.Sprintf("%s/environments/%s/status", v.BaseURL, url.PathEscape(string(env)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Observation{}, err
	}
	resp, err := v.httpClient().Do(req)
	if err != nil {
		return Observation{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Observation{}, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	var obs Observation
	if err := json.NewDecoder(resp.Body).Decode(&obs); err != nil {
		return Observation{}, err
	}
	return obs, nil
}

func (v *Verifier) httpClient() *http.Client {
	if v.HTTPClient != nil {
		return v.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
