// Command siloctl is the operator CLI: it never talks to internal packages
// directly, only to a running silod's diagnostic HTTP surface, matching
// SPEC_FULL.md's supplemented siloctl design ("talks to a running silo over
// its gRPC transport or reads its diagnostic HTTP surface").
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("siloctl: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("siloctl: GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("siloctl: POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("siloctl: POST %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type healthResponse struct {
	Status      string        `json:"status"`
	Self        siloSummary   `json:"self"`
	ActiveSilos []siloSummary `json:"active_silos"`
	Timestamp   time.Time     `json:"timestamp"`
}

type siloSummary struct {
	SiloID   string `json:"silo_id"`
	Endpoint string `json:"endpoint"`
	RegionID string `json:"region_id,omitempty"`
	ZoneID   string `json:"zone_id,omitempty"`
}

type dlqEntry struct {
	MessageID  uint64    `json:"message_id"`
	ActorType  string    `json:"actor_type"`
	ActorID    string    `json:"actor_id"`
	Cause      string    `json:"cause"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}

type migrationStatus struct {
	ActorType  string `json:"actor_type"`
	ActorID    string `json:"actor_id"`
	TargetSilo string `json:"target_silo"`
	State      string `json:"state"`
	Err        string `json:"err,omitempty"`
}
