package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// fleetClient is the thin slice of fleetd's API a flashing station uses:
// nonce reservation before each frame and progress reporting after it.
// A nil fleetClient disables both.
type fleetClient struct {
	baseURL string
	device  string
	jobID   string
	http    *http.Client
}

func newFleetClient(baseURL, device, jobID string) *fleetClient {
	if baseURL == "" {
		return nil
	}
	return &fleetClient{
		baseURL: baseURL,
		device:  device,
		jobID:   jobID,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *fleetClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// reserveNonce asks fleetd to bless nonce for this station's device. A
// conflict means the nonce was used before; the caller generates a fresh
// one and tries again.
func (c *fleetClient) reserveNonce(ctx context.Context, nonce [24]byte) (bool, error) {
	if c == nil {
		return true, nil
	}
	resp, err := c.post(ctx, "/api/devices/"+c.device+"/nonces",
		map[string]string{"nonce": hex.EncodeToString(nonce[:])})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("fleet nonce reservation: unexpected status %d", resp.StatusCode)
	}
}

// reportProgress posts one progress event for the station's job. Reporting
// failures are returned to the caller to log; they never stop a flash in
// progress.
func (c *fleetClient) reportProgress(ctx context.Context, frame, total int, status, detail string, versionAfter uint16) error {
	if c == nil || c.jobID == "" {
		return nil
	}
	resp, err := c.post(ctx, "/api/jobs/"+c.jobID+"/progress", map[string]any{
		"frame":         frame,
		"total":         total,
		"status":        status,
		"detail":        detail,
		"version_after": versionAfter,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fleet progress report: unexpected status %d", resp.StatusCode)
	}
	return nil
}
