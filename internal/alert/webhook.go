package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// ScanPayload is the JSON body sent to a webhook URL when a sweep finishes.
type ScanPayload struct {
	Range         string    `json:"range"`
	ScanTimestamp time.Time `json:"scan_timestamp"`
	Status        string    `json:"status"` // "complete" or "interrupted"
	Total         int       `json:"total"`
	Probed        int       `json:"probed"`
	Active        int       `json:"active"`
	Inactive      int       `json:"inactive"`
	WriteFailures int       `json:"write_failures"`
	DurationMS    int64     `json:"duration_ms"`
}

// Fire POSTs payload as JSON to url. Returns an error if the request fails or
// the server responds with a non-2xx status.
func Fire(ctx context.Context, url string, payload ScanPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}
