package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Relay delivers one rendered email. The production implementation
// posts to the transactional email relay; tests substitute a fake.
type Relay interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

type RelayClient struct {
	URL        string
	HTTPClient *http.Client
}

func NewRelayClient(url string) *RelayClient {
	return &RelayClient{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *RelayClient) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: relay request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("notify: decode relay response (%d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !body.Success {
		if body.Error != "" {
			return fmt.Errorf("notify: relay rejected message: %s", body.Error)
		}
		return fmt.Errorf("notify: relay returned %d", resp.StatusCode)
	}
	return nil
}
