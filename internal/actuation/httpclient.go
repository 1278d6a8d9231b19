package actuation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pipewatch/internal/models"
)

// HTTPClient talks to the actuator (or simulator) over HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a client for the actuator at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type commandRequest struct {
	CommandID string `json:"command_id"`
	Action    string `json:"action"`
}

type commandResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// Send posts the command to the actuator. A 2xx response with
// acknowledged=true is a synchronous ack; acknowledged=false means the
// actuator will confirm asynchronously.
func (c *HTTPClient) Send(ctx context.Context, cmd *models.ValveCommand) (bool, error) {
	body, err := json.Marshal(commandRequest{
		CommandID: cmd.CommandID,
		Action:    string(cmd.Action),
	})
	if err != nil {
		return false, err
	}

	url := fmt.Sprintf("%s/devices/%s/valve", c.baseURL, cmd.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("actuator returned %d: %s", resp.StatusCode, payload)
	}

	var out commandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// Treat an unreadable ack body as asynchronous confirmation.
		return false, nil
	}
	return out.Acknowledged, nil
}
