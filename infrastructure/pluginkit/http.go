package pluginkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/webis-de/GenIRSim/internal/domain"
)

// DefaultTimeout bounds each plugin HTTP call when the configuration sets
// no timeout.
const DefaultTimeout = 5 * time.Minute

const maxErrorBody = 4096

// NewHTTPClient creates the client a plugin uses for its endpoint. A
// timeout string that is empty or invalid selects DefaultTimeout.
func NewHTTPClient(timeout string) *http.Client {
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		d = DefaultTimeout
	}
	return &http.Client{Timeout: d}
}

// PostJSON posts body as JSON to url and returns the response body, which
// is guaranteed to be valid JSON. Unreachable endpoints, non-2xx statuses,
// and malformed bodies are reported as *domain.TransportError.
func PostJSON(ctx context.Context, client *http.Client, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewTransportError(url, 0, "invalid request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, domain.NewTransportError(url, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewTransportError(url, resp.StatusCode, "reading response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewTransportError(url, resp.StatusCode, errorMessage(data), nil)
	}
	if !gjson.ValidBytes(data) {
		return nil, domain.NewTransportError(url, resp.StatusCode, "response is not JSON: "+truncate(string(data)), nil)
	}
	return data, nil
}

// PostForObject posts body and decodes the answer as a JSON object.
func PostForObject(ctx context.Context, client *http.Client, url string, body any) (map[string]any, error) {
	data, err := PostJSON(ctx, client, url, body)
	if err != nil {
		return nil, err
	}
	var object map[string]any
	if err := json.Unmarshal(data, &object); err != nil || object == nil {
		return nil, domain.NewTransportError(url, http.StatusOK, "response is not a JSON object: "+truncate(string(data)), err)
	}
	return object, nil
}

// errorMessage prefers the "error" field of a JSON error body, whether it
// is a string or an object with a message.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		result := gjson.GetBytes(body, "error")
		if msg := result.Get("message"); msg.Exists() {
			return msg.String()
		}
		if result.Exists() {
			return result.String()
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
