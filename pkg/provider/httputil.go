package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// contains http utils shared by the adapters

// getJSON performs an HTTP GET and unmarshals the JSON response into data.
func getJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, addr string, data any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return err
	}
	return doJSON(client, limiter, req, data)
}

// postJSON sends body as JSON and unmarshals the JSON response into data.
func postJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, addr string, body, data any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, limiter, req, data)
}

func doJSON(client *http.Client, limiter *rate.Limiter, req *http.Request, data any) error {
	if limiter != nil {
		if err := limiter.Wait(req.Context()); err != nil {
			return err
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cannot http %s %v%v: %v", req.Method, req.URL.Host, req.URL.Path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(body, data); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
