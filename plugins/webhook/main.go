// Package main provides a webhook plugin.
// It forwards each counting event as a JSON POST to a configured URL.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event     string          `json:"event"`
	RunID     string          `json:"run_id,omitempty"`
	TrackID   uint64          `json:"track_id"`
	Zone      string          `json:"zone"`
	Timestamp time.Time       `json:"timestamp"`
	Counters  json.RawMessage `json:"counters"`
	Config    json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is read from the manifest's config block.
type Config struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Timeout string            `json:"timeout"`
}

// payload is the body posted to the webhook.
type payload struct {
	Event     string          `json:"event"`
	RunID     string          `json:"run_id,omitempty"`
	TrackID   uint64          `json:"track_id"`
	Zone      string          `json:"zone"`
	Timestamp time.Time       `json:"timestamp"`
	Counters  json.RawMessage `json:"counters"`
}

func main() {
	// Read request from stdin
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	status, err := deliver(context.Background(), http.DefaultClient, req)
	if err != nil {
		writeErrorResponse(err.Error())
		return
	}
	writeSuccessResponse(status)
}

// deliver posts req to the configured URL and returns the response status.
func deliver(ctx context.Context, client *http.Client, req Request) (int, error) {
	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return 0, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if cfg.URL == "" {
		return 0, fmt.Errorf("config.url is required")
	}

	timeout := 5 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return 0, fmt.Errorf("invalid config.timeout: %w", err)
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload{
		Event:     req.Event,
		RunID:     req.RunID,
		TrackID:   req.TrackID,
		Zone:      req.Zone,
		Timestamp: req.Timestamp,
		Counters:  req.Counters,
	})
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("invalid config.url: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	resp := Response{
		Success: false,
		Error:   errMsg,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(status int) {
	data, _ := json.Marshal(map[string]int{"status": status})
	resp := Response{
		Success: true,
		Data:    data,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
