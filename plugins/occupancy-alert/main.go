// Package main provides an occupancy alert plugin.
// It shows a desktop notification when the number of people inside the zone
// reaches a configured limit.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Event    string          `json:"event"`
	TrackID  uint64          `json:"track_id"`
	Zone     string          `json:"zone"`
	Counters Counters        `json:"counters"`
	Config   json.RawMessage `json:"config"`
}

// Counters mirrors the counter snapshot sent with each event.
type Counters struct {
	Entries uint64 `json:"entries"`
	Exits   uint64 `json:"exits"`
	Inside  uint64 `json:"inside"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is read from the manifest's config block.
type Config struct {
	MaxInside uint64 `json:"max_inside"`
	Title     string `json:"title"`
}

func main() {
	// Read request from stdin
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	cfg := Config{MaxInside: 10, Title: "headcount"}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("failed to parse config: %v", err))
			return
		}
	}

	msg, alert := alertMessage(req, cfg.MaxInside)
	if !alert {
		writeSuccessResponse(false)
		return
	}

	if err := notify(cfg.Title, msg); err != nil {
		writeErrorResponse(fmt.Sprintf("notification failed: %v", err))
		return
	}
	writeSuccessResponse(true)
}

// alertMessage reports whether req crosses the limit and what to show.
// Only an entry that brings the count to or above the limit alerts.
func alertMessage(req Request, limit uint64) (string, bool) {
	if limit == 0 || req.Event != "entry" || req.Counters.Inside < limit {
		return "", false
	}
	return fmt.Sprintf("%d people inside %s (limit %d)", req.Counters.Inside, req.Zone, limit), true
}

// notify shows a desktop notification.
func notify(title, msg string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %s with title %s`, appleQuote(msg), appleQuote(title))
		cmd = exec.Command("osascript", "-e", script)
	default:
		cmd = exec.Command("notify-send", title, msg)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// appleQuote quotes s as an AppleScript string literal.
func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
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
func writeSuccessResponse(alerted bool) {
	data, _ := json.Marshal(map[string]bool{"alerted": alerted})
	resp := Response{
		Success: true,
		Data:    data,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
