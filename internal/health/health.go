package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"vapidemo/widget/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// CheckAll runs all health checks and returns combined status
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	checks := []CheckResult{
		checkScript(ctx, cfg),
		checkProvider(ctx, cfg),
	}

	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

// checkScript fetches the SDK bundle the widget loads.
func checkScript(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "sdk_script"}

	if cfg.SDK.ScriptURL == "" {
		result.Error = "SDK_SCRIPT_URL not set"
		result.Latency = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.SDK.ScriptURL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	result.Latency = time.Since(start)

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}
	if len(body) == 0 {
		result.Error = "empty bundle"
		return result
	}

	result.OK = true
	return result
}

// checkProvider opens the provider websocket without a credential. A 401
// answer proves the endpoint is up; nothing is started.
func checkProvider(ctx context.Context, cfg config.Config) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "sdk_provider"}

	if cfg.SDK.APIURL == "" {
		result.Error = "SDK_API_URL not set"
		result.Latency = time.Since(start)
		return result
	}

	c, resp, err := ws.Dial(ctx, cfg.SDK.APIURL, nil)
	result.Latency = time.Since(start)
	if err == nil {
		_ = c.Close(ws.StatusNormalClosure, "health check")
		result.OK = true
		return result
	}
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		result.OK = true
		return result
	}
	if resp != nil {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}
	result.Error = fmt.Sprintf("dial failed: %v", err)
	return result
}
