package check

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gnmradar/gnm/internal/model"
)

// HTTPProber issues a GET and classifies by status code and latency.
// Server errors (>= 500) are hard failures; client errors (4xx) degrade.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates the http probe with a dedicated client so probe
// connections never share pools with the rest of the process.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{client: &http.Client{}}
}

// Type implements Prober.
func (p *HTTPProber) Type() model.CheckType { return model.CheckHTTP }

// targetURL builds the request URL: params.url when present, otherwise
// synthesized from params.scheme/params.path and the host address.
func targetURL(t Target) string {
	if u := t.Param("url"); u != "" {
		return u
	}
	addr := t.Address()
	if addr == "" {
		return ""
	}
	scheme := t.Param("scheme")
	if scheme == "" {
		scheme = "https"
	}
	path := t.Param("path")
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s%s", scheme, addr, path)
}

// Run implements Prober.
func (p *HTTPProber) Run(ctx context.Context, target Target) model.CheckResult {
	rawURL := targetURL(target)
	if rawURL == "" {
		return HardFailure(0, map[string]any{"error": "missing_field:url"})
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	meta := map[string]any{}
	start := time.Now()
	resp, _, err := httpGet(ctx, p.client, rawURL)
	latencyMs := elapsedMs(start)

	if err != nil {
		if isTimeout(ctx, err) {
			meta["reason"] = "timeout"
		} else {
			meta["error"] = err.Error()
		}
		return HardFailure(latencyMs, meta)
	}

	meta["http_status"] = resp.StatusCode
	meta["final_url"] = resp.Request.URL.String()

	switch {
	case resp.StatusCode >= 500:
		meta["reason"] = "http_5xx"
		return HardFailure(latencyMs, meta)
	case resp.StatusCode >= 400:
		meta["reason"] = "http_4xx"
		return model.CheckResult{Status: model.StatusWarn, LatencyMs: latencyMs, Meta: meta}
	}

	status := latencyStatus(latencyMs, target.Thresholds.HTTPWarnMS, target.Thresholds.HTTPVerySlowMS, meta)
	return model.CheckResult{Status: status, LatencyMs: latencyMs, Meta: meta}
}

// httpGet performs the request and drains the body so latency covers the
// full transfer. Shared with the json_api probe.
func httpGet(ctx context.Context, client *http.Client, url string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}
