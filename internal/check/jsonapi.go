package check

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gnmradar/gnm/internal/model"
)

// bodySnippetLimit caps how much response body lands in meta on failure.
const bodySnippetLimit = 256

// JSONAPIProber fetches a JSON endpoint and asserts on its payload. The
// expect_field param is a dot path into the decoded document; expect_equals
// optionally pins the value at that path.
type JSONAPIProber struct {
	client *http.Client
}

// NewJSONAPIProber creates the json_api probe.
func NewJSONAPIProber() *JSONAPIProber {
	return &JSONAPIProber{client: &http.Client{}}
}

// Type implements Prober.
func (p *JSONAPIProber) Type() model.CheckType { return model.CheckJSONAPI }

// Run implements Prober.
func (p *JSONAPIProber) Run(ctx context.Context, target Target) model.CheckResult {
	rawURL := target.Param("url")
	if rawURL == "" {
		return HardFailure(0, map[string]any{"error": "missing_field:url"})
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	meta := map[string]any{}
	start := time.Now()
	resp, body, err := httpGet(ctx, p.client, rawURL)
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
	if resp.StatusCode >= 400 {
		meta["reason"] = "http_error"
		meta["body"] = bodySnippet(body)
		return HardFailure(latencyMs, meta)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		meta["reason"] = "invalid_json"
		meta["body"] = bodySnippet(body)
		return HardFailure(latencyMs, meta)
	}

	if field := target.Param("expect_field"); field != "" {
		meta["field"] = field
		value, ok := lookupPath(doc, field)
		if !ok {
			meta["reason"] = "field_missing"
			meta["body"] = bodySnippet(body)
			return HardFailure(latencyMs, meta)
		}
		if expected, has := target.Service.Params["expect_equals"]; has {
			if !valueEquals(value, expected) {
				meta["reason"] = "value_mismatch"
				meta["expected"] = stringify(expected)
				meta["actual"] = stringify(value)
				return HardFailure(latencyMs, meta)
			}
		}
	}

	status := latencyStatus(latencyMs, target.Thresholds.JSONWarnMS, target.Thresholds.JSONVerySlowMS, meta)
	return model.CheckResult{Status: status, LatencyMs: latencyMs, Meta: meta}
}

// lookupPath walks a dot-separated path through nested JSON objects.
func lookupPath(doc any, path string) (any, bool) {
	current := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// valueEquals compares a decoded JSON value to the expected param. Both
// sides are normalized to strings so 200 matches 200.0 and "200".
func valueEquals(actual, expected any) bool {
	return stringify(actual) == stringify(expected)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func bodySnippet(body []byte) string {
	if len(body) > bodySnippetLimit {
		body = body[:bodySnippetLimit]
	}
	return string(body)
}
