// Package check implements the six probe types and their dispatch registry.
// Every probe measures latency strictly at the probe boundary and reports a
// three-level status: 0 OK, 1 degraded, 2 hard failure.
package check

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gnmradar/gnm/internal/config"
	"github.com/gnmradar/gnm/internal/model"
)

// UserAgent is sent on every HTTP-based probe.
const UserAgent = "GNM-Collector/1.0"

// Target bundles everything a probe needs for one execution.
type Target struct {
	Service    model.ServiceSpec
	Host       model.HostSpec // zero value when the service has no host_id
	Timeout    time.Duration
	Thresholds config.Thresholds
}

// Address returns the probe address: the host catalog address when present,
// otherwise the hostname derived from params.url.
func (t Target) Address() string {
	if addr := strings.TrimSpace(t.Host.Address); addr != "" {
		return addr
	}
	if raw := t.Param("url"); raw != "" {
		if u, err := url.Parse(raw); err == nil {
			return u.Hostname()
		}
	}
	return ""
}

// Param returns a trimmed string param, or "".
func (t Target) Param(key string) string {
	if t.Service.Params == nil {
		return ""
	}
	if v, ok := t.Service.Params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ParamInt returns an integer param. JSON numbers decode as float64.
func (t Target) ParamInt(key string) (int, bool) {
	if t.Service.Params == nil {
		return 0, false
	}
	switch v := t.Service.Params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Prober is one check implementation.
type Prober interface {
	Type() model.CheckType
	Run(ctx context.Context, target Target) model.CheckResult
}

// Registry maps check types to probe implementations.
type Registry map[model.CheckType]Prober

// NewRegistry returns the production probe set.
func NewRegistry() Registry {
	reg := Registry{}
	for _, p := range []Prober{
		NewPingProber(),
		NewHTTPProber(),
		NewDNSProber(),
		NewTCPProber(),
		NewSSLCertProber(),
		NewJSONAPIProber(),
	} {
		reg[p.Type()] = p
	}
	return reg
}

// Run dispatches the target to the matching probe. An unknown type yields a
// hard failure so it surfaces through the normal classification path.
func (r Registry) Run(ctx context.Context, target Target) model.CheckResult {
	p, ok := r[target.Service.Type]
	if !ok {
		return HardFailure(0, map[string]any{"error": "unknown_type:" + string(target.Service.Type)})
	}
	return p.Run(ctx, target)
}

// HardFailure builds a status-2 result.
func HardFailure(latencyMs int64, meta map[string]any) model.CheckResult {
	if meta == nil {
		meta = map[string]any{}
	}
	return model.CheckResult{Status: model.StatusCrit, LatencyMs: latencyMs, Meta: meta}
}

// latencyStatus classifies a successful probe by latency. It returns OK
// below warnMs, otherwise WARN with the slow tag recorded in meta.
func latencyStatus(latencyMs, warnMs, verySlowMs int64, meta map[string]any) model.Status {
	if latencyMs < warnMs {
		return model.StatusOK
	}
	if verySlowMs > 0 && latencyMs >= verySlowMs {
		meta["slow"] = "very"
	} else {
		meta["slow"] = "yes"
	}
	return model.StatusWarn
}

// elapsedMs returns wall milliseconds since start, never negative.
func elapsedMs(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// isTimeout reports whether err is a deadline-style failure.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
