package check

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gnmradar/gnm/internal/model"
)

// TCPProber measures the time to establish a TCP connection to host:port.
type TCPProber struct {
	dialer *net.Dialer
}

// NewTCPProber creates the tcp probe.
func NewTCPProber() *TCPProber {
	return &TCPProber{dialer: &net.Dialer{}}
}

// Type implements Prober.
func (p *TCPProber) Type() model.CheckType { return model.CheckTCP }

// Run implements Prober.
func (p *TCPProber) Run(ctx context.Context, target Target) model.CheckResult {
	host := target.Address()
	if host == "" {
		return HardFailure(0, map[string]any{"error": "missing_field:host"})
	}
	port, ok := target.ParamInt("port")
	if !ok || port < 1 || port > 65535 {
		return HardFailure(0, map[string]any{"error": "missing_field:port"})
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	meta := map[string]any{"port": port}

	start := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	latencyMs := elapsedMs(start)

	if err != nil {
		if isTimeout(ctx, err) {
			meta["reason"] = "timeout"
		} else {
			meta["error"] = err.Error()
		}
		return HardFailure(latencyMs, meta)
	}
	conn.Close()

	status := latencyStatus(latencyMs, target.Thresholds.TCPWarnMS, target.Thresholds.TCPVerySlowMS, meta)
	return model.CheckResult{Status: status, LatencyMs: latencyMs, Meta: meta}
}
