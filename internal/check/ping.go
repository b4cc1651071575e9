package check

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/gnmradar/gnm/internal/model"
)

// PingProber sends a single ICMP echo and measures the round trip. When raw
// or unprivileged ICMP sockets are unavailable it shells out to the OS ping
// tool; the chosen mode is recorded in meta.
type PingProber struct {
	detectOnce sync.Once
	network    string // "ip4:icmp", "udp4", or "" for exec fallback
}

// NewPingProber creates the ping probe.
func NewPingProber() *PingProber {
	return &PingProber{}
}

// Type implements Prober.
func (p *PingProber) Type() model.CheckType { return model.CheckPing }

// detect probes ICMP socket capability once per process. Raw sockets need
// CAP_NET_RAW; udp4 works unprivileged on some systems.
func (p *PingProber) detect() {
	p.detectOnce.Do(func() {
		if conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0"); err == nil {
			conn.Close()
			p.network = "ip4:icmp"
			return
		}
		if conn, err := icmp.ListenPacket("udp4", "0.0.0.0"); err == nil {
			conn.Close()
			p.network = "udp4"
			return
		}
		p.network = ""
	})
}

// Run implements Prober.
func (p *PingProber) Run(ctx context.Context, target Target) model.CheckResult {
	host := target.Address()
	if host == "" {
		return HardFailure(0, map[string]any{"error": "missing_field:host"})
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	p.detect()

	meta := map[string]any{}
	var latencyMs int64
	var err error
	if p.network != "" {
		meta["mode"] = "icmp"
		latencyMs, err = p.pingNative(ctx, host)
		if err != nil && isPermissionError(err) {
			// Capability probe passed but the echo send did not; fall back.
			meta["mode"] = "exec"
			latencyMs, err = p.pingExec(ctx, host, target.Timeout)
		}
	} else {
		meta["mode"] = "exec"
		latencyMs, err = p.pingExec(ctx, host, target.Timeout)
	}

	if err != nil {
		if isTimeout(ctx, err) {
			meta["reason"] = "timeout"
		} else {
			meta["error"] = err.Error()
		}
		return HardFailure(latencyMs, meta)
	}

	status := latencyStatus(latencyMs, target.Thresholds.PingWarnMS, target.Thresholds.PingVerySlowMS, meta)
	return model.CheckResult{Status: status, LatencyMs: latencyMs, Meta: meta}
}

// pingNative sends one echo request and waits for the matching reply.
func (p *PingProber) pingNative(ctx context.Context, host string) (int64, error) {
	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", host, err)
	}

	conn, err := icmp.ListenPacket(p.network, "0.0.0.0")
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	id := rand.IntN(65536)
	seq := rand.IntN(65536)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("gnm-collector")},
	}
	packet, err := msg.Marshal(nil)
	if err != nil {
		return 0, err
	}

	var dstAddr net.Addr = dst
	if p.network == "udp4" {
		dstAddr = &net.UDPAddr{IP: dst.IP}
	}

	start := time.Now()
	if _, err := conn.WriteTo(packet, dstAddr); err != nil {
		return 0, err
	}

	// Replies for other concurrent probes can arrive on the same socket;
	// skip anything that does not match our id/seq/source.
	reply := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(reply)
		if err != nil {
			return elapsedMs(start), err
		}
		latencyMs := elapsedMs(start)

		var peerIP net.IP
		switch a := peer.(type) {
		case *net.IPAddr:
			peerIP = a.IP
		case *net.UDPAddr:
			peerIP = a.IP
		}
		if peerIP != nil && !peerIP.Equal(dst.IP) {
			continue
		}

		parsed, err := icmp.ParseMessage(1, reply[:n])
		if err != nil {
			return latencyMs, err
		}
		switch parsed.Type {
		case ipv4.ICMPTypeEchoReply:
			if !echoMatches(p.network, parsed.Body, id, seq) {
				continue
			}
			return latencyMs, nil
		case ipv4.ICMPTypeDestinationUnreachable:
			return latencyMs, fmt.Errorf("destination unreachable")
		case ipv4.ICMPTypeTimeExceeded:
			return latencyMs, fmt.Errorf("ttl exceeded")
		default:
			continue
		}
	}
}

// echoMatches reports whether a reply body belongs to the echo we sent.
// Linux ping sockets (udp4 mode) rewrite the echo identifier to the socket's
// local port, so only the sequence number is stable there.
func echoMatches(network string, body icmp.MessageBody, id, seq int) bool {
	echo, ok := body.(*icmp.Echo)
	if !ok {
		return false
	}
	if echo.Seq != seq {
		return false
	}
	if network == "udp4" {
		return true
	}
	return echo.ID == id
}

// pingExec runs the OS ping tool with a single echo.
func (p *PingProber) pingExec(ctx context.Context, host string, timeout time.Duration) (int64, error) {
	timeoutSec := int(timeout / time.Second)
	if timeoutSec < 1 {
		timeoutSec = 1
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(timeoutSec), host)
	output, err := cmd.CombinedOutput()
	latencyMs := elapsedMs(start)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return latencyMs, context.DeadlineExceeded
		}
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = err.Error()
		}
		return latencyMs, fmt.Errorf("ping_failed: %s", firstLine(msg))
	}
	return latencyMs, nil
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) || strings.Contains(err.Error(), "operation not permitted")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
