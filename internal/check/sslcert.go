package check

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strconv"
	"time"

	"github.com/gnmradar/gnm/internal/model"
)

// SSLCertProber performs a TLS handshake and inspects the leaf certificate
// expiry. An already-expired certificate is an immediate critical: it skips
// the usual confirmation window.
type SSLCertProber struct {
	dialer *net.Dialer
	// now is injectable for expiry math in tests.
	now func() time.Time
}

// NewSSLCertProber creates the ssl_cert probe.
func NewSSLCertProber() *SSLCertProber {
	return &SSLCertProber{dialer: &net.Dialer{}, now: time.Now}
}

// Type implements Prober.
func (p *SSLCertProber) Type() model.CheckType { return model.CheckSSLCert }

// Run implements Prober.
func (p *SSLCertProber) Run(ctx context.Context, target Target) model.CheckResult {
	host := target.Address()
	if host == "" {
		return HardFailure(0, map[string]any{"error": "missing_field:host"})
	}
	port := 443
	if v, ok := target.ParamInt("port"); ok {
		port = v
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	meta := map[string]any{}

	start := time.Now()
	cert, err := p.handshake(ctx, addr, host)
	latencyMs := elapsedMs(start)

	if err != nil {
		if isTimeout(ctx, err) {
			meta["reason"] = "timeout"
		} else {
			meta["error"] = err.Error()
		}
		return HardFailure(latencyMs, meta)
	}

	status, immediate := certExpiryStatus(cert, p.now(), target.Thresholds.SSLWarnDays, meta)
	return model.CheckResult{Status: status, LatencyMs: latencyMs, Meta: meta, Immediate: immediate}
}

// handshake connects and returns the peer leaf certificate. Verification is
// disabled on the TLS layer so expiry is judged here, not by the handshake.
func (p *SSLCertProber) handshake(ctx context.Context, addr, serverName string) (*x509.Certificate, error) {
	rawConn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer rawConn.Close()

	conn := tls.Client(rawConn, &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true,
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	defer conn.Close()

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, errNoPeerCertificate
	}
	return certs[0], nil
}

var errNoPeerCertificate = &certError{"no peer certificate presented"}

type certError struct{ msg string }

func (e *certError) Error() string { return e.msg }

// certExpiryStatus classifies a certificate by days until expiry, recording
// the certificate details in meta. Pure function, shared with tests.
func certExpiryStatus(cert *x509.Certificate, now time.Time, warnDays int, meta map[string]any) (model.Status, bool) {
	days := int(cert.NotAfter.Sub(now).Hours() / 24)
	meta["not_after"] = cert.NotAfter.UTC().Format(time.RFC3339)
	meta["issuer_cn"] = cert.Issuer.CommonName
	meta["subject_cn"] = cert.Subject.CommonName
	meta["days_until_expiry"] = days

	switch {
	case now.After(cert.NotAfter):
		meta["reason"] = "expired"
		return model.StatusCrit, true
	case days <= warnDays:
		meta["reason"] = "expiring_soon"
		return model.StatusWarn, false
	}
	return model.StatusOK, false
}
