package check

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/gnmradar/gnm/internal/model"
)

// maxAnswers caps how many answer records land in meta.
const maxAnswers = 10

// DNSProber queries the system resolver for the target name and reports
// latency and the answers. NXDOMAIN, SERVFAIL, timeouts, and empty answer
// sets are all hard failures.
type DNSProber struct {
	// resolverAddr overrides the system resolver, host:port. Set in tests.
	resolverAddr string
}

// NewDNSProber creates the dns probe using the resolver from
// /etc/resolv.conf.
func NewDNSProber() *DNSProber {
	return &DNSProber{}
}

// Type implements Prober.
func (p *DNSProber) Type() model.CheckType { return model.CheckDNS }

var dnsQueryTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"NS":    dns.TypeNS,
	"TXT":   dns.TypeTXT,
}

// Run implements Prober.
func (p *DNSProber) Run(ctx context.Context, target Target) model.CheckResult {
	name := target.Address()
	if name == "" {
		return HardFailure(0, map[string]any{"error": "missing_field:host"})
	}

	record := strings.ToUpper(target.Param("record"))
	if record == "" {
		record = "A"
	}
	qtype, ok := dnsQueryTypes[record]
	if !ok {
		return HardFailure(0, map[string]any{"error": "unsupported_record:" + record})
	}

	ctx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	resolver, err := p.resolver()
	if err != nil {
		return HardFailure(0, map[string]any{"error": err.Error()})
	}

	meta := map[string]any{
		"record":   record,
		"resolver": resolver,
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true

	client := new(dns.Client)

	start := time.Now()
	reply, _, err := client.ExchangeContext(ctx, msg, resolver)
	latencyMs := elapsedMs(start)

	if err != nil {
		if isTimeout(ctx, err) {
			meta["reason"] = "timeout"
		} else {
			meta["error"] = err.Error()
		}
		return HardFailure(latencyMs, meta)
	}

	if reply.Rcode != dns.RcodeSuccess {
		meta["reason"] = "rcode:" + dns.RcodeToString[reply.Rcode]
		return HardFailure(latencyMs, meta)
	}
	if len(reply.Answer) == 0 {
		meta["reason"] = "no_answers"
		return HardFailure(latencyMs, meta)
	}

	answers := make([]string, 0, len(reply.Answer))
	for _, rr := range reply.Answer {
		if len(answers) == maxAnswers {
			break
		}
		answers = append(answers, answerValue(rr))
	}
	meta["answers"] = answers

	status := latencyStatus(latencyMs, target.Thresholds.DNSWarnMS, 0, meta)
	return model.CheckResult{Status: status, LatencyMs: latencyMs, Meta: meta}
}

// resolver returns the configured resolver address, defaulting to the first
// nameserver from /etc/resolv.conf.
func (p *DNSProber) resolver() (string, error) {
	if p.resolverAddr != "" {
		return p.resolverAddr, nil
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", fmt.Errorf("read resolv.conf: %w", err)
	}
	if len(conf.Servers) == 0 {
		return "", fmt.Errorf("resolv.conf lists no nameservers")
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}

// answerValue extracts the record payload without the shared RR header.
func answerValue(rr dns.RR) string {
	switch t := rr.(type) {
	case *dns.A:
		return t.A.String()
	case *dns.AAAA:
		return t.AAAA.String()
	case *dns.CNAME:
		return t.Target
	case *dns.MX:
		return fmt.Sprintf("%d %s", t.Preference, t.Mx)
	case *dns.NS:
		return t.Ns
	case *dns.TXT:
		return strings.Join(t.Txt, " ")
	default:
		return rr.String()
	}
}
