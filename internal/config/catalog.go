package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/gnmradar/gnm/internal/model"
)

// LoadHosts reads the host catalog and returns a host_id -> HostSpec map.
// Entries without a host_id or address are rejected.
func LoadHosts(path string) (map[string]model.HostSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var list []model.HostSpec
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	hosts := make(map[string]model.HostSpec, len(list))
	for i, h := range list {
		if strings.TrimSpace(h.HostID) == "" {
			return nil, fmt.Errorf("config: %s: entry %d: host_id must not be empty", path, i)
		}
		if strings.TrimSpace(h.Address) == "" {
			return nil, fmt.Errorf("config: %s: host %q: address must not be empty", path, h.HostID)
		}
		if _, dup := hosts[h.HostID]; dup {
			return nil, fmt.Errorf("config: %s: duplicate host_id %q", path, h.HostID)
		}
		hosts[h.HostID] = h
	}
	return hosts, nil
}

// LoadServices reads and validates the service catalog against the host
// catalog. All services are returned, including disabled ones; the scheduler
// filters on IsEnabled.
func LoadServices(path string, hosts map[string]model.HostSpec) ([]model.ServiceSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseServices(raw, hosts)
}

// ReloadServices re-reads the service catalog and returns the parsed list
// plus a content hash of the raw document. Callers compare hashes across
// cycles to detect edits without diffing parsed structures.
func ReloadServices(path string, hosts map[string]model.HostSpec) ([]model.ServiceSpec, uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("config: read %s: %w", path, err)
	}
	services, err := ParseServices(raw, hosts)
	if err != nil {
		return nil, 0, err
	}
	return services, xxh3.Hash(raw), nil
}

// ParseServices validates a raw service catalog document. Split out from
// LoadServices so the per-cycle reload can hash raw bytes before parsing.
func ParseServices(raw []byte, hosts map[string]model.HostSpec) ([]model.ServiceSpec, error) {
	var list []model.ServiceSpec
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("config: parse service catalog: %w", err)
	}

	seen := make(map[string]bool, len(list))
	for i, s := range list {
		if strings.TrimSpace(s.ServiceID) == "" {
			return nil, fmt.Errorf("config: service entry %d: service_id must not be empty", i)
		}
		if seen[s.ServiceID] {
			return nil, fmt.Errorf("config: duplicate service_id %q", s.ServiceID)
		}
		seen[s.ServiceID] = true

		if !s.Type.IsValid() {
			return nil, fmt.Errorf("config: service %q: unknown type %q", s.ServiceID, s.Type)
		}
		if s.HostID != "" {
			if _, ok := hosts[s.HostID]; !ok {
				return nil, fmt.Errorf("config: service %q: unknown host_id %q", s.ServiceID, s.HostID)
			}
		}
		if err := validateParams(s, hosts); err != nil {
			return nil, fmt.Errorf("config: service %q: %w", s.ServiceID, err)
		}
	}
	return list, nil
}

// allowedParams enumerates the recognized per-type param keys. Unknown keys
// are rejected so a typo cannot silently disable an expectation.
var allowedParams = map[model.CheckType][]string{
	model.CheckPing:    {},
	model.CheckHTTP:    {"url", "scheme", "path"},
	model.CheckDNS:     {"record"},
	model.CheckTCP:     {"port"},
	model.CheckSSLCert: {"port"},
	model.CheckJSONAPI: {"url", "expect_field", "expect_equals"},
}

var dnsRecordTypes = map[string]bool{
	"A": true, "AAAA": true, "CNAME": true, "MX": true, "NS": true, "TXT": true,
}

func validateParams(s model.ServiceSpec, hosts map[string]model.HostSpec) error {
	allowed, ok := allowedParams[s.Type]
	if !ok {
		return fmt.Errorf("unknown type %q", s.Type)
	}
	for key := range s.Params {
		if !contains(allowed, key) {
			return fmt.Errorf("unknown param %q for type %s", key, s.Type)
		}
	}

	hostAddress := ""
	if h, ok := hosts[s.HostID]; ok {
		hostAddress = h.Address
	}

	switch s.Type {
	case model.CheckPing, model.CheckDNS:
		if hostAddress == "" {
			return fmt.Errorf("type %s requires a host_id with an address", s.Type)
		}

	case model.CheckHTTP:
		if paramString(s.Params, "url") == "" && hostAddress == "" {
			return fmt.Errorf("type http requires params.url or a host_id with an address")
		}
		if u := paramString(s.Params, "url"); u != "" {
			if err := validateURL(u); err != nil {
				return err
			}
		}

	case model.CheckTCP:
		port, ok := paramPort(s.Params, "port")
		if !ok {
			return fmt.Errorf("type tcp requires params.port")
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("params.port: port must be 1-65535, got %d", port)
		}
		if hostAddress == "" {
			return fmt.Errorf("type tcp requires a host_id with an address")
		}

	case model.CheckSSLCert:
		if port, ok := paramPort(s.Params, "port"); ok && (port < 1 || port > 65535) {
			return fmt.Errorf("params.port: port must be 1-65535, got %d", port)
		}
		if hostAddress == "" {
			return fmt.Errorf("type ssl_cert requires a host_id with an address")
		}

	case model.CheckJSONAPI:
		u := paramString(s.Params, "url")
		if u == "" {
			return fmt.Errorf("type json_api requires params.url")
		}
		if err := validateURL(u); err != nil {
			return err
		}
		if paramString(s.Params, "expect_equals") != "" && paramString(s.Params, "expect_field") == "" {
			return fmt.Errorf("params.expect_equals requires params.expect_field")
		}
	}

	if s.Type == model.CheckDNS {
		if rec := paramString(s.Params, "record"); rec != "" && !dnsRecordTypes[strings.ToUpper(rec)] {
			return fmt.Errorf("params.record: unsupported record type %q", rec)
		}
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("params.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("params.url: scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("params.url: missing host in %q", raw)
	}
	return nil
}

func paramString(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// paramPort reads a port param that JSON decodes as float64 (or, from
// hand-written catalogs, occasionally as a string).
func paramPort(params map[string]any, key string) (int, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
