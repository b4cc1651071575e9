// Package model defines domain structs shared across the collector and the
// read API.
package model

import "time"

// CheckType identifies a probe implementation.
type CheckType string

const (
	CheckPing    CheckType = "ping"
	CheckHTTP    CheckType = "http"
	CheckDNS     CheckType = "dns"
	CheckTCP     CheckType = "tcp"
	CheckSSLCert CheckType = "ssl_cert"
	CheckJSONAPI CheckType = "json_api"
)

// KnownCheckTypes lists every supported check type.
var KnownCheckTypes = []CheckType{
	CheckPing, CheckHTTP, CheckDNS, CheckTCP, CheckSSLCert, CheckJSONAPI,
}

// IsValid reports whether t names a supported check type.
func (t CheckType) IsValid() bool {
	for _, k := range KnownCheckTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Status is the three-level check outcome persisted per measurement.
type Status int

const (
	StatusOK   Status = 0
	StatusWarn Status = 1
	StatusCrit Status = 2
)

// String returns the lowercase status label used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarn:
		return "warn"
	case StatusCrit:
		return "crit"
	}
	return "unknown"
}

// ServiceSpec is one entry of the service catalog. Immutable per snapshot.
type ServiceSpec struct {
	ServiceID string         `json:"service_id"`
	HostID    string         `json:"host_id"`
	Type      CheckType      `json:"type"`
	Enabled   *bool          `json:"enabled,omitempty"` // nil means enabled
	ProjectID *int64         `json:"project_id,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

// IsEnabled reports whether the service participates in cycles.
func (s ServiceSpec) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// HostSpec maps a host_id to a resolvable address.
type HostSpec struct {
	HostID  string `json:"host_id"`
	Address string `json:"address"`
}

// IdentitySource tags which resolution path produced a ProbeIdentity.
type IdentitySource string

const (
	IdentityFromEnv    IdentitySource = "env"
	IdentityFromGeo    IdentitySource = "geo"
	IdentityFromConfig IdentitySource = "config"
)

// ProbeIdentity describes the vantage point of this collector. Resolved once
// at startup and treated as read-only afterwards.
type ProbeIdentity struct {
	Region   string         `json:"probe_region"`
	Country  string         `json:"probe_country,omitempty"`
	City     string         `json:"probe_city,omitempty"`
	PublicIP string         `json:"probe_public_ip,omitempty"`
	Source   IdentitySource `json:"probe_source"`
}

// CheckResult is the transient outcome of one probe execution.
//
// Immediate marks a result that must persist as CRIT regardless of the
// failure streak (an already-expired certificate). It is never stored.
type CheckResult struct {
	Status    Status
	LatencyMs int64
	Meta      map[string]any
	Immediate bool

	// TS is the UTC wall clock at probe start, stamped by the scheduler.
	TS time.Time
}

// Measurement is the immutable row appended to the measurements table.
type Measurement struct {
	TS        time.Time
	Region    string
	ProjectID *int64
	TargetID  string
	HostID    string
	Type      CheckType
	Status    Status
	LatencyMs int64
	MetaJSON  []byte // valid JSON document or nil
}
