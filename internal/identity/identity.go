// Package identity determines the vantage point of this collector: region,
// country, city, and public IP. Resolution order is environment overrides,
// then a geo-IP lookup, then the configured fallback region. The result is
// cached for the process lifetime and optionally refreshed on a cron
// schedule.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/gnmradar/gnm/internal/model"
	"github.com/gnmradar/gnm/internal/netutil"
)

// Default lookup endpoints. Both are best-effort: a single attempt with a
// short timeout, falling through to the config fallback on any error.
const (
	DefaultPublicIPURL  = "https://api.ipify.org?format=json"
	DefaultGeoURLFormat = "https://ipapi.co/%s/json/"

	lookupTimeout = 3 * time.Second
)

// EnvOverrides carries the GNM_* identity environment variables.
type EnvOverrides struct {
	Region   string
	Country  string
	City     string
	PublicIP string
}

// CountryLookup resolves an IP address to (countryCode, city). Implemented
// by the remote endpoint client and by the local mmdb reader.
type CountryLookup interface {
	Lookup(ctx context.Context, ip string) (country, city string, err error)
}

// ResolverConfig configures the identity Resolver.
type ResolverConfig struct {
	Env            EnvOverrides
	FallbackRegion string

	// Downloader fetches the public IP. Injectable for tests.
	Downloader netutil.Downloader
	// PublicIPURL defaults to DefaultPublicIPURL.
	PublicIPURL string
	// Geo resolves IP to country/city. Defaults to the remote endpoint
	// client; wired to the local mmdb reader when GNM_GEOIP_DB is set.
	Geo CountryLookup

	// RefreshSchedule is a standard cron expression; empty disables the
	// periodic re-resolution.
	RefreshSchedule string

	Logger *zap.Logger
}

// Resolver resolves and caches the probe identity.
type Resolver struct {
	cfg     ResolverConfig
	current atomic.Pointer[model.ProbeIdentity]
	cron    *cron.Cron
}

// NewResolver creates a Resolver. Call Start to perform the initial
// resolution.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.PublicIPURL == "" {
		cfg.PublicIPURL = DefaultPublicIPURL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Geo == nil && cfg.Downloader != nil {
		cfg.Geo = &endpointLookup{downloader: cfg.Downloader}
	}
	return &Resolver{cfg: cfg}
}

// Start resolves the identity once and, if configured, schedules periodic
// re-resolution. Resolution itself never fails: every path falls through to
// the config fallback.
func (r *Resolver) Start(ctx context.Context) model.ProbeIdentity {
	id := r.resolve(ctx)
	r.current.Store(&id)
	r.cfg.Logger.Info("probe identity resolved",
		zap.String("region", id.Region),
		zap.String("country", id.Country),
		zap.String("city", id.City),
		zap.String("public_ip", id.PublicIP),
		zap.String("source", string(id.Source)),
	)

	if r.cfg.RefreshSchedule != "" {
		c := cron.New()
		_, err := c.AddFunc(r.cfg.RefreshSchedule, func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), 2*lookupTimeout)
			defer cancel()
			next := r.resolve(refreshCtx)
			r.current.Store(&next)
			r.cfg.Logger.Info("probe identity refreshed",
				zap.String("region", next.Region),
				zap.String("source", string(next.Source)),
			)
		})
		if err != nil {
			r.cfg.Logger.Error("invalid identity refresh schedule",
				zap.String("schedule", r.cfg.RefreshSchedule), zap.Error(err))
		} else {
			c.Start()
			r.cron = c
		}
	}
	return id
}

// Stop halts the refresh scheduler, if running.
func (r *Resolver) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Current returns the cached identity. Safe for concurrent readers.
func (r *Resolver) Current() model.ProbeIdentity {
	if id := r.current.Load(); id != nil {
		return *id
	}
	return model.ProbeIdentity{Region: r.cfg.FallbackRegion, Source: model.IdentityFromConfig}
}

// resolve walks the resolution chain. First non-empty source wins.
func (r *Resolver) resolve(ctx context.Context) model.ProbeIdentity {
	if env := r.cfg.Env; env.Region != "" {
		return model.ProbeIdentity{
			Region:   env.Region,
			Country:  env.Country,
			City:     env.City,
			PublicIP: env.PublicIP,
			Source:   model.IdentityFromEnv,
		}
	}

	if id, ok := r.resolveGeo(ctx); ok {
		return id
	}

	return model.ProbeIdentity{
		Region: r.cfg.FallbackRegion,
		Source: model.IdentityFromConfig,
	}
}

func (r *Resolver) resolveGeo(ctx context.Context) (model.ProbeIdentity, bool) {
	if r.cfg.Downloader == nil || r.cfg.Geo == nil {
		return model.ProbeIdentity{}, false
	}

	ipCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	body, err := r.cfg.Downloader.Download(ipCtx, r.cfg.PublicIPURL)
	if err != nil {
		r.cfg.Logger.Debug("public ip lookup failed", zap.Error(err))
		return model.ProbeIdentity{}, false
	}
	var ipResp struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &ipResp); err != nil || strings.TrimSpace(ipResp.IP) == "" {
		r.cfg.Logger.Debug("public ip response unusable", zap.Error(err))
		return model.ProbeIdentity{}, false
	}
	ip := strings.TrimSpace(ipResp.IP)

	geoCtx, cancel2 := context.WithTimeout(ctx, lookupTimeout)
	defer cancel2()

	country, city, err := r.cfg.Geo.Lookup(geoCtx, ip)
	if err != nil {
		r.cfg.Logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return model.ProbeIdentity{}, false
	}

	return model.ProbeIdentity{
		Region:   RegionForCountry(country),
		Country:  strings.ToUpper(country),
		City:     city,
		PublicIP: ip,
		Source:   model.IdentityFromGeo,
	}, true
}

// endpointLookup resolves country/city via the public geo endpoint.
type endpointLookup struct {
	downloader netutil.Downloader
	urlFormat  string
}

func (e *endpointLookup) Lookup(ctx context.Context, ip string) (string, string, error) {
	format := e.urlFormat
	if format == "" {
		format = DefaultGeoURLFormat
	}
	body, err := e.downloader.Download(ctx, fmt.Sprintf(format, ip))
	if err != nil {
		return "", "", err
	}
	var resp struct {
		CountryCode string `json:"country_code"`
		Country     string `json:"country"`
		City        string `json:"city"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("identity: parse geo response: %w", err)
	}
	country := resp.CountryCode
	if country == "" {
		country = resp.Country
	}
	if country == "" {
		return "", "", fmt.Errorf("identity: geo response missing country")
	}
	return country, resp.City, nil
}

// NewEndpointLookup creates the remote geo endpoint client. urlFormat must
// contain one %s verb for the IP; empty selects the default endpoint.
func NewEndpointLookup(d netutil.Downloader, urlFormat string) CountryLookup {
	return &endpointLookup{downloader: d, urlFormat: urlFormat}
}
