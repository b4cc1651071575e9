package identity

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gnmradar/gnm/internal/model"
)

// The collector defers releasing the mmdb handle on shutdown.
var _ io.Closer = (*MMDBLookup)(nil)

type fakeDownloader func(ctx context.Context, url string) ([]byte, error)

func (f fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

type fakeGeo func(ctx context.Context, ip string) (string, string, error)

func (f fakeGeo) Lookup(ctx context.Context, ip string) (string, string, error) {
	return f(ctx, ip)
}

func TestRegionForCountry(t *testing.T) {
	cases := []struct {
		country, want string
	}{
		{"DE", "EU"},
		{"de", "EU"},
		{"US", "NA"},
		{"BR", "SA"},
		{"ZA", "AF"},
		{"JP", "AS"},
		{"AU", "OC"},
		{"XX", "OTHER"},
		{"", "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := RegionForCountry(tc.country); got != tc.want {
			t.Errorf("RegionForCountry(%q) = %q, want %q", tc.country, got, tc.want)
		}
	}
}

func TestResolveEnvOverrideWins(t *testing.T) {
	r := NewResolver(ResolverConfig{
		Env:            EnvOverrides{Region: "EU", Country: "DE", City: "Berlin", PublicIP: "192.0.2.1"},
		FallbackRegion: "UNKNOWN",
		Downloader: fakeDownloader(func(context.Context, string) ([]byte, error) {
			t.Fatal("env override must not hit the network")
			return nil, nil
		}),
	})

	id := r.Start(context.Background())
	defer r.Stop()

	if id.Source != model.IdentityFromEnv || id.Region != "EU" || id.City != "Berlin" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveGeoChain(t *testing.T) {
	r := NewResolver(ResolverConfig{
		FallbackRegion: "UNKNOWN",
		Downloader: fakeDownloader(func(_ context.Context, url string) ([]byte, error) {
			return []byte(`{"ip":"203.0.113.9"}`), nil
		}),
		Geo: fakeGeo(func(_ context.Context, ip string) (string, string, error) {
			if ip != "203.0.113.9" {
				t.Errorf("geo lookup ip = %q", ip)
			}
			return "fr", "Paris", nil
		}),
	})

	id := r.Start(context.Background())
	defer r.Stop()

	if id.Source != model.IdentityFromGeo {
		t.Fatalf("source = %s", id.Source)
	}
	if id.Region != "EU" || id.Country != "FR" || id.City != "Paris" || id.PublicIP != "203.0.113.9" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveFallsBackToConfig(t *testing.T) {
	r := NewResolver(ResolverConfig{
		FallbackRegion: "NA",
		Downloader: fakeDownloader(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("network down")
		}),
		Geo: fakeGeo(func(context.Context, string) (string, string, error) {
			t.Fatal("geo must not run without a public ip")
			return "", "", nil
		}),
	})

	id := r.Start(context.Background())
	defer r.Stop()

	if id.Source != model.IdentityFromConfig || id.Region != "NA" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestResolveFallsBackOnGeoFailure(t *testing.T) {
	r := NewResolver(ResolverConfig{
		FallbackRegion: "NA",
		Downloader: fakeDownloader(func(context.Context, string) ([]byte, error) {
			return []byte(`{"ip":"203.0.113.9"}`), nil
		}),
		Geo: fakeGeo(func(context.Context, string) (string, string, error) {
			return "", "", errors.New("lookup failed")
		}),
	})

	id := r.Start(context.Background())
	defer r.Stop()

	if id.Source != model.IdentityFromConfig {
		t.Fatalf("source = %s", id.Source)
	}
}

func TestCurrentBeforeStart(t *testing.T) {
	r := NewResolver(ResolverConfig{FallbackRegion: "EU"})
	id := r.Current()
	if id.Region != "EU" || id.Source != model.IdentityFromConfig {
		t.Fatalf("identity = %+v", id)
	}
}

func TestEndpointLookupParsesResponse(t *testing.T) {
	lookup := NewEndpointLookup(fakeDownloader(func(_ context.Context, url string) ([]byte, error) {
		if url != "https://geo.test/203.0.113.9/json/" {
			t.Errorf("url = %q", url)
		}
		return []byte(`{"country_code":"US","city":"Ashburn"}`), nil
	}), "https://geo.test/%s/json/")

	country, city, err := lookup.Lookup(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatal(err)
	}
	if country != "US" || city != "Ashburn" {
		t.Fatalf("lookup = %q, %q", country, city)
	}
}

func TestEndpointLookupMissingCountry(t *testing.T) {
	lookup := NewEndpointLookup(fakeDownloader(func(context.Context, string) ([]byte, error) {
		return []byte(`{"city":"Nowhere"}`), nil
	}), "")

	if _, _, err := lookup.Lookup(context.Background(), "203.0.113.9"); err == nil {
		t.Fatal("expected error for missing country")
	}
}
