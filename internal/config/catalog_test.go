package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gnmradar/gnm/internal/model"
)

func testHosts() map[string]model.HostSpec {
	return map[string]model.HostSpec{
		"h1": {HostID: "h1", Address: "example.com"},
	}
}

func TestParseServicesValid(t *testing.T) {
	doc := `[
		{"service_id":"ping-1","host_id":"h1","type":"ping"},
		{"service_id":"web","host_id":"h1","type":"http","params":{"url":"https://example.com/health"}},
		{"service_id":"db","host_id":"h1","type":"tcp","params":{"port":5432}},
		{"service_id":"cert","host_id":"h1","type":"ssl_cert"},
		{"service_id":"api","type":"json_api","params":{"url":"https://api.example.com/v1","expect_field":"status","expect_equals":"ok"}},
		{"service_id":"dns-1","host_id":"h1","type":"dns","params":{"record":"AAAA"}},
		{"service_id":"off","host_id":"h1","type":"ping","enabled":false}
	]`
	services, err := ParseServices([]byte(doc), testHosts())
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 7 {
		t.Fatalf("services = %d", len(services))
	}
	if services[6].IsEnabled() {
		t.Error("disabled service reported enabled")
	}
	if !services[0].IsEnabled() {
		t.Error("service without enabled flag should default to enabled")
	}
}

func TestParseServicesRejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty id", `[{"service_id":"","type":"ping","host_id":"h1"}]`, "service_id"},
		{"duplicate id", `[{"service_id":"a","type":"ping","host_id":"h1"},{"service_id":"a","type":"ping","host_id":"h1"}]`, "duplicate"},
		{"unknown type", `[{"service_id":"a","type":"icmp","host_id":"h1"}]`, "unknown type"},
		{"unknown host", `[{"service_id":"a","type":"ping","host_id":"nope"}]`, "unknown host_id"},
		{"unknown param", `[{"service_id":"a","type":"ping","host_id":"h1","params":{"count":3}}]`, "unknown param"},
		{"tcp without port", `[{"service_id":"a","type":"tcp","host_id":"h1"}]`, "params.port"},
		{"tcp bad port", `[{"service_id":"a","type":"tcp","host_id":"h1","params":{"port":99999}}]`, "1-65535"},
		{"json_api without url", `[{"service_id":"a","type":"json_api"}]`, "params.url"},
		{"json_api equals without field", `[{"service_id":"a","type":"json_api","params":{"url":"https://x.test/","expect_equals":"ok"}}]`, "expect_field"},
		{"http bad scheme", `[{"service_id":"a","type":"http","params":{"url":"ftp://x.test/"}}]`, "scheme"},
		{"dns bad record", `[{"service_id":"a","type":"dns","host_id":"h1","params":{"record":"SOA"}}]`, "record"},
		{"ping without host", `[{"service_id":"a","type":"ping"}]`, "host_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseServices([]byte(tc.doc), testHosts())
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadHostsRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), HostCatalogFile)
	doc := `[{"host_id":"h1","address":"a.test"},{"host_id":"h1","address":"b.test"}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadHosts(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v", err)
	}
}

func TestReloadServicesHashTracksContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ServiceCatalogFile)
	write := func(doc string) {
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write(`[{"service_id":"a","host_id":"h1","type":"ping"}]`)
	_, hash1, err := ReloadServices(path, testHosts())
	if err != nil {
		t.Fatal(err)
	}

	_, hash2, err := ReloadServices(path, testHosts())
	if err != nil {
		t.Fatal(err)
	}
	if hash1 != hash2 {
		t.Fatal("hash changed for identical content")
	}

	write(`[{"service_id":"b","host_id":"h1","type":"ping"}]`)
	_, hash3, err := ReloadServices(path, testHosts())
	if err != nil {
		t.Fatal(err)
	}
	if hash3 == hash1 {
		t.Fatal("hash did not change for edited content")
	}
}

func TestParamPortAcceptsStringAndNumber(t *testing.T) {
	if p, ok := paramPort(map[string]any{"port": float64(443)}, "port"); !ok || p != 443 {
		t.Errorf("float port = %d, %v", p, ok)
	}
	if p, ok := paramPort(map[string]any{"port": "8080"}, "port"); !ok || p != 8080 {
		t.Errorf("string port = %d, %v", p, ok)
	}
	if _, ok := paramPort(map[string]any{"port": true}, "port"); ok {
		t.Error("bool port should not parse")
	}
}
