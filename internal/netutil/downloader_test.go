package netutil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDownloadOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("user agent = %q", got)
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	d := NewDirectDownloader(time.Second, "test-agent")
	body, err := d.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "payload" {
		t.Fatalf("body = %q", body)
	}
}

func TestDownloadHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDirectDownloader(time.Second, "")
	_, err := d.Download(context.Background(), srv.URL)

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
}

func TestDownloadMalformedURLNonRetryable(t *testing.T) {
	d := NewDirectDownloader(time.Second, "")
	_, err := d.Download(context.Background(), "http://%41:8080/")

	var nonRetryable *NonRetryableError
	if !errors.As(err, &nonRetryable) {
		t.Fatalf("err = %v, want NonRetryableError", err)
	}
}

func TestDownloadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewDirectDownloader(20*time.Millisecond, "")
	if _, err := d.Download(context.Background(), srv.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}
