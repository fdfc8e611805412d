package adapters

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	got, err := ParseRate("1.25")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want, _ := new(big.Int).SetString("1250000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Fatalf("ParseRate = %s, want %s", got, want)
	}
	if FormatRate(got) != "1.25" {
		t.Fatalf("FormatRate = %s", FormatRate(got))
	}

	for _, bad := range []string{"", "abc", "0", "-3", "0.0000000000000000001"} {
		if _, err := ParseRate(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}

func TestBuildStaticFeed(t *testing.T) {
	src, err := NewRegistry().Build("chainlink", "static", "", "", "2")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	obs, err := src.Rate(context.Background())
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if FormatRate(obs.Rate) != "2" || obs.Source != "chainlink" {
		t.Fatalf("unexpected observation %+v", obs)
	}
}

func TestHTTPFeedReadsNestedField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"price":"1.0825","timestamp":1700000000}}`))
	}))
	defer srv.Close()

	src, err := NewRegistry().Build("uniswap", "HTTP", srv.URL, "data.price", "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	obs, err := src.Rate(context.Background())
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if FormatRate(obs.Rate) != "1.0825" {
		t.Fatalf("unexpected rate %s", FormatRate(obs.Rate))
	}
	if !obs.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected timestamp %v", obs.Timestamp)
	}
}

func TestHTTPFeedErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		case "/object":
			_, _ = w.Write([]byte(`{"price":{"usd":1}}`))
		default:
			_, _ = w.Write([]byte(`{"other":1}`))
		}
	}))
	defer srv.Close()

	reg := NewRegistry()
	for _, path := range []string{"/down", "/object", "/missing"} {
		src, err := reg.Build("feed", "http", srv.URL+path, "price", "")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if _, err := src.Rate(context.Background()); err == nil {
			t.Fatalf("expected %s to fail", path)
		}
	}
}

func TestBuildRejectsUnknownType(t *testing.T) {
	if _, err := NewRegistry().Build("x", "carrier-pigeon", "", "", ""); err == nil {
		t.Fatalf("expected unknown type error")
	}
}
