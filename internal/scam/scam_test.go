package scam

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestExtractDomains(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"no links here", nil},
		{"visit https://example.com/path?x=1 now", []string{"example.com"}},
		{"http://Sub.Example.COM and example.com", []string{"sub.example.com", "example.com"}},
		{"bare discord.gg/abc invite", []string{"discord.gg"}},
		{"dupes example.com https://example.com", []string{"example.com"}},
	}
	for _, tc := range cases {
		if got := ExtractDomains(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ExtractDomains(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func classifierStub(t *testing.T, badDomains map[string]bool, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		var resp checkResponse
		for _, domain := range ExtractDomains(req.Message) {
			if badDomains[domain] {
				resp.Match = true
				resp.Matches = append(resp.Matches, struct {
					Domain      string  `json:"domain"`
					Type        string  `json:"type"`
					TrustRating float64 `json:"trust_rating"`
				}{Domain: domain, Type: "PHISHING", TrustRating: 1})
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestCheckFlagsAndCaches(t *testing.T) {
	calls := 0
	srv := classifierStub(t, map[string]bool{"bad.example": true}, &calls)
	defer srv.Close()

	d := New(srv.URL, "test", time.Second, zap.NewNop())
	ctx := context.Background()

	v, err := d.Check(ctx, "look https://bad.example/login")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !v.Scam || len(v.Domains) != 1 || v.Domains[0] != "bad.example" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if calls != 1 {
		t.Fatalf("expected one API call, got %d", calls)
	}

	// Second hit on the same domain must come from cache.
	v, err = d.Check(ctx, "again bad.example here")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !v.Scam {
		t.Fatalf("cached bad domain should still flag")
	}
	if calls != 1 {
		t.Fatalf("cached verdict should not call the API, got %d calls", calls)
	}
}

func TestCheckCachesCleanDomains(t *testing.T) {
	calls := 0
	srv := classifierStub(t, nil, &calls)
	defer srv.Close()

	d := New(srv.URL, "test", time.Second, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := d.Check(ctx, "see https://ok.example")
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if v.Scam {
			t.Fatalf("clean domain flagged")
		}
	}
	if calls != 1 {
		t.Fatalf("clean verdict should be cached, got %d calls", calls)
	}
}

func TestCheckNoLinksSkipsAPI(t *testing.T) {
	calls := 0
	srv := classifierStub(t, nil, &calls)
	defer srv.Close()

	d := New(srv.URL, "test", time.Second, zap.NewNop())
	v, err := d.Check(context.Background(), "just words")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if v.Scam || calls != 0 {
		t.Fatalf("messages without links must not hit the API")
	}
}

func TestCheckClassifierErrorDoesNotCache(t *testing.T) {
	fail := true
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(checkResponse{})
	}))
	defer srv.Close()

	d := New(srv.URL, "test", time.Second, zap.NewNop())
	ctx := context.Background()

	if _, err := d.Check(ctx, "https://maybe.example"); err == nil {
		t.Fatalf("expected error from failing classifier")
	}

	// Once the classifier recovers the domain is re-screened.
	fail = false
	v, err := d.Check(ctx, "https://maybe.example")
	if err != nil {
		t.Fatalf("check after recovery: %v", err)
	}
	if v.Scam {
		t.Fatalf("domain should be clean")
	}
	if calls != 2 {
		t.Fatalf("failed verdict must not be cached, got %d calls", calls)
	}
}
