// Package scam screens message links against a phishing classifier.
// Verdicts are cached per domain so repeat offenders and known-clean
// hosts never cost a second API call.
package scam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
)

const defaultCacheSize = 2048

var domainPattern = regexp.MustCompile(`(?i)\b(?:https?://)?(?:[\w-]+\.)+[a-z]{2,63}\b`)

// Verdict is the outcome of screening one message.
type Verdict struct {
	Scam    bool
	Domains []string
}

// Detector talks to an anti-phishing endpoint that accepts the whole
// message body and reports which domains in it are flagged.
type Detector struct {
	client    *http.Client
	endpoint  string
	userAgent string
	log       *zap.Logger

	cache *lru.Cache[string, bool]
}

func New(endpoint, userAgent string, timeout time.Duration, log *zap.Logger) *Detector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cache, _ := lru.New[string, bool](defaultCacheSize)
	return &Detector{
		client:    &http.Client{Timeout: timeout},
		endpoint:  endpoint,
		userAgent: userAgent,
		log:       log,
		cache:     cache,
	}
}

// ExtractDomains returns the normalized domains mentioned in content.
func ExtractDomains(content string) []string {
	raw := domainPattern.FindAllString(content, -1)
	seen := make(map[string]struct{}, len(raw))
	var out []string
	for _, m := range raw {
		d := normalizeDomain(m)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

func normalizeDomain(m string) string {
	m = strings.ToLower(m)
	m = strings.TrimPrefix(m, "https://")
	m = strings.TrimPrefix(m, "http://")
	if i := strings.IndexAny(m, "/?#"); i >= 0 {
		m = m[:i]
	}
	ascii, err := idna.Lookup.ToASCII(m)
	if err != nil {
		return m
	}
	return ascii
}

type checkRequest struct {
	Message string `json:"message"`
}

type checkResponse struct {
	Match   bool `json:"match"`
	Matches []struct {
		Domain      string  `json:"domain"`
		Type        string  `json:"type"`
		TrustRating float64 `json:"trust_rating"`
	} `json:"matches"`
}

// Check screens content. Cached domains short-circuit: one known-bad
// domain flags the message outright, and a message whose domains are
// all known-clean skips the API entirely.
func (d *Detector) Check(ctx context.Context, content string) (Verdict, error) {
	domains := ExtractDomains(content)
	if len(domains) == 0 {
		return Verdict{}, nil
	}

	var bad []string
	unknown := false
	for _, domain := range domains {
		flagged, ok := d.cache.Get(domain)
		switch {
		case !ok:
			unknown = true
		case flagged:
			bad = append(bad, domain)
		}
	}
	if len(bad) > 0 {
		return Verdict{Scam: true, Domains: bad}, nil
	}
	if !unknown {
		return Verdict{}, nil
	}

	resp, err := d.query(ctx, content)
	if err != nil {
		return Verdict{}, err
	}

	flagged := make(map[string]struct{}, len(resp.Matches))
	for _, m := range resp.Matches {
		flagged[normalizeDomain(m.Domain)] = struct{}{}
	}
	for _, domain := range domains {
		_, isBad := flagged[domain]
		d.cache.Add(domain, isBad)
		if isBad {
			bad = append(bad, domain)
		}
	}
	if resp.Match && len(bad) == 0 {
		// Classifier hit on a domain our extractor missed.
		for domain := range flagged {
			bad = append(bad, domain)
		}
	}
	return Verdict{Scam: resp.Match, Domains: bad}, nil
}

func (d *Detector) query(ctx context.Context, content string) (*checkResponse, error) {
	body, err := json.Marshal(checkRequest{Message: content})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scam: classifier returned %d", res.StatusCode)
	}

	var out checkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
