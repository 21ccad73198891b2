// Package intel provides the external threat-intelligence lookups used by
// enrichment: VirusTotal and OTX over HTTP with retry, a shared 24h KV
// cache, GeoIP, and a rule-based string scanner.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sentinelops/backplane/pkg/models"
)

// Default API endpoints. Overridable for tests.
const (
	DefaultVTBaseURL  = "https://www.virustotal.com/api/v3"
	DefaultOTXBaseURL = "https://otx.alienvault.com/api/v1"
)

// lookupBackoff retries a transient lookup up to 3 attempts total with
// exponential waits bounded to [1s, 10s]. Variable so tests can shrink the
// intervals.
var lookupBackoff = func(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

// VTClient queries the VirusTotal v3 file endpoint.
type VTClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewVTClient builds a client with a bounded request timeout.
func NewVTClient(apiKey string) *VTClient {
	return &VTClient{
		BaseURL: DefaultVTBaseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type vtResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Lookup fetches the analysis stats for a file hash. A 404 means the hash is
// unknown to VT and maps to the zero result, not an error. Other failures
// are retried up to 3 attempts.
func (c *VTClient) Lookup(ctx context.Context, hash string) (models.VTResult, error) {
	var out models.VTResult
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/files/"+hash, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("x-apikey", c.APIKey)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			out = models.VTResult{}
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("vt status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var vr vtResponse
		if err := json.Unmarshal(body, &vr); err != nil {
			return backoff.Permanent(fmt.Errorf("decode vt response: %w", err))
		}
		stats := vr.Data.Attributes.LastAnalysisStats
		total := 0
		for _, n := range stats {
			total += n
		}
		out = models.VTResult{
			Positives: stats["malicious"] + stats["suspicious"],
			Total:     total,
		}
		return nil
	}
	if err := backoff.Retry(op, lookupBackoff(ctx)); err != nil {
		return models.VTResult{}, fmt.Errorf("vt lookup %s: %w", hash, err)
	}
	return out, nil
}

// OTXClient queries AlienVault OTX indicator endpoints.
type OTXClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewOTXClient builds a client with a bounded request timeout.
func NewOTXClient(apiKey string) *OTXClient {
	return &OTXClient{
		BaseURL: DefaultOTXBaseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type otxResponse struct {
	PulseInfo struct {
		Count int `json:"count"`
	} `json:"pulse_info"`
}

// LookupFile returns the pulse count for a file hash.
func (c *OTXClient) LookupFile(ctx context.Context, hash string) (models.OTXResult, error) {
	return c.lookup(ctx, c.BaseURL+"/indicators/file/"+hash+"/general")
}

// LookupIP returns the pulse count for an IPv4 address.
func (c *OTXClient) LookupIP(ctx context.Context, ip string) (models.OTXResult, error) {
	return c.lookup(ctx, c.BaseURL+"/indicators/IPv4/"+ip+"/general")
}

func (c *OTXClient) lookup(ctx context.Context, url string) (models.OTXResult, error) {
	var out models.OTXResult
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-OTX-API-KEY", c.APIKey)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("otx status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var or otxResponse
		if err := json.Unmarshal(body, &or); err != nil {
			return backoff.Permanent(fmt.Errorf("decode otx response: %w", err))
		}
		out = models.OTXResult{Pulses: or.PulseInfo.Count}
		return nil
	}
	if err := backoff.Retry(op, lookupBackoff(ctx)); err != nil {
		return models.OTXResult{}, fmt.Errorf("otx lookup: %w", err)
	}
	return out, nil
}
