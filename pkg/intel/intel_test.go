package intel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/models"
)

func TestMain(m *testing.M) {
	// Keep retry tests fast.
	lookupBackoff = func(ctx context.Context) backoff.BackOff {
		return backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2), ctx)
	}
	os.Exit(m.Run())
}

func newTestKV(t *testing.T) *kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestVTClient_Lookup(t *testing.T) {
	t.Run("sums malicious and suspicious", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/files/abc123", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-apikey"))
			_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":60,"suspicious":7,"harmless":3}}}}`))
		}))
		defer srv.Close()

		c := NewVTClient("test-key")
		c.BaseURL = srv.URL

		res, err := c.Lookup(context.Background(), "abc123")
		require.NoError(t, err)
		assert.Equal(t, models.VTResult{Positives: 67, Total: 70}, res)
	})

	t.Run("404 means unknown hash, not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewVTClient("test-key")
		c.BaseURL = srv.URL

		res, err := c.Lookup(context.Background(), "nosuchhash")
		require.NoError(t, err)
		assert.Equal(t, models.VTResult{}, res)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":1}}}}`))
		}))
		defer srv.Close()

		c := NewVTClient("test-key")
		c.BaseURL = srv.URL

		res, err := c.Lookup(context.Background(), "flaky")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Positives)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := NewVTClient("test-key")
		c.BaseURL = srv.URL

		_, err := c.Lookup(context.Background(), "down")
		require.Error(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})
}

func TestOTXClient_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-OTX-API-KEY"))
		switch r.URL.Path {
		case "/indicators/file/abc/general":
			_, _ = w.Write([]byte(`{"pulse_info":{"count":12}}`))
		case "/indicators/IPv4/185.156.47.22/general":
			_, _ = w.Write([]byte(`{"pulse_info":{"count":85}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewOTXClient("test-key")
	c.BaseURL = srv.URL

	file, err := c.LookupFile(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 12, file.Pulses)

	ip, err := c.LookupIP(context.Background(), "185.156.47.22")
	require.NoError(t, err)
	assert.Equal(t, 85, ip.Pulses)
}

func TestCache_SingleOutboundCallWithinTTL(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":5}}}}`))
	}))
	defer srv.Close()

	vt := NewVTClient("test-key")
	vt.BaseURL = srv.URL
	cache := &Cache{KV: newTestKV(t), VT: vt}

	first := cache.VTFile(context.Background(), "samehash")
	second := cache.VTFile(context.Background(), "samehash")

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second lookup must resolve from cache")
}

func TestCache_FileAndProcessKeysAreDistinct(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":{"attributes":{"last_analysis_stats":{"malicious":5}}}}`))
	}))
	defer srv.Close()

	vt := NewVTClient("test-key")
	vt.BaseURL = srv.URL
	cache := &Cache{KV: newTestKV(t), VT: vt}

	cache.VTFile(context.Background(), "h")
	cache.VTProcess(context.Background(), "h")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_LookupFailureDegradesToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	vt := NewVTClient("bad-key")
	vt.BaseURL = srv.URL
	vt.HTTP.Timeout = time.Second
	cache := &Cache{KV: newTestKV(t), VT: vt}

	res := cache.VTFile(context.Background(), "h")
	assert.Equal(t, models.VTResult{}, res)
}

func TestCache_WorksWithoutKV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pulse_info":{"count":3}}`))
	}))
	defer srv.Close()

	otx := NewOTXClient("test-key")
	otx.BaseURL = srv.URL
	cache := &Cache{OTX: otx}

	res := cache.OTXIP(context.Background(), "1.2.3.4")
	assert.Equal(t, 3, res.Pulses)
}

func TestScanner(t *testing.T) {
	rules := `
// suspicious tooling
rule mimikatz
{
    strings:
        $a = "mimikatz" nocase
        $b = "sekurlsa"
    condition:
        any of them
}

rule encoded_powershell : obfuscation {
    strings:
        $enc = "-EncodedCommand" nocase
    condition:
        any of them
}
`
	path := filepath.Join(t.TempDir(), "suspicious.yar")
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o644))

	s, err := LoadScanner(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.RuleCount())

	t.Run("nocase matches mixed case", func(t *testing.T) {
		hits := s.Match(`C:\Temp\MIMIKATZ.exe --dump`)
		assert.Equal(t, []string{"mimikatz"}, hits)
	})

	t.Run("case-sensitive pattern respects case", func(t *testing.T) {
		assert.Empty(t, s.Match("SEKURLSA"))
		assert.Equal(t, []string{"mimikatz"}, s.Match("sekurlsa::logonpasswords"))
	})

	t.Run("rule fires once even with multiple pattern hits", func(t *testing.T) {
		hits := s.Match("mimikatz sekurlsa")
		assert.Equal(t, []string{"mimikatz"}, hits)
	})

	t.Run("multiple rules in declaration order", func(t *testing.T) {
		hits := s.Match("mimikatz.exe -encodedcommand AAAA")
		assert.Equal(t, []string{"mimikatz", "encoded_powershell"}, hits)
	})

	t.Run("no hits on benign input", func(t *testing.T) {
		assert.Empty(t, s.Match("notepad.exe report.docx"))
	})
}
