package features

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/models"
)

func newExtractor(t *testing.T) (*Extractor, *kv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return NewExtractor(store), store
}

func enriched(eventType string, payload map[string]any, e models.Enrichment) models.EnrichedEvent {
	return models.EnrichedEvent{
		EventID:    "11111111-1111-1111-1111-111111111111",
		AgentID:    "agent-7",
		EventType:  eventType,
		Payload:    payload,
		Enrichment: e,
	}
}

func TestExtractProcess(t *testing.T) {
	x, _ := newExtractor(t)

	e := models.NewEnrichment()
	e.Reputation.VT = &models.VTResult{Positives: 67, Total: 70}
	e.YaraHits = []string{"mimikatz"}
	e.ThreatScore = 95

	ev := enriched("process", map[string]any{
		"process_name":      "mimikatz.exe",
		"command_line":      "mimikatz.exe privilege::debug",
		"executable_path":   `C:\Temp\mimikatz.exe`,
		"parent_process_id": float64(0),
	}, e)

	feats := x.Extract(context.Background(), ev)

	assert.Equal(t, true, feats["is_system_parent"])
	assert.Equal(t, 67, feats["vt_positives"])
	assert.Equal(t, true, feats["hash_known_malicious"])
	assert.Equal(t, 1, feats["yara_hits_count"])
	assert.Equal(t, true, feats["is_suspicious_path"])
	assert.Equal(t, int64(1), feats["proc_freq_per_hour"])
	assert.Equal(t, len("mimikatz.exe privilege::debug"), feats["command_line_len"])
}

func TestExtractProcess_MissingParentPidIsNotSystemParent(t *testing.T) {
	x, _ := newExtractor(t)
	ev := enriched("process", map[string]any{"process_name": "svchost.exe"}, models.NewEnrichment())

	feats := x.Extract(context.Background(), ev)
	assert.Equal(t, false, feats["is_system_parent"])
}

func TestProcessFrequencyCounterIsMonotonic(t *testing.T) {
	x, store := newExtractor(t)
	ev := enriched("process", map[string]any{"process_name": "cmd.exe"}, models.NewEnrichment())

	var last int64
	for i := 0; i < 5; i++ {
		feats := x.Extract(context.Background(), ev)
		freq := feats["proc_freq_per_hour"].(int64)
		assert.Greater(t, freq, last)
		last = freq
	}

	// The counter rides on the shared key space other replicas see.
	n, err := store.Incr(context.Background(), kv.CounterKey("agent-7", "proc:cmd.exe"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestExtractFile(t *testing.T) {
	x, _ := newExtractor(t)

	e := models.NewEnrichment()
	e.Reputation.OTX = &models.OTXResult{Pulses: 4}
	e.YaraHits = []string{"dropper", "packer"}

	ev := enriched("file", map[string]any{
		"file_name": "Payload.PS1",
		"file_path": `C:\Users\x\AppData\Local\Temp\payload.ps1`,
		"file_type": ".ps1",
		"file_size": float64(2048),
	}, e)

	feats := x.Extract(context.Background(), ev)

	assert.Equal(t, "payload.ps1", feats["file_name"])
	assert.Equal(t, true, feats["is_temp_dir"])
	assert.Equal(t, true, feats["is_script"])
	assert.Equal(t, 2, feats["yara_hits"])
	assert.Equal(t, 4, feats["otx_pulses"])
	assert.Equal(t, int64(1), feats["temp_file_freq"])
}

func TestExtractNetwork(t *testing.T) {
	x, _ := newExtractor(t)

	e := models.NewEnrichment()
	e.Reputation.OTX = &models.OTXResult{Pulses: 85}
	e.GeoIP = models.GeoIP{Country: "Russia"}
	e.ThreatScore = 90

	ev := enriched("network", map[string]any{
		"remote_ip":      "185.156.47.22",
		"local_ip":       "192.168.1.5",
		"remote_port":    float64(443),
		"bytes_sent":     float64(1200),
		"bytes_received": float64(340000),
		"protocol":       "tcp",
	}, e)

	feats := x.Extract(context.Background(), ev)

	assert.Equal(t, false, feats["is_loopback"])
	assert.Equal(t, false, feats["is_private_ip"])
	assert.Equal(t, 85, feats["otx_pulses"])
	assert.Equal(t, "Russia", feats["geoip_country"])

	t.Run("private and loopback classification", func(t *testing.T) {
		for ip, want := range map[string][2]bool{
			"127.0.0.1":    {true, false},
			"192.168.0.10": {false, true},
			"10.0.0.3":     {false, true},
			"8.8.8.8":      {false, false},
		} {
			ev := enriched("network", map[string]any{"remote_ip": ip}, models.NewEnrichment())
			feats := x.Extract(context.Background(), ev)
			assert.Equal(t, want[0], feats["is_loopback"], ip)
			assert.Equal(t, want[1], feats["is_private_ip"], ip)
		}
	})
}

func TestExtractSystem(t *testing.T) {
	x, _ := newExtractor(t)

	ev := enriched("system", map[string]any{
		"cpu_usage":        float64(95),
		"available_memory": float64(4 << 30),
		"total_memory":     float64(64 << 30),
		"disk_usage":       float64(70),
		"uptime":           float64(86400),
	}, models.NewEnrichment())

	feats := x.Extract(context.Background(), ev)

	assert.Equal(t, true, feats["high_cpu"])
	assert.Equal(t, true, feats["high_memory"])
	assert.InDelta(t, 93.75, feats["memory_used_pct"].(float64), 0.001)
}

func TestNumericVector(t *testing.T) {
	t.Run("canonical order with bools as 1/0", func(t *testing.T) {
		feats := map[string]any{
			"cpu_usage":       float64(95),
			"memory_used_pct": float64(93.75),
			"disk_usage":      float64(70),
			"uptime":          float64(86400),
			"high_cpu":        true,
			"high_memory":     false,
			"threat_score":    float64(30),
		}
		vec := NumericVector("system", feats)
		assert.Equal(t, []float64{95, 93.75, 70, 86400, 1, 0, 30}, vec)
	})

	t.Run("strings are excluded", func(t *testing.T) {
		feats := map[string]any{
			"remote_ip":    "8.8.8.8",
			"remote_port":  float64(53),
			"threat_score": float64(0),
		}
		vec := NumericVector("network", feats)
		assert.Equal(t, []float64{53, 0}, vec)
	})

	t.Run("empty map yields empty vector", func(t *testing.T) {
		assert.Empty(t, NumericVector("process", map[string]any{}))
	})
}

func TestExtractorWithoutCounters(t *testing.T) {
	x := NewExtractor(nil)
	ev := enriched("process", map[string]any{"process_name": "cmd.exe"}, models.NewEnrichment())

	feats := x.Extract(context.Background(), ev)
	assert.Equal(t, int64(0), feats["proc_freq_per_hour"])
}
