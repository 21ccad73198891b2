package enrich

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backplane/pkg/bus"
	"github.com/sentinelops/backplane/pkg/intel"
	"github.com/sentinelops/backplane/pkg/models"
	"github.com/sentinelops/backplane/pkg/schema"
)

type stubVT struct {
	res   models.VTResult
	calls int
}

func (s *stubVT) Lookup(context.Context, string) (models.VTResult, error) {
	s.calls++
	return s.res, nil
}

type stubOTX struct {
	res models.OTXResult
}

func (s *stubOTX) LookupFile(context.Context, string) (models.OTXResult, error) { return s.res, nil }
func (s *stubOTX) LookupIP(context.Context, string) (models.OTXResult, error)   { return s.res, nil }

type stubGeo struct {
	res   models.GeoIP
	calls int
}

func (s *stubGeo) Resolve(context.Context, string) models.GeoIP {
	s.calls++
	return s.res
}

type capturedPublish struct {
	key  string
	body []byte
}

type stubBus struct {
	published []capturedPublish
	err       error
}

func (s *stubBus) PublishJSON(_ context.Context, key string, v any) error {
	if s.err != nil {
		return s.err
	}
	body, _ := json.Marshal(v)
	s.published = append(s.published, capturedPublish{key: key, body: body})
	return nil
}

type stubSink struct {
	inserted []models.EnrichedEvent
	err      error
}

func (s *stubSink) Insert(_ context.Context, ev models.EnrichedEvent) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, ev)
	return nil
}

func testScanner(t *testing.T) *intel.Scanner {
	t.Helper()
	rules := `rule mimikatz {
    strings:
        $a = "mimikatz" nocase
    condition:
        any of them
}`
	path := filepath.Join(t.TempDir(), "suspicious.yar")
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o644))
	s, err := intel.LoadScanner(path)
	require.NoError(t, err)
	return s
}

func newTestService(t *testing.T, vt *stubVT, otx *stubOTX, geo *stubGeo) (*Service, *stubBus, *stubSink) {
	t.Helper()
	v, err := schema.NewValidator()
	require.NoError(t, err)
	b := &stubBus{}
	sink := &stubSink{}
	svc := &Service{
		Cache:     &intel.Cache{VT: vt, OTX: otx},
		Geo:       geo,
		Scanner:   testScanner(t),
		Sink:      sink,
		Bus:       b,
		Validator: v,
	}
	return svc, b, sink
}

func rawBody(t *testing.T, ev models.RawEvent) []byte {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func TestEnrichProcess(t *testing.T) {
	svc, _, _ := newTestService(t, &stubVT{res: models.VTResult{Positives: 67, Total: 70}}, &stubOTX{}, &stubGeo{})

	ev := models.RawEvent{
		EventID:   "11111111-1111-1111-1111-111111111111",
		AgentID:   "agent-7",
		EventType: "process",
		Payload: map[string]any{
			"process_name":      "mimikatz.exe",
			"command_line":      "mimikatz.exe sekurlsa::logonpasswords",
			"executable_path":   `C:\Temp\mimikatz.exe`,
			"hash":              "aabbccddeeff00112233",
			"parent_process_id": float64(0),
		},
		Timestamp: "2026-08-26T12:00:00Z",
	}

	e := svc.Enrich(context.Background(), ev)

	// 25 (rules) + 60 (vt capped) + 10 (system parent) = 95
	assert.Equal(t, 95.0, e.ThreatScore)
	assert.Equal(t, []string{"mimikatz"}, e.YaraHits)
	assert.Contains(t, e.IOCMatches, "vt_process_malicious")
	assert.Contains(t, e.IOCMatches, "system_parent")
	require.NotNil(t, e.Reputation.VT)
	assert.Equal(t, 67, e.Reputation.VT.Positives)
}

func TestEnrichProcess_ShortHashSkipsLookup(t *testing.T) {
	vt := &stubVT{res: models.VTResult{Positives: 5}}
	svc, _, _ := newTestService(t, vt, &stubOTX{}, &stubGeo{})

	ev := models.RawEvent{
		EventType: "process",
		Payload:   map[string]any{"hash": "short", "command_line": "notepad.exe"},
	}
	e := svc.Enrich(context.Background(), ev)

	assert.Zero(t, vt.calls)
	assert.Nil(t, e.Reputation.VT)
	assert.Zero(t, e.ThreatScore)
}

func TestEnrichFile(t *testing.T) {
	t.Run("scores rules, vt, and otx", func(t *testing.T) {
		svc, _, _ := newTestService(t,
			&stubVT{res: models.VTResult{Positives: 4, Total: 70}},
			&stubOTX{res: models.OTXResult{Pulses: 7}},
			&stubGeo{})

		ev := models.RawEvent{
			EventType: "file",
			Payload: map[string]any{
				"file_name": "mimikatz_dump.bin",
				"file_path": `C:\Temp`,
				"file_hash": "aabbccddeeff00112233",
			},
		}
		e := svc.Enrich(context.Background(), ev)

		// 30 (rules) + 20 (4 positives * 5) + 21 (7 pulses * 3) = 71
		assert.Equal(t, 71.0, e.ThreatScore)
		assert.ElementsMatch(t, []string{"vt_malicious", "otx_pulses"}, e.IOCMatches)
	})

	t.Run("caps contributions", func(t *testing.T) {
		svc, _, _ := newTestService(t,
			&stubVT{res: models.VTResult{Positives: 50, Total: 70}},
			&stubOTX{res: models.OTXResult{Pulses: 50}},
			&stubGeo{})

		ev := models.RawEvent{
			EventType: "file",
			Payload:   map[string]any{"file_name": "x.bin", "file_hash": "aabbccddeeff00112233"},
		}
		e := svc.Enrich(context.Background(), ev)

		// 50 (vt capped) + 30 (otx capped) = 80, no rule hit
		assert.Equal(t, 80.0, e.ThreatScore)
	})

	t.Run("benign file scores zero", func(t *testing.T) {
		svc, _, _ := newTestService(t, &stubVT{}, &stubOTX{}, &stubGeo{})
		ev := models.RawEvent{
			EventType: "file",
			Payload:   map[string]any{"file_name": "report.docx"},
		}
		e := svc.Enrich(context.Background(), ev)
		assert.Zero(t, e.ThreatScore)
		assert.Empty(t, e.IOCMatches)
	})
}

func TestEnrichNetwork(t *testing.T) {
	t.Run("scores otx pulses and attaches geoip", func(t *testing.T) {
		geo := &stubGeo{res: models.GeoIP{Country: "Russia"}}
		svc, _, _ := newTestService(t, &stubVT{}, &stubOTX{res: models.OTXResult{Pulses: 85}}, geo)

		ev := models.RawEvent{
			EventType: "network",
			Payload:   map[string]any{"remote_ip": "185.156.47.22", "remote_port": float64(443)},
		}
		e := svc.Enrich(context.Background(), ev)

		assert.Equal(t, 40.0, e.ThreatScore) // capped at 40
		assert.Equal(t, []string{"otx_ip_malicious"}, e.IOCMatches)
		assert.Equal(t, "Russia", e.GeoIP.Country)
	})

	t.Run("loopback remote skips all lookups", func(t *testing.T) {
		for _, ip := range []string{"127.0.0.1", "::1", "0.0.0.0"} {
			geo := &stubGeo{res: models.GeoIP{Country: "Nowhere"}}
			svc, _, _ := newTestService(t, &stubVT{}, &stubOTX{res: models.OTXResult{Pulses: 9}}, geo)

			ev := models.RawEvent{
				EventType: "network",
				Payload:   map[string]any{"remote_ip": ip},
			}
			e := svc.Enrich(context.Background(), ev)

			assert.Zero(t, geo.calls, ip)
			assert.Zero(t, e.ThreatScore, ip)
			assert.Empty(t, e.GeoIP.Country, ip)
		}
	})
}

func TestEnrichSystem(t *testing.T) {
	svc, _, _ := newTestService(t, &stubVT{}, &stubOTX{}, &stubGeo{})

	t.Run("high cpu and memory", func(t *testing.T) {
		ev := models.RawEvent{
			EventType: "system",
			Payload: map[string]any{
				"cpu_usage":        float64(95),
				"available_memory": float64(4 << 30),
				"total_memory":     float64(64 << 30),
			},
		}
		e := svc.Enrich(context.Background(), ev)

		// cpu: min((95-80)*2, 30) = 30; mem used 93.75%: min(3.75*3, 30) = 11.25
		assert.InDelta(t, 41.25, e.ThreatScore, 0.001)
		assert.ElementsMatch(t, []string{"high_cpu", "high_memory"}, e.IOCMatches)
	})

	t.Run("idle host scores zero", func(t *testing.T) {
		ev := models.RawEvent{
			EventType: "system",
			Payload: map[string]any{
				"cpu_usage":        float64(12),
				"available_memory": float64(32 << 30),
				"total_memory":     float64(64 << 30),
			},
		}
		e := svc.Enrich(context.Background(), ev)
		assert.Zero(t, e.ThreatScore)
	})
}

func TestHandle(t *testing.T) {
	validEvent := models.RawEvent{
		EventID:   "11111111-1111-1111-1111-111111111111",
		AgentID:   "agent-7",
		EventType: "file",
		Payload:   map[string]any{"file_name": "report.docx"},
		Timestamp: "2026-08-26T12:00:00Z",
	}

	t.Run("persists then publishes with the enriched routing key", func(t *testing.T) {
		svc, b, sink := newTestService(t, &stubVT{}, &stubOTX{}, &stubGeo{})

		err := svc.Handle(context.Background(), bus.Delivery{Body: rawBody(t, validEvent)})
		require.NoError(t, err)

		require.Len(t, sink.inserted, 1)
		require.Len(t, b.published, 1)
		assert.Equal(t, "events.enriched.agent-7.file", b.published[0].key)

		var out models.EnrichedEvent
		require.NoError(t, json.Unmarshal(b.published[0].body, &out))
		assert.Equal(t, validEvent.EventID, out.EventID)
		assert.NotNil(t, out.Enrichment.IOCMatches)
	})

	t.Run("schema failure is an error before any side effect", func(t *testing.T) {
		svc, b, sink := newTestService(t, &stubVT{}, &stubOTX{}, &stubGeo{})

		err := svc.Handle(context.Background(), bus.Delivery{Body: []byte(`{"event_type":"bogus"}`)})
		require.Error(t, err)
		assert.Empty(t, sink.inserted)
		assert.Empty(t, b.published)
	})

	t.Run("persist failure suppresses publish", func(t *testing.T) {
		svc, b, sink := newTestService(t, &stubVT{}, &stubOTX{}, &stubGeo{})
		sink.err = assert.AnError

		err := svc.Handle(context.Background(), bus.Delivery{Body: rawBody(t, validEvent)})
		require.Error(t, err)
		assert.Empty(t, b.published)
	})

	t.Run("threat score stays within bounds", func(t *testing.T) {
		svc, b, _ := newTestService(t,
			&stubVT{res: models.VTResult{Positives: 1000, Total: 1000}},
			&stubOTX{res: models.OTXResult{Pulses: 1000}},
			&stubGeo{})

		ev := validEvent
		ev.Payload = map[string]any{
			"file_name": "mimikatz.bin",
			"file_hash": "aabbccddeeff00112233",
		}
		require.NoError(t, svc.Handle(context.Background(), bus.Delivery{Body: rawBody(t, ev)}))

		var out models.EnrichedEvent
		require.NoError(t, json.Unmarshal(b.published[0].body, &out))
		assert.LessOrEqual(t, out.Enrichment.ThreatScore, 100.0)
		assert.GreaterOrEqual(t, out.Enrichment.ThreatScore, 0.0)
	})
}
