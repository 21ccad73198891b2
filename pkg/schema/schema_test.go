package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRaw(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	valid := `{
		"event_id": "2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a",
		"agent_id": "agent-7",
		"event_type": "process",
		"payload": {"process_name": "mimikatz.exe", "pid": 4242},
		"timestamp": "2026-08-26T12:00:00Z"
	}`
	assert.NoError(t, v.ValidateRaw([]byte(valid)))

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{broken`},
		{"missing payload", `{"event_id":"2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a","agent_id":"a","event_type":"process","timestamp":"t"}`},
		{"unknown event type", `{"event_id":"2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a","agent_id":"a","event_type":"registry","payload":{},"timestamp":"t"}`},
		{"empty agent id", `{"event_id":"2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a","agent_id":"","event_type":"process","payload":{},"timestamp":"t"}`},
		{"payload not object", `{"event_id":"2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a","agent_id":"a","event_type":"process","payload":[],"timestamp":"t"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, v.ValidateRaw([]byte(tt.body)))
		})
	}
}

func TestValidateEnriched(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	valid := `{
		"event_id": "2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a",
		"agent_id": "agent-7",
		"event_type": "network",
		"payload": {"remote_ip": "203.0.113.9"},
		"enrichment": {
			"ioc_matches": ["otx_ip_malicious"],
			"reputation": {"otx": {"pulses": 12}},
			"yara_hits": [],
			"geoip": {"country": "Netherlands"},
			"threat_score": 40
		},
		"timestamp": "2026-08-26T12:00:00Z"
	}`
	assert.NoError(t, v.ValidateEnriched([]byte(valid)))

	t.Run("missing enrichment", func(t *testing.T) {
		body := `{"event_id":"2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a","agent_id":"a","event_type":"network","payload":{},"timestamp":"t"}`
		assert.Error(t, v.ValidateEnriched([]byte(body)))
	})

	t.Run("score out of range", func(t *testing.T) {
		body := `{"event_id":"2f0c9f1e-9e3a-4a39-9d9a-6c8b3f1d2e4a","agent_id":"a","event_type":"network","payload":{},
			"enrichment":{"ioc_matches":[],"reputation":{},"yara_hits":[],"geoip":{},"threat_score":101},
			"timestamp":"t"}`
		assert.Error(t, v.ValidateEnriched([]byte(body)))
	})
}
