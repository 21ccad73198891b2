package analytics

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backplane/pkg/bus"
	"github.com/sentinelops/backplane/pkg/features"
	"github.com/sentinelops/backplane/pkg/models"
	"github.com/sentinelops/backplane/pkg/schema"
)

type fixedScorer struct {
	score   float64
	reasons map[string][]string
}

func (f fixedScorer) Detect(map[string]any, string, string) (float64, map[string][]string) {
	reasons := f.reasons
	if reasons == nil {
		reasons = map[string][]string{"rule": {}, "anomaly": {}, "behavioral": {}}
	}
	return f.score, reasons
}

type stubSink struct {
	alerts []models.Alert
	err    error
}

func (s *stubSink) Insert(_ context.Context, a models.Alert) error {
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, a)
	return nil
}

type stubBus struct {
	keys []string
	err  error
}

func (s *stubBus) PublishJSON(_ context.Context, key string, _ any) error {
	if s.err != nil {
		return s.err
	}
	s.keys = append(s.keys, key)
	return nil
}

func newService(t *testing.T, scorer fixedScorer) (*Service, *stubSink, *stubBus) {
	t.Helper()
	v, err := schema.NewValidator()
	require.NoError(t, err)
	sink := &stubSink{}
	b := &stubBus{}
	return &Service{
		Extractor: features.NewExtractor(nil),
		Ensemble:  scorer,
		Sink:      sink,
		Bus:       b,
		Validator: v,
	}, sink, b
}

func enrichedBody(t *testing.T) []byte {
	t.Helper()
	ev := models.EnrichedEvent{
		EventID:    "11111111-1111-1111-1111-111111111111",
		AgentID:    "agent-7",
		EventType:  "process",
		Payload:    map[string]any{"process_name": "mimikatz.exe"},
		Enrichment: models.NewEnrichment(),
		Timestamp:  "2026-08-26T12:00:00Z",
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func TestHandle_SeverityBuckets(t *testing.T) {
	cases := []struct {
		score    float64
		severity models.Severity
		alerting bool
	}{
		{49.99, "", false},
		{50.00, models.SeverityMedium, true},
		{64.99, models.SeverityMedium, true},
		{65.00, models.SeverityHigh, true},
		{79.99, models.SeverityHigh, true},
		{80.00, models.SeverityCritical, true},
		{100.00, models.SeverityCritical, true},
	}

	for _, tc := range cases {
		svc, sink, b := newService(t, fixedScorer{score: tc.score})

		err := svc.Handle(context.Background(), bus.Delivery{Body: enrichedBody(t)})
		require.NoError(t, err)

		if !tc.alerting {
			assert.Empty(t, sink.alerts, "score %.2f must not alert", tc.score)
			continue
		}
		require.Len(t, sink.alerts, 1, "score %.2f", tc.score)
		alert := sink.alerts[0]
		assert.Equal(t, tc.severity, alert.Severity)
		assert.Equal(t, tc.score, alert.Score)
		assert.Equal(t, "analytics", alert.Source)
		assert.Equal(t, "ensemble", alert.Details.Model)
		assert.Equal(t, []string{"alerts." + string(tc.severity)}, b.keys)
	}
}

func TestHandle_InsertFailureSuppressesPublish(t *testing.T) {
	svc, sink, b := newService(t, fixedScorer{score: 90})
	sink.err = assert.AnError

	err := svc.Handle(context.Background(), bus.Delivery{Body: enrichedBody(t)})
	require.Error(t, err)
	assert.Empty(t, b.keys)
}

func TestHandle_PublishFailureKeepsStoredAlert(t *testing.T) {
	svc, sink, b := newService(t, fixedScorer{score: 90})
	b.err = assert.AnError

	err := svc.Handle(context.Background(), bus.Delivery{Body: enrichedBody(t)})
	require.NoError(t, err, "a stored alert must be acked even if publish fails")
	assert.Len(t, sink.alerts, 1)
}

func TestHandle_SchemaFailure(t *testing.T) {
	svc, sink, b := newService(t, fixedScorer{score: 90})

	err := svc.Handle(context.Background(), bus.Delivery{Body: []byte(`{"event_type":"process"}`)})
	require.Error(t, err)
	assert.Empty(t, sink.alerts)
	assert.Empty(t, b.keys)
}

func TestHandle_ShadowMode(t *testing.T) {
	svc, sink, b := newService(t, fixedScorer{score: 95})
	svc.ShadowMode = true

	err := svc.Handle(context.Background(), bus.Delivery{Body: enrichedBody(t)})
	require.NoError(t, err)
	assert.Empty(t, sink.alerts)
	assert.Empty(t, b.keys)
}
