package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backplane/pkg/models"
)

func TestRecommend(t *testing.T) {
	cases := []struct {
		name     string
		alert    models.Alert
		action   models.RecommendedAction
		priority float64
	}{
		{
			name:     "critical severity isolates",
			alert:    models.Alert{Severity: models.SeverityCritical, Score: 85, EventType: "process"},
			action:   models.ActionIsolateHost,
			priority: 5.0,
		},
		{
			name:     "high severity isolates",
			alert:    models.Alert{Severity: models.SeverityHigh, Score: 70, EventType: "network"},
			action:   models.ActionIsolateHost,
			priority: 5.0,
		},
		{
			name:     "score 80 isolates regardless of severity",
			alert:    models.Alert{Severity: models.SeverityMedium, Score: 80, EventType: "file"},
			action:   models.ActionIsolateHost,
			priority: 5.0,
		},
		{
			name: "known malicious process hash terminates",
			alert: models.Alert{
				Severity: models.SeverityMedium, Score: 55, EventType: "process",
				Details: models.AlertDetails{Features: map[string]any{"hash_known_malicious": true}},
			},
			action:   models.ActionTerminateProcess,
			priority: 4.0,
		},
		{
			name: "many vt positives terminate",
			alert: models.Alert{
				Severity: models.SeverityMedium, Score: 55, EventType: "process",
				Details: models.AlertDetails{Features: map[string]any{"vt_positives": 51}},
			},
			action:   models.ActionTerminateProcess,
			priority: 4.0,
		},
		{
			name: "suspicious path quarantines",
			alert: models.Alert{
				Severity: models.SeverityMedium, Score: 55, EventType: "process",
				Details: models.AlertDetails{Features: map[string]any{"is_suspicious_path": true}},
			},
			action:   models.ActionQuarantineFile,
			priority: 3.0,
		},
		{
			name: "public remote blocks ip",
			alert: models.Alert{
				Severity: models.SeverityMedium, Score: 55, EventType: "network",
				Details: models.AlertDetails{Features: map[string]any{"is_private_ip": false, "is_loopback": false}},
			},
			action:   models.ActionBlockIP,
			priority: 3.5,
		},
		{
			name: "private remote does not block",
			alert: models.Alert{
				Severity: models.SeverityMedium, Score: 55, EventType: "network",
				Details: models.AlertDetails{Features: map[string]any{"is_private_ip": true}},
			},
			action:   models.ActionNotifySOC,
			priority: 1.0,
		},
		{
			name: "file with rule hits quarantines",
			alert: models.Alert{
				Severity: models.SeverityMedium, Score: 55, EventType: "file",
				Details: models.AlertDetails{Features: map[string]any{"yara_hits_count": 1}},
			},
			action:   models.ActionQuarantineFile,
			priority: 3.5,
		},
		{
			name:     "fallthrough notifies soc",
			alert:    models.Alert{Severity: models.SeverityMedium, Score: 55, EventType: "system"},
			action:   models.ActionNotifySOC,
			priority: 1.0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, priority := Recommend(tc.alert)
			assert.Equal(t, tc.action, action)
			assert.Equal(t, tc.priority, priority)
		})
	}
}

func TestRecommend_PriorityBoosts(t *testing.T) {
	t.Run("anomaly evidence floors priority at 2.5", func(t *testing.T) {
		a := models.Alert{
			Severity: models.SeverityMedium, Score: 55, EventType: "system",
			Details: models.AlertDetails{Reasons: map[string][]string{"anomaly": {"anomaly_high"}}},
		}
		action, priority := Recommend(a)
		assert.Equal(t, models.ActionNotifySOC, action)
		assert.Equal(t, 2.5, priority)
	})

	t.Run("behavioral evidence floors priority at 2.0", func(t *testing.T) {
		a := models.Alert{
			Severity: models.SeverityMedium, Score: 55, EventType: "system",
			Details: models.AlertDetails{Reasons: map[string][]string{"behavioral": {"behavioral_outlier"}}},
		}
		_, priority := Recommend(a)
		assert.Equal(t, 2.0, priority)
	})

	t.Run("boost never lowers a higher priority", func(t *testing.T) {
		a := models.Alert{
			Severity: models.SeverityCritical, Score: 95, EventType: "process",
			Details: models.AlertDetails{Reasons: map[string][]string{"anomaly": {"anomaly_high"}}},
		}
		_, priority := Recommend(a)
		assert.Equal(t, 5.0, priority)
	})
}

type stubSource struct {
	alerts []models.Alert
	err    error
}

func (s *stubSource) ListUndecided(context.Context, time.Duration, int) ([]models.Alert, error) {
	return s.alerts, s.err
}

type stubSink struct {
	decisions []models.Decision
	conflict  bool
}

func (s *stubSink) Insert(_ context.Context, d models.Decision) (bool, error) {
	if s.conflict {
		return false, nil
	}
	s.decisions = append(s.decisions, d)
	return true, nil
}

func TestRunOnce(t *testing.T) {
	t.Run("creates one pending decision per alert", func(t *testing.T) {
		src := &stubSource{alerts: []models.Alert{
			{ID: "a1", AgentID: "agent-7", EventType: "process", Severity: models.SeverityCritical, Score: 95},
			{ID: "a2", AgentID: "agent-8", EventType: "system", Severity: models.SeverityMedium, Score: 55},
		}}
		sink := &stubSink{}
		e := &Engine{Alerts: src, Decisions: sink}

		created, err := e.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, created)

		require.Len(t, sink.decisions, 2)
		d := sink.decisions[0]
		assert.Equal(t, "a1", d.AlertID)
		assert.Equal(t, models.ActionIsolateHost, d.RecommendedAction)
		assert.Equal(t, models.DecisionPending, d.Status)
		assert.NotEmpty(t, d.ID)
		assert.Contains(t, d.Rationale, "features")
		assert.Contains(t, d.Rationale, "reasons")
	})

	t.Run("conflicting inserts are not counted", func(t *testing.T) {
		src := &stubSource{alerts: []models.Alert{{ID: "a1", Severity: models.SeverityHigh}}}
		sink := &stubSink{conflict: true}
		e := &Engine{Alerts: src, Decisions: sink}

		created, err := e.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, created)
	})

	t.Run("source failure surfaces", func(t *testing.T) {
		e := &Engine{Alerts: &stubSource{err: assert.AnError}, Decisions: &stubSink{}}
		_, err := e.RunOnce(context.Background())
		assert.Error(t, err)
	})
}
