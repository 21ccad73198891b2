// Package features turns enriched events into the per-event-type feature
// maps the detector ensemble scores. Some features are stateful: they
// increment per-agent counters in the shared KV store.
package features

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sentinelops/backplane/pkg/kv"
	"github.com/sentinelops/backplane/pkg/models"
)

// Counters is the KV-backed atomic counter surface.
type Counters interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Extractor dispatches to the type-matched feature extractor.
type Extractor struct {
	counters Counters
}

// NewExtractor builds an extractor. counters may be nil; stateful features
// then read as zero (degraded but functional).
func NewExtractor(counters Counters) *Extractor {
	return &Extractor{counters: counters}
}

// featureOrder fixes the feature-map key order per event type. The anomaly
// detector builds its numeric vector by walking this order, so it must stay
// aligned with the models' training column order.
var featureOrder = map[models.EventType][]string{
	models.EventTypeProcess: {
		"process_name", "command_line_len", "is_system_parent", "vt_positives",
		"hash_known_malicious", "yara_hits_count", "threat_score",
		"proc_freq_per_hour", "is_suspicious_path",
	},
	models.EventTypeFile: {
		"file_name", "file_ext", "file_size", "is_temp_dir", "is_script",
		"yara_hits", "otx_pulses", "vt_positives", "threat_score",
		"temp_file_freq",
	},
	models.EventTypeNetwork: {
		"remote_ip", "local_ip", "remote_port", "bytes_sent", "bytes_received",
		"protocol", "is_loopback", "is_private_ip", "otx_pulses",
		"geoip_country", "threat_score",
	},
	models.EventTypeSystem: {
		"cpu_usage", "memory_used_pct", "disk_usage", "uptime", "high_cpu",
		"high_memory", "threat_score",
	},
}

// Order returns the canonical feature-key order for an event type.
func Order(eventType string) []string {
	return featureOrder[models.EventType(eventType)]
}

// NumericVector projects a feature map onto its numeric subset in canonical
// order. Bools map to 1/0; strings are excluded. An empty result means the
// anomaly detector has nothing to score.
func NumericVector(eventType string, feats map[string]any) []float64 {
	var out []float64
	for _, key := range Order(eventType) {
		switch v := feats[key].(type) {
		case float64:
			out = append(out, v)
		case int64:
			out = append(out, float64(v))
		case int:
			out = append(out, float64(v))
		case bool:
			if v {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		}
	}
	return out
}

// Extract builds the feature map for an enriched event. Unknown event types
// return nil.
func (x *Extractor) Extract(ctx context.Context, ev models.EnrichedEvent) map[string]any {
	switch models.EventType(ev.EventType) {
	case models.EventTypeProcess:
		return x.extractProcess(ctx, ev)
	case models.EventTypeFile:
		return x.extractFile(ctx, ev)
	case models.EventTypeNetwork:
		return x.extractNetwork(ev)
	case models.EventTypeSystem:
		return x.extractSystem(ev)
	}
	return nil
}

// incr bumps a per-agent counter, degrading to zero if the KV store is
// unavailable.
func (x *Extractor) incr(ctx context.Context, agentID, name string) int64 {
	if x.counters == nil {
		return 0
	}
	n, err := x.counters.Incr(ctx, kv.CounterKey(agentID, name))
	if err != nil {
		slog.Warn("Counter increment failed", "agent_id", agentID, "counter", name, "error", err)
		return 0
	}
	return n
}

func (x *Extractor) extractProcess(ctx context.Context, ev models.EnrichedEvent) map[string]any {
	p := ev.Payload
	e := ev.Enrichment

	name := str(p, "process_name")
	if name == "" {
		name = "unknown"
	}
	freq := x.incr(ctx, ev.AgentID, "proc:"+name)

	vtPositives := 0
	if e.Reputation.VT != nil {
		vtPositives = e.Reputation.VT.Positives
	}

	return map[string]any{
		"process_name":         str(p, "process_name"),
		"command_line_len":     len(str(p, "command_line")),
		"is_system_parent":     num(p, "parent_process_id") == 0 && has(p, "parent_process_id"),
		"vt_positives":         vtPositives,
		"hash_known_malicious": vtPositives > 10,
		"yara_hits_count":      len(e.YaraHits),
		"threat_score":         e.ThreatScore,
		"proc_freq_per_hour":   freq,
		"is_suspicious_path":   strings.Contains(strings.ToLower(str(p, "executable_path")), "temp"),
	}
}

func (x *Extractor) extractFile(ctx context.Context, ev models.EnrichedEvent) map[string]any {
	p := ev.Payload
	e := ev.Enrichment

	filePath := strings.ToLower(str(p, "file_path"))
	fileName := strings.ToLower(str(p, "file_name"))
	fileType := str(p, "file_type")

	tempCount := x.incr(ctx, ev.AgentID, "file:temp_create")

	vtPositives, otxPulses := 0, 0
	if e.Reputation.VT != nil {
		vtPositives = e.Reputation.VT.Positives
	}
	if e.Reputation.OTX != nil {
		otxPulses = e.Reputation.OTX.Pulses
	}

	isTempDir := false
	for _, marker := range []string{"temp", "tmp", "appdata/local/temp"} {
		if strings.Contains(filePath, marker) {
			isTempDir = true
			break
		}
	}

	return map[string]any{
		"file_name":      fileName,
		"file_ext":       fileType,
		"file_size":      num(p, "file_size"),
		"is_temp_dir":    isTempDir,
		"is_script":      scriptExts[fileType],
		"yara_hits":      len(e.YaraHits),
		"otx_pulses":     otxPulses,
		"vt_positives":   vtPositives,
		"threat_score":   e.ThreatScore,
		"temp_file_freq": tempCount,
	}
}

var scriptExts = map[string]bool{
	".ps1": true, ".vbs": true, ".js": true, ".bat": true, ".cmd": true,
}

func (x *Extractor) extractNetwork(ev models.EnrichedEvent) map[string]any {
	p := ev.Payload
	e := ev.Enrichment

	remoteIP := str(p, "remote_ip")
	otxPulses := 0
	if e.Reputation.OTX != nil {
		otxPulses = e.Reputation.OTX.Pulses
	}

	return map[string]any{
		"remote_ip":      remoteIP,
		"local_ip":       str(p, "local_ip"),
		"remote_port":    num(p, "remote_port"),
		"bytes_sent":     num(p, "bytes_sent"),
		"bytes_received": num(p, "bytes_received"),
		"protocol":       str(p, "protocol"),
		"is_loopback":    remoteIP == "127.0.0.1" || remoteIP == "::1" || remoteIP == "0.0.0.0",
		"is_private_ip":  strings.HasPrefix(remoteIP, "192.168.") || strings.HasPrefix(remoteIP, "10."),
		"otx_pulses":     otxPulses,
		"geoip_country":  e.GeoIP.Country,
		"threat_score":   e.ThreatScore,
	}
}

func (x *Extractor) extractSystem(ev models.EnrichedEvent) map[string]any {
	p := ev.Payload
	e := ev.Enrichment

	totalMem := num(p, "total_memory")
	availMem := num(p, "available_memory")
	memPct := 0.0
	if totalMem > 0 {
		memPct = (totalMem - availMem) / totalMem * 100
	}

	cpu := num(p, "cpu_usage")
	return map[string]any{
		"cpu_usage":       cpu,
		"memory_used_pct": memPct,
		"disk_usage":      num(p, "disk_usage"),
		"uptime":          num(p, "uptime"),
		"high_cpu":        cpu > 80,
		"high_memory":     memPct > 90,
		"threat_score":    e.ThreatScore,
	}
}

func str(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func num(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func has(p map[string]any, key string) bool {
	_, ok := p[key]
	return ok
}
