package enrich

import (
	"context"

	"github.com/sentinelops/backplane/pkg/models"
)

// Loopback addresses never hit GeoIP or OTX.
var loopbackAddrs = map[string]bool{
	"127.0.0.1": true,
	"::1":       true,
	"0.0.0.0":   true,
}

// realHash filters out placeholder values agents send when no hash was
// computed.
func realHash(h string) bool {
	return len(h) > 10
}

// enrichFile scores a file event: rule hits on name+path (+30), VirusTotal
// (+5 per positive, capped at 50), OTX pulses (+3 per pulse, capped at 30).
func (s *Service) enrichFile(ctx context.Context, ev models.RawEvent) models.Enrichment {
	e := models.NewEnrichment()
	fileName := payloadString(ev.Payload, "file_name")
	filePath := payloadString(ev.Payload, "file_path")
	fileHash := payloadString(ev.Payload, "file_hash")

	if s.Scanner != nil {
		if hits := s.Scanner.Match(fileName + " " + filePath); len(hits) > 0 {
			e.YaraHits = hits
			e.AddScore(30)
		}
	}

	if realHash(fileHash) {
		vt := s.Cache.VTFile(ctx, fileHash)
		e.Reputation.VT = &vt
		if vt.Positives > 0 {
			e.Tag("vt_malicious")
			e.AddScore(min(float64(vt.Positives)*5, 50))
		}

		otx := s.Cache.OTXFile(ctx, fileHash)
		e.Reputation.OTX = &otx
		if otx.Pulses > 0 {
			e.Tag("otx_pulses")
			e.AddScore(min(float64(otx.Pulses)*3, 30))
		}
	}
	return e
}

// enrichNetwork scores a network event via OTX pulses on the remote address
// (+5 per pulse, capped at 40) and attaches GeoIP. Loopback remotes are
// skipped entirely.
func (s *Service) enrichNetwork(ctx context.Context, ev models.RawEvent) models.Enrichment {
	e := models.NewEnrichment()
	remoteIP := payloadString(ev.Payload, "remote_ip")
	if remoteIP == "" || loopbackAddrs[remoteIP] {
		return e
	}

	e.GeoIP = s.Geo.Resolve(ctx, remoteIP)

	otx := s.Cache.OTXIP(ctx, remoteIP)
	e.Reputation.OTX = &otx
	if otx.Pulses > 0 {
		e.Tag("otx_ip_malicious")
		e.AddScore(min(float64(otx.Pulses)*5, 40))
	}
	return e
}

// enrichProcess scores a process event: rule hits on command line + path
// (+25), VirusTotal on the binary hash (+6 per positive, capped at 60), and
// a system-parent marker (+10 when parent pid is 0).
func (s *Service) enrichProcess(ctx context.Context, ev models.RawEvent) models.Enrichment {
	e := models.NewEnrichment()
	cmdline := payloadString(ev.Payload, "command_line")
	exePath := payloadString(ev.Payload, "executable_path")
	hash := payloadString(ev.Payload, "hash")

	if s.Scanner != nil && cmdline+exePath != "" {
		if hits := s.Scanner.Match(cmdline + " " + exePath); len(hits) > 0 {
			e.YaraHits = hits
			e.AddScore(25)
		}
	}

	if realHash(hash) {
		vt := s.Cache.VTProcess(ctx, hash)
		e.Reputation.VT = &vt
		if vt.Positives > 0 {
			e.Tag("vt_process_malicious")
			e.AddScore(min(float64(vt.Positives)*6, 60))
		}
	}

	if ppid, ok := payloadFloat(ev.Payload, "parent_process_id"); ok && ppid == 0 {
		e.Tag("system_parent")
		e.AddScore(10)
	}
	return e
}

// enrichSystem scores resource telemetry: sustained CPU above 80% and
// memory utilisation above 90% each contribute up to 30 points.
func (s *Service) enrichSystem(_ context.Context, ev models.RawEvent) models.Enrichment {
	e := models.NewEnrichment()

	if cpu, ok := payloadFloat(ev.Payload, "cpu_usage"); ok && cpu > 80 {
		e.Tag("high_cpu")
		e.AddScore(min((cpu-80)*2, 30))
	}

	availMem, _ := payloadFloat(ev.Payload, "available_memory")
	totalMem, _ := payloadFloat(ev.Payload, "total_memory")
	if totalMem > 0 {
		usedPct := 100 * (1 - availMem/totalMem)
		if usedPct > 90 {
			e.Tag("high_memory")
			e.AddScore(min((usedPct-90)*3, 30))
		}
	}
	return e
}
