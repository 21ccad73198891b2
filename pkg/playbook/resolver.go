package playbook

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PlaybookID builds the canonical id for an (event type, severity) pair.
func PlaybookID(eventType, severity string) string {
	return fmt.Sprintf("pb-%s-%s", eventType, severity)
}

// Resolver locates existing playbooks on disk. Generated playbooks shadow
// static ones: the generated directory is searched first.
type Resolver struct {
	StaticDir    string
	GeneratedDir string
	Catalog      *Catalog
}

// Find returns the playbook for (eventType, severity), or nil when none
// exists. Matching is strict: the file must be named {id}.yaml or carry
// matching metadata, and the in-file id must equal the expected id either
// way.
func (r *Resolver) Find(eventType, severity string) (*Playbook, error) {
	expected := PlaybookID(eventType, severity)

	for _, dir := range []string{r.GeneratedDir, r.StaticDir} {
		if dir == "" {
			continue
		}

		if pb := r.tryLoad(filepath.Join(dir, expected+".yaml"), expected); pb != nil {
			return pb, nil
		}

		// Fallback scan: differently-named files whose metadata matches.
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
				continue
			}
			pb := r.tryLoad(filepath.Join(dir, e.Name()), expected)
			if pb == nil {
				continue
			}
			if fmt.Sprint(pb.Metadata["event_type"]) == eventType &&
				fmt.Sprint(pb.Metadata["severity"]) == severity {
				return pb, nil
			}
		}
	}
	return nil, nil
}

// tryLoad parses and validates one candidate file, returning nil unless it
// parses cleanly and its id matches. A malformed file on disk never fails
// resolution; it is simply not a match.
func (r *Resolver) tryLoad(path, expectedID string) *Playbook {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	// Cheap id check before full parse+catalog validation.
	var head struct {
		ID string `yaml:"id"`
	}
	if err := yaml.Unmarshal(body, &head); err != nil || head.ID != expectedID {
		return nil
	}

	pb, err := ParseText(string(body), r.Catalog)
	if err != nil {
		return nil
	}
	return pb
}
