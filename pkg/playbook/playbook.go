// Package playbook implements the response-playbook machinery: the YAML
// schema and parser, the action-catalog validator, precondition
// evaluation, resolution and generation, and the executor state machine
// with rollback.
package playbook

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is one playbook action invocation.
type Step struct {
	Name    string         `yaml:"name"`
	Action  string         `yaml:"action"`
	Params  map[string]any `yaml:"params"`
	OnError string         `yaml:"on_error"` // stop | continue
}

// Playbook is the canonical parsed form.
type Playbook struct {
	ID            string           `yaml:"id"`
	Version       string           `yaml:"version"`
	Metadata      map[string]any   `yaml:"metadata"`
	Preconditions []map[string]any `yaml:"preconditions"`
	Steps         []Step           `yaml:"steps"`
	Rollback      []Step           `yaml:"rollback"`
}

// UnmarshalYAML accepts the three step shapes and normalises them:
// the canonical mapping, a single-key {action: params} mapping, and a
// plain action string.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var action string
		if err := node.Decode(&action); err != nil {
			return err
		}
		*s = Step{Name: titleFromAction(action), Action: action, Params: map[string]any{}, OnError: "stop"}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("step must be a mapping or string, got %v", node.Kind)
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if _, ok := raw["action"]; ok {
		type canonical Step // avoid recursing into this method
		var c canonical
		if err := node.Decode(&c); err != nil {
			return err
		}
		if c.Name == "" {
			c.Name = titleFromAction(c.Action)
		}
		if c.Params == nil {
			c.Params = map[string]any{}
		}
		if c.OnError == "" {
			c.OnError = "stop"
		}
		*s = Step(c)
		return nil
	}

	if len(raw) != 1 {
		return fmt.Errorf("step mapping must be canonical or single-key, has %d keys", len(raw))
	}
	for action, v := range raw {
		params, _ := v.(map[string]any)
		if params == nil {
			params = map[string]any{}
		}
		*s = Step{Name: titleFromAction(action), Action: action, Params: params, OnError: "stop"}
	}
	return nil
}

// titleFromAction turns "kill_process" into "Kill Process".
func titleFromAction(action string) string {
	words := strings.Split(strings.ReplaceAll(action, "_", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// stripFences drops Markdown fence-marker lines so the YAML a planner
// wrapped in ```yaml blocks still parses.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// rawPlaybook tolerates the loose shapes planners emit; version in
// particular often arrives as a YAML float.
type rawPlaybook struct {
	ID            string           `yaml:"id"`
	Version       any              `yaml:"version"`
	Metadata      map[string]any   `yaml:"metadata"`
	Preconditions []map[string]any `yaml:"preconditions"`
	Steps         []Step           `yaml:"steps"`
	Rollback      []Step           `yaml:"rollback"`
}

// ParseText parses YAML into a validated playbook. Markdown fences are
// stripped, the version field is coerced to a string, and step shapes are
// normalised before catalog validation.
func ParseText(text string, catalog *Catalog) (*Playbook, error) {
	var raw rawPlaybook
	if err := yaml.Unmarshal([]byte(stripFences(text)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaybook, err)
	}

	pb := Playbook{
		ID:            raw.ID,
		Version:       "1.0",
		Metadata:      raw.Metadata,
		Preconditions: raw.Preconditions,
		Steps:         raw.Steps,
		Rollback:      raw.Rollback,
	}
	if raw.Version != nil {
		pb.Version = fmt.Sprintf("%v", raw.Version)
	}
	if pb.Metadata == nil {
		pb.Metadata = map[string]any{}
	}
	if pb.Preconditions == nil {
		pb.Preconditions = []map[string]any{}
	}

	if err := catalog.Validate(&pb); err != nil {
		return nil, err
	}
	return &pb, nil
}

// Serialize renders the canonical YAML form.
func (p *Playbook) Serialize() ([]byte, error) {
	body, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("serialise playbook %s: %w", p.ID, err)
	}
	return body, nil
}
