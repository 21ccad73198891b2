package playbook

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidPlaybook marks any parse or catalog violation; the executor
// refuses such playbooks and the generator falls back to its deterministic
// recipe.
var ErrInvalidPlaybook = errors.New("invalid playbook")

// CatalogAction declares an action's contract.
type CatalogAction struct {
	Params      []string `yaml:"params"`
	Description string   `yaml:"description"`
}

// Catalog is the action catalog: the closed set of actions playbooks may
// reference, with their required params.
type Catalog struct {
	Actions map[string]CatalogAction `yaml:"actions"`
}

// LoadCatalog reads an actions.yaml file.
func LoadCatalog(path string) (*Catalog, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action catalog %s: %w", path, err)
	}
	var c Catalog
	if err := yaml.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("decode action catalog %s: %w", path, err)
	}
	if len(c.Actions) == 0 {
		return nil, fmt.Errorf("action catalog %s declares no actions", path)
	}
	return &c, nil
}

// Validate checks every step and rollback step against the catalog:
// the action must exist and all required params must be present.
func (c *Catalog) Validate(pb *Playbook) error {
	all := make([]Step, 0, len(pb.Steps)+len(pb.Rollback))
	all = append(all, pb.Steps...)
	all = append(all, pb.Rollback...)

	for _, s := range all {
		decl, ok := c.Actions[s.Action]
		if !ok {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidPlaybook, s.Action)
		}
		var missing []string
		for _, p := range decl.Params {
			if _, ok := s.Params[p]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: action %q missing params: %s",
				ErrInvalidPlaybook, s.Action, strings.Join(missing, ", "))
		}
	}
	return nil
}

// Describe renders the catalog as the plain-text summary handed to the
// planner prompt.
func (c *Catalog) Describe() string {
	names := make([]string, 0, len(c.Actions))
	for name := range c.Actions {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		a := c.Actions[name]
		fmt.Fprintf(&b, "- %s: %s\n", name, a.Description)
		if len(a.Params) > 0 {
			fmt.Fprintf(&b, "  Required params: %s\n", strings.Join(a.Params, ", "))
		}
	}
	return b.String()
}
