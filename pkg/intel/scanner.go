package intel

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Rule is one named pattern set from the rules file. The rule fires when any
// of its string patterns is found in the scanned text.
type Rule struct {
	Name     string
	Patterns []Pattern
}

// Pattern is a single text literal, optionally case-insensitive.
type Pattern struct {
	Text   string
	NoCase bool
}

// Scanner matches command lines, file names, and paths against a rules file.
// It understands the text-literal subset of the YARA rule grammar: named
// rules with quoted string patterns and an any-of condition. Hex strings,
// regex patterns, and compound conditions are out of scope.
type Scanner struct {
	rules []Rule
}

// LoadScanner parses a rules file.
func LoadScanner(path string) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rules file %s: %w", path, err)
	}
	defer f.Close()

	var (
		rules   []Rule
		current *Rule
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "//"):
			continue
		case strings.HasPrefix(line, "rule "):
			if current != nil {
				rules = append(rules, *current)
			}
			name := strings.TrimSpace(strings.TrimPrefix(line, "rule "))
			name = strings.TrimSuffix(name, "{")
			if i := strings.IndexByte(name, ':'); i >= 0 { // strip tags
				name = name[:i]
			}
			current = &Rule{Name: strings.TrimSpace(name)}
		case strings.HasPrefix(line, "$") && current != nil:
			pat, ok := parsePattern(line)
			if !ok {
				return nil, fmt.Errorf("rules file %s: malformed pattern %q in rule %s", path, line, current.Name)
			}
			current.Patterns = append(current.Patterns, pat)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	if current != nil {
		rules = append(rules, *current)
	}
	return &Scanner{rules: rules}, nil
}

// parsePattern handles `$name = "literal" [nocase]`.
func parsePattern(line string) (Pattern, bool) {
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return Pattern{}, false
	}
	rest := strings.TrimSpace(line[eq+1:])
	if len(rest) < 2 || rest[0] != '"' {
		return Pattern{}, false
	}
	end := strings.IndexByte(rest[1:], '"')
	if end < 0 {
		return Pattern{}, false
	}
	text := rest[1 : 1+end]
	modifiers := strings.TrimSpace(rest[2+end:])
	return Pattern{Text: text, NoCase: strings.Contains(modifiers, "nocase")}, text != ""
}

// Match returns the names of rules whose any pattern occurs in data, in the
// order the rules were declared.
func (s *Scanner) Match(data string) []string {
	var hits []string
	lower := strings.ToLower(data)
	for _, r := range s.rules {
		for _, p := range r.Patterns {
			if p.NoCase {
				if strings.Contains(lower, strings.ToLower(p.Text)) {
					hits = append(hits, r.Name)
					break
				}
			} else if strings.Contains(data, p.Text) {
				hits = append(hits, r.Name)
				break
			}
		}
	}
	return hits
}

// RuleCount reports how many rules loaded, for startup logging.
func (s *Scanner) RuleCount() int { return len(s.rules) }
