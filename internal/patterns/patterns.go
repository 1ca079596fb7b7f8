// Package patterns holds the per-tool regular expression sets that the
// detector uses to recognize when an interactive assistant is waiting for
// input, plus the tunable timing constants that gate detection.
package patterns

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nafistiham/jigai/internal/log"
)

// ToolPattern is a named bundle of precompiled, case-sensitive regular
// expressions that signal "this tool is now waiting for user input".
// Immutable after the registry loads.
type ToolPattern struct {
	Key      string
	Name     string
	Patterns []*regexp.Regexp
}

// Matches reports whether any of the tool's compiled patterns match line.
func (t ToolPattern) Matches(line string) bool {
	for _, p := range t.Patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// Registry maps tool key to ToolPattern and carries the two timing tunables
// shared by every session: the silence threshold for the timeout path and
// the minimum spacing between successive idle events.
type Registry struct {
	// order preserves insertion order: built-in tools in file order, then
	// user tools in file order; a user key that collides with a built-in
	// key replaces the entry in place, keeping its original position.
	order []string
	tools map[string]ToolPattern

	TimeoutSeconds  int
	CooldownSeconds int
}

// toolDoc mirrors the YAML shape of a single tool entry.
type toolDoc struct {
	Name         string   `yaml:"name"`
	IdlePatterns []string `yaml:"idle_patterns"`
}

// NewRegistry creates an empty registry with the given timing defaults.
func NewRegistry(timeoutSeconds, cooldownSeconds int) *Registry {
	return &Registry{
		tools:           make(map[string]ToolPattern),
		TimeoutSeconds:  timeoutSeconds,
		CooldownSeconds: cooldownSeconds,
	}
}

// Load builds a Registry from a built-in pattern document and an optional
// user document. builtinYAML must be valid; userYAML may be nil when no user
// pattern file exists. Invalid regexes are dropped silently, leaving the
// tool's remaining valid patterns intact; an empty tool (all patterns
// invalid) is still registered with zero patterns.
func Load(builtinYAML []byte, userYAML []byte) (*Registry, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(builtinYAML, &root); err != nil {
		return nil, fmt.Errorf("parsing built-in pattern document: %w", err)
	}
	doc, err := mappingNode(&root)
	if err != nil {
		return nil, fmt.Errorf("built-in pattern document: %w", err)
	}

	reg := NewRegistry(30, 5)

	if toolsNode := lookupKey(doc, "tools"); toolsNode != nil {
		keys, entries, err := orderedTools(toolsNode)
		if err != nil {
			return nil, fmt.Errorf("built-in tools: %w", err)
		}
		for _, key := range keys {
			reg.put(key, entries[key])
		}
	}
	if defaultsNode := lookupKey(doc, "defaults"); defaultsNode != nil {
		var d struct {
			TimeoutSeconds  int `yaml:"timeout_seconds"`
			CooldownSeconds int `yaml:"cooldown_seconds"`
		}
		if err := defaultsNode.Decode(&d); err == nil {
			if d.TimeoutSeconds > 0 {
				reg.TimeoutSeconds = d.TimeoutSeconds
			}
			if d.CooldownSeconds > 0 {
				reg.CooldownSeconds = d.CooldownSeconds
			}
		}
	}

	if len(userYAML) == 0 {
		return reg, nil
	}

	var uroot yaml.Node
	if err := yaml.Unmarshal(userYAML, &uroot); err != nil {
		return nil, fmt.Errorf("parsing user pattern document: %w", err)
	}
	udoc, err := mappingNode(&uroot)
	if err != nil {
		return nil, fmt.Errorf("user pattern document: %w", err)
	}

	if customNode := lookupKey(udoc, "custom_tools"); customNode != nil {
		keys, entries, err := orderedTools(customNode)
		if err != nil {
			return nil, fmt.Errorf("user custom_tools: %w", err)
		}
		for _, key := range keys {
			reg.put(key, entries[key])
		}
	}
	if overridesNode := lookupKey(udoc, "overrides"); overridesNode != nil {
		var o struct {
			TimeoutSeconds  *int `yaml:"timeout_seconds"`
			CooldownSeconds *int `yaml:"cooldown_seconds"`
		}
		if err := overridesNode.Decode(&o); err == nil {
			if o.TimeoutSeconds != nil {
				reg.TimeoutSeconds = *o.TimeoutSeconds
			}
			if o.CooldownSeconds != nil {
				reg.CooldownSeconds = *o.CooldownSeconds
			}
		}
	}

	return reg, nil
}

// mappingNode unwraps a document node down to its top-level mapping node.
func mappingNode(n *yaml.Node) (*yaml.Node, error) {
	node := n
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return &yaml.Node{Kind: yaml.MappingNode}, nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at document root")
	}
	return node, nil
}

// lookupKey returns the value node for key within mapping, or nil if absent.
func lookupKey(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// orderedTools decodes a tools/custom_tools mapping node, preserving the
// key order as written in the file.
func orderedTools(mapping *yaml.Node) ([]string, map[string]toolDoc, error) {
	if mapping.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("expected a mapping of tool key to tool entry")
	}
	keys := make([]string, 0, len(mapping.Content)/2)
	entries := make(map[string]toolDoc, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		var doc toolDoc
		if err := mapping.Content[i+1].Decode(&doc); err != nil {
			return nil, nil, fmt.Errorf("tool %q: %w", key, err)
		}
		keys = append(keys, key)
		entries[key] = doc
	}
	return keys, entries, nil
}

func (r *Registry) put(key string, doc toolDoc) {
	name := doc.Name
	if name == "" {
		name = key
	}

	var compiled []*regexp.Regexp
	for _, raw := range doc.IdlePatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			log.Warn(log.CatConfig, "dropping invalid pattern", "tool", key, "pattern", raw, "error", err)
			continue
		}
		compiled = append(compiled, re)
	}

	if _, exists := r.tools[key]; !exists {
		r.order = append(r.order, key)
	}
	r.tools[key] = ToolPattern{Key: key, Name: name, Patterns: compiled}
}

// MatchAny iterates tools in insertion order and returns the key of the
// first tool whose pattern list matches line, or "" if none match.
func (r *Registry) MatchAny(line string) string {
	for _, key := range r.order {
		if r.tools[key].Matches(line) {
			return key
		}
	}
	return ""
}

// Tool returns the ToolPattern for key and whether it was found.
func (r *Registry) Tool(key string) (ToolPattern, bool) {
	t, ok := r.tools[key]
	return t, ok
}

// Has reports whether key is a registered tool.
func (r *Registry) Has(key string) bool {
	_, ok := r.tools[key]
	return ok
}

// DisplayName returns the stored display name for key, or key itself if the
// tool is not registered.
func (r *Registry) DisplayName(key string) string {
	if t, ok := r.tools[key]; ok {
		return t.Name
	}
	return key
}

// Keys returns the registered tool keys in insertion order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// commandHints maps a lowercase substring found in the launch argv to a tool
// key. Order matters only in that the first matching substring wins.
var commandHints = []struct {
	substr string
	key    string
}{
	{"claude", "claude_code"},
	{"codex", "codex"},
	{"gemini", "gemini_cli"},
	{"aider", "aider"},
	{"opencode", "opencode"},
}

// DetectToolFromCommand lowercases the joined argv and tests it against a
// fixed table of substrings, returning the mapped tool key only if that key
// is present in the registry; otherwise it returns "unknown". This hint
// biases the detector toward the right tool but is never required for
// detection to work.
func DetectToolFromCommand(argv []string, reg *Registry) string {
	joined := strings.ToLower(strings.Join(argv, " "))
	for _, hint := range commandHints {
		if strings.Contains(joined, hint.substr) && reg.Has(hint.key) {
			return hint.key
		}
	}
	return "unknown"
}

// LoadPatternFile reads a pattern file from disk. A missing path is not an
// error; it returns nil, nil so callers can treat "no user file" the same as
// "empty user file".
func LoadPatternFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading pattern file %s: %w", path, err)
	}
	return data, nil
}
