package tools

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Trigger maps a keyword in user text to a tool call.
type Trigger struct {
	Keyword   string         `yaml:"keyword"`
	Tool      string         `yaml:"tool"`
	Arguments map[string]any `yaml:"arguments"`
}

// Invocation is a tool call selected by Detect.
type Invocation struct {
	Arguments map[string]any
	Tool      string
}

// triggerFile is the top-level YAML structure of tools.yaml.
type triggerFile struct {
	Triggers []Trigger `yaml:"triggers"`
}

// Triggers is an ordered keyword table.
type Triggers struct {
	entries []Trigger
}

// DefaultTriggers returns the built-in table: "weather" calls get_weather for Bangalore.
func DefaultTriggers() *Triggers {
	return &Triggers{entries: []Trigger{
		{Keyword: "weather", Tool: ToolGetWeather, Arguments: map[string]any{"location": "Bangalore"}},
	}}
}

// NewTriggers builds a table from explicit entries. Entries without a keyword
// or tool are dropped.
func NewTriggers(entries ...Trigger) *Triggers {
	t := &Triggers{}
	for _, e := range entries {
		if strings.TrimSpace(e.Keyword) == "" || e.Tool == "" {
			continue
		}
		e.Keyword = strings.ToLower(strings.TrimSpace(e.Keyword))
		t.entries = append(t.entries, e)
	}
	return t
}

// LoadTriggers reads the YAML table at path.
// If the file does not exist, LoadTriggers returns DefaultTriggers (not an error).
func LoadTriggers(path string) (*Triggers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultTriggers(), nil
		}
		return nil, err
	}

	var f triggerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return NewTriggers(f.Triggers...), nil
}

// Detect returns the invocations whose keyword occurs in text, ignoring case,
// in table order.
func (t *Triggers) Detect(text string) []Invocation {
	if t == nil || len(t.entries) == 0 {
		return nil
	}
	lower := strings.ToLower(text)

	var out []Invocation
	for _, e := range t.entries {
		if !strings.Contains(lower, e.Keyword) {
			continue
		}
		args := make(map[string]any, len(e.Arguments))
		for k, v := range e.Arguments {
			args[k] = v
		}
		out = append(out, Invocation{Tool: e.Tool, Arguments: args})
	}
	return out
}

// Len returns the number of entries.
func (t *Triggers) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
