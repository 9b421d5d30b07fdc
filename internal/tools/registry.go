// Package tools holds the demo tools the relay can invoke before asking the
// completion provider, and the keyword table that triggers them.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ExecutorFunc runs one tool.
type ExecutorFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Registry stores tool executors keyed by tool name.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ExecutorFunc
}

// NewRegistry creates an empty tool executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]ExecutorFunc),
	}
}

// NewBuiltinRegistry creates a registry holding get_weather and search_database.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(ToolGetWeather, getWeather)
	_ = r.Register(ToolSearchDatabase, searchDatabase)
	return r
}

// Register adds a new executor for a tool name.
func (r *Registry) Register(toolName string, exec ExecutorFunc) error {
	if toolName == "" {
		return fmt.Errorf("tool name is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[toolName]; exists {
		return fmt.Errorf("executor already registered for %s", toolName)
	}
	r.executors[toolName] = exec
	return nil
}

// Execute runs the executor for the tool name. An unregistered tool is not
// an error; it yields {"error": "Unknown tool"} like any other result.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	exec := r.executors[toolName]
	r.mu.RUnlock()
	if exec == nil {
		return map[string]any{"error": "Unknown tool"}, nil
	}
	return exec(ctx, args)
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
