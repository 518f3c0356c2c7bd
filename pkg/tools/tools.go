package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"sigil/pkg/llm"
	"sigil/pkg/state"
)

// Property is one named argument of a tool. Order matters: bang
// commands bind positional arguments in declaration order.
type Property struct {
	Name        string
	Type        string
	Description string
}

// Schema describes a tool's arguments.
type Schema struct {
	Properties []Property
	Required   []string
}

// Descriptor is a self-contained tool record: identity, argument
// schema and the execution function. Execute receives the caller's
// conversation context and may mutate it; persistence is the engine's
// job.
type Descriptor struct {
	Name        string
	Description string
	Schema      Schema
	Execute     func(ctx context.Context, cc *state.ConversationContext, args map[string]any) (string, error)
}

// DuplicateToolError reports a second registration under a name that
// is already taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// Registry holds the tools available to the engine. Registration is
// explicit; there is no automatic discovery.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds a tool. Registering a name twice is a configuration
// bug and fails with DuplicateToolError.
func (r *Registry) Register(d Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return &DuplicateToolError{Name: d.Name}
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// All returns the registered tools in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Schemas exports every tool in the wire format model clients expect.
func (r *Registry) Schemas() []llm.ToolSchema {
	all := r.All()
	out := make([]llm.ToolSchema, 0, len(all))
	for _, d := range all {
		out = append(out, llm.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Schema.wire(),
		})
	}
	return out
}

// wire renders the schema as a JSON-Schema object map.
func (s Schema) wire() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for _, p := range s.Properties {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// Dispatch runs the named tool and always returns an observation
// string. Unknown tools, bad arguments, execution errors and panics
// all become observations the model can react to; Dispatch never
// aborts the reasoning loop.
func (r *Registry) Dispatch(ctx context.Context, cc *state.ConversationContext, name string, args map[string]any) (observation string) {
	d, ok := r.Get(name)
	if !ok {
		slog.WarnContext(ctx, "Unknown tool call", "name", name)
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}

	for _, req := range d.Schema.Required {
		if v, present := args[req]; !present || v == "" {
			return fmt.Sprintf("Error: missing required argument '%s' for tool '%s'", req, name)
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "Tool execution panicked", "tool", name, "error", rec)
			observation = "Error: Internal processing panic"
		}
	}()

	slog.InfoContext(ctx, "Executing tool", "name", name, "args", args)
	res, err := d.Execute(ctx, cc, args)
	if err != nil {
		slog.ErrorContext(ctx, "Tool execution error", "name", name, "error", err)
		return fmt.Sprintf("Error: Tool execution failed: %v", err)
	}
	return res
}
