// Package tools defines the uniform tool contract and the four
// registered tool families: activity generation, crisis handling,
// motivation, and teaching-session feedback. Every tool turns an
// extracted topic plus optional structured context into a declared
// payload; a tool that cannot parse its model output returns a
// canned safe payload rather than propagating failure.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

// Context is the optional structured context extracted from an
// utterance: grade, subject, class size, language.
type Context struct {
	Grade     string
	Subject   string
	ClassSize int
	Language  string
}

// ContextFromMap picks the recognized keys out of an utterance's
// free-form structured context.
func ContextFromMap(m map[string]any) Context {
	var c Context
	if m == nil {
		return c
	}
	if v, ok := m["grade"]; ok {
		c.Grade = fmt.Sprintf("%v", v)
	}
	if v, ok := m["subject"]; ok {
		c.Subject = fmt.Sprintf("%v", v)
	}
	if v, ok := m["language"]; ok {
		c.Language = fmt.Sprintf("%v", v)
	}
	switch v := m["class_size"].(type) {
	case int:
		c.ClassSize = v
	case int64:
		c.ClassSize = int(v)
	case float64:
		c.ClassSize = int(v)
	case string:
		fmt.Sscanf(v, "%d", &c.ClassSize)
	}
	return c
}

// Describe renders the context for inclusion in a prompt.
func (c Context) Describe() string {
	var parts []string
	if c.Grade != "" {
		parts = append(parts, "grade "+c.Grade)
	}
	if c.Subject != "" {
		parts = append(parts, "subject "+c.Subject)
	}
	if c.ClassSize > 0 {
		parts = append(parts, fmt.Sprintf("class of %d students", c.ClassSize))
	}
	if c.Language != "" {
		parts = append(parts, "language "+c.Language)
	}
	if len(parts) == 0 {
		return "no additional context"
	}
	return strings.Join(parts, ", ")
}

// Descriptor is the static declaration each registered tool carries.
type Descriptor struct {
	Name        sahayak.ToolName
	Description string

	// QualityGated marks tools whose output passes through the
	// quality gate before being returned.
	QualityGated bool

	// FollowUp, when non-empty, names the tool invoked automatically
	// after this one succeeds. The follow-up result is attached to
	// the primary result, not returned separately.
	FollowUp sahayak.ToolName
}

// Tool is the uniform execution contract.
type Tool interface {
	Descriptor() Descriptor

	// Execute returns the tool's declared payload. Implementations
	// never return a nil payload with a nil error; a model failure
	// either surfaces as an error or degrades to the tool's canned
	// fallback payload.
	Execute(ctx context.Context, topic string, tctx Context) (any, error)
}

// Registry holds the routable tool set in registration order.
type Registry struct {
	order []sahayak.ToolName
	byName map[sahayak.ToolName]Tool
}

// NewRegistry builds a Registry from tools, preserving order for
// prompt rendering.
func NewRegistry(list ...Tool) *Registry {
	r := &Registry{byName: make(map[sahayak.ToolName]Tool, len(list))}
	for _, t := range list {
		name := t.Descriptor().Name
		if _, dup := r.byName[name]; dup {
			continue
		}
		r.order = append(r.order, name)
		r.byName[name] = t
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name sahayak.ToolName) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []sahayak.ToolName {
	out := make([]sahayak.ToolName, len(r.order))
	copy(out, r.order)
	return out
}

// Catalog renders "name: description" lines for the routing prompt.
func (r *Registry) Catalog() string {
	var sb strings.Builder
	for _, name := range r.order {
		d := r.byName[name].Descriptor()
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, d.Description)
	}
	return sb.String()
}

// Default returns the tool routing falls back to when the router
// cannot produce a usable decision: the first registered tool.
func (r *Registry) Default() (Tool, bool) {
	if len(r.order) == 0 {
		return nil, false
	}
	return r.byName[r.order[0]], true
}
