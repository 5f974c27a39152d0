// Package toolkit holds the capability table of tools the backend agent may
// invoke. The table is built explicitly and handed to the runtime at
// construction; nothing registers itself globally.
package toolkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pithecene-io/waypoint/types"
)

// RenderFunc formats a tool-call part for a terminal.
type RenderFunc func(part types.Part) string

// Descriptor describes one tool.
type Descriptor struct {
	// Name is the tool name as it appears in tool_call frames.
	Name string
	// Description is a human-readable summary.
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters json.RawMessage
	// RequiresApproval marks tools the backend suspends for a decision.
	RequiresApproval bool
	// Render formats the call. Nil uses the generic rendering.
	Render RenderFunc
}

// Table maps tool names to descriptors. A nil *Table is valid and empty.
type Table struct {
	byName map[string]Descriptor
}

// NewTable builds a table. Names must be non-empty and unique.
func NewTable(descs ...Descriptor) (*Table, error) {
	t := &Table{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if d.Name == "" {
			return nil, errors.New("tool descriptor has empty name")
		}
		if _, dup := t.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", d.Name)
		}
		if len(d.Parameters) > 0 && !json.Valid(d.Parameters) {
			return nil, fmt.Errorf("tool %q: parameters are not valid JSON", d.Name)
		}
		t.byName[d.Name] = d
	}
	return t, nil
}

// MustTable is NewTable that panics on error. For static tables only.
func MustTable(descs ...Descriptor) *Table {
	t, err := NewTable(descs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the descriptor for name.
func (t *Table) Lookup(name string) (Descriptor, bool) {
	if t == nil {
		return Descriptor{}, false
	}
	d, ok := t.byName[name]
	return d, ok
}

// Names returns the tool names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of tools.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.byName)
}

// Known reports whether name is in the table.
func (t *Table) Known(name string) bool {
	_, ok := t.Lookup(name)
	return ok
}

// Render formats a tool-call part with the tool's renderer, or generically
// when the tool is unknown or has none.
func (t *Table) Render(part types.Part) string {
	if d, ok := t.Lookup(part.ToolName); ok && d.Render != nil {
		return d.Render(part)
	}
	return RenderGeneric(part)
}

// RenderGeneric formats a tool call as its name followed by its arguments.
func RenderGeneric(part types.Part) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s)", part.ToolName, part.ToolCallID)
	args := part.ArgsText
	if args == "" {
		args = types.PrettyArgs(part.Args)
	}
	b.WriteString("\n")
	b.WriteString(args)
	if part.HasResult() {
		label := "result"
		if part.IsError {
			label = "error"
		}
		fmt.Fprintf(&b, "\n%s: %s", label, part.Result)
	}
	return b.String()
}
