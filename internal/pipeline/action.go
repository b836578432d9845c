package pipeline

import "context"

// Action is one pipeline stage. Implementations must be safe for concurrent
// use; all per-run state travels in the Context.
type Action interface {
	// Name identifies the action within a Registry.
	Name() string
	// Priority orders execution; lower runs earlier.
	Priority() int
	// Applies reports whether the action should run for c.
	Applies(c *Context) bool
	// Execute runs the stage. Internal faults are returned as *Failure.
	Execute(ctx context.Context, c *Context) Result
	// Options describes the configuration keys the action reads.
	Options() []Option
}

// OptionType is the declared type of a configuration option.
type OptionType string

const (
	OptionString OptionType = "string"
	OptionBool   OptionType = "bool"
	OptionInt    OptionType = "int"
	OptionEnum   OptionType = "enum"
)

// Option describes one configuration key an Action understands.
type Option struct {
	Key         string     `json:"key"`
	Type        OptionType `json:"type"`
	Default     any        `json:"default,omitempty"`
	Choices     []string   `json:"choices,omitempty"`
	Description string     `json:"description"`
}
