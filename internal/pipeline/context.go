// Package pipeline threads an immutable processing Context through an ordered
// list of Actions and turns their outcome into a single Result.
package pipeline

import "maps"

// File references the bytes being ingested. Path points at a local file the
// actions can read; it is owned by the caller.
type File struct {
	Path     string
	Name     string
	Size     int64
	MimeType string
}

// Options configures a new Context.
type Options struct {
	OwnerID          string
	Disk             string
	Directory        string
	Public           bool
	PreserveFilename bool
	UniqueFilename   bool
	MaxSize          int64
	AllowedMimes     []string
	Metadata         map[string]any
	Config           map[string]any
	SessionID        string
}

// Context is the immutable processing state. Every With* method returns a
// derived copy; the receiver is never modified.
type Context struct {
	file             File
	ownerID          string
	disk             string
	directory        string
	public           bool
	preserveFilename bool
	uniqueFilename   bool
	maxSize          int64
	allowedMimes     []string
	metadata         map[string]any
	config           map[string]any
	state            map[string]any
	sessionID        string
}

// NewContext builds the initial Context for one pipeline run.
func NewContext(file File, opts Options) *Context {
	return &Context{
		file:             file,
		ownerID:          opts.OwnerID,
		disk:             opts.Disk,
		directory:        opts.Directory,
		public:           opts.Public,
		preserveFilename: opts.PreserveFilename,
		uniqueFilename:   opts.UniqueFilename,
		maxSize:          opts.MaxSize,
		allowedMimes:     append([]string(nil), opts.AllowedMimes...),
		metadata:         cloneMap(opts.Metadata),
		config:           cloneMap(opts.Config),
		state:            map[string]any{},
		sessionID:        opts.SessionID,
	}
}

func (c *Context) File() File             { return c.file }
func (c *Context) OwnerID() string        { return c.ownerID }
func (c *Context) Disk() string           { return c.disk }
func (c *Context) Directory() string      { return c.directory }
func (c *Context) Public() bool           { return c.public }
func (c *Context) PreserveFilename() bool { return c.preserveFilename }
func (c *Context) UniqueFilename() bool   { return c.uniqueFilename }
func (c *Context) MaxSize() int64         { return c.maxSize }
func (c *Context) SessionID() string      { return c.sessionID }

// AllowedMimes returns a copy of the allowed MIME patterns; empty allows all.
func (c *Context) AllowedMimes() []string {
	return append([]string(nil), c.allowedMimes...)
}

// Metadata returns a copy of the accumulated metadata.
func (c *Context) Metadata() map[string]any { return cloneMap(c.metadata) }

// Config returns a copy of the configuration map.
func (c *Context) Config() map[string]any { return cloneMap(c.config) }

// State returns a copy of the processing-state map.
func (c *Context) State() map[string]any { return cloneMap(c.state) }

func (c *Context) MetadataValue(key string) (any, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

func (c *Context) ConfigValue(key string) (any, bool) {
	v, ok := c.config[key]
	return v, ok
}

func (c *Context) StateValue(key string) (any, bool) {
	v, ok := c.state[key]
	return v, ok
}

// ConfigString returns a string config value or "".
func (c *Context) ConfigString(key string) string {
	s, _ := c.config[key].(string)
	return s
}

// ConfigBool returns a bool config value or false.
func (c *Context) ConfigBool(key string) bool {
	b, _ := c.config[key].(bool)
	return b
}

// StateString returns a string state value or "".
func (c *Context) StateString(key string) string {
	s, _ := c.state[key].(string)
	return s
}

// MetadataString returns a string metadata value or "".
func (c *Context) MetadataString(key string) string {
	s, _ := c.metadata[key].(string)
	return s
}

// WithMetadata returns a copy with key set in the metadata map.
func (c *Context) WithMetadata(key string, value any) *Context {
	return c.WithMetadataMap(map[string]any{key: value})
}

// WithMetadataMap returns a copy with all entries merged into the metadata map.
func (c *Context) WithMetadataMap(values map[string]any) *Context {
	cp := c.clone()
	maps.Copy(cp.metadata, values)
	return cp
}

// WithConfig returns a copy with key set in the configuration map.
func (c *Context) WithConfig(key string, value any) *Context {
	cp := c.clone()
	cp.config[key] = value
	return cp
}

// WithState returns a copy with key set in the processing-state map.
func (c *Context) WithState(key string, value any) *Context {
	cp := c.clone()
	cp.state[key] = value
	return cp
}

// WithFile returns a copy referencing another file.
func (c *Context) WithFile(f File) *Context {
	cp := c.clone()
	cp.file = f
	return cp
}

func (c *Context) clone() *Context {
	cp := *c
	cp.allowedMimes = append([]string(nil), c.allowedMimes...)
	cp.metadata = cloneMap(c.metadata)
	cp.config = cloneMap(c.config)
	cp.state = cloneMap(c.state)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	return out
}
