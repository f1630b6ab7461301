package vdlctx

import "github.com/google/uuid"

// Context is an isolated namespace of Files. Two contexts never share a
// File except the interpreter itself, which is canonicalized across
// contexts by the Engine.
type Context struct {
	// ID exists only for log/introspection correlation; linking decisions
	// never depend on it, only on Context pointer identity.
	ID uuid.UUID

	engine *Engine

	GlobalScope []FileID // ordered; contributes to unqualified lookups from any file in this context

	SymbolRemap  map[string]string // e.g. glibc-internal hook renames
	LibraryRemap map[string]string // e.g. "libdl.so" -> "libvdl.so"

	Observers []Observer

	Argc int
	Argv []string
	Envp []string

	loaded map[FileID]bool // files owned by this context, for reuse-by-name lookups
}

// Event is the kind of lifecycle notification delivered to Observers.
type Event int

const (
	EventMapped Event = iota
	EventConstructed
	EventDestroyed
	EventUnmapped
)

// Observer receives lifecycle notifications for files in a Context.
type Observer func(ctx *Context, file *File, ev Event)

// NewContext creates an empty Context bound to an Engine and registers
// it so the Engine can find its owning Context for any File later (e.g.
// to resolve global-scope lookups).
func NewContext(e *Engine) *Context {
	c := &Context{
		ID:           uuid.New(),
		engine:       e,
		SymbolRemap:  make(map[string]string),
		LibraryRemap: make(map[string]string),
		loaded:       make(map[FileID]bool),
	}
	e.Contexts = append(e.Contexts, c)
	return c
}

// Notify fans a lifecycle event out to every registered observer.
func (c *Context) Notify(file *File, ev Event) {
	for _, obs := range c.Observers {
		obs(c, file, ev)
	}
}

// FindLoaded returns a previously-loaded file in this context matching
// displayName, per the dependency resolver's reuse-by-name step.
func (c *Context) FindLoaded(displayName string) *File {
	for id := range c.loaded {
		f := c.engine.File(id)
		if f != nil && f.DisplayName == displayName {
			return f
		}
	}
	return nil
}

// FindByDevIno returns a previously-loaded file in this context matching
// (dev, ino), per the dependency resolver's reuse-by-identity step.
func (c *Context) FindByDevIno(dev, ino uint64) *File {
	for id := range c.loaded {
		f := c.engine.File(id)
		if f != nil && f.Dev == dev && f.Ino == ino {
			return f
		}
	}
	return nil
}

// AddLoaded registers a file as owned by this context.
func (c *Context) AddLoaded(id FileID) { c.loaded[id] = true }

// RemoveLoaded forgets a file that GC has unmapped.
func (c *Context) RemoveLoaded(id FileID) { delete(c.loaded, id) }

// Loaded returns every file ID this context currently owns.
func (c *Context) Loaded() []FileID {
	out := make([]FileID, 0, len(c.loaded))
	for id := range c.loaded {
		out = append(out, id)
	}
	return out
}

// Empty reports whether this context has no remaining files. An empty
// context stays in Engine.Contexts; nothing removes it.
func (c *Context) Empty() bool { return len(c.loaded) == 0 }

func (c *Context) removeFromGlobalScope(id FileID) {
	out := c.GlobalScope[:0]
	for _, x := range c.GlobalScope {
		if x != id {
			out = append(out, x)
		}
	}
	c.GlobalScope = out
}
