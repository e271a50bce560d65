// Package tools provides the tools that build actions invoke, the toolbox
// that resolves tool names, and the host services tools use to spawn
// processes in a build's working directory.
package tools

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
	"git.home.luguber.info/inful/prebake/internal/plan"
	"git.home.luguber.info/inful/prebake/internal/validity"
)

// Invocation is everything a tool receives for one action.
type Invocation struct {
	// Inputs are working-directory relative paths, in declared glob order
	// and then by name.
	Inputs  []string
	Product *plan.Product
	Action  plan.Action
	Host    *Host
}

// Tool performs one kind of action. Run returns false for a failure the
// tool reported itself, and an error for anything that went wrong while
// running it.
type Tool interface {
	Name() string
	// Signature changes whenever the tool would behave differently.
	Signature() validity.Hash
	Run(ctx context.Context, inv Invocation) (bool, error)
}

// SourceFiles is implemented by tools defined by files in the client
// directory. Products built with such a tool are invalidated when the files
// change.
type SourceFiles interface {
	SourceFiles() []string
}

// Listener is told about tools that were replaced or removed.
type Listener func(name string)

// ToolBox resolves tool names to tools.
type ToolBox struct {
	logger *slog.Logger

	mu        sync.RWMutex
	tools     map[string]Tool
	listeners map[int]Listener
	nextID    int
}

// NewToolBox returns a toolbox holding the built-in tools.
func NewToolBox(logger *slog.Logger) *ToolBox {
	if logger == nil {
		logger = slog.Default()
	}
	tb := &ToolBox{logger: logger, tools: map[string]Tool{}, listeners: map[int]Listener{}}
	for _, t := range Builtins() {
		tb.tools[t.Name()] = t
	}
	return tb
}

// Lookup returns the named tool.
func (tb *ToolBox) Lookup(name string) (Tool, bool) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	t, ok := tb.tools[name]
	return t, ok
}

// Names returns the tool names, sorted.
func (tb *ToolBox) Names() []string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return slices.Sorted(maps.Keys(tb.tools))
}

// Register adds or replaces a tool. Listeners hear about replacements whose
// signature differs.
func (tb *ToolBox) Register(t Tool) {
	tb.mu.Lock()
	prev, existed := tb.tools[t.Name()]
	tb.tools[t.Name()] = t
	tb.mu.Unlock()
	if existed && prev.Signature() != t.Signature() {
		tb.logger.Info("Tool changed", logfields.Tool(t.Name()))
		tb.notify(t.Name())
	}
}

// Remove deletes a tool and notifies listeners.
func (tb *ToolBox) Remove(name string) {
	tb.mu.Lock()
	_, existed := tb.tools[name]
	delete(tb.tools, name)
	tb.mu.Unlock()
	if existed {
		tb.logger.Info("Tool removed", logfields.Tool(name))
		tb.notify(name)
	}
}

// Apply binds the tools a plan declares. A declaration without a command
// must name a built-in.
func (tb *ToolBox) Apply(specs map[string]plan.ToolSpec) error {
	names := slices.Sorted(maps.Keys(specs))
	for _, name := range names {
		if _, ok := builtin(name); !ok && specs[name].Command == "" {
			return foundation.ConfigError("unknown built-in tool").WithContext("tool", name).Build()
		}
	}
	for _, name := range names {
		if spec := specs[name]; spec.Command != "" {
			tb.Register(NewExecTool(spec))
		}
	}
	return nil
}

// Subscribe registers a listener and returns a function that removes it.
func (tb *ToolBox) Subscribe(l Listener) (cancel func()) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.nextID++
	id := tb.nextID
	tb.listeners[id] = l
	return func() {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		delete(tb.listeners, id)
	}
}

func (tb *ToolBox) notify(name string) {
	tb.mu.RLock()
	ls := slices.Collect(maps.Values(tb.listeners))
	tb.mu.RUnlock()
	for _, l := range ls {
		l(name)
	}
}
