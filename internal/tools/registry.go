package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/interfaces"
	"github.com/bobmcallan/vire-openapi-mcp/internal/openapi"
)

// Change describes one committed update of the active tool set. Tools is
// the whole active set after the change, ordered by name.
type Change struct {
	Added   []*Tool
	Removed []string
	Active  []string
	Tools   []*Tool
}

// Notifier is told about every committed change, once per change and in
// commit order. It runs after the registry lock is released, so it may call
// back into the registry.
type Notifier interface {
	ToolsChanged(ctx context.Context, change Change)
}

// Update is one management request. Clear is applied first, then Enable,
// then Disable.
type Update struct {
	Clear   bool
	Enable  []string
	Disable []string
}

// Result summarises an applied Update.
type Result struct {
	Changed  bool     `json:"changed"`
	Enabled  []string `json:"enabled"`
	Disabled []string `json:"disabled"`
	Unknown  []string `json:"unknown"`
	Active   []string `json:"active"`
	Tools    int      `json:"tools"`
	Message  string   `json:"message"`
}

// GroupInfo describes one resource group.
type GroupInfo struct {
	Name   string `json:"name"`
	Tools  int    `json:"tools"`
	Active bool   `json:"active"`
}

// Registry owns the resource groups, the active set and the compiled tools
// of the active groups. Writers are serialised; Lookup reads an immutable
// snapshot and never blocks.
type Registry struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	groups   map[string][]*openapi.ToolDescriptor
	names    map[string]string // lower-case group name -> group name
	active   map[string]bool
	compiled atomic.Pointer[map[string]*Tool]

	compiler *Compiler
	store    interfaces.ActiveSetStore
	notifier Notifier
	logger   *common.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	reserved []string
}

// WithReservedNames drops descriptors whose name collides with a tool the
// host registers itself, such as the management tool.
func WithReservedNames(names ...string) RegistryOption {
	return func(o *registryOptions) { o.reserved = append(o.reserved, names...) }
}

// NewRegistry groups descriptors by resource group. Every group starts
// inactive; call Load to restore the persisted active set.
func NewRegistry(descriptors []*openapi.ToolDescriptor, compiler *Compiler, store interfaces.ActiveSetStore, logger *common.Logger, opts ...RegistryOption) *Registry {
	var o registryOptions
	for _, opt := range opts {
		opt(&o)
	}
	reserved := make(map[string]bool, len(o.reserved))
	for _, name := range o.reserved {
		reserved[name] = true
	}

	r := &Registry{
		groups:   make(map[string][]*openapi.ToolDescriptor),
		names:    make(map[string]string),
		active:   make(map[string]bool),
		compiler: compiler,
		store:    store,
		logger:   logger,
	}
	for _, d := range descriptors {
		if reserved[d.Name] {
			logger.Warn().Str("tool", d.Name).Msg("Operation name is reserved, skipping")
			continue
		}
		r.groups[d.ResourceGroup] = append(r.groups[d.ResourceGroup], d)
		lower := strings.ToLower(d.ResourceGroup)
		if existing, ok := r.names[lower]; ok && existing != d.ResourceGroup {
			logger.Warn().Str("group", d.ResourceGroup).Str("existing", existing).
				Msg("Resource groups differ only by case, keeping first for name lookups")
			continue
		}
		r.names[lower] = d.ResourceGroup
	}
	empty := map[string]*Tool{}
	r.compiled.Store(&empty)
	return r
}

// SetNotifier installs the notifier told about later changes.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier = n
}

// Load restores the persisted active set and compiles those groups. It does
// not write or notify. Unknown persisted names are logged and ignored.
func (r *Registry) Load(ctx context.Context) error {
	saved, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to load active resource groups, starting with none")
		saved = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	active := make(map[string]bool)
	for _, name := range saved {
		group, ok := r.resolve(name)
		if !ok {
			r.logger.Warn().Str("group", name).Msg("Persisted resource group no longer exists")
			continue
		}
		active[group] = true
	}

	compiled := make(map[string]*Tool)
	for group := range active {
		r.compileGroup(group, compiled)
	}
	r.active = active
	r.compiled.Store(&compiled)

	r.logger.Info().
		Strs("active", sortedSet(active)).
		Int("tools", len(compiled)).
		Msg("Active resource groups restored")
	return nil
}

// Apply commits u atomically. When the active set changes the new set is
// persisted and the notifier is told once; otherwise nothing is written.
func (r *Registry) Apply(ctx context.Context, u Update) (Result, error) {
	r.mu.Lock()
	res, change, err := r.apply(ctx, u)
	notifier := r.notifier
	if change == nil || notifier == nil {
		r.mu.Unlock()
		return res, err
	}

	// Taking notifyMu before releasing mu keeps notifications in commit order.
	r.notifyMu.Lock()
	r.mu.Unlock()
	defer r.notifyMu.Unlock()

	notifier.ToolsChanged(ctx, *change)
	return res, err
}

// apply does the work of Apply with r.mu held. The returned change is nil
// when nothing changed.
func (r *Registry) apply(ctx context.Context, u Update) (Result, *Change, error) {
	working := make(map[string]bool, len(r.active))
	if !u.Clear {
		for g := range r.active {
			working[g] = true
		}
	}

	var unknown []string
	for _, name := range u.Enable {
		if group, ok := r.resolve(name); ok {
			working[group] = true
		} else if strings.TrimSpace(name) != "" {
			unknown = append(unknown, name)
		}
	}
	for _, name := range u.Disable {
		if group, ok := r.resolve(name); ok {
			delete(working, group)
		} else if strings.TrimSpace(name) != "" {
			unknown = append(unknown, name)
		}
	}

	var enabled, disabled []string
	for g := range working {
		if !r.active[g] {
			enabled = append(enabled, g)
		}
	}
	for g := range r.active {
		if !working[g] {
			disabled = append(disabled, g)
		}
	}
	sort.Strings(enabled)
	sort.Strings(disabled)

	res := Result{
		Changed:  len(enabled) > 0 || len(disabled) > 0,
		Enabled:  enabled,
		Disabled: disabled,
		Unknown:  unknown,
	}
	if !res.Changed {
		res.Active = sortedSet(r.active)
		res.Tools = len(*r.compiled.Load())
		res.Message = summary(res)
		return res, nil, nil
	}

	current := *r.compiled.Load()
	next := make(map[string]*Tool, len(current))
	var removed []string
	for name, t := range current {
		if working[t.Group()] {
			next[name] = t
		} else {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	var added []*Tool
	for _, g := range enabled {
		added = append(added, r.compileGroup(g, next)...)
	}

	r.active = working
	r.compiled.Store(&next)

	res.Active = sortedSet(working)
	res.Tools = len(next)
	res.Message = summary(res)

	var saveErr error
	if err := r.store.Save(ctx, res.Active); err != nil {
		saveErr = fmt.Errorf("failed to persist active resource groups: %w", err)
		r.logger.Error().Err(err).Msg("Failed to persist active resource groups")
	}

	r.logger.Info().
		Strs("enabled", enabled).
		Strs("disabled", disabled).
		Strs("active", res.Active).
		Int("tools", res.Tools).
		Msg("Active resource groups changed")

	change := &Change{Added: added, Removed: removed, Active: res.Active, Tools: sortedTools(next)}
	return res, change, saveErr
}

// Enable activates the named groups.
func (r *Registry) Enable(ctx context.Context, names ...string) (Result, error) {
	return r.Apply(ctx, Update{Enable: names})
}

// Disable deactivates the named groups.
func (r *Registry) Disable(ctx context.Context, names ...string) (Result, error) {
	return r.Apply(ctx, Update{Disable: names})
}

// Clear deactivates every group.
func (r *Registry) Clear(ctx context.Context) (Result, error) {
	return r.Apply(ctx, Update{Clear: true})
}

// Lookup returns the compiled tool with the given name, if its group is
// active.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := (*r.compiled.Load())[name]
	return t, ok
}

// Tools returns the compiled tools ordered by name.
func (r *Registry) Tools() []*Tool {
	return sortedTools(*r.compiled.Load())
}

func sortedTools(set map[string]*Tool) []*Tool {
	out := make([]*Tool, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Groups lists every resource group with its descriptor count and state.
func (r *Registry) Groups() []GroupInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]GroupInfo, 0, len(r.groups))
	for name, ds := range r.groups {
		out = append(out, GroupInfo{Name: name, Tools: len(ds), Active: r.active[name]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveGroups returns the active group names in order.
func (r *Registry) ActiveGroups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedSet(r.active)
}

// resolve maps a user-supplied name onto a known group, case-insensitively.
func (r *Registry) resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if _, ok := r.groups[name]; ok {
		return name, true
	}
	group, ok := r.names[strings.ToLower(name)]
	return group, ok
}

// compileGroup compiles every descriptor of group into dst. Descriptors that
// fail to compile are logged and left out.
func (r *Registry) compileGroup(group string, dst map[string]*Tool) []*Tool {
	var added []*Tool
	for _, d := range r.groups[group] {
		t, err := r.compiler.Compile(d)
		if err != nil {
			r.logger.Warn().Str("tool", d.Name).Str("group", group).Err(err).Msg("Tool compilation failed, omitting")
			continue
		}
		dst[t.Name()] = t
		added = append(added, t)
	}
	return added
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func summary(res Result) string {
	var b strings.Builder
	if !res.Changed {
		b.WriteString("No changes.")
	}
	if len(res.Enabled) > 0 {
		fmt.Fprintf(&b, "Enabled: %s.", strings.Join(res.Enabled, ", "))
	}
	if len(res.Disabled) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Disabled: %s.", strings.Join(res.Disabled, ", "))
	}
	if len(res.Unknown) > 0 {
		fmt.Fprintf(&b, " Ignored unknown resource groups: %s.", strings.Join(res.Unknown, ", "))
	}
	if len(res.Active) == 0 {
		b.WriteString(" Active: none.")
	} else {
		fmt.Fprintf(&b, " Active: %s (%d tools).", strings.Join(res.Active, ", "), res.Tools)
	}
	return b.String()
}
