package tools

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-openapi-mcp/internal/common"
	"github.com/bobmcallan/vire-openapi-mcp/internal/openapi"
)

// memoryStore is an in-memory ActiveSetStore that counts writes.
type memoryStore struct {
	mu      sync.Mutex
	names   []string
	saves   int
	loadErr error
	saveErr error
}

func (s *memoryStore) Load(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]string{}, s.names...), nil
}

func (s *memoryStore) Save(_ context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.names = append([]string{}, names...)
	return nil
}

func (s *memoryStore) Close() error { return nil }

// countingNotifier records every change it is told about.
type countingNotifier struct {
	changes []Change
}

func (n *countingNotifier) ToolsChanged(_ context.Context, c Change) {
	n.changes = append(n.changes, c)
}

func newTestRegistry(t *testing.T, store *memoryStore) (*Registry, *countingNotifier) {
	t.Helper()
	r := NewRegistry(widgetDescriptors(t), NewCompiler(&recordingInvoker{}), store, common.NewSilentLogger())
	n := &countingNotifier{}
	r.SetNotifier(n)
	return r, n
}

func toolNames(r *Registry) []string {
	var names []string
	for _, t := range r.Tools() {
		names = append(names, t.Name())
	}
	return names
}

// expectedNames is the set of descriptor names of the active groups.
func expectedNames(r *Registry) []string {
	var names []string
	for _, g := range r.ActiveGroups() {
		for _, d := range r.groups[g] {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}

func TestRegistry_Groups(t *testing.T) {
	r, _ := newTestRegistry(t, &memoryStore{})
	assert.Equal(t, []GroupInfo{
		{Name: "gadgets", Tools: 2},
		{Name: "widgets", Tools: 2},
	}, r.Groups())
	assert.Empty(t, r.Tools())
}

func TestRegistry_EnableIsIdempotent(t *testing.T) {
	store := &memoryStore{}
	r, n := newTestRegistry(t, store)
	ctx := context.Background()

	res, err := r.Enable(ctx, "Widgets")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"widgets"}, res.Enabled)
	assert.Equal(t, []string{"createWidget", "getWidget"}, toolNames(r))
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, []string{"widgets"}, store.names)
	require.Len(t, n.changes, 1)
	assert.Len(t, n.changes[0].Added, 2)

	res, err = r.Enable(ctx, "widgets")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Contains(t, res.Message, "No changes")
	assert.Equal(t, 1, store.saves, "no-op must not write")
	assert.Len(t, n.changes, 1, "no-op must not notify")
}

func TestRegistry_DisableRemovesTools(t *testing.T) {
	r, n := newTestRegistry(t, &memoryStore{})
	ctx := context.Background()

	_, err := r.Enable(ctx, "widgets", "gadgets")
	require.NoError(t, err)
	inflight, ok := r.Lookup("getWidget")
	require.True(t, ok)

	res, err := r.Disable(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, []string{"widgets"}, res.Disabled)
	_, ok = r.Lookup("getWidget")
	assert.False(t, ok)
	assert.Equal(t, []string{"deleteGadget", "listGadgets"}, toolNames(r))
	assert.Equal(t, []string{"createWidget", "getWidget"}, n.changes[1].Removed)

	_, err = inflight.Invoke(ctx, map[string]any{"widgetId": "w1"})
	assert.NoError(t, err, "a tool obtained before disable still completes")
}

func TestRegistry_ClearThenEnableReplacesSet(t *testing.T) {
	store := &memoryStore{}
	r, n := newTestRegistry(t, store)
	ctx := context.Background()

	_, err := r.Enable(ctx, "gadgets")
	require.NoError(t, err)

	res, err := r.Apply(ctx, Update{Clear: true, Enable: []string{"widgets"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"widgets"}, res.Active)
	assert.Equal(t, []string{"widgets"}, res.Enabled)
	assert.Equal(t, []string{"gadgets"}, res.Disabled)
	assert.Equal(t, []string{"widgets"}, store.names)
	assert.Len(t, n.changes, 2)

	res, err = r.Apply(ctx, Update{Clear: true, Enable: []string{"widgets"}})
	require.NoError(t, err)
	assert.False(t, res.Changed, "replacing a set with itself changes nothing")
	assert.Equal(t, 2, store.saves)
}

func TestRegistry_EnableThenDisableSameCall(t *testing.T) {
	r, _ := newTestRegistry(t, &memoryStore{})
	res, err := r.Apply(context.Background(), Update{Enable: []string{"widgets"}, Disable: []string{"widgets"}})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, r.Tools())
}

func TestRegistry_UnknownNamesReported(t *testing.T) {
	store := &memoryStore{}
	r, _ := newTestRegistry(t, store)

	res, err := r.Apply(context.Background(), Update{Enable: []string{"sprockets", "widgets"}, Disable: []string{"cogs"}})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"sprockets", "cogs"}, res.Unknown)
	assert.Contains(t, res.Message, "sprockets, cogs")
	assert.Contains(t, res.Message, "Enabled: widgets.")
}

func TestRegistry_InvariantAfterSequence(t *testing.T) {
	r, _ := newTestRegistry(t, &memoryStore{})
	ctx := context.Background()

	steps := []Update{
		{Enable: []string{"widgets"}},
		{Enable: []string{"gadgets"}},
		{Disable: []string{"widgets"}},
		{Clear: true},
		{Enable: []string{"GADGETS", "widgets"}},
		{Clear: true, Enable: []string{"widgets"}, Disable: []string{"gadgets"}},
		{Disable: []string{"widgets", "gadgets"}},
	}
	for i, u := range steps {
		_, err := r.Apply(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, expectedNames(r), toolNames(r), "after step %d", i)
	}
}

func TestRegistry_LoadRestoresWithoutWriting(t *testing.T) {
	store := &memoryStore{names: []string{"widgets", "retired"}}
	r, n := newTestRegistry(t, store)

	require.NoError(t, r.Load(context.Background()))
	assert.Equal(t, []string{"widgets"}, r.ActiveGroups())
	assert.Equal(t, []string{"createWidget", "getWidget"}, toolNames(r))
	assert.Equal(t, 0, store.saves)
	assert.Empty(t, n.changes)
}

func TestRegistry_LoadErrorStartsEmpty(t *testing.T) {
	r, _ := newTestRegistry(t, &memoryStore{loadErr: errors.New("disk on fire")})
	require.NoError(t, r.Load(context.Background()))
	assert.Empty(t, r.ActiveGroups())
}

func TestRegistry_SaveErrorStillCommits(t *testing.T) {
	store := &memoryStore{saveErr: errors.New("read-only")}
	r, n := newTestRegistry(t, store)

	res, err := r.Enable(context.Background(), "widgets")
	assert.Error(t, err)
	assert.True(t, res.Changed)
	assert.Len(t, r.Tools(), 2)
	assert.Len(t, n.changes, 1)
}

func TestRegistry_ReservedNamesSkipped(t *testing.T) {
	ds := []*openapi.ToolDescriptor{
		{Name: "manage_resources", Method: "get", Path: "/admin", ResourceGroup: "admin"},
		{Name: "listAdmins", Method: "get", Path: "/admin/users", ResourceGroup: "admin"},
	}
	r := NewRegistry(ds, NewCompiler(&recordingInvoker{}), &memoryStore{}, common.NewSilentLogger(),
		WithReservedNames("manage_resources"))

	_, err := r.Enable(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"listAdmins"}, toolNames(r))
}

func TestRegistry_CompileFailureOmitsTool(t *testing.T) {
	ds := []*openapi.ToolDescriptor{
		{Name: "", Method: "get", Path: "/broken", ResourceGroup: "broken"},
		{Name: "listBroken", Method: "get", Path: "/broken", ResourceGroup: "broken"},
	}
	r := NewRegistry(ds, NewCompiler(&recordingInvoker{}), &memoryStore{}, common.NewSilentLogger())

	res, err := r.Enable(context.Background(), "broken")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"listBroken"}, toolNames(r))
}

func TestRegistry_ConcurrentLookups(t *testing.T) {
	r, _ := newTestRegistry(t, &memoryStore{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Lookup("getWidget")
				_ = r.Tools()
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_, _ = r.Enable(ctx, "widgets")
		_, _ = r.Disable(ctx, "widgets")
	}
	wg.Wait()
}

// reentrantNotifier reads the registry back from inside ToolsChanged.
type reentrantNotifier struct {
	r      *Registry
	groups [][]GroupInfo
	tools  [][]*Tool
}

func (n *reentrantNotifier) ToolsChanged(_ context.Context, c Change) {
	n.groups = append(n.groups, n.r.Groups())
	n.tools = append(n.tools, c.Tools)
}

func TestRegistry_NotifierMayReadRegistry(t *testing.T) {
	r := NewRegistry(widgetDescriptors(t), NewCompiler(&recordingInvoker{}), &memoryStore{}, common.NewSilentLogger())
	n := &reentrantNotifier{r: r}
	r.SetNotifier(n)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Enable(context.Background(), "widgets")
		r.Enable(context.Background(), "gadgets")
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Apply blocked while the notifier read the registry")
	}

	require.Len(t, n.groups, 2)
	assert.True(t, n.groups[0][1].Active, "widgets is active when the first change is announced")
	assert.False(t, n.groups[0][0].Active)

	var names []string
	for _, tool := range n.tools[1] {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"createWidget", "deleteGadget", "getWidget", "listGadgets"}, names,
		"a change carries the whole active set")
}
