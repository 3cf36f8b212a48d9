package state

import (
	"fmt"
	"reflect"
	"sync"

	"landkeeper/pkg/wire"
)

// mountable is implemented by every reactive node type (Container, Map,
// Set) so a parent can propagate a freshly derived MountContext down into
// its children in place. The Keeper views its root container once, with
// its pending PatchRecorder/DirtyTracker, and Get re-mounts a child as it
// is handed out, so nested mutations record correctly-pathed patches. Because a
// Land's state has exactly one writer, mutating ctx in place is safe —
// there is never a concurrent reader.
type mountable interface {
	remount(ctx MountContext)
}

// fieldMeta is the per-field metadata a runtime reflection scan extracts
// once per Go struct type, done once at Land-registration time.
type fieldMeta struct {
	Name   string
	Policy SyncPolicy
	Index  int
}

type typeMeta struct {
	fields []fieldMeta
}

var metaCache sync.Map // reflect.Type -> *typeMeta

// scanType builds (or fetches the cached) field metadata table for the
// struct type t points at.
func scanType(t reflect.Type) (*typeMeta, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("state: container type must be a struct, got %s", t.Kind())
	}
	if cached, ok := metaCache.Load(t); ok {
		return cached.(*typeMeta), nil
	}

	meta := &typeMeta{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		tag := f.Tag.Get("state")
		if tag == "-" {
			continue
		}
		name, policy := parseStateTag(tag, f.Name)
		meta.fields = append(meta.fields, fieldMeta{Name: name, Policy: policy, Index: i})
	}
	actual, _ := metaCache.LoadOrStore(t, meta)
	return actual.(*typeMeta), nil
}

func parseStateTag(tag, fallbackName string) (string, SyncPolicy) {
	name := fallbackName
	policy := Broadcast
	if tag == "" {
		return name, policy
	}
	parts := splitTag(tag)
	if parts[0] != "" {
		name = parts[0]
	}
	if len(parts) > 1 {
		switch parts[1] {
		case "perPlayer":
			policy = PerPlayer
		case "internal":
			policy = Internal
		default:
			policy = Broadcast
		}
	}
	return name, policy
}

func splitTag(tag string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			parts = append(parts, tag[start:i])
			start = i + 1
		}
	}
	parts = append(parts, tag[start:])
	return parts
}

// Container wraps a pointer to a plain Go struct and gives it reactive
// mutation semantics: Set marks the field dirty, records a patch, and
// applies the sync-policy-propagation rule.
type Container struct {
	storage reflect.Value // the struct pointer, via reflect.ValueOf(ptr)
	meta    *typeMeta
	ctx     MountContext
}

// NewContainer wraps ptr (which must be a non-nil pointer to a struct) as a
// root Container with an empty MountContext. Callers attach a real
// PatchRecorder/DirtyTracker via View before using it inside a Keeper tick.
func NewContainer(ptr any) (*Container, error) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, fmt.Errorf("state: NewContainer requires a non-nil pointer, got %T", ptr)
	}
	meta, err := scanType(rv.Elem().Type())
	if err != nil {
		return nil, err
	}
	return &Container{storage: rv, meta: meta}, nil
}

// View returns c re-mounted with ctx, recursively propagating derived
// contexts into every nested Container/Map/Set field. The returned pointer
// is c itself (mounting is in-place) — returned for call-site convenience
// (`root = root.View(ctx)`).
func (c *Container) View(ctx MountContext) *Container {
	c.remount(ctx)
	return c
}

func (c *Container) remount(ctx MountContext) {
	c.ctx = ctx
	elem := c.storage.Elem()
	for _, f := range c.meta.fields {
		fv := elem.Field(f.Index)
		if !fv.CanInterface() {
			continue
		}
		child := childContextFor(ctx, f.Name, f.Policy, fv.Interface())
		if m, ok := fv.Interface().(mountable); ok && !isNilValue(fv) {
			m.remount(child)
		}
	}
}

// childContextFor derives the MountContext a child field should be mounted
// with. Map/Set fields carry their own internal element policy (configured
// at construction) and so receive a pass-through context unless the field
// tag explicitly says "internal", which always wins (more restrictive
// always propagates). Plain leaf and nested-Container fields use the
// standard Child() derivation.
func childContextFor(ctx MountContext, name string, declared SyncPolicy, value any) MountContext {
	switch value.(type) {
	case mapLike, setLike:
		if declared == Internal {
			i := Internal
			return MountContext{ParentPath: JoinPath(ctx.ParentPath, name), Patches: ctx.Patches, Dirty: ctx.Dirty, InheritedScope: &i}
		}
		return MountContext{ParentPath: JoinPath(ctx.ParentPath, name), Patches: ctx.Patches, Dirty: ctx.Dirty, InheritedScope: ctx.InheritedScope, PerPlayerKey: ctx.PerPlayerKey}
	default:
		return ctx.Child(name, declared)
	}
}

// mapLike/setLike are marker interfaces ReactiveMap[V]/Set[T] implement so
// childContextFor can special-case them without needing Go generics at the
// call site.
type mapLike interface{ isMapLike() }
type setLike interface{ isSetLike() }

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// Get returns the raw Go value of a named field, mounting it first if it is
// a reactive node (Container/Map/Set), so mutations through the returned
// value record correctly-pathed patches.
func (c *Container) Get(name string) (any, error) {
	idx, policy, err := c.fieldIndex(name)
	if err != nil {
		return nil, err
	}
	fv := c.storage.Elem().Field(idx)
	val := fv.Interface()
	if m, ok := val.(mountable); ok && !isNilValue(fv) {
		child := childContextFor(c.ctx, name, policy, val)
		m.remount(child)
	}
	return val, nil
}

// Set replaces a leaf field's value, recording a patch and marking the
// field dirty. It is for primitive/leaf fields; container-typed fields
// should be mutated through the view returned by Get.
func (c *Container) Set(name string, value any) error {
	idx, policy, err := c.fieldIndex(name)
	if err != nil {
		return err
	}
	fv := c.storage.Elem().Field(idx)
	newVal := reflect.ValueOf(value)
	if !newVal.IsValid() {
		fv.Set(reflect.Zero(fv.Type()))
	} else if newVal.Type().AssignableTo(fv.Type()) {
		fv.Set(newVal)
	} else if newVal.Type().ConvertibleTo(fv.Type()) {
		fv.Set(newVal.Convert(fv.Type()))
	} else {
		return fmt.Errorf("state: field %q: cannot assign %T to %s", name, value, fv.Type())
	}

	snap := MustFromAny(fv.Interface(), "Container.Set:"+name)
	c.ctx.recordPatch(name, policy, wire.PatchSet, snap)
	return nil
}

func (c *Container) fieldIndex(name string) (int, SyncPolicy, error) {
	for _, f := range c.meta.fields {
		if f.Name == name {
			return f.Index, f.Policy, nil
		}
	}
	return 0, 0, fmt.Errorf("state: no such field %q", name)
}

// Snapshot reduces the whole container to a SnapshotValue map keyed by
// field name, recursing into nested reactive nodes.
func (c *Container) Snapshot() (Value, error) {
	out := make(map[string]Value, len(c.meta.fields))
	elem := c.storage.Elem()
	for _, f := range c.meta.fields {
		fv := elem.Field(f.Index)
		if !fv.CanInterface() {
			continue
		}
		val := fv.Interface()
		if node, ok := val.(Node); ok && !isNilValue(fv) {
			snap, err := node.Snapshot()
			if err != nil {
				return Null(), fmt.Errorf("state: field %q: %w", f.Name, err)
			}
			out[f.Name] = snap
			continue
		}
		snap, err := FromAny(val)
		if err != nil {
			return Null(), fmt.Errorf("state: field %q: %w", f.Name, err)
		}
		out[f.Name] = snap
	}
	return Map(out), nil
}
