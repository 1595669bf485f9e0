// Package registry implements the process-wide named object table
// described in spec.md §4.B: a (kind, name) -> object map with
// reference counts, used as the sole path by which the CLI/hypervisor
// layer attaches and detaches NIOs, bridges, switches and VMs.
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors, checked with errors.Is by callers.
var (
	ErrNotFound      = errors.New("registry: not found")
	ErrAlreadyExists = errors.New("registry: already exists")
	ErrInUse         = errors.New("registry: object in use")
)

type key struct {
	kind string
	name string
}

type entry struct {
	obj      interface{}
	refCount int
}

// Registry is a name-indexed object table. The zero value is not usable;
// construct with New. All mutations take a single mutex, per spec.md §5
// ("Registry: single mutex; short critical sections.").
type Registry struct {
	mu      sync.Mutex
	objects map[key]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{objects: make(map[key]*entry)}
}

// Add registers obj under (kind, name) with an initial reference count
// of 1. It fails with ErrAlreadyExists if the key is taken.
func (r *Registry) Add(kind, name string, obj interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind, name}
	if _, ok := r.objects[k]; ok {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, kind, name)
	}
	r.objects[k] = &entry{obj: obj, refCount: 1}
	return nil
}

// Delete removes (kind, name) unconditionally. It fails with ErrNotFound
// if the key is absent.
func (r *Registry) Delete(kind, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind, name}
	if _, ok := r.objects[k]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	delete(r.objects, k)
	return nil
}

// Rename moves an object from (kind, oldName) to (kind, newName). It is
// transactional: if newName is already taken the registry is left
// untouched and ErrAlreadyExists is returned.
func (r *Registry) Rename(kind, oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldKey := key{kind, oldName}
	e, ok := r.objects[oldKey]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, oldName)
	}

	newKey := key{kind, newName}
	if _, taken := r.objects[newKey]; taken {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyExists, kind, newName)
	}

	delete(r.objects, oldKey)
	r.objects[newKey] = e
	return nil
}

// Find looks up (kind, name), incrementing its reference count on a hit.
func (r *Registry) Find(kind, name string) (interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.objects[key{kind, name}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	e.refCount++
	return e.obj, nil
}

// Exists reports whether (kind, name) is registered, without touching
// its reference count.
func (r *Registry) Exists(kind, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.objects[key{kind, name}]
	return ok
}

// Unref decrements the reference count of (kind, name). It does not
// delete the entry on reaching zero; callers that want that behavior
// use ExecIfRefCountLE with their own destroy callback.
func (r *Registry) Unref(kind, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.objects[key{kind, name}]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	if e.refCount > 0 {
		e.refCount--
	}
	return nil
}

// RefCount returns the current reference count of (kind, name).
func (r *Registry) RefCount(kind, name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.objects[key{kind, name}]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	return e.refCount, nil
}

// ExecIfRefCountLE deletes (kind, name) and runs destroy on its object
// iff its reference count is <= max. It reports whether the delete
// happened.
func (r *Registry) ExecIfRefCountLE(kind, name string, max int, destroy func(interface{})) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind, name}
	e, ok := r.objects[k]
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	if e.refCount > max {
		return false, nil
	}
	delete(r.objects, k)
	if destroy != nil {
		destroy(e.obj)
	}
	return true, nil
}

// ForEachKind calls fn for every (name, object) registered under kind.
// fn must not call back into the registry; the iteration holds the lock.
func (r *Registry) ForEachKind(kind string, fn func(name string, obj interface{})) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.objects {
		if k.kind == kind {
			fn(k.name, e.obj)
		}
	}
}
