package registry

import (
	"errors"
	"testing"
)

func TestAddFindUnrefDelete(t *testing.T) {
	r := New()
	obj := "payload"

	if err := r.Add("nio", "foo", obj); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := r.Find("nio", "foo")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if got != obj {
		t.Errorf("Find returned %v, want %v", got, obj)
	}

	rc, _ := r.RefCount("nio", "foo")
	if rc != 2 {
		t.Errorf("refcount = %d, want 2", rc)
	}

	if err := r.Unref("nio", "foo"); err != nil {
		t.Fatalf("Unref: %v", err)
	}
	rc, _ = r.RefCount("nio", "foo")
	if rc != 1 {
		t.Errorf("refcount after unref = %d, want 1", rc)
	}

	if err := r.Delete("nio", "foo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.Exists("nio", "foo") {
		t.Error("still exists after delete")
	}
}

func TestRenameCollision(t *testing.T) {
	r := New()
	r.Add("nio", "foo", 1)
	r.Add("nio", "bar", 2)

	err := r.Rename("nio", "foo", "bar")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Rename collision err = %v, want ErrAlreadyExists", err)
	}
	if !r.Exists("nio", "foo") || !r.Exists("nio", "bar") {
		t.Error("rename collision must leave both objects in place")
	}

	if err := r.Rename("nio", "foo", "baz"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if r.Exists("nio", "foo") || !r.Exists("nio", "baz") {
		t.Error("rename to a free name should succeed")
	}
}

func TestExecIfRefCountLE(t *testing.T) {
	r := New()
	r.Add("vm", "r1", "obj")
	r.Find("vm", "r1") // refcount now 2

	destroyed := false
	did, err := r.ExecIfRefCountLE("vm", "r1", 1, func(interface{}) { destroyed = true })
	if err != nil {
		t.Fatalf("ExecIfRefCountLE: %v", err)
	}
	if did || destroyed {
		t.Error("should not destroy while refcount exceeds max")
	}

	r.Unref("vm", "r1")
	did, err = r.ExecIfRefCountLE("vm", "r1", 1, func(interface{}) { destroyed = true })
	if err != nil {
		t.Fatalf("ExecIfRefCountLE: %v", err)
	}
	if !did || !destroyed {
		t.Error("expected destroy once refcount <= max")
	}
}

func TestForEachKind(t *testing.T) {
	r := New()
	r.Add("nio", "a", 1)
	r.Add("nio", "b", 2)
	r.Add("vm", "c", 3)

	seen := map[string]interface{}{}
	r.ForEachKind("nio", func(name string, obj interface{}) { seen[name] = obj })

	if len(seen) != 2 {
		t.Fatalf("ForEachKind found %d entries, want 2", len(seen))
	}
}
