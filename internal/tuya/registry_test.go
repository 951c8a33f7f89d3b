package tuya

import (
	"context"
	"errors"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryOptions{Opener: &mockOpener{}, Workers: 2})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(func() {
		r.Close()
	})
	return r
}

func TestNewRegistry_RequiresOpener(t *testing.T) {
	if _, err := NewRegistry(RegistryOptions{}); err == nil {
		t.Error("NewRegistry() expected error without opener")
	}
}

func TestRegistry_SetupGetDelete(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	s, err := r.Setup(ctx, testIdentity())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	got, err := r.Get(s.UniqueID())
	if err != nil || got != s {
		t.Fatalf("Get() = %v, %v; want registered session", got, err)
	}

	if _, err := r.Setup(ctx, testIdentity()); !errors.Is(err, ErrSessionExists) {
		t.Errorf("duplicate Setup() error = %v, want ErrSessionExists", err)
	}

	if err := r.Delete(s.UniqueID()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := r.Get(s.UniqueID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrSessionNotFound", err)
	}
	if err := r.Delete(s.UniqueID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete() error = %v, want ErrSessionNotFound", err)
	}
	if err := s.Refresh(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Refresh() on deleted session error = %v, want ErrSessionClosed", err)
	}
}

func TestRegistry_SubDevicesKeyedByCID(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	gateway := testIdentity()
	child1 := gateway
	child1.CID = "02d0"
	child2 := gateway
	child2.CID = "01a1"

	for _, id := range []Identity{gateway, child1, child2} {
		if _, err := r.Setup(ctx, id); err != nil {
			t.Fatalf("Setup(%s) error = %v", id.UniqueID(), err)
		}
	}

	list := r.List()
	want := []string{"01a1", "02d0", gateway.DeviceID}
	if len(list) != len(want) {
		t.Fatalf("List() len = %d, want %d", len(list), len(want))
	}
	for i, s := range list {
		if s.UniqueID() != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, s.UniqueID(), want[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry(t)
	s, err := r.Setup(context.Background(), testIdentity())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", r.Len())
	}
	if err := s.Flush(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Flush() after registry Close error = %v, want ErrSessionClosed", err)
	}
}
