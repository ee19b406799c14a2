package backend

import (
	"errors"
	"slices"
	"testing"
)

func TestRegistryOpen(t *testing.T) {
	opened := ""
	Register("test-a", DriverFunc(func(cfg Config) (Device, error) {
		opened = cfg.Label
		return nil, nil
	}))
	t.Cleanup(func() { Unregister("test-a") })

	if !IsRegistered("test-a") {
		t.Fatal("IsRegistered(test-a) = false")
	}
	if !slices.Contains(Available(), "test-a") {
		t.Errorf("Available() = %v, missing test-a", Available())
	}
	if _, err := Open("test-a", Config{Label: "dev0"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != "dev0" {
		t.Errorf("driver saw label %q, want dev0", opened)
	}
}

func TestRegistryOpenUnknown(t *testing.T) {
	_, err := Open("does-not-exist", Config{})
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open() error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRegistryDefaultPriority(t *testing.T) {
	noop := DriverFunc(func(Config) (Device, error) { return nil, nil })
	Register(BackendSoftware, noop)
	t.Cleanup(func() { Unregister(BackendSoftware) })
	if got := Default(); got != BackendSoftware && got != BackendNative {
		t.Errorf("Default() = %q", got)
	}

	Register(BackendNative, noop)
	t.Cleanup(func() { Unregister(BackendNative) })
	if got := Default(); got != BackendNative {
		t.Errorf("Default() = %q, want %q", got, BackendNative)
	}
}
