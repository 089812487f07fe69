// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestListEmulations tests emulation decoding
func TestListEmulations(t *testing.T) {
	f := newFakeAppliance(t)
	acmeID := f.seedEmulation("Acme", true)
	f.seedEmulation("Globex", false)
	c := newTestClient(t, f)

	got, err := c.ListEmulations(t.Context())
	if err != nil {
		t.Fatalf("ListEmulations() error = %v", err)
	}
	want := []Emulation{
		{ID: acmeID, Name: "Acme", Running: true, Username: "admin", Started: "2025-01-01 10:00", Updated: "2025-01-01 10:05"},
		{ID: acmeID + 1, Name: "Globex", Username: "admin", Started: "2025-01-01 10:00", Updated: "2025-01-01 10:05"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListEmulations() mismatch (-want +got):\n%s", diff)
	}
}

// TestListEmulationsEmpty verifies an empty appliance is not an error
func TestListEmulationsEmpty(t *testing.T) {
	f := newFakeAppliance(t)
	c := newTestClient(t, f)

	got, err := c.ListEmulations(t.Context())
	if err != nil {
		t.Fatalf("ListEmulations() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListEmulations() = %v, want none", got)
	}
}

// TestListEmulationsRejected verifies an error reply is ErrRejected
func TestListEmulationsRejected(t *testing.T) {
	f := newFakeAppliance(t)
	f.setHook(func(cmd string) (string, bool) {
		return `--error "Database unavailable"`, cmd == "--getemulations"
	})
	c := newTestClient(t, f)

	if _, err := c.ListEmulations(t.Context()); !errors.Is(err, ErrRejected) {
		t.Errorf("ListEmulations() error = %v, want ErrRejected", err)
	}
}

// TestGetEmulation tests lookup by id
func TestGetEmulation(t *testing.T) {
	f := newFakeAppliance(t)
	id := f.seedEmulation("Acme", true)
	c := newTestClient(t, f)

	e, err := c.GetEmulation(t.Context(), id)
	if err != nil {
		t.Fatalf("GetEmulation() error = %v", err)
	}
	if e.Name != "Acme" {
		t.Errorf("Name = %q", e.Name)
	}
	if got := getValue(e.JSON(), "running").Bool(); !got {
		t.Error("JSON running = false")
	}

	if _, err := c.GetEmulation(t.Context(), id+50); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEmulation() error = %v, want ErrNotFound", err)
	}
}

// TestStopEmulation tests stopping and its failure kinds
func TestStopEmulation(t *testing.T) {
	t.Run("stopped", func(t *testing.T) {
		f := newFakeAppliance(t)
		id := f.seedEmulation("Acme", true)
		c := newTestClient(t, f)

		if err := c.StopEmulation(t.Context(), id); err != nil {
			t.Fatalf("StopEmulation() error = %v", err)
		}
		if f.emulationNamed("Acme").running {
			t.Error("emulation still running")
		}
	})

	t.Run("not found", func(t *testing.T) {
		f := newFakeAppliance(t)
		c := newTestClient(t, f)

		if err := c.StopEmulation(t.Context(), 5); !errors.Is(err, ErrNotFound) {
			t.Fatalf("StopEmulation() error = %v, want ErrNotFound", err)
		}
		if got := f.countCommands("--stop"); got != 0 {
			t.Errorf("stop sent %d times for a missing emulation", got)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFakeAppliance(t)
		id := f.seedEmulation("Acme", true)
		f.setHook(func(cmd string) (string, bool) {
			return `--error "Emulation is busy"`, cmd != "--getemulations"
		})
		c := newTestClient(t, f)

		err := c.StopEmulation(t.Context(), id)
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("StopEmulation() error = %v, want ErrRejected", err)
		}
		var ie *IneError
		if errors.As(err, &ie) && ie.EmulationID != id {
			t.Errorf("EmulationID = %d, want %d", ie.EmulationID, id)
		}
	})
}

// TestStartEmulation tests starting a stopped emulation
func TestStartEmulation(t *testing.T) {
	f := newFakeAppliance(t)
	id := f.seedEmulation("Acme", false)
	c := newTestClient(t, f)

	if err := c.StartEmulation(t.Context(), id); err != nil {
		t.Fatalf("StartEmulation() error = %v", err)
	}
	if !f.emulationNamed("Acme").running {
		t.Error("emulation not running")
	}
	if err := c.StartEmulation(t.Context(), id+9); !errors.Is(err, ErrRejected) {
		t.Errorf("StartEmulation(missing) error = %v, want ErrRejected", err)
	}
}
