// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"fmt"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

// TestConcurrentOperations verifies one client serialises concurrent
// operations over a single connection and session
func TestConcurrentOperations(t *testing.T) {
	f := newFakeAppliance(t)
	emulation, ids := seedSkeleton(f)
	c := newTestClient(t, f)
	ctx := t.Context()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			if _, err := c.ListEmulations(gctx); err != nil {
				return fmt.Errorf("ListEmulations: %w", err)
			}
			if _, err := c.ListVIs(gctx, emulation); err != nil {
				return fmt.Errorf("ListVIs: %w", err)
			}
			if _, err := c.ListPorts(gctx); err != nil {
				return fmt.Errorf("ListPorts: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	if got := f.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := f.loginCount(); got != 1 {
		t.Errorf("logins = %d, want 1", got)
	}

	// concurrent writes to different VIs each land on their own VI
	names := []string{NameInternet, NameMPLS, NameFirewall}
	g, gctx = errgroup.WithContext(ctx)
	for i, name := range names {
		latency := float64(10 * (i + 1))
		g.Go(func() error {
			_, err := c.SetImpairments(gctx, ids[name], ImpairmentUpdate{Latency: Float(latency)})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("SetImpairments() error = %v", err)
	}
	for i, name := range names {
		got, err := c.GetLatency(ctx, ids[name])
		if err != nil {
			t.Fatalf("GetLatency(%s) error = %v", name, err)
		}
		if want := float64(10 * (i + 1)); got != want {
			t.Errorf("%s latency = %v, want %v", name, got, want)
		}
	}
}

// TestConcurrentSessionRenewal verifies concurrent callers share one renewal
func TestConcurrentSessionRenewal(t *testing.T) {
	f := newFakeAppliance(t)
	f.seedEmulation("Acme", true)
	c := newTestClient(t, f)
	ctx := t.Context()

	if _, err := c.ListEmulations(ctx); err != nil {
		t.Fatalf("ListEmulations() error = %v", err)
	}
	f.expireSessions()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ListEmulations(ctx); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ListEmulations() error = %v", err)
	}

	if got := f.loginCount(); got != 2 {
		t.Errorf("logins = %d, want 2", got)
	}
}
