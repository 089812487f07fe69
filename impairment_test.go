// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// defaultChain is the shaping part of the chain AmendCommand writes
var defaultChain = []string{
	"Default:Random_Drop_with_Burst;30;Loss_Percent;0.0;Minimum_Packets_to_Drop;1;Maximum_Packets_to_Drop;1;",
	"Default:Random_Packet_Corrupt;40;Packet_Corruption_Percent;0.0;",
	"Default:Step_Delay_Packet_Nanoseconds;50;Min_Delay;0;Max_Delay;0;Step_Delay;0;",
}

func seedRouter(f *fakeAppliance) (emulation, vi int) {
	emulation = f.seedEmulation("Acme", true)
	vi = f.seedVI(emulation, NameInternet, defaultChain...)
	return emulation, vi
}

// TestApplyImpairments verifies values are halved on write and doubled on read
func TestApplyImpairments(t *testing.T) {
	f := newFakeAppliance(t)
	_, id := seedRouter(f)
	c := newTestClient(t, f)
	ctx := t.Context()

	res, err := c.ApplyLatency(ctx, id, 40)
	if err != nil {
		t.Fatalf("ApplyLatency() error = %v", err)
	}
	if !res.OK || res.Value != 40 || res.Kind != ImpairmentLatency {
		t.Errorf("ApplyLatency() = %+v", res)
	}
	if _, err := c.ApplyLoss(ctx, id, 1); err != nil {
		t.Fatalf("ApplyLoss() error = %v", err)
	}
	if _, err := c.ApplyErrors(ctx, id, 0.25); err != nil {
		t.Fatalf("ApplyErrors() error = %v", err)
	}

	log := f.commandLog()
	want := []string{
		fmt.Sprintf(`--Id %d --procModule "Default:Random_Delay;50;Min_Delay;20.0;Max_Delay;20.1;"`, id),
		fmt.Sprintf(`--Id %d --procModule "Default:Random_Drop;30;Loss_Percent;0.5;"`, id),
		fmt.Sprintf(`--Id %d --procModule "Default:Random_Packet_Corrupt;40;Packet_Corruption_Percent;0.125;"`, id),
	}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	imp, err := c.GetImpairments(ctx, id)
	if err != nil {
		t.Fatalf("GetImpairments() error = %v", err)
	}
	if diff := cmp.Diff(Impairments{Latency: 40, Loss: 1, Errors: 0.25}, imp); diff != "" {
		t.Errorf("GetImpairments() mismatch (-want +got):\n%s", diff)
	}

	for name, get := range map[string]func() (float64, error){
		"latency": func() (float64, error) { return c.GetLatency(ctx, id) },
		"loss":    func() (float64, error) { return c.GetLoss(ctx, id) },
		"errors":  func() (float64, error) { return c.GetErrors(ctx, id) },
	} {
		v, err := get()
		if err != nil || v == 0 {
			t.Errorf("%s getter = %v, %v", name, v, err)
		}
	}
}

// TestApplyImpairmentNotAcknowledged verifies a refused write is reported
// in the result, not as an error
func TestApplyImpairmentNotAcknowledged(t *testing.T) {
	f := newFakeAppliance(t)
	_, id := seedRouter(f)
	f.setHook(func(cmd string) (string, bool) {
		return `--error "Emulation is locked"`, strings.Contains(cmd, "--procModule")
	})
	c := newTestClient(t, f)

	res, err := c.ApplyLoss(t.Context(), id, 2)
	if err != nil {
		t.Fatalf("ApplyLoss() error = %v", err)
	}
	if res.OK {
		t.Error("OK = true for an error reply")
	}
	if res.Reply.Raw != `--error "Emulation is locked"` {
		t.Errorf("Reply = %q", res.Reply.Raw)
	}
	if got := res.GetValue("reply").String(); got != res.Reply.Raw {
		t.Errorf("JSON reply = %q", got)
	}
}

// TestSetImpairments tests ordered application of an update
func TestSetImpairments(t *testing.T) {
	f := newFakeAppliance(t)
	_, id := seedRouter(f)
	c := newTestClient(t, f)

	res, err := c.SetImpairments(t.Context(), id, ImpairmentUpdate{Errors: Float(1), Latency: Float(10)})
	if err != nil {
		t.Fatalf("SetImpairments() error = %v", err)
	}
	var kinds []ImpairmentKind
	for _, r := range res {
		kinds = append(kinds, r.Kind)
	}
	if diff := cmp.Diff([]ImpairmentKind{ImpairmentLatency, ImpairmentErrors}, kinds); diff != "" {
		t.Errorf("applied kinds mismatch (-want +got):\n%s", diff)
	}
	if got := f.countCommands("Random_Drop;"); got != 0 {
		t.Errorf("loss written %d times, want 0", got)
	}
}

// TestSetImpairmentsValidation verifies invalid updates send nothing
func TestSetImpairmentsValidation(t *testing.T) {
	tests := []struct {
		name    string
		update  ImpairmentUpdate
		wantErr string
	}{
		{"empty", ImpairmentUpdate{}, "no impairments provided"},
		{"negative latency", ImpairmentUpdate{Latency: Float(-1)}, "latency"},
		{"nan latency", ImpairmentUpdate{Latency: Float(math.NaN())}, "latency"},
		{"infinite latency", ImpairmentUpdate{Latency: Float(math.Inf(1))}, "latency"},
		{"loss above 100", ImpairmentUpdate{Loss: Float(100.5)}, "loss"},
		{"negative errors", ImpairmentUpdate{Latency: Float(5), Errors: Float(-0.1)}, "error percentage"},
	}

	f := newFakeAppliance(t)
	_, id := seedRouter(f)
	c := newTestClient(t, f)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SetImpairments(t.Context(), id, tt.update)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("SetImpairments() error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("SetImpairments() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
	if n := len(f.commandLog()); n != 0 {
		t.Errorf("invalid updates sent %d commands", n)
	}
}

// TestResetImpairments verifies all three impairments are zeroed
func TestResetImpairments(t *testing.T) {
	f := newFakeAppliance(t)
	_, id := seedRouter(f)
	c := newTestClient(t, f)
	ctx := t.Context()

	if _, err := c.SetImpairments(ctx, id, ImpairmentUpdate{Latency: Float(30), Loss: Float(3), Errors: Float(2)}); err != nil {
		t.Fatalf("SetImpairments() error = %v", err)
	}
	res, err := c.ResetImpairments(ctx, id)
	if err != nil {
		t.Fatalf("ResetImpairments() error = %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("ResetImpairments() = %d results, want 3", len(res))
	}
	for _, r := range res {
		if !r.OK || r.Value != 0 {
			t.Errorf("%s result = %+v", r.Kind, r)
		}
	}
	imp, err := c.GetImpairments(ctx, id)
	if err != nil {
		t.Fatalf("GetImpairments() error = %v", err)
	}
	if imp != (Impairments{}) {
		t.Errorf("GetImpairments() = %+v, want zeros", imp)
	}
}

// TestGetImpairmentsErrors tests missing VIs and malformed values
func TestGetImpairmentsErrors(t *testing.T) {
	f := newFakeAppliance(t)
	emulation := f.seedEmulation("Acme", false)
	bad := f.seedVI(emulation, "Broken", "Default:Random_Drop;30;Loss_Percent;lots;")
	bare := f.seedVI(emulation, "Bare")
	c := newTestClient(t, f)

	if _, err := c.GetImpairments(t.Context(), bad); !errors.Is(err, ErrDecode) {
		t.Errorf("GetImpairments(non-numeric) error = %v, want ErrDecode", err)
	}
	if _, err := c.GetImpairments(t.Context(), 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetImpairments(missing) error = %v, want ErrNotFound", err)
	}
	imp, err := c.GetImpairments(t.Context(), bare)
	if err != nil || imp != (Impairments{}) {
		t.Errorf("GetImpairments(bare) = %+v, %v; want zeros", imp, err)
	}
}
