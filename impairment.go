// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"context"
	"fmt"
	"math"
	"strconv"
)

// ImpairmentKind names one impairment
type ImpairmentKind string

const (
	ImpairmentLatency ImpairmentKind = "latency"
	ImpairmentLoss    ImpairmentKind = "loss"
	ImpairmentErrors  ImpairmentKind = "errors"
)

// delayWindow is the width of the delay range written for a latency value
const delayWindow = 0.1

// Impairments are the shaping values of a VI in round-trip units: latency
// in milliseconds, loss and errors in percent. The appliance stores one-way
// values that are exactly half.
type Impairments struct {
	Latency float64
	Loss    float64
	Errors  float64
}

// JSON renders the impairments for an outward-facing layer
func (i Impairments) JSON() string {
	return jsonDoc{}.
		set("latency", i.Latency).
		set("loss", i.Loss).
		set("errors", i.Errors).
		res()
}

// ImpairmentUpdate selects the impairments to change; nil fields are left alone
type ImpairmentUpdate struct {
	Latency *float64
	Loss    *float64
	Errors  *float64
}

// Float returns a pointer to v, for ImpairmentUpdate literals
func Float(v float64) *float64 {
	return &v
}

// impairmentReaders locate each stored one-way value by chain slot, so the
// value is found whichever module currently occupies the slot
var impairmentReaders = []struct {
	kind  ImpairmentKind
	slot  int
	param string
}{
	{ImpairmentLatency, SlotDelay, "Min_Delay"},
	{ImpairmentLoss, SlotDrop, "Loss_Percent"},
	{ImpairmentErrors, SlotCorrupt, "Packet_Corruption_Percent"},
}

// impairmentsOf reads the impairments from VI settings; missing values are 0
func impairmentsOf(vi VI) (Impairments, error) {
	var imp Impairments
	for _, r := range impairmentReaders {
		m, ok := vi.ModuleInSlot(r.slot)
		if !ok {
			continue
		}
		raw, ok := m.Param(r.param)
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Impairments{}, &IneError{
				Operation:   "read impairments",
				Kind:        ErrDecode,
				Message:     fmt.Sprintf("non-numeric %s value %q", r.param, raw),
				InternalMsg: m.String(),
			}
		}
		switch r.kind {
		case ImpairmentLatency:
			imp.Latency = v * 2
		case ImpairmentLoss:
			imp.Loss = v * 2
		case ImpairmentErrors:
			imp.Errors = v * 2
		}
	}
	return imp, nil
}

// GetImpairments reads latency, loss and errors of a VI with a single query
//
// Example:
//
//	imp, err := client.GetImpairments(ctx, 12)
//	fmt.Printf("latency=%.1fms loss=%.1f%%\n", imp.Latency, imp.Loss)
func (c *Client) GetImpairments(ctx context.Context, viID int) (Impairments, error) {
	vi, err := c.GetVI(ctx, viID)
	if err != nil {
		return Impairments{}, err
	}
	return impairmentsOf(vi)
}

// GetLatency returns the round-trip latency of a VI
func (c *Client) GetLatency(ctx context.Context, viID int) (float64, error) {
	imp, err := c.GetImpairments(ctx, viID)
	return imp.Latency, err
}

// GetLoss returns the round-trip loss percentage of a VI
func (c *Client) GetLoss(ctx context.Context, viID int) (float64, error) {
	imp, err := c.GetImpairments(ctx, viID)
	return imp.Loss, err
}

// GetErrors returns the round-trip corruption percentage of a VI
func (c *Client) GetErrors(ctx context.Context, viID int) (float64, error) {
	imp, err := c.GetImpairments(ctx, viID)
	return imp.Errors, err
}

// ApplyLatency sets the round-trip latency of a VI in milliseconds
//
// The one-way value is written as a [v, v+0.1] random delay window. No range
// checks are made here; see SetImpairments.
func (c *Client) ApplyLatency(ctx context.Context, viID int, latency float64) (ApplyRes, error) {
	half := latency / 2
	m := NewModule(ModuleRandomDelay, SlotDelay,
		"Min_Delay", formatDecimal(half),
		"Max_Delay", formatDecimal(half+delayWindow))
	return c.applyImpairment(ctx, viID, ImpairmentLatency, half, m)
}

// ApplyLoss sets the round-trip loss percentage of a VI
func (c *Client) ApplyLoss(ctx context.Context, viID int, loss float64) (ApplyRes, error) {
	half := loss / 2
	m := NewModule(ModuleRandomDrop, SlotDrop, "Loss_Percent", formatDecimal(half))
	return c.applyImpairment(ctx, viID, ImpairmentLoss, half, m)
}

// ApplyErrors sets the round-trip packet corruption percentage of a VI
func (c *Client) ApplyErrors(ctx context.Context, viID int, errors float64) (ApplyRes, error) {
	half := errors / 2
	m := NewModule(ModuleRandomPacketCorrupt, SlotCorrupt, "Packet_Corruption_Percent", formatDecimal(half))
	return c.applyImpairment(ctx, viID, ImpairmentErrors, half, m)
}

func (c *Client) applyImpairment(ctx context.Context, viID int, kind ImpairmentKind, oneWay float64, m Module) (ApplyRes, error) {
	reply, err := c.Exec(ctx, NewCommand().Scope("--Id", viID).Module(m))
	if err != nil {
		return ApplyRes{Kind: kind}, err
	}
	if !reply.OK() {
		c.logger.Warn(ctx, "impairment not acknowledged",
			"vi_id", viID,
			"impairment", string(kind),
			"reply", reply.Raw)
		return ApplyRes{Kind: kind, Reply: reply}, nil
	}
	c.logger.Debug(ctx, "impairment applied",
		"vi_id", viID,
		"impairment", string(kind),
		"one_way", oneWay)
	return ApplyRes{Kind: kind, Value: oneWay * 2, OK: true, Reply: reply}, nil
}

// ResetImpairments sets latency, loss and errors of a VI to zero
func (c *Client) ResetImpairments(ctx context.Context, viID int) ([]ApplyRes, error) {
	return c.SetImpairments(ctx, viID, ImpairmentUpdate{Latency: Float(0), Loss: Float(0), Errors: Float(0)})
}

// Validate checks an update before anything is sent
//
// An empty update, a negative latency, or a loss or error percentage outside
// [0, 100] is an ErrValidation error.
func (u ImpairmentUpdate) Validate() error {
	if u.Latency == nil && u.Loss == nil && u.Errors == nil {
		return newError("set impairments", ErrValidation, "no impairments provided")
	}
	if u.Latency != nil && (math.IsNaN(*u.Latency) || math.IsInf(*u.Latency, 0) || *u.Latency < 0) {
		return newError("set impairments", ErrValidation, "latency must be a non-negative number")
	}
	if u.Loss != nil && !isPercent(*u.Loss) {
		return newError("set impairments", ErrValidation, "loss percentage out of range")
	}
	if u.Errors != nil && !isPercent(*u.Errors) {
		return newError("set impairments", ErrValidation, "error percentage out of range")
	}
	return nil
}

func isPercent(v float64) bool {
	return v >= 0 && v <= 100
}

// SetImpairments validates and applies an impairment update in the order
// latency, loss, errors
//
// Nothing is sent if validation fails.
//
// Example:
//
//	res, err := client.SetImpairments(ctx, 12, ine.ImpairmentUpdate{
//	    Latency: ine.Float(40),
//	    Loss:    ine.Float(0.5),
//	})
func (c *Client) SetImpairments(ctx context.Context, viID int, u ImpairmentUpdate) ([]ApplyRes, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	var results []ApplyRes
	steps := []struct {
		value *float64
		apply func(context.Context, int, float64) (ApplyRes, error)
	}{
		{u.Latency, c.ApplyLatency},
		{u.Loss, c.ApplyLoss},
		{u.Errors, c.ApplyErrors},
	}
	for _, s := range steps {
		if s.value == nil {
			continue
		}
		res, err := s.apply(ctx, viID, *s.value)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}
