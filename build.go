// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"context"
	"errors"
	"fmt"
)

// noSuchPortPattern is the amend reply for an object whose physical port
// has not been provisioned
const noSuchPortPattern = `--error "[%[1]v - Default:Symmetric_Routing]: Object %[1]v: No such port (%[2]v)"`

// CreateEmulation builds and starts a product emulation
//
// The topology is planned first, so invalid input fails before any command
// is sent. If an emulation with the product name is running, an
// ErrAlreadyRunning error carrying its id is returned, unless overwrite is
// set, in which case it is stopped. Missing physical ports are provisioned
// on demand.
//
// A failure after the emulation was created returns an error with
// EmulationID set; the partial emulation is left in place.
//
// Example:
//
//	res, err := client.CreateEmulation(ctx,
//	    ine.Product{Name: "Acme", GatewayAddress: "10.0.0.1", VLAN: "100"},
//	    []ine.Device{{Name: "dev1", WAN1: &ine.WAN{Address: "10.0.1.1", Mask: 24, VLAN: "200"}}},
//	    false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("emulation", res.ID, "started")
func (c *Client) CreateEmulation(ctx context.Context, product Product, devices []Device, overwrite bool) (EmulationRes, error) {
	plan, err := PlanTopology(product, devices, c.Layout)
	if err != nil {
		return EmulationRes{}, err
	}

	emulations, err := c.ListEmulations(ctx)
	if err != nil {
		return EmulationRes{}, err
	}
	for _, e := range emulations {
		if e.Name != product.Name || !e.Running {
			continue
		}
		if !overwrite {
			return EmulationRes{}, &IneError{
				Operation:   "create emulation",
				Kind:        ErrAlreadyRunning,
				Message:     fmt.Sprintf("emulation %q is already running", product.Name),
				EmulationID: e.ID,
			}
		}
		c.logger.Info(ctx, "stopping running emulation before rebuild",
			"emulation", product.Name,
			"emulation_id", e.ID)
		if err := c.StopEmulation(ctx, e.ID); err != nil {
			return EmulationRes{}, err
		}
	}

	emulationID, err := c.addEmulation(ctx, product.Name)
	if err != nil {
		return EmulationRes{}, err
	}
	c.logger.Info(ctx, "emulation created",
		"emulation", product.Name,
		"emulation_id", emulationID,
		"links", len(plan.Links),
		"objects", len(plan.Objects))

	if err := c.buildPlan(ctx, emulationID, plan); err != nil {
		return EmulationRes{}, buildError(emulationID, err)
	}

	if err := c.StartEmulation(ctx, emulationID); err != nil {
		return EmulationRes{}, buildError(emulationID, err)
	}

	return EmulationRes{ID: emulationID, Name: product.Name}, nil
}

// buildPlan creates every planned VI, then amends them in the same order
func (c *Client) buildPlan(ctx context.Context, emulationID int, plan Plan) error {
	specs := plan.All()
	ids := make([]int, len(specs))
	for i, spec := range specs {
		id, err := c.addVI(ctx, emulationID, spec.Name)
		if err != nil {
			return err
		}
		ids[i] = id
		c.logger.Debug(ctx, "VI created",
			"emulation_id", emulationID,
			"vi", spec.Name,
			"vi_id", id,
			"kind", spec.Kind.String())
	}

	for i, spec := range specs {
		if err := c.amendVI(ctx, spec, ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// amendVI configures one VI, retrying the input-port race and provisioning
// a missing port once
func (c *Client) amendVI(ctx context.Context, spec VISpec, id int) error {
	cmd := AmendCommand(spec, id)

	if !spec.HasAddress() {
		reply, err := c.Exec(ctx, cmd)
		if err != nil {
			return err
		}
		if !reply.OK() {
			return rejectedVI(spec, reply, 0)
		}
		return nil
	}

	idents := []any{spec.Name, spec.Address}
	reply, retries, err := c.execWithRetry(ctx, OpAmendVI, cmd, idents)
	if err != nil {
		return err
	}
	if reply.OK() {
		return nil
	}

	if c.stillTransient(OpAmendVI, reply, idents...) {
		return &IneError{
			Operation:   "amend VI",
			Kind:        ErrConflict,
			Message:     fmt.Sprintf("input port %s of %s stayed in use", spec.Address, spec.Name),
			InternalMsg: reply.Raw,
			Reply:       reply.Raw,
			Retries:     retries,
		}
	}

	if reply.Raw != fmt.Sprintf(noSuchPortPattern, idents...) {
		return rejectedVI(spec, reply, retries)
	}

	c.logger.Info(ctx, "port missing, provisioning",
		"vi", spec.Name,
		"address", spec.Address.String())
	if _, err := c.CreatePort(ctx, spec.PortSpec()); err != nil {
		return err
	}

	reply, err = c.Exec(ctx, cmd)
	if err != nil {
		return err
	}
	if !reply.OK() {
		return rejectedVI(spec, reply, retries)
	}
	return nil
}

func rejectedVI(spec VISpec, reply Reply, retries int) *IneError {
	e := rejected("amend VI "+spec.Name, reply)
	e.Retries = retries
	return e
}

// buildError tags an error with the partially built emulation
//
// Appliance rejections become ErrBuild; other kinds are kept so callers can
// still tell connectivity and conflict failures apart.
func buildError(emulationID int, err error) error {
	var ie *IneError
	if !errors.As(err, &ie) {
		return &IneError{
			Operation:   "create emulation",
			Kind:        ErrBuild,
			Message:     err.Error(),
			EmulationID: emulationID,
		}
	}
	out := *ie
	if errors.Is(ie.Kind, ErrRejected) {
		out.Kind = ErrBuild
	}
	out.EmulationID = emulationID
	return &out
}
