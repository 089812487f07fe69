// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"context"
	"fmt"
	"strconv"
)

// emulationStride is the number of fields per emulation in --emulations replies
const emulationStride = 8

// Emulation is a named collection of VIs on the appliance
type Emulation struct {
	ID       int
	Name     string
	Running  bool
	Notes    string
	Default  bool
	Username string
	Started  string
	Updated  string
}

// JSON renders the emulation for an outward-facing layer
func (e Emulation) JSON() string {
	return jsonDoc{}.
		set("id", e.ID).
		set("name", e.Name).
		set("running", e.Running).
		set("notes", e.Notes).
		set("default", e.Default).
		set("username", e.Username).
		set("started", e.Started).
		set("updated", e.Updated).
		res()
}

// ListEmulations returns the emulations loaded on the appliance
//
// Example:
//
//	emulations, err := client.ListEmulations(ctx)
//	for _, e := range emulations {
//	    fmt.Println(e.ID, e.Name, e.Running)
//	}
func (c *Client) ListEmulations(ctx context.Context) ([]Emulation, error) {
	reply, err := c.Exec(ctx, NewCommand().Flag("--getemulations"))
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, rejected("list emulations", reply)
	}

	rows, err := DecodeList(reply.Raw, "--emulations", emulationStride)
	if err != nil {
		return nil, c.discard(ctx, err)
	}

	emulations := make([]Emulation, 0, len(rows))
	for _, row := range rows {
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, c.discard(ctx, decodeError("list emulations", fmt.Sprintf("non-numeric emulation id %q", row[0]), reply.Raw))
		}
		emulations = append(emulations, Emulation{
			ID:       id,
			Name:     row[1],
			Running:  parseFlagField(row[2]),
			Notes:    row[3],
			Default:  parseFlagField(row[4]),
			Username: row[5],
			Started:  row[6],
			Updated:  row[7],
		})
	}

	c.logger.Debug(ctx, "emulations listed", "count", len(emulations))
	return emulations, nil
}

// GetEmulation returns one emulation by id
//
// Returns an ErrNotFound error if no such emulation is loaded.
func (c *Client) GetEmulation(ctx context.Context, id int) (Emulation, error) {
	emulations, err := c.ListEmulations(ctx)
	if err != nil {
		return Emulation{}, err
	}
	for _, e := range emulations {
		if e.ID == id {
			return e, nil
		}
	}
	return Emulation{}, newError("get emulation", ErrNotFound, fmt.Sprintf("emulation %d not found", id))
}

// StopEmulation stops a loaded emulation
//
// Returns an ErrNotFound error if the emulation does not exist and an
// ErrRejected error if the appliance does not acknowledge the stop.
func (c *Client) StopEmulation(ctx context.Context, id int) error {
	if _, err := c.GetEmulation(ctx, id); err != nil {
		return err
	}

	c.logger.Info(ctx, "stopping emulation", "emulation_id", id)
	reply, err := c.Exec(ctx, NewCommand().Scope("--emulationId", id).Flag("--stop"))
	if err != nil {
		return err
	}
	if !reply.OK() {
		e := rejected("stop emulation", reply)
		e.EmulationID = id
		return e
	}
	return nil
}

// StartEmulation starts a loaded emulation
func (c *Client) StartEmulation(ctx context.Context, id int) error {
	reply, err := c.Exec(ctx, NewCommand().Scope("--emulationId", id).Flag("--start"))
	if err != nil {
		return err
	}
	if !reply.OK() {
		e := rejected("start emulation", reply)
		e.EmulationID = id
		return e
	}
	c.logger.Info(ctx, "emulation started", "emulation_id", id)
	return nil
}

// addEmulation creates an empty emulation and returns its id
func (c *Client) addEmulation(ctx context.Context, name string) (int, error) {
	reply, err := c.Exec(ctx, NewCommand().Quoted("--addEmulation", name))
	if err != nil {
		return 0, err
	}
	if reply.IsError() {
		return 0, rejected("add emulation", reply)
	}
	return decodeID(reply.Raw, "--emulationId")
}

// addVI creates an empty VI in an emulation and returns its id
func (c *Client) addVI(ctx context.Context, emulationID int, name string) (int, error) {
	reply, err := c.Exec(ctx, NewCommand().Scope("--emulationId", emulationID).Quoted("--addVi", name))
	if err != nil {
		return 0, err
	}
	if reply.IsError() {
		return 0, rejected("add VI", reply)
	}
	return decodeID(reply.Raw, "--id")
}
