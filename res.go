// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"github.com/tidwall/gjson"
)

// EmulationRes is the result of CreateEmulation
type EmulationRes struct {
	// ID is the appliance id of the new emulation
	ID int

	// Name is the emulation name (the product name)
	Name string
}

// JSON renders the result for an outward-facing layer
func (r EmulationRes) JSON() string {
	return jsonDoc{}.
		set("id", r.ID).
		set("name", r.Name).
		res()
}

// ApplyRes is the result of writing one impairment
type ApplyRes struct {
	// Kind is the impairment that was written
	Kind ImpairmentKind

	// Value is the applied round-trip value; only meaningful when OK
	Value float64

	// OK is set when the appliance acknowledged with --ok
	OK bool

	// Reply is the appliance reply
	Reply Reply
}

// JSON renders the result, including the raw reply when it was not acknowledged
func (r ApplyRes) JSON() string {
	doc := jsonDoc{}.
		set("kind", string(r.Kind)).
		set("ok", r.OK)
	if r.OK {
		doc = doc.set("value", r.Value)
	} else {
		doc = doc.set("reply", r.Reply.Raw)
	}
	return doc.res()
}

// GetValue queries the JSON rendering of the result using a gjson path
func (r ApplyRes) GetValue(path string) gjson.Result {
	return getValue(r.JSON(), path)
}

// EmulationVIs groups the VIs of one emulation
type EmulationVIs struct {
	Emulation Emulation
	VIs       []VI
}

// JSON renders the emulation with its VIs
func (e EmulationVIs) JSON() string {
	doc := jsonDoc{}.
		setRaw("emulation", e.Emulation.JSON()).
		setRaw("vis", "[]")
	for _, vi := range e.VIs {
		doc = doc.setRaw("vis.-1", vi.JSON())
	}
	return doc.res()
}

// RouterVI is a routing object with its current impairments
type RouterVI struct {
	VI          VI
	Impairments Impairments
}

// JSON renders the router object as id, name and impairments
//
// Example:
//
//	routers, _ := client.RouterVIs(ctx, 7, ine.RouterOptions{})
//	for _, r := range routers {
//	    fmt.Println(r.JSON())
//	}
func (r RouterVI) JSON() string {
	return jsonDoc{}.
		set("id", r.VI.ID).
		set("name", r.VI.Name).
		setRaw("impairments", r.Impairments.JSON()).
		res()
}

// GetValue queries the JSON rendering of the router object using a gjson path
func (r RouterVI) GetValue(path string) gjson.Result {
	return getValue(r.JSON(), path)
}
