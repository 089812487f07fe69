// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/tidwall/gjson"
)

// Skeleton object names
const (
	NameInternet = "Internet"
	NameMPLS     = "MPLS"
	NameOuter    = "Outer"
	NameFirewall = "Firewall"
)

// VI is a virtual interface: a node or link object inside an emulation
// with its ordered chain of processing modules
type VI struct {
	ID          int
	Name        string
	UserGivenID string
	Type        string
	Group       string
	X           int
	Y           int
	Width       int
	Height      int
	Direction   int
	Image       string
	Notes       string
	Meta        string
	Modules     []Module
}

// Route is one routing table entry
type Route struct {
	Network    netip.Prefix
	OutputPort string
}

// String renders the route as "network → port"
func (r Route) String() string {
	return r.Network.String() + " → " + r.OutputPort
}

// Module returns the first module with the given name
func (v VI) Module(name string) (Module, bool) {
	for _, m := range v.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// ModuleInSlot returns the first module in a chain slot
func (v VI) ModuleInSlot(slot int) (Module, bool) {
	for _, m := range v.Modules {
		if m.Slot == slot {
			return m, true
		}
	}
	return Module{}, false
}

// Routes returns the IPv4 routing table of the VI in table order
func (v VI) Routes() ([]Route, error) {
	m, ok := v.Module(ModuleIPv4Routing)
	if !ok {
		return nil, nil
	}
	return m.Routes()
}

// JSON renders the VI, its modules and its routes
//
// Example:
//
//	vi, _ := client.GetVI(ctx, 12)
//	fmt.Println(vi.JSON())
func (v VI) JSON() string {
	doc := jsonDoc{}.
		set("id", v.ID).
		set("name", v.Name).
		set("userGivenId", v.UserGivenID).
		set("type", v.Type).
		set("group", v.Group).
		set("x", v.X).
		set("y", v.Y).
		set("width", v.Width).
		set("height", v.Height).
		set("direction", v.Direction).
		set("image", v.Image).
		set("notes", v.Notes).
		set("meta", v.Meta).
		setRaw("modules", "[]")

	for i, m := range v.Modules {
		prefix := "modules." + strconv.Itoa(i)
		doc = doc.
			set(prefix+".name", m.Name).
			set(prefix+".slot", m.Slot).
			setRaw(prefix+".params", "{}")
		for _, p := range m.Params {
			doc = doc.set(prefix+".params."+gjsonEscape(p.Key), p.Value)
		}
	}

	doc = doc.setRaw("routes", "[]")
	if routes, err := v.Routes(); err == nil {
		for i, r := range routes {
			prefix := "routes." + strconv.Itoa(i)
			doc = doc.
				set(prefix+".network", r.Network.String()).
				set(prefix+".outputPort", r.OutputPort)
		}
	}
	return doc.res()
}

// GetValue queries the JSON rendering of the VI using a gjson path
//
// Example:
//
//	name := vi.GetValue("name").String()
//	slot := vi.GetValue(`modules.#(name=="Default:Random_Drop").slot`).Int()
func (v VI) GetValue(path string) gjson.Result {
	return getValue(v.JSON(), path)
}

// gjsonEscape escapes path metacharacters in module parameter keys
func gjsonEscape(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

// GetVI returns the settings of one VI
//
// Returns an ErrNotFound error if the VI does not exist.
func (c *Client) GetVI(ctx context.Context, id int) (VI, error) {
	reply, err := c.Exec(ctx, NewCommand().Scope("--Id", id).Flag("--getVISettings"), FullReply())
	if err != nil {
		return VI{}, err
	}
	vi, err := DecodeVISettings(reply.Raw)
	if err != nil {
		c.logger.Debug(ctx, "VI settings decode failed",
			"vi_id", id,
			"error", err.Error())
		if errors.Is(err, ErrDecode) {
			return VI{}, c.discard(ctx, err)
		}
		return VI{}, err
	}
	return vi, nil
}

// ListVIIDs returns the ids of all VIs in an emulation
func (c *Client) ListVIIDs(ctx context.Context, emulationID int) ([]int, error) {
	reply, err := c.Exec(ctx, NewCommand().Scope("--emulationId", emulationID).Flag("--getVIsForEmulation"))
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		e := rejected("list VIs", reply)
		e.Kind = ErrNotFound
		e.EmulationID = emulationID
		return nil, e
	}

	rows, err := DecodeList(reply.Raw, "--VIsForEmulation", 1)
	if err != nil {
		return nil, c.discard(ctx, err)
	}
	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, c.discard(ctx, decodeError("list VIs", fmt.Sprintf("non-numeric VI id %q", row[0]), reply.Raw))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ListVIs returns all VIs of an emulation with their settings
func (c *Client) ListVIs(ctx context.Context, emulationID int) ([]VI, error) {
	ids, err := c.ListVIIDs(ctx, emulationID)
	if err != nil {
		return nil, err
	}
	vis := make([]VI, 0, len(ids))
	for _, id := range ids {
		vi, err := c.GetVI(ctx, id)
		if err != nil {
			return nil, err
		}
		vis = append(vis, vi)
	}
	return vis, nil
}

// ListAllVIs returns the VIs of every loaded emulation
func (c *Client) ListAllVIs(ctx context.Context) ([]EmulationVIs, error) {
	emulations, err := c.ListEmulations(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]EmulationVIs, 0, len(emulations))
	for _, e := range emulations {
		vis, err := c.ListVIs(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, EmulationVIs{Emulation: e, VIs: vis})
	}
	return all, nil
}

// NamedVIs returns the VIs of an emulation whose names are listed, in
// emulation order. Without names the edge objects Internet and MPLS are
// returned.
func (c *Client) NamedVIs(ctx context.Context, emulationID int, names ...string) ([]VI, error) {
	if len(names) == 0 {
		names = []string{NameInternet, NameMPLS}
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	vis, err := c.ListVIs(ctx, emulationID)
	if err != nil {
		return nil, err
	}
	var named []VI
	for _, vi := range vis {
		if wanted[vi.Name] {
			named = append(named, vi)
		}
	}
	return named, nil
}

// RouterOptions selects the behaviour of RouterVIs
type RouterOptions struct {
	// Firewall includes the Firewall object
	Firewall bool

	// Reset clears all impairments after they are read, so the returned
	// values are the ones that were in effect before the reset
	Reset bool
}

// RouterVIs returns the objects whose impairments shape a product's
// traffic (Internet, MPLS and optionally Firewall)
func (c *Client) RouterVIs(ctx context.Context, emulationID int, opts RouterOptions) ([]RouterVI, error) {
	names := []string{NameInternet, NameMPLS}
	if opts.Firewall {
		names = append(names, NameFirewall)
	}
	vis, err := c.NamedVIs(ctx, emulationID, names...)
	if err != nil {
		return nil, err
	}

	routers := make([]RouterVI, 0, len(vis))
	for _, vi := range vis {
		imp, err := impairmentsOf(vi)
		if err != nil {
			return nil, err
		}
		if opts.Reset {
			if _, err := c.ResetImpairments(ctx, vi.ID); err != nil {
				return nil, err
			}
		}
		routers = append(routers, RouterVI{VI: vi, Impairments: imp})
	}
	return routers, nil
}
