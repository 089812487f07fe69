// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// portStride is the number of fields per port in --getAllPorts replies
const portStride = 6

// DefaultPortMask is the netmask of a provisioned point-to-point port
const DefaultPortMask = "255.255.255.252"

// childPortPattern is the reply for a port that still has a child port
const childPortPattern = `--error "Port id [%[1]v] has a child port and so cannot be deleted"`

// AppliancePort is a physical or virtual appliance port
//
// IPv4 ports are named after their address and are children of a VLAN port
// named "<interface>.<vlan>".
type AppliancePort struct {
	ID       int
	Name     string
	ParentID *int
	Parent   *AppliancePort
	Reserved string
	Type     string
	Subtype  *string
}

// JSON renders the port for an outward-facing layer
func (p AppliancePort) JSON() string {
	doc := jsonDoc{}.
		set("id", p.ID).
		set("name", p.Name).
		set("type", p.Type)
	if p.Parent != nil {
		doc = doc.setRaw("parent", p.Parent.JSON())
	} else if p.ParentID != nil {
		doc = doc.set("parent", *p.ParentID)
	} else {
		doc = doc.setRaw("parent", "null")
	}
	if p.Subtype != nil {
		doc = doc.set("subtype", *p.Subtype)
	} else {
		doc = doc.setRaw("subtype", "null")
	}
	return doc.res()
}

// PortSpec describes a routed VLAN port to provision
type PortSpec struct {
	// WAN selects the physical interface: 1 → interface 0, 2 → interface 1
	WAN int

	// VLAN id carried by the VLAN port
	VLAN string

	// Address of the IPv4 port, also used as its name
	Address string

	// Mask is the dotted netmask (default: DefaultPortMask)
	Mask string

	// Gateway is optional
	Gateway string
}

// wanInterface maps a WAN number to the physical interface index
func wanInterface(wan int) (int, error) {
	switch wan {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	}
	return 0, fmt.Errorf("WAN number must be 1 or 2, got %d", wan)
}

// normalize validates the port spec and fills defaults
func (s PortSpec) normalize() (PortSpec, error) {
	if _, err := wanInterface(s.WAN); err != nil {
		return s, err
	}
	if err := validateVLAN(s.VLAN); err != nil {
		return s, err
	}
	if _, err := parseIPv4(s.Address); err != nil {
		return s, fmt.Errorf("address: %w", err)
	}
	if s.Mask == "" {
		s.Mask = DefaultPortMask
	}
	if _, err := maskBits(s.Mask); err != nil {
		return s, err
	}
	if s.Gateway != "" {
		if _, err := parseIPv4(s.Gateway); err != nil {
			return s, fmt.Errorf("gateway: %w", err)
		}
	}
	return s, nil
}

// ListPorts returns all appliance ports
func (c *Client) ListPorts(ctx context.Context) ([]AppliancePort, error) {
	reply, err := c.Exec(ctx, NewCommand().Flag("--getAllPorts"), FullReply())
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, rejected("list ports", reply)
	}

	// only the payload of this reply is checked, not its header
	rows, err := DecodeList(reply.Raw, reply.Header, portStride)
	if err != nil {
		return nil, c.discard(ctx, err)
	}

	ports := make([]AppliancePort, 0, len(rows))
	for _, row := range rows {
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, c.discard(ctx, decodeError("list ports", fmt.Sprintf("non-numeric port id %q", row[0]), reply.Raw))
		}
		parent, err := optionalParent(row[2])
		if err != nil {
			return nil, c.discard(ctx, decodeError("list ports", fmt.Sprintf("non-numeric parent id %q", row[2]), reply.Raw))
		}
		ports = append(ports, AppliancePort{
			ID:       id,
			Name:     row[1],
			ParentID: parent,
			Reserved: row[3],
			Type:     row[4],
			Subtype:  optionalString(row[5]),
		})
	}
	return ports, nil
}

// GetPort returns one port by id, optionally with its parent resolved
//
// Returns an ErrNotFound error if the port does not exist. A parent that
// cannot be resolved leaves Parent nil.
func (c *Client) GetPort(ctx context.Context, id int, resolveParent bool) (AppliancePort, error) {
	ports, err := c.ListPorts(ctx)
	if err != nil {
		return AppliancePort{}, err
	}
	port, ok := portByID(ports, id)
	if !ok {
		return AppliancePort{}, newError("get port", ErrNotFound, fmt.Sprintf("port %d not found", id))
	}
	if resolveParent {
		port.Parent = parentOf(ports, port)
	}
	return port, nil
}

func portByID(ports []AppliancePort, id int) (AppliancePort, bool) {
	for _, p := range ports {
		if p.ID == id {
			return p, true
		}
	}
	return AppliancePort{}, false
}

func portByName(ports []AppliancePort, name string) (AppliancePort, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	return AppliancePort{}, false
}

func parentOf(ports []AppliancePort, port AppliancePort) *AppliancePort {
	if port.ParentID == nil {
		return nil
	}
	parent, ok := portByID(ports, *port.ParentID)
	if !ok {
		return nil
	}
	return &parent
}

// CreatePort provisions a routed VLAN port
//
// If a port with the address already exists under the right VLAN port,
// nothing is sent and false is returned. A port under a different VLAN is
// deleted together with its VLAN port and then recreated.
//
// Example:
//
//	created, err := client.CreatePort(ctx, ine.PortSpec{
//	    WAN:     1,
//	    VLAN:    "200",
//	    Address: "10.0.1.0",
//	    Mask:    "255.255.255.0",
//	    Gateway: "10.0.1.1",
//	})
func (c *Client) CreatePort(ctx context.Context, spec PortSpec) (bool, error) {
	spec, err := spec.normalize()
	if err != nil {
		return false, &IneError{Operation: "create port", Kind: ErrValidation, Message: err.Error()}
	}
	iface, _ := wanInterface(spec.WAN)
	vlanPort := strconv.Itoa(iface) + "." + spec.VLAN

	ports, err := c.ListPorts(ctx)
	if err != nil {
		return false, err
	}

	if existing, ok := portByName(ports, spec.Address); ok {
		parent := parentOf(ports, existing)
		switch {
		case parent != nil && parent.Name == vlanPort:
			c.logger.Debug(ctx, "port already provisioned",
				"address", spec.Address,
				"vlan_port", vlanPort)
			return false, nil
		case parent != nil:
			c.logger.Info(ctx, "port is on a different VLAN, replacing",
				"address", spec.Address,
				"current", parent.Name,
				"wanted", vlanPort)
			if err := c.DeletePort(ctx, existing.ID); err != nil {
				return false, err
			}
			if err := c.DeletePort(ctx, parent.ID); err != nil {
				return false, err
			}
		default:
			c.logger.Info(ctx, "port has no VLAN parent, replacing",
				"address", spec.Address)
			if err := c.DeletePort(ctx, existing.ID); err != nil {
				return false, err
			}
		}
	}

	vlan := NewModule(PortModuleVLAN, 0,
		"VLAN_Interfaces[0].Interface_Name", vlanPort,
		"VLAN_Interfaces[0].Use_As_Default_Interface", "False",
		"VLAN_Interfaces[0].VLAN_Id", spec.VLAN,
		"VLAN_Interfaces[0].Detag_Packets_on_Output", "False")
	reply, err := c.Exec(ctx, NewCommand().PortModule(vlan, strconv.Itoa(iface)))
	if err != nil {
		return false, err
	}
	if reply.IsError() {
		return false, rejected("create VLAN port", reply)
	}

	ipv4 := NewModule(PortModuleIPv4, 0,
		"IPv4_Interfaces[0].Netmask", spec.Mask,
		"IPv4_Interfaces[0].Interface_Name", spec.Address,
		"IPv4_Interfaces[0].Gateway", spec.Gateway,
		"IPv4_Interfaces[0].Accept_Multicast_Traffic", "No",
		"IPv4_Interfaces[0].Address", spec.Address,
		"IPv4_Interfaces[0].Use_DHCP_Relay", "No")
	reply, err = c.Exec(ctx, NewCommand().PortModule(ipv4, vlanPort), FullReply())
	if err != nil {
		return false, err
	}
	if reply.IsError() {
		return false, rejected("create IPv4 port", reply)
	}

	c.logger.Info(ctx, "port provisioned",
		"address", spec.Address,
		"vlan_port", vlanPort)
	return true, nil
}

// DeletePort deletes one port
//
// A port that is still "in use in an emulation" is retried per the
// delete-port rule and reported as ErrConflict if it stays in use. A port
// with a child port is ErrPortHasChild.
func (c *Client) DeletePort(ctx context.Context, id int) error {
	cmd := NewCommand().Scope("--delPortModule", id)
	reply, retries, err := c.execWithRetry(ctx, OpDeletePort, cmd, []any{id})
	if err != nil {
		return err
	}
	if reply.OK() {
		c.logger.Info(ctx, "port deleted", "port_id", id)
		return nil
	}

	var e *IneError
	switch {
	case c.stillTransient(OpDeletePort, reply, id):
		e = &IneError{Operation: "delete port", Kind: ErrConflict, Message: fmt.Sprintf("port %d is in use in an emulation", id)}
	case reply.Raw == fmt.Sprintf(childPortPattern, id):
		e = &IneError{Operation: "delete port", Kind: ErrPortHasChild, Message: fmt.Sprintf("port %d has a child port", id)}
	default:
		e = rejected("delete port", reply)
	}
	e.InternalMsg = reply.Raw
	e.Reply = reply.Raw
	e.Retries = retries
	c.logger.Warn(ctx, "port delete failed",
		"port_id", id,
		"reply", reply.Raw,
		"retries", retries)
	return e
}

// DeletePortByAddress deletes the port provisioned for a device address
// together with its VLAN port
//
// The port is looked up by the address one below the given device address,
// the address CreateEmulation assigns to the gateway port. Returns an
// ErrNotFound error, without deleting anything, if the port or its VLAN port
// does not exist.
func (c *Client) DeletePortByAddress(ctx context.Context, address string) error {
	addr, err := parseIPv4(address)
	if err != nil {
		return &IneError{Operation: "delete port by address", Kind: ErrValidation, Message: err.Error()}
	}
	portAddr := addr.Prev()
	if !portAddr.IsValid() {
		return &IneError{Operation: "delete port by address", Kind: ErrValidation, Message: "address has no predecessor"}
	}

	ports, err := c.ListPorts(ctx)
	if err != nil {
		return err
	}
	port, ok := portByName(ports, portAddr.String())
	if !ok {
		return newError("delete port by address", ErrNotFound, fmt.Sprintf("no port for address %s", portAddr))
	}
	parent := parentOf(ports, port)
	if parent == nil {
		return newError("delete port by address", ErrNotFound, fmt.Sprintf("port %d has no VLAN port", port.ID))
	}

	if err := c.DeletePort(ctx, port.ID); err != nil {
		return err
	}
	return c.DeletePort(ctx, parent.ID)
}

// parseIPv4 parses a dotted IPv4 address
func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q", s)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not an IPv4 address: %q", s)
	}
	return addr, nil
}

// validateVLAN accepts VLAN ids 1-4094
func validateVLAN(vlan string) error {
	id, err := strconv.Atoi(vlan)
	if err != nil || id < 1 || id > 4094 {
		return fmt.Errorf("invalid VLAN id %q (must be 1-4094)", vlan)
	}
	return nil
}

// maskBits converts a dotted netmask to a prefix length
func maskBits(mask string) (int, error) {
	addr, err := netip.ParseAddr(mask)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("invalid netmask %q", mask)
	}
	v := addr.As4()
	ones, bits := net.IPMask(v[:]).Size()
	if bits == 0 {
		return 0, fmt.Errorf("non-contiguous netmask %q", mask)
	}
	return ones, nil
}

// maskString converts a prefix length to a dotted netmask
func maskString(bits int) string {
	return net.IP(net.CIDRMask(bits, 32)).String()
}
