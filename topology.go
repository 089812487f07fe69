// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"fmt"
	"net/netip"
	"strings"
)

// Layout is the canvas geometry of a product emulation
type Layout struct {
	// ObjectSize is the width and height of node objects
	ObjectSize int

	// CanvasWidth and CanvasHeight bound the drawing
	CanvasWidth  int
	CanvasHeight int

	// GatewayDistance is the horizontal offset of Internet and MPLS from Outer
	GatewayDistance int
}

// DefaultLayout is the standard canvas
var DefaultLayout = Layout{
	ObjectSize:      80,
	CanvasWidth:     1900,
	CanvasHeight:    1200,
	GatewayDistance: 300,
}

// Fixed layout offsets
const (
	firewallBottomMargin = 280
	outerAboveFirewall   = 100
	edgeAboveOuter       = 150
	deviceColumnOffset   = 210
	firstDeviceY         = 220
)

func (l Layout) validate() error {
	if l.ObjectSize <= 0 || l.CanvasWidth <= 0 || l.CanvasHeight <= 0 || l.GatewayDistance < 0 {
		return fmt.Errorf("invalid layout %+v: sizes must be positive", l)
	}
	return nil
}

// Product is the emulated site: its name becomes the emulation name and its
// gateway and VLAN attach the Firewall object
type Product struct {
	Name           string `yaml:"name"`
	GatewayAddress string `yaml:"gateway"`
	VLAN           string `yaml:"vlan"`
}

// WAN is one upstream attachment of a device
type WAN struct {
	Address string `yaml:"address"`
	Mask    int    `yaml:"mask"`
	VLAN    string `yaml:"vlan"`
}

// Device is a customer device with up to two WAN attachments
type Device struct {
	Name string `yaml:"name"`
	WAN1 *WAN   `yaml:"wan1,omitempty"`
	WAN2 *WAN   `yaml:"wan2,omitempty"`
}

// VIKind classifies a planned VI
type VIKind int

const (
	// KindObject is a skeleton node (Internet, MPLS, Outer, Firewall)
	KindObject VIKind = iota

	// KindLink is a directional link between two nodes
	KindLink

	// KindDevice is a device gateway attached to an edge node
	KindDevice
)

// String returns the string representation of a VIKind
func (k VIKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindLink:
		return "link"
	case KindDevice:
		return "device"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// VISpec is a planned VI
type VISpec struct {
	Name string
	Kind VIKind

	// Group is the link group name; empty for nodes
	Group string

	// Parent is the output port of links and addressed objects
	Parent string

	X, Y, Width, Height int

	// Direction is the link orientation flag; 0 for nodes
	Direction int

	// Address, MaskBits, Gateway, VLAN and WAN describe the physical port of
	// addressed objects (Firewall and device gateways)
	Address  netip.Addr
	MaskBits int
	Gateway  netip.Addr
	VLAN     string
	WAN      int

	// Routes is the IPv4 routing table, default route last
	Routes []Route
}

// HasAddress reports whether the VI is attached to a physical port
func (s VISpec) HasAddress() bool {
	return s.Address.IsValid()
}

// PortSpec returns the port provisioning spec of an addressed VI
func (s VISpec) PortSpec() PortSpec {
	p := PortSpec{
		WAN:     s.WAN,
		VLAN:    s.VLAN,
		Address: s.Address.String(),
		Mask:    maskString(s.MaskBits),
	}
	if s.Gateway.IsValid() {
		p.Gateway = s.Gateway.String()
	}
	return p
}

// Plan is the complete VI layout of a product emulation in creation order
type Plan struct {
	Product Product

	// Links are created first, three adjacencies with two directions each
	Links []VISpec

	// Objects are the device gateways followed by MPLS, Internet, Outer and Firewall
	Objects []VISpec
}

// All returns links then objects, the order in which VIs are amended
func (p Plan) All() []VISpec {
	all := make([]VISpec, 0, len(p.Links)+len(p.Objects))
	all = append(all, p.Links...)
	return append(all, p.Objects...)
}

// VI returns the planned VI with the given name
func (p Plan) VI(name string) (VISpec, bool) {
	for _, s := range p.All() {
		if s.Name == name {
			return s, true
		}
	}
	return VISpec{}, false
}

// linkName names the link of group from→to
func linkName(group, from, to string) string {
	return group + ": " + from + " --> " + to
}

// PlanTopology lays out a product emulation without any I/O
//
// Example:
//
//	plan, err := ine.PlanTopology(
//	    ine.Product{Name: "Acme", GatewayAddress: "10.0.0.1", VLAN: "100"},
//	    []ine.Device{{Name: "dev1", WAN1: &ine.WAN{Address: "10.0.1.1", Mask: 24, VLAN: "200"}}},
//	    ine.DefaultLayout)
//	internet, _ := plan.VI("Internet")
//	// internet.Routes: 10.0.1.0/24 → dev1-GW0, 0.0.0.0/0 → Internet Link: Internet --> Outer
func PlanTopology(product Product, devices []Device, layout Layout) (Plan, error) {
	if err := layout.validate(); err != nil {
		return Plan{}, &IneError{Operation: "plan topology", Kind: ErrValidation, Message: err.Error()}
	}
	gateway, err := validateProduct(product)
	if err != nil {
		return Plan{}, &IneError{Operation: "plan topology", Kind: ErrValidation, Message: err.Error()}
	}
	if err := validateDevices(devices); err != nil {
		return Plan{}, &IneError{Operation: "plan topology", Kind: ErrValidation, Message: err.Error()}
	}

	s := layout.ObjectSize

	firewall := VISpec{
		Name:     NameFirewall,
		Kind:     KindObject,
		X:        layout.CanvasWidth/2 - s/2,
		Y:        layout.CanvasHeight - firewallBottomMargin,
		Width:    s,
		Height:   s,
		Address:  gateway.Next(),
		MaskBits: 30,
		Gateway:  gateway,
		VLAN:     product.VLAN,
		WAN:      1,
		Parent:   linkName(NameOuter+" Link", NameFirewall, NameOuter),
	}
	outer := VISpec{Name: NameOuter, Kind: KindObject, X: firewall.X, Y: firewall.Y - outerAboveFirewall, Width: s, Height: s}
	internet := VISpec{Name: NameInternet, Kind: KindObject, X: outer.X - layout.GatewayDistance, Y: outer.Y - edgeAboveOuter, Width: s, Height: s}
	mpls := VISpec{Name: NameMPLS, Kind: KindObject, X: outer.X + layout.GatewayDistance, Y: outer.Y - edgeAboveOuter, Width: s, Height: s}

	plan := Plan{Product: product}
	for _, pair := range [][2]VISpec{{mpls, outer}, {internet, outer}, {outer, firewall}} {
		plan.Links = append(plan.Links, linkPair(pair[0], pair[1], s)...)
	}

	columns := map[int]struct {
		edge *VISpec
		x    int
		y    int
	}{
		1: {&internet, internet.X - deviceColumnOffset, firstDeviceY},
		2: {&mpls, mpls.X + deviceColumnOffset, firstDeviceY},
	}

	var deviceVIs []VISpec
	for _, d := range devices {
		for _, att := range []struct {
			wan int
			w   *WAN
		}{{1, d.WAN1}, {2, d.WAN2}} {
			if att.w == nil {
				continue
			}
			col := columns[att.wan]
			wanAddr, _ := parseIPv4(att.w.Address)
			addr := wanAddr.Prev()
			network := netip.PrefixFrom(addr, att.w.Mask).Masked()

			dev := VISpec{
				Name:     fmt.Sprintf("%s-GW%d", d.Name, att.wan-1),
				Kind:     KindDevice,
				Parent:   col.edge.Name,
				X:        col.x,
				Y:        col.y,
				Width:    s,
				Height:   s,
				Address:  addr,
				MaskBits: att.w.Mask,
				Gateway:  wanAddr,
				VLAN:     att.w.VLAN,
				WAN:      att.wan,
			}
			deviceVIs = append(deviceVIs, dev)

			col.edge.Routes = append(col.edge.Routes, Route{Network: network, OutputPort: dev.Name})
			outer.Routes = append(outer.Routes, Route{
				Network:    network,
				OutputPort: linkName(col.edge.Name+" Link", NameOuter, col.edge.Name),
			})

			col.y += s + s/4
			columns[att.wan] = col
		}
	}

	defaultRoute := netip.PrefixFrom(netip.IPv4Unspecified(), 0)
	internet.Routes = append(internet.Routes, Route{defaultRoute, linkName(NameInternet+" Link", NameInternet, NameOuter)})
	mpls.Routes = append(mpls.Routes, Route{defaultRoute, linkName(NameMPLS+" Link", NameMPLS, NameOuter)})
	outer.Routes = append(outer.Routes, Route{defaultRoute, linkName(NameOuter+" Link", NameOuter, NameFirewall)})

	plan.Objects = append(plan.Objects, deviceVIs...)
	plan.Objects = append(plan.Objects, mpls, internet, outer, firewall)
	return plan, nil
}

// linkPair derives both directional links between two nodes
//
// Width and height are the coordinate deltas between the nodes' centres. A
// zero axis is drawn 2 units thick and shifted back by 5. The direction flag
// starts at 1, negative width adds 1 (zero width forces 2) and negative
// height adds 2.
func linkPair(from, to VISpec, size int) []VISpec {
	group := from.Name + " Link"

	x := from.X + size/2
	y := from.Y + size/2
	width := to.X - from.X
	height := to.Y - from.Y
	direction := 1

	switch {
	case width < 0:
		width = -width
		x = to.X + size/2
		direction++
	case width == 0:
		width = 2
		x -= 5
		direction = 2
	}
	switch {
	case height < 0:
		height = -height
		y = to.Y + size/2
		direction += 2
	case height == 0:
		height = 2
		y -= 5
	}

	mk := func(a, b string) VISpec {
		return VISpec{
			Name:      linkName(group, a, b),
			Kind:      KindLink,
			Group:     group,
			Parent:    b,
			X:         x,
			Y:         y,
			Width:     width,
			Height:    height,
			Direction: direction,
		}
	}
	return []VISpec{mk(from.Name, to.Name), mk(to.Name, from.Name)}
}

func validateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if strings.ContainsAny(name, "\";\r\n") {
		return fmt.Errorf("%s name %q contains a reserved character", kind, name)
	}
	return nil
}

func validateProduct(p Product) (netip.Addr, error) {
	if err := validateName("product", p.Name); err != nil {
		return netip.Addr{}, err
	}
	gateway, err := parseIPv4(p.GatewayAddress)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("product gateway: %w", err)
	}
	if !gateway.Next().IsValid() {
		return netip.Addr{}, fmt.Errorf("product gateway %s has no successor", gateway)
	}
	if err := validateVLAN(p.VLAN); err != nil {
		return netip.Addr{}, fmt.Errorf("product: %w", err)
	}
	return gateway, nil
}

func validateDevices(devices []Device) error {
	seen := map[string]bool{}
	for _, d := range devices {
		if err := validateName("device", d.Name); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true

		for i, w := range []*WAN{d.WAN1, d.WAN2} {
			if w == nil {
				continue
			}
			addr, err := parseIPv4(w.Address)
			if err != nil {
				return fmt.Errorf("device %s WAN%d: %w", d.Name, i+1, err)
			}
			if !addr.Prev().IsValid() {
				return fmt.Errorf("device %s WAN%d: address %s has no predecessor", d.Name, i+1, addr)
			}
			if w.Mask < 0 || w.Mask > 32 {
				return fmt.Errorf("device %s WAN%d: mask must be 0-32, got %d", d.Name, i+1, w.Mask)
			}
			if err := validateVLAN(w.VLAN); err != nil {
				return fmt.Errorf("device %s WAN%d: %w", d.Name, i+1, err)
			}
		}
	}
	return nil
}

// AmendCommand builds the command that configures a created VI
//
// Every VI gets the fixed processing chain. Addressed objects add symmetric
// routing to their port, links add generic routing toward their parent, and
// objects with routes add an IPv4 routing table.
func AmendCommand(spec VISpec, id int) Command {
	group := spec.Name
	viType := "picture"
	image := "Standard/Router.png"

	cmd := NewCommand().Scope("--id", id).
		Module(NewModule(ModuleDebug, SlotDebug, "Dump_Packet", "0", "Bytes_to_Dump", "80")).
		Module(NewModule(ModuleGenericFilter, SlotFilter)).
		Module(NewModule(ModuleRandomDropWithBurst, SlotDrop,
			"Loss_Percent", "0.0", "Minimum_Packets_to_Drop", "1", "Maximum_Packets_to_Drop", "1")).
		Module(NewModule(ModuleRandomPacketCorrupt, SlotCorrupt, "Packet_Corruption_Percent", "0.0")).
		Module(NewModule(ModuleStepDelay, SlotDelay, "Min_Delay", "0", "Max_Delay", "0", "Step_Delay", "0")).
		Module(NewModule(ModuleFragmentMTU, SlotFragment, "MTU_Limit", "0", "Dont_Fragment_Flag_Option", "Fragment Anyway"))

	if spec.HasAddress() {
		addr := spec.Address.String()
		m := NewModule(ModuleSymmetricRouting, SlotRouting)
		if spec.Parent != "" {
			m = m.With("Routes[0].Port_Out", spec.Parent).With("Routes[0].Port_In", addr)
		}
		cmd = cmd.Module(m.With("Port_In", addr).With("Port_Out", addr))
		image = "LAN/Port.png"
	}

	if spec.Direction > 0 {
		cmd = cmd.Module(NewModule(ModuleGenericRouting, SlotRouting, "Port_In", "Virtual", "Port_Out", spec.Parent))
		image = "Standard/FullDuplex.png"
		group = spec.Group
		viType = "lineobject"
	}

	if len(spec.Routes) > 0 {
		m := NewModule(ModuleIPv4Routing, SlotRouting)
		for i, r := range spec.Routes {
			key := fmt.Sprintf("Routes[%d].", i)
			m = m.With(key+"Route_Disabled", "0").
				With(key+"Port_In", "Virtual").
				With(key+"Port_Out", r.OutputPort).
				With(key+"Network_Mask", maskString(r.Network.Bits())).
				With(key+"Network_Address", r.Network.Masked().Addr().String())
		}
		cmd = cmd.Module(m.With("Port_In", "").With("Port_Out", ""))
	}

	cmd = cmd.
		Module(NewModule(ModulePacketMove, SlotMoveDuplicate,
			"Selection_Percent", "0.0", "Duplicate_Packet", "0", "Minimum_Move", "0", "Maximum_Move", "0")).
		Module(NewModule(ModuleRandomMoveOffset, SlotMoveOffset,
			"Move_Percent", "0.0", "Minimum_Move", "1", "Maximum_Move", "1")).
		Module(NewModule(ModuleLinkSpeed, SlotLinkSpeed,
			"Link_Type", "Manual", "Link_Speed", "0", "Queue_Length", "64000",
			"Overhead", "18", "Congestion_PCT", "0.0", "TTL_Cost", "0"))
	if viType == "lineobject" {
		cmd = cmd.Module(NewModule(ModuleLineTerminator, SlotLineTerminator))
	}

	return cmd.
		Quoted("--vitype", viType).
		Quoted("--groupname", group).
		Scope("--xpos", spec.X).
		Scope("--ypos", spec.Y).
		Scope("--width", spec.Width).
		Scope("--height", spec.Height).
		Scope("--objdir", spec.Direction).
		Quoted("--image", image).
		Quoted("--notes", "")
}
