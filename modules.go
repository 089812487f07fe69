// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// Processing module names
const (
	ModuleDebug               = "Default:Debug"
	ModuleGenericFilter       = "Default:Generic_Filter"
	ModuleRandomDrop          = "Default:Random_Drop"
	ModuleRandomDropWithBurst = "Default:Random_Drop_with_Burst"
	ModuleRandomPacketCorrupt = "Default:Random_Packet_Corrupt"
	ModuleRandomDelay         = "Default:Random_Delay"
	ModuleStepDelay           = "Default:Step_Delay_Packet_Nanoseconds"
	ModuleFragmentMTU         = "Default:Fragment_MTU"
	ModuleSymmetricRouting    = "Default:Symmetric_Routing"
	ModuleGenericRouting      = "Default:Generic_Routing"
	ModuleIPv4Routing         = "Default:IPv4_Routing"
	ModulePacketMove          = "Default:Packet_Move_and_Duplicate"
	ModuleRandomMoveOffset    = "Default:Random_Packet_Move_Offset"
	ModuleLinkSpeed           = "Default:Linkspeed_and_FIFO_Queue_Bytes"

	// ModuleLineTerminator closes the chain of a line object
	ModuleLineTerminator = "Default:"
)

// Port module names
const (
	PortModuleVLAN = "Default:Hardware_VLAN_Routing"
	PortModuleIPv4 = "Default:Hardware_IPv4_Routing"
)

// Processing chain slots. Modules run in ascending slot order.
const (
	SlotDebug          = 10
	SlotFilter         = 20
	SlotDrop           = 30
	SlotCorrupt        = 40
	SlotDelay          = 50
	SlotFragment       = 55
	SlotRouting        = 60
	SlotMoveDuplicate  = 62
	SlotMoveOffset     = 65
	SlotLinkSpeed      = 70
	SlotLineTerminator = 80
)

// ValidModuleNames contains the module names this package sends
var ValidModuleNames = []string{
	ModuleDebug,
	ModuleGenericFilter,
	ModuleRandomDrop,
	ModuleRandomDropWithBurst,
	ModuleRandomPacketCorrupt,
	ModuleRandomDelay,
	ModuleStepDelay,
	ModuleFragmentMTU,
	ModuleSymmetricRouting,
	ModuleGenericRouting,
	ModuleIPv4Routing,
	ModulePacketMove,
	ModuleRandomMoveOffset,
	ModuleLinkSpeed,
	ModuleLineTerminator,
	PortModuleVLAN,
	PortModuleIPv4,
}

// ValidateModuleName checks if the module name is known
//
// Example:
//
//	if err := ine.ValidateModuleName("Default:Random_Delay"); err != nil {
//	    log.Fatal(err)
//	}
func ValidateModuleName(name string) error {
	for _, valid := range ValidModuleNames {
		if name == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid module name: %q", name)
}

// Param is a single key/value pair of a module
type Param struct {
	Key   string
	Value string
}

// Module is one processing or port module: a name, a chain slot and ordered
// key/value parameters.
type Module struct {
	Name   string
	Slot   int
	Params []Param
}

// NewModule creates a module from alternating key/value arguments
//
// Example:
//
//	m := ine.NewModule(ine.ModuleRandomDrop, ine.SlotDrop, "Loss_Percent", "2.5")
func NewModule(name string, slot int, kv ...string) Module {
	m := Module{Name: name, Slot: slot}
	for i := 0; i+1 < len(kv); i += 2 {
		m.Params = append(m.Params, Param{Key: kv[i], Value: kv[i+1]})
	}
	return m
}

// With returns a copy of the module with an extra parameter
func (m Module) With(key, value string) Module {
	params := make([]Param, len(m.Params), len(m.Params)+1)
	copy(params, m.Params)
	m.Params = append(params, Param{Key: key, Value: value})
	return m
}

// Param returns the first value for key
func (m Module) Param(key string) (string, bool) {
	for _, p := range m.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// String encodes the module in its terminated wire form `name;slot;k;v;`
func (m Module) String() string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte(';')
	b.WriteString(strconv.Itoa(m.Slot))
	b.WriteByte(';')
	for _, p := range m.Params {
		b.WriteString(p.Key)
		b.WriteByte(';')
		b.WriteString(p.Value)
		b.WriteByte(';')
	}
	return b.String()
}

// portString encodes a port module: the slot position carries the interface
// name and the encoding has no trailing ';'.
func (m Module) portString(iface string) string {
	var b strings.Builder
	b.WriteString(m.Name)
	b.WriteByte(';')
	b.WriteString(iface)
	for _, p := range m.Params {
		b.WriteByte(';')
		b.WriteString(p.Key)
		b.WriteByte(';')
		b.WriteString(p.Value)
	}
	return b.String()
}

// validate rejects characters that would break the wire encoding
func (m Module) validate() error {
	if err := ValidateModuleName(m.Name); err != nil {
		return err
	}
	for _, p := range m.Params {
		if p.Key == "" {
			return fmt.Errorf("module %s: empty parameter key", m.Name)
		}
		for _, s := range []string{p.Key, p.Value} {
			if strings.ContainsAny(s, ";\"\r\n") {
				return fmt.Errorf("module %s: parameter %q contains a reserved character", m.Name, s)
			}
		}
	}
	return nil
}

// ParseModule decodes a terminated module string as returned in VI settings
//
// A parameter key without a value is kept with an empty value.
func ParseModule(s string) (Module, error) {
	parts := strings.Split(s, ";")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) < 2 {
		return Module{}, fmt.Errorf("malformed module %q", s)
	}
	slot, err := strconv.Atoi(parts[1])
	if err != nil {
		return Module{}, fmt.Errorf("malformed module %q: non-numeric slot %q", s, parts[1])
	}

	m := Module{Name: parts[0], Slot: slot}
	for i := 2; i < len(parts); i += 2 {
		p := Param{Key: parts[i]}
		if i+1 < len(parts) {
			p.Value = parts[i+1]
		}
		m.Params = append(m.Params, p)
	}
	return m, nil
}

// Routes extracts the indexed Routes[i] table of a routing module
//
// Entries without a network address and mask, such as the single
// Routes[0] entry of symmetric routing, are skipped.
func (m Module) Routes() ([]Route, error) {
	type entry struct {
		address, mask, out string
	}
	entries := map[int]*entry{}
	for _, p := range m.Params {
		if !strings.HasPrefix(p.Key, "Routes[") {
			continue
		}
		idxStr, field, ok := strings.Cut(strings.TrimPrefix(p.Key, "Routes["), "].")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, fmt.Errorf("malformed route key %q", p.Key)
		}
		e := entries[idx]
		if e == nil {
			e = &entry{}
			entries[idx] = e
		}
		switch field {
		case "Network_Address":
			e.address = p.Value
		case "Network_Mask":
			e.mask = p.Value
		case "Port_Out":
			e.out = p.Value
		}
	}

	indexes := make([]int, 0, len(entries))
	for idx := range entries {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var routes []Route
	for _, idx := range indexes {
		e := entries[idx]
		if e.address == "" || e.mask == "" {
			continue
		}
		addr, err := netip.ParseAddr(e.address)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", idx, err)
		}
		bits, err := maskBits(e.mask)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", idx, err)
		}
		routes = append(routes, Route{Network: netip.PrefixFrom(addr, bits).Masked(), OutputPort: e.out})
	}
	return routes, nil
}

// formatDecimal renders a value the way the appliance stores decimals:
// shortest representation, always with a fractional part ("5.0", "5.1").
func formatDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
