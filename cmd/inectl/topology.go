// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/netascode/go-ine"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// topologyFile is the YAML input of "emulations create"
//
// Example:
//
//	product:
//	  name: Acme
//	  gateway: 10.0.0.1
//	  vlan: "100"
//	devices:
//	  - name: dev1
//	    wan1: {address: 10.0.1.1, mask: 24, vlan: "200"}
type topologyFile struct {
	Product ine.Product  `yaml:"product"`
	Devices []ine.Device `yaml:"devices"`
	Layout  *layoutFile  `yaml:"layout,omitempty"`
}

type layoutFile struct {
	ObjectSize      int `yaml:"object_size"`
	CanvasWidth     int `yaml:"canvas_width"`
	CanvasHeight    int `yaml:"canvas_height"`
	GatewayDistance int `yaml:"gateway_distance"`
}

// layout returns the file's layout over the default canvas
func (t topologyFile) layout() ine.Layout {
	l := ine.DefaultLayout
	if t.Layout == nil {
		return l
	}
	if t.Layout.ObjectSize != 0 {
		l.ObjectSize = t.Layout.ObjectSize
	}
	if t.Layout.CanvasWidth != 0 {
		l.CanvasWidth = t.Layout.CanvasWidth
	}
	if t.Layout.CanvasHeight != 0 {
		l.CanvasHeight = t.Layout.CanvasHeight
	}
	if t.Layout.GatewayDistance != 0 {
		l.GatewayDistance = t.Layout.GatewayDistance
	}
	return l
}

// readTopology decodes a topology file, rejecting unknown keys
func readTopology(path string) (topologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return topologyFile{}, fmt.Errorf("failed to read topology: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t topologyFile
	if err := dec.Decode(&t); err != nil {
		return topologyFile{}, fmt.Errorf("failed to decode topology %s: %w", path, err)
	}
	return t, nil
}

// planJSON renders a plan in creation order
func planJSON(plan ine.Plan) string {
	doc := `{"vis":[]}`
	doc, _ = sjson.Set(doc, "product", plan.Product.Name)
	for i, spec := range plan.All() {
		p := "vis." + strconv.Itoa(i)
		doc, _ = sjson.Set(doc, p+".name", spec.Name)
		doc, _ = sjson.Set(doc, p+".kind", spec.Kind.String())
		doc, _ = sjson.Set(doc, p+".parent", spec.Parent)
		doc, _ = sjson.Set(doc, p+".geometry", []int{spec.X, spec.Y, spec.Width, spec.Height})
		doc, _ = sjson.Set(doc, p+".direction", spec.Direction)
		if spec.HasAddress() {
			doc, _ = sjson.Set(doc, p+".address", spec.Address.String())
			doc, _ = sjson.Set(doc, p+".vlan", spec.VLAN)
		}
		routes := make([]string, 0, len(spec.Routes))
		for _, r := range spec.Routes {
			routes = append(routes, r.String())
		}
		doc, _ = sjson.Set(doc, p+".routes", routes)
	}
	return doc
}
