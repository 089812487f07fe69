// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"testing"

	"github.com/netascode/go-ine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const acmeTopology = `
product:
  name: Acme
  gateway: 10.0.0.1
  vlan: "100"
devices:
  - name: dev1
    wan1: {address: 10.0.1.1, mask: 24, vlan: "200"}
  - name: dev2
    wan2: {address: 10.0.2.1, mask: 24, vlan: "300"}
`

func TestReadTopology(t *testing.T) {
	topo, err := readTopology(writeFile(t, "acme.yaml", acmeTopology))
	require.NoError(t, err)

	assert.Equal(t, ine.Product{Name: "Acme", GatewayAddress: "10.0.0.1", VLAN: "100"}, topo.Product)
	require.Len(t, topo.Devices, 2)
	assert.Equal(t, "dev1", topo.Devices[0].Name)
	require.NotNil(t, topo.Devices[0].WAN1)
	assert.Equal(t, ine.WAN{Address: "10.0.1.1", Mask: 24, VLAN: "200"}, *topo.Devices[0].WAN1)
	assert.Nil(t, topo.Devices[0].WAN2)
	require.NotNil(t, topo.Devices[1].WAN2)
	assert.Equal(t, ine.DefaultLayout, topo.layout())
}

func TestReadTopologyUnknownKey(t *testing.T) {
	_, err := readTopology(writeFile(t, "bad.yaml", "product:\n  name: Acme\n  gw: 10.0.0.1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field gw not found")
}

func TestReadTopologyMissing(t *testing.T) {
	_, err := readTopology("/nonexistent/acme.yaml")
	assert.ErrorContains(t, err, "failed to read topology")
}

func TestTopologyLayout(t *testing.T) {
	topo, err := readTopology(writeFile(t, "acme.yaml", acmeTopology+"layout:\n  object_size: 40\n"))
	require.NoError(t, err)

	want := ine.DefaultLayout
	want.ObjectSize = 40
	assert.Equal(t, want, topo.layout())
}

func TestPlanJSON(t *testing.T) {
	topo, err := readTopology(writeFile(t, "acme.yaml", acmeTopology))
	require.NoError(t, err)
	plan, err := ine.PlanTopology(topo.Product, topo.Devices, topo.layout())
	require.NoError(t, err)

	doc := planJSON(plan)
	assert.Equal(t, "Acme", gjson.Get(doc, "product").String())
	vis := gjson.Get(doc, "vis").Array()
	require.Len(t, vis, len(plan.All()))

	firewall := gjson.Get(doc, `vis.#(name=="Firewall")`)
	require.True(t, firewall.Exists())
	assert.Equal(t, "10.0.0.2", firewall.Get("address").String())
	assert.Equal(t, "100", firewall.Get("vlan").String())
	assert.Equal(t, "[910,920,80,80]", firewall.Get("geometry").Raw)

	mpls := gjson.Get(doc, `vis.#(name=="MPLS")`)
	assert.False(t, mpls.Get("address").Exists())
	assert.True(t, mpls.Get("routes").IsArray())
}

func TestEmulationsCreateDryRun(t *testing.T) {
	path := writeFile(t, "acme.yaml", acmeTopology)

	code, stdout, stderr := execute(t, "emulations", "create", "-f", path, "--dry-run")
	require.Equal(t, 0, code, stderr)

	names := gjson.Get(stdout, "vis.#.name").Array()
	require.NotEmpty(t, names)
	assert.Equal(t, "Firewall", names[len(names)-1].String())
	assert.Equal(t, "Internet", gjson.Get(stdout, `vis.#(name=="dev1-GW0").parent`).String())
	assert.Equal(t, "MPLS", gjson.Get(stdout, `vis.#(name=="dev2-GW1").parent`).String())
}

func TestEmulationsCreateDryRunInvalid(t *testing.T) {
	path := writeFile(t, "acme.yaml", "product:\n  name: Acme\n  gateway: nope\n  vlan: \"100\"\n")

	code, stdout, stderr := execute(t, "emulations", "create", "-f", path, "--dry-run")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Equal(t, int64(400), gjson.Get(stderr, "status").Int())
}
