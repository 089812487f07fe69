// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package ine provides a client for network emulation appliances that are
// driven over a line-oriented, session-authenticated text protocol, plus a
// topology builder that lays out a complete product emulation.
//
// The client handles connection management, session login and renewal,
// reply decoding, retries of known server races, and thread-safe use of the
// single appliance connection.
//
// # Quick Start
//
// Create a client and list the loaded emulations:
//
//	client, err := ine.NewClient(
//	    "10.1.1.10",
//	    ine.Port(9000),
//	    ine.Username("admin"),
//	    ine.Password("secret"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	emulations, err := client.ListEmulations(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The connection is opened and the session established lazily on the first
// command. Connect and Login can be called to do this eagerly.
//
// # Building Emulations
//
// CreateEmulation plans and builds a product topology: Internet and MPLS
// edge objects, an Outer aggregation object, a Firewall, directional links
// between them and one gateway object per device WAN attachment.
//
//	res, err := client.CreateEmulation(ctx,
//	    ine.Product{Name: "Acme", GatewayAddress: "10.0.0.1", VLAN: "100"},
//	    []ine.Device{{Name: "dev1", WAN1: &ine.WAN{Address: "10.0.1.1", Mask: 24, VLAN: "200"}}},
//	    false)
//
// PlanTopology computes the same layout without any I/O.
//
// # Impairments
//
// Latency, loss and corruption are expressed in round-trip units; the
// appliance stores one-way values that are exactly half:
//
//	_, err = client.SetImpairments(ctx, viID, ine.ImpairmentUpdate{
//	    Latency: ine.Float(40),
//	    Loss:    ine.Float(1.5),
//	})
//
// # Raw Commands
//
// Use the Command builder for anything not covered by a typed operation:
//
//	cmd := ine.NewCommand().Scope("--emulationId", 5).Flag("--getVIsForEmulation")
//	reply, err := client.Exec(ctx, cmd, ine.FullReply())
//
// # Error Handling
//
// Every error returned by the client is an *IneError that unwraps to one of
// the Err* kinds, so errors.Is can classify it. FailureFromError converts an
// error into a message and status hint for an outward-facing layer.
//
// # Thread Safety
//
// The protocol has no pipelining, so each command holds the connection for
// one send and receive. A Client is safe for concurrent use.
package ine
