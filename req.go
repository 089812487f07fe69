// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import "time"

// Req represents a command request modifier
//
// This struct is used to apply request-specific options via functional modifiers.
// The command itself is passed directly to Send or Exec.
//
// Example:
//
//	// Read a multi-packet reply with a custom timeout
//	reply, err := client.Send(ctx, "--getAllPorts",
//	    ine.FullReply(),
//	    ine.Timeout(30*time.Second))
type Req struct {
	// Timeout is the request-specific timeout
	// Overrides client default timeout if set
	Timeout time.Duration

	// FullReply reads until the reply is complete instead of a single read
	FullReply bool

	// NoSession sends the command without the session prefix
	NoSession bool
}
