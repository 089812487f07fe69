// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// Client configuration options using the functional options pattern

// Username sets the username for the appliance login
func Username(username string) func(*Client) {
	return func(c *Client) {
		c.username = username
	}
}

// Password sets the password for the appliance login
func Password(password string) func(*Client) {
	return func(c *Client) {
		c.password = password
	}
}

// Port sets the appliance command port
//
// The port can also be given as part of the target ("10.1.1.10:9000").
func Port(port int) func(*Client) {
	return func(c *Client) {
		c.Port = port
	}
}

// ConnectTimeout sets the connection timeout (default: 10s)
func ConnectTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.ConnectTimeout = duration
	}
}

// OperationTimeout sets the per-command timeout (default: 30s)
//
// Every send and receive carries a deadline of the earlier of the context
// deadline and now plus this timeout.
func OperationTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.OperationTimeout = duration
	}
}

// IdleTimeout sets how long a full reply may stay silent after a newline
// before it is considered complete (default: 100ms)
//
// A reply that pauses for longer than this after a line break is truncated.
func IdleTimeout(duration time.Duration) func(*Client) {
	return func(c *Client) {
		c.IdleTimeout = duration
	}
}

// ReadBufferSize sets the size of a single read (default: 64KiB)
func ReadBufferSize(size int) func(*Client) {
	return func(c *Client) {
		c.ReadBufferSize = size
	}
}

// MaxSessionRenewals sets how many consecutive times an expired session is
// renewed for a single command before giving up (default: 3)
func MaxSessionRenewals(renewals int) func(*Client) {
	return func(c *Client) {
		c.MaxSessionRenewals = renewals
	}
}

// CommandInterval paces commands so that at most one is sent per interval
//
// Some appliance firmware drops commands that arrive in bursts. Disabled by
// default.
func CommandInterval(interval time.Duration) func(*Client) {
	return func(c *Client) {
		if interval > 0 {
			c.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// SOCKS5Proxy dials the appliance through a SOCKS5 proxy
//
// Lab appliances are often only reachable through a jump host. Username and
// password may be empty.
//
// Example:
//
//	client, _ := ine.NewClient("10.1.1.10",
//	    ine.Port(9000),
//	    ine.SOCKS5Proxy("127.0.0.1:1080", "", ""))
func SOCKS5Proxy(address, username, password string) func(*Client) {
	return func(c *Client) {
		c.proxyAddress = address
		c.proxyAuth = nil
		if username != "" || password != "" {
			c.proxyAuth = &proxy.Auth{User: username, Password: password}
		}
	}
}

// WithLayout sets the canvas layout used by CreateEmulation (default: DefaultLayout)
func WithLayout(layout Layout) func(*Client) {
	return func(c *Client) {
		c.Layout = layout
	}
}

// RetryRules replaces the retry table used for known server races
// (default: TransientErrors)
//
// Example (no backoff in tests):
//
//	rules := make([]ine.RetryRule, len(ine.TransientErrors))
//	for i, r := range ine.TransientErrors {
//	    r.Delay = 0
//	    rules[i] = r
//	}
//	client, _ := ine.NewClient(addr, ine.RetryRules(rules...))
func RetryRules(rules ...RetryRule) func(*Client) {
	return func(c *Client) {
		c.retryRules = append([]RetryRule(nil), rules...)
	}
}

// WithLogger configures a custom logger for the client
//
// By default, the client uses NoOpLogger which discards all log messages.
// Use this option to enable logging with DefaultLogger or a custom logger.
//
// Commands and replies logged at Debug level have credentials and session
// tokens redacted.
//
// Example (DefaultLogger):
//
//	logger := ine.NewDefaultLogger(ine.LogLevelInfo)
//	client, _ := ine.NewClient("10.1.1.10",
//	    ine.Username("admin"),
//	    ine.Password("secret"),
//	    ine.WithLogger(logger))
func WithLogger(logger Logger) func(*Client) {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Request modifiers for individual commands

// Timeout returns a request modifier that sets a custom timeout for the command.
//
// The timeout priority model is:
//  1. Request-specific timeout (this modifier) - highest priority
//  2. Context deadline (if earlier than the client default)
//  3. Client.OperationTimeout - fallback default
//
// Example:
//
//	reply, err := client.Send(ctx, "--getAllPorts",
//	    ine.FullReply(),
//	    ine.Timeout(2*time.Minute))
func Timeout(duration time.Duration) func(*Req) {
	return func(req *Req) {
		req.Timeout = duration
	}
}

// FullReply returns a request modifier that reads a reply spanning several
// packets. Use it for list and settings queries.
func FullReply() func(*Req) {
	return func(req *Req) {
		req.FullReply = true
	}
}

// NoSession returns a request modifier that omits the session prefix
func NoSession() func(*Req) {
	return func(req *Req) {
		req.NoSession = true
	}
}
