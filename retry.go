// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"context"
	"fmt"
	"time"
)

// Operations with a retry rule
const (
	OpDeletePort = "delete-port"
	OpAmendVI    = "amend-vi"
)

// RetryRule describes a known transient appliance error
//
// Pattern is the exact error reply with the object identifiers substituted
// through fmt indexed verbs, so only the race it describes is retried and
// unrelated errors surface immediately.
type RetryRule struct {
	// Operation the rule applies to (OpDeletePort, OpAmendVI)
	Operation string

	// Pattern is the full reply text, formatted with the object identifiers
	Pattern string

	// Delay between attempts
	Delay time.Duration

	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int
}

// TransientErrors lists appliance races that clear up on their own
//
// A port stays "in use" for a moment after the emulation using it is
// stopped, and an input port stays open for a moment after a previous
// object released it.
var TransientErrors = []RetryRule{
	{
		Operation:   OpDeletePort,
		Pattern:     `--error "Port id [%[1]v] is in use in an emulation and so cannot be deleted"`,
		Delay:       2 * time.Second,
		MaxAttempts: 3,
	},
	{
		Operation:   OpAmendVI,
		Pattern:     `--error "[%[1]v - Default:Symmetric_Routing]: Object %[1]v: Cannot Open a connection to Input port (%[2]v) - likely it's already in use"`,
		Delay:       1 * time.Second,
		MaxAttempts: 3,
	},
}

// Matches reports whether the reply is exactly this rule's error for the
// given identifiers
func (r RetryRule) Matches(reply Reply, idents ...any) bool {
	return reply.Raw == fmt.Sprintf(r.Pattern, idents...)
}

func (r RetryRule) validate() error {
	if r.Operation == "" {
		return fmt.Errorf("retry rule operation cannot be empty")
	}
	if r.Pattern == "" {
		return fmt.Errorf("retry rule %s: pattern cannot be empty", r.Operation)
	}
	if r.Delay < 0 {
		return fmt.Errorf("retry rule %s: delay must be non-negative, got: %v", r.Operation, r.Delay)
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry rule %s: max attempts must be at least 1, got: %d", r.Operation, r.MaxAttempts)
	}
	return nil
}

// retryRule returns the rule configured for an operation
func (c *Client) retryRule(op string) (RetryRule, bool) {
	for _, r := range c.retryRules {
		if r.Operation == op {
			return r, true
		}
	}
	return RetryRule{}, false
}

// execWithRetry sends cmd and repeats it while the reply matches the
// operation's retry rule. It returns the last reply and the number of
// repeated attempts; the caller decides what a still-matching reply means.
func (c *Client) execWithRetry(ctx context.Context, op string, cmd Command, idents []any, mods ...func(*Req)) (Reply, int, error) {
	reply, err := c.Exec(ctx, cmd, mods...)
	if err != nil {
		return reply, 0, err
	}

	rule, ok := c.retryRule(op)
	if !ok {
		return reply, 0, nil
	}

	retries := 0
	for attempt := 1; attempt < rule.MaxAttempts && rule.Matches(reply, idents...); attempt++ {
		c.logger.Warn(ctx, "transient appliance error, retrying",
			"operation", op,
			"attempt", attempt,
			"delay_ms", rule.Delay.Milliseconds(),
			"reply", reply.Raw)

		if err := sleep(ctx, rule.Delay); err != nil {
			return reply, retries, err
		}

		reply, err = c.Exec(ctx, cmd, mods...)
		retries++
		if err != nil {
			return reply, retries, err
		}
	}
	return reply, retries, nil
}

// stillTransient reports whether a reply returned by execWithRetry is the
// retried error after the attempts ran out
func (c *Client) stillTransient(op string, reply Reply, idents ...any) bool {
	rule, ok := c.retryRule(op)
	return ok && rule.Matches(reply, idents...)
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return checkContextCancellation(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
