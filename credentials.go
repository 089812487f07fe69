// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import "fmt"

// Credentials identifies an appliance and the account used to log in
type Credentials struct {
	Address  string
	Port     int
	Username string
	Password string
}

// CredentialSource supplies appliance credentials, e.g. from a config file
// or secret store
type CredentialSource interface {
	Credentials() (Credentials, error)
}

// NewClientFromCredentials creates a client from a credential source
//
// Options are applied after the credentials and can override them.
//
// Example:
//
//	client, err := ine.NewClientFromCredentials(cfg,
//	    ine.WithLogger(ine.NewDefaultLogger(ine.LogLevelInfo)))
func NewClientFromCredentials(src CredentialSource, opts ...func(*Client)) (*Client, error) {
	if src == nil {
		return nil, fmt.Errorf("credential source cannot be nil")
	}
	creds, err := src.Credentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	all := make([]func(*Client), 0, len(opts)+3)
	all = append(all, Username(creds.Username), Password(creds.Password))
	if creds.Port != 0 {
		all = append(all, Port(creds.Port))
	}
	all = append(all, opts...)

	return NewClient(creds.Address, all...)
}
