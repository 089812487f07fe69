// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/netascode/go-ine"
	"github.com/spf13/cobra"
)

// withClient loads the configuration, runs fn with a connected client and
// closes it afterwards
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, client *ine.Client) error, extra ...func(*ine.Client)) error {
	cfg, err := loadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	opts := append(cfg.options(newZapLogger(a.logger)), extra...)
	client, err := ine.NewClientFromCredentials(cfg, opts...)
	if err != nil {
		return &ine.IneError{Operation: "configure client", Kind: ine.ErrValidation, Message: err.Error()}
	}
	defer client.Close() //nolint:errcheck // best effort on exit

	return fn(cmd.Context(), client)
}

// print writes one JSON document to stdout
func (a *app) print(doc string) error {
	_, err := fmt.Fprintln(a.out, a.format(doc))
	return err
}

// printList writes JSON documents as one array
func (a *app) printList(docs []string) error {
	return a.print("[" + strings.Join(docs, ",") + "]")
}

// parseID parses a positional id argument
func parseID(what, s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, &ine.IneError{
			Operation: "inectl",
			Kind:      ine.ErrValidation,
			Message:   fmt.Sprintf("invalid %s id %q", what, s),
		}
	}
	return id, nil
}

// parseIDs parses every positional argument as an id
func parseIDs(what string, args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := parseID(what, arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
