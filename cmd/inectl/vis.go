// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"

	"github.com/netascode/go-ine"
	"github.com/spf13/cobra"
)

func (a *app) visCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "vis",
		Aliases: []string{"vi"},
		Short:   "Inspect virtual interfaces",
	}

	var names []string
	list := &cobra.Command{
		Use:   "list [emulation-id]",
		Short: "List the VIs of one emulation, or of all emulations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
					all, err := client.ListAllVIs(ctx)
					if err != nil {
						return err
					}
					docs := make([]string, 0, len(all))
					for _, e := range all {
						docs = append(docs, e.JSON())
					}
					return a.printList(docs)
				})
			}

			id, err := parseID("emulation", args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				var (
					vis []ine.VI
					err error
				)
				if len(names) > 0 {
					vis, err = client.NamedVIs(ctx, id, names...)
				} else {
					vis, err = client.ListVIs(ctx, id)
				}
				if err != nil {
					return err
				}
				docs := make([]string, 0, len(vis))
				for _, vi := range vis {
					docs = append(docs, vi.JSON())
				}
				return a.printList(docs)
			})
		},
	}
	list.Flags().StringSliceVar(&names, "names", nil, "only VIs with these names")

	get := &cobra.Command{
		Use:   "get <vi-id>",
		Short: "Show one VI with its modules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("vi", args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				vi, err := client.GetVI(ctx, id)
				if err != nil {
					return err
				}
				return a.print(vi.JSON())
			})
		},
	}

	var opts ine.RouterOptions
	routers := &cobra.Command{
		Use:   "routers <emulation-id>",
		Short: "Show the Internet and MPLS objects with their impairments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("emulation", args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				rs, err := client.RouterVIs(ctx, id, opts)
				if err != nil {
					return err
				}
				docs := make([]string, 0, len(rs))
				for _, r := range rs {
					docs = append(docs, r.JSON())
				}
				return a.printList(docs)
			})
		},
	}
	routers.Flags().BoolVar(&opts.Firewall, "firewall", false, "include the Firewall object")
	routers.Flags().BoolVar(&opts.Reset, "reset", false, "clear all impairments first")

	cmd.AddCommand(list, get, routers)
	return cmd
}
