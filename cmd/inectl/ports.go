// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"

	"github.com/netascode/go-ine"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
)

func (a *app) portsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ports",
		Aliases: []string{"port"},
		Short:   "Manage physical, VLAN and IPv4 ports",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				ports, err := client.ListPorts(ctx)
				if err != nil {
					return err
				}
				docs := make([]string, 0, len(ports))
				for _, p := range ports {
					docs = append(docs, p.JSON())
				}
				return a.printList(docs)
			})
		},
	}

	var parent bool
	get := &cobra.Command{
		Use:   "get <port-id>",
		Short: "Show one port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("port", args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				p, err := client.GetPort(ctx, id, parent)
				if err != nil {
					return err
				}
				return a.print(p.JSON())
			})
		},
	}
	get.Flags().BoolVar(&parent, "parent", false, "resolve the parent port")

	var spec ine.PortSpec
	create := &cobra.Command{
		Use:   "create",
		Short: "Provision a VLAN port with a routed IPv4 port",
		Long: `Provisions a VLAN port on a physical interface and an IPv4 port on it.

An existing IPv4 port with the same address is kept when its parent VLAN
matches and replaced otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				created, err := client.CreatePort(ctx, spec)
				if err != nil {
					return err
				}
				doc, _ := sjson.Set(`{}`, "address", spec.Address)
				doc, _ = sjson.Set(doc, "created", created)
				return a.print(doc)
			})
		},
	}
	create.Flags().IntVar(&spec.WAN, "wan", 1, "WAN interface (1 or 2)")
	create.Flags().StringVar(&spec.VLAN, "vlan", "", "VLAN id")
	create.Flags().StringVar(&spec.Address, "address", "", "IPv4 address of the port")
	create.Flags().StringVar(&spec.Mask, "mask", ine.DefaultPortMask, "dotted netmask")
	create.Flags().StringVar(&spec.Gateway, "gateway", "", "gateway address")
	_ = create.MarkFlagRequired("vlan")
	_ = create.MarkFlagRequired("address")

	del := &cobra.Command{
		Use:   "delete <port-id>",
		Short: "Delete a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("port", args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				if err := client.DeletePort(ctx, id); err != nil {
					return err
				}
				doc, _ := sjson.Set(`{"deleted":true}`, "id", id)
				return a.print(doc)
			})
		},
	}

	delAddr := &cobra.Command{
		Use:   "delete-by-address <address>",
		Short: "Delete an IPv4 port and its VLAN parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				if err := client.DeletePortByAddress(ctx, args[0]); err != nil {
					return err
				}
				doc, _ := sjson.Set(`{"deleted":true}`, "address", args[0])
				return a.print(doc)
			})
		},
	}

	cmd.AddCommand(list, get, create, del, delAddr)
	return cmd
}
