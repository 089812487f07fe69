// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"

	"github.com/netascode/go-ine"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

func (a *app) emulationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "emulations",
		Aliases: []string{"emulation", "em"},
		Short:   "List, inspect, stop and build emulations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List loaded emulations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				emulations, err := client.ListEmulations(ctx)
				if err != nil {
					return err
				}
				docs := make([]string, 0, len(emulations))
				for _, e := range emulations {
					docs = append(docs, e.JSON())
				}
				return a.printList(docs)
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <emulation-id>",
		Short: "Show one emulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("emulation", args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				e, err := client.GetEmulation(ctx, id)
				if err != nil {
					return err
				}
				return a.print(e.JSON())
			})
		},
	}

	stop := &cobra.Command{
		Use:   "stop <emulation-id>",
		Short: "Stop a running emulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("emulation", args[0])
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				if err := client.StopEmulation(ctx, id); err != nil {
					return err
				}
				doc, _ := sjson.Set(`{"stopped":true}`, "id", id)
				return a.print(doc)
			})
		},
	}

	var (
		file      string
		overwrite bool
		dryRun    bool
	)
	create := &cobra.Command{
		Use:   "create -f <topology.yaml>",
		Short: "Build and start a product emulation from a topology file",
		Long: `Builds the product emulation described by a YAML topology file and starts it.

Missing physical ports are provisioned. A running emulation with the product
name is an error unless --overwrite is given, in which case it is stopped
first. With --dry-run the planned VIs are printed and nothing is sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := readTopology(file)
			if err != nil {
				return err
			}
			layout := topo.layout()

			if dryRun {
				plan, err := ine.PlanTopology(topo.Product, topo.Devices, layout)
				if err != nil {
					return err
				}
				return a.print(planJSON(plan))
			}

			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				a.logger.Info("building emulation",
					zap.String("product", topo.Product.Name),
					zap.Int("devices", len(topo.Devices)),
					zap.Bool("overwrite", overwrite))
				res, err := client.CreateEmulation(ctx, topo.Product, topo.Devices, overwrite)
				if err != nil {
					return err
				}
				return a.print(res.JSON())
			}, ine.WithLayout(layout))
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "", "topology file (YAML)")
	create.Flags().BoolVar(&overwrite, "overwrite", false, "stop a running emulation with the same name")
	create.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned VIs without contacting the appliance")
	_ = create.MarkFlagRequired("file")

	cmd.AddCommand(list, get, stop, create)
	return cmd
}
