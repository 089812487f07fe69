// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"strings"

	"github.com/netascode/go-ine"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/errgroup"
)

// maxParallel bounds the VIs handled at once; the client serializes the
// wire anyway, so this only limits queued goroutines
const maxParallel = 4

func (a *app) impairmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "impairments",
		Aliases: []string{"imp"},
		Short:   "Read and shape latency, loss and errors of VIs",
	}

	get := &cobra.Command{
		Use:   "get <vi-id>...",
		Short: "Show the round-trip impairments of VIs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs("vi", args)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				docs, err := forEachVI(ctx, ids, func(ctx context.Context, id int) (string, error) {
					imp, err := client.GetImpairments(ctx, id)
					if err != nil {
						return "", err
					}
					doc, _ := sjson.Set(`{}`, "id", id)
					doc, _ = sjson.SetRaw(doc, "impairments", imp.JSON())
					return doc, nil
				})
				if err != nil {
					return err
				}
				return a.printList(docs)
			})
		},
	}

	var latency, loss, errorRate float64
	set := &cobra.Command{
		Use:   "set <vi-id>",
		Short: "Apply round-trip impairments to a VI",
		Long: `Applies the given impairments in the order latency, loss, errors.

Values are round-trip: latency in milliseconds, loss and errors in percent.
Only the flags given are changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("vi", args[0])
			if err != nil {
				return err
			}
			var u ine.ImpairmentUpdate
			if cmd.Flags().Changed("latency") {
				u.Latency = ine.Float(latency)
			}
			if cmd.Flags().Changed("loss") {
				u.Loss = ine.Float(loss)
			}
			if cmd.Flags().Changed("errors") {
				u.Errors = ine.Float(errorRate)
			}
			if err := u.Validate(); err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				results, err := client.SetImpairments(ctx, id, u)
				if err != nil {
					return err
				}
				return a.print(applyJSON(id, results))
			})
		},
	}
	set.Flags().Float64Var(&latency, "latency", 0, "round-trip latency in milliseconds")
	set.Flags().Float64Var(&loss, "loss", 0, "round-trip loss in percent")
	set.Flags().Float64Var(&errorRate, "errors", 0, "round-trip error rate in percent")

	reset := &cobra.Command{
		Use:   "reset <vi-id>...",
		Short: "Clear all impairments of VIs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs("vi", args)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, client *ine.Client) error {
				docs, err := forEachVI(ctx, ids, func(ctx context.Context, id int) (string, error) {
					results, err := client.ResetImpairments(ctx, id)
					if err != nil {
						return "", err
					}
					return applyJSON(id, results), nil
				})
				if err != nil {
					return err
				}
				return a.printList(docs)
			})
		},
	}

	cmd.AddCommand(get, set, reset)
	return cmd
}

// forEachVI runs fn for every id concurrently and returns the documents in
// argument order; the first error cancels the rest
func forEachVI(ctx context.Context, ids []int, fn func(context.Context, int) (string, error)) ([]string, error) {
	docs := make([]string, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for i, id := range ids {
		g.Go(func() error {
			doc, err := fn(ctx, id)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// applyJSON renders the apply results of one VI
func applyJSON(id int, results []ine.ApplyRes) string {
	raw := make([]string, 0, len(results))
	for _, r := range results {
		raw = append(raw, r.JSON())
	}
	doc, _ := sjson.Set(`{}`, "id", id)
	doc, _ = sjson.SetRaw(doc, "results", "["+strings.Join(raw, ",")+"]")
	return doc
}
