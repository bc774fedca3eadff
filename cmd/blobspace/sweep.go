package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/blobspace/pkg/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run every reconciliation loop once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, nil, func(ctx context.Context, rt *config.Runtime) error {
			stats, err := rt.Reconciler.RunOnce(ctx)
			for _, s := range stats {
				if s == nil {
					continue
				}
				fmt.Printf("%-10s %s\n", s.Name, s.Summary())
			}
			return err
		})
	},
}
