package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/blobspace/pkg/config"
	"github.com/marmos91/blobspace/pkg/space"
)

var (
	statsSpace  string
	statsTenant string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show directory and blob counts per space",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, nil, func(ctx context.Context, rt *config.Runtime) error {
			spaces := rt.Storage.Spaces()
			if statsSpace != "" {
				sp, err := rt.Storage.Space(statsSpace)
				if err != nil {
					return err
				}
				spaces = []*space.Space{sp}
			}

			for _, sp := range spaces {
				stats, err := sp.Statistics(ctx, statsTenant)
				if err != nil {
					return err
				}
				fmt.Printf("Space %s:\n", sp.Name())
				fmt.Printf("  Directories:      %d\n", stats.Directories)
				fmt.Printf("  Blobs:            %d (%d bytes)\n", stats.Blobs, stats.BlobBytes)
				fmt.Printf("  Referenced blobs: %d (%d bytes)\n", stats.ReferencedBlobs, stats.ReferencedBytes)
			}
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsSpace, "space", "", "Only show this space")
	statsCmd.Flags().StringVar(&statsTenant, "tenant", "", "Only count the tree of this tenant")
}
