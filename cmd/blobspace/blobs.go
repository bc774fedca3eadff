package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/blobspace/pkg/config"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

var (
	blobSpace  string
	blobTenant string
)

var putCmd = &cobra.Command{
	Use:   "put <path> <file>",
	Short: "Store a local file under path, creating missing directories",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}

		return withSpace(cmd, func(ctx context.Context, sp *space.Space) error {
			blob, err := sp.FindOrCreateBlobByPath(ctx, blobTenant, args[0])
			if err != nil {
				return err
			}
			if _, err := sp.UpdateContent(ctx, blob, "", f, info.Size()); err != nil {
				return err
			}
			fmt.Printf("%s %s (%d bytes)\n", blob.BlobKey, args[0], info.Size())
			return nil
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Write the content of a blob to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSpace(cmd, func(ctx context.Context, sp *space.Space) error {
			blob, err := sp.FindByPath(ctx, blobTenant, args[0])
			if err != nil {
				return err
			}
			if blob == nil {
				return fmt.Errorf("%s: no such blob", args[0])
			}

			rc, err := sp.OpenContent(ctx, blob)
			if err != nil {
				return err
			}
			defer rc.Close()

			_, err = io.Copy(os.Stdout, rc)
			return err
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List the directories and blobs of a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirPath := ""
		if len(args) == 1 {
			dirPath = args[0]
		}

		return withSpace(cmd, func(ctx context.Context, sp *space.Space) error {
			dir, err := findDirectory(ctx, sp, dirPath)
			if err != nil {
				return err
			}
			if dir == nil {
				return fmt.Errorf("%s: no such directory", dirPath)
			}

			dirs, err := sp.ListChildDirectories(ctx, dir, space.ListOptions{})
			if err != nil {
				return err
			}
			blobs, err := sp.ListChildBlobs(ctx, dir, space.ListOptions{})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, d := range dirs {
				fmt.Fprintf(w, "d\t-\t%s\t%s/\n", d.CreatedAt.Format(time.RFC3339), d.Name)
			}
			for _, b := range blobs {
				fmt.Fprintf(w, "-\t%d\t%s\t%s\n", b.Size, b.LastModified.Format(time.RFC3339), b.Filename)
			}
			return w.Flush()
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{putCmd, catCmd, lsCmd} {
		cmd.Flags().StringVar(&blobSpace, "space", "default", "Storage space")
		cmd.Flags().StringVar(&blobTenant, "tenant", "", "Tenant owning the directory tree")
	}
}

func withSpace(cmd *cobra.Command, fn func(ctx context.Context, sp *space.Space) error) error {
	return withRuntime(cmd, nil, func(ctx context.Context, rt *config.Runtime) error {
		sp, err := rt.Storage.Space(blobSpace)
		if err != nil {
			return err
		}
		return fn(ctx, sp)
	})
}

// findDirectory resolves "a/b" below the root of the tenant without
// creating anything.
func findDirectory(ctx context.Context, sp *space.Space, dirPath string) (*metadata.Directory, error) {
	dir, err := sp.FindRoot(ctx, blobTenant)
	if err != nil || dir == nil {
		return nil, err
	}
	for _, segment := range strings.Split(strings.Trim(dirPath, "/"), "/") {
		if segment == "" {
			continue
		}
		dir, err = sp.FindChildDirectory(ctx, dir, segment)
		if err != nil || dir == nil {
			return nil, err
		}
	}
	return dir, nil
}
