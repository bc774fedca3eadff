package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/blobspace/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.GetDefaultConfigPath()
		}

		if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
}
