package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parrothq/parrot/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:   "parrot",
		Short: "Community chat bot with an auto-respond media pipeline",
	}

	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot daemon",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(configPath)
		},
	}
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.toml")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Version)
		},
	}

	root.AddCommand(serveCmd, versionCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
