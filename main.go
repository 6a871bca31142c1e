package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "chat-sync",
		Short:         "Client-side conversation sync bridge",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./configs/config.yaml)")
	root.AddCommand(newServeCmd(), newInboxCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
