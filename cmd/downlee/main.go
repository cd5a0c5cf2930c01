package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "downlee",
		Short: "Personal download orchestrator",
		Long:  "Downlee ingests media from an authenticated chat channel and from URLs via a site extractor, tracks every download as a job, and serves a token-protected control API with live progress over websocket.",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(userCmd())
	root.AddCommand(purgeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
