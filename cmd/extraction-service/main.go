// Package main provides the entry point for the Data Extraction Service:
// the HTTP API, the standalone worker and schema migration.
//
//	@title			Data Extraction Service API
//	@version		1.0
//	@description	Asynchronous extraction jobs against a third-party record API.
//	@BasePath		/api/v1
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	devMode    bool
)

var rootCmd = &cobra.Command{
	Use:           "extraction-service",
	Short:         "Data Extraction Service",
	Long:          "Runs asynchronous extraction jobs that pull contacts or users from a third-party API and keep the results for later retrieval.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (env vars override file values)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Development mode: console logs, secrets shown in logs")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
