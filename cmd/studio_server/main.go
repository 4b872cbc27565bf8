// Package main provides the entry point for the Invitation Studio HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "studio_server",
	Short: "Invitation Studio HTTP API Server",
	Long:  "Invitation Studio generates chained wedding invitation card pages, card copy, and async 3D/video keepsakes from a couple's photos via REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
