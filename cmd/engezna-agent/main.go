// Engezna Agent is the AI ordering assistant behind the Engezna marketplace.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "engezna-agent",
	Short: "Engezna Agent: AI ordering assistant for the Engezna food delivery marketplace.",
	Long: `Engezna Agent serves the conversational ordering assistant for Engezna.
It runs a bounded tool-calling loop against the configured LLM vendor,
dispatching menu search, order placement and account tools on behalf of
customers in Arabic or English.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, chatCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
