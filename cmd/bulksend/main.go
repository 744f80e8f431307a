// Command bulksend sends a bulk SMS from a contact file and offers operator utilities.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	region  string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "bulksend",
	Short:         "Bulk SMS compose and dispatch from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&region, "region", "UG", "Default region for local phone numbers")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(hashKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
