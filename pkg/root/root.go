package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "queuehost",
	Short:        "Queue worker host",
	Long:         `Runs queue workers for Laravel-compatible jobs and the task scheduler.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetRoot returns the root command so packages can attach subcommands
func GetRoot() *cobra.Command {
	return rootCmd
}

// SetInfo overrides the name and descriptions shown in help output
func SetInfo(use, short, long string) {
	rootCmd.Use = use
	rootCmd.Short = short
	rootCmd.Long = long
}
