package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "segfetch",
		Short:   "Segmented HTTP download accelerator",
		Long:    "segfetch splits downloads into parallel ranged segments, queues them by priority and resumes them across restarts.",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (YAML)")

	rootCmd.AddCommand(newServeCmd(&configPath))
	rootCmd.AddCommand(newGetCmd(&configPath))
	rootCmd.AddCommand(newRelayCmd(&configPath))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("segfetch", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
