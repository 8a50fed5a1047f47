// Medusa-onboard is the provisioning utility for MeDUSA tremor sensors.
//
// It discovers nearby sensors over Bluetooth Low Energy, pairs with them
// using the PIN shown on the sensor's display, and delivers Wi-Fi
// credentials so a headless sensor can join the clinic network.
//
// Usage:
//
//	medusa-onboard [command] [flags]
//
// See 'medusa-onboard --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/EM0V0/MeDUSA-sub002/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medusa-onboard",
	Short: "MeDUSA Sensor Onboarding Utility",
	Long: `A utility for onboarding MeDUSA tremor sensors over Bluetooth LE.

Provides sensor discovery, authenticated pairing, and Wi-Fi credential
provisioning for headless sensors out of the box.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("medusa-onboard %s\n", version.Full())
	},
}
