package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Current Configuration:")
		fmt.Fprintln(out, "======================")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[Server]")
		fmt.Fprintf(out, "  Address:         %s\n", cfg.Server.Address)
		fmt.Fprintf(out, "  Max Request:     %d MB\n", cfg.Server.MaxRequestMB)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[Recognition]")
		fmt.Fprintf(out, "  Model Path:      %s\n", cfg.Recognition.ModelPath)
		fmt.Fprintf(out, "  Threshold:       %.2f\n", cfg.Recognition.Threshold)
		fmt.Fprintf(out, "  Crop Size:       %d\n", cfg.Recognition.CropSize)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[Verification]")
		fmt.Fprintf(out, "  Workers:         %d\n", cfg.Verification.Workers)
		fmt.Fprintf(out, "  Enroll Images:   %d\n", cfg.Verification.EnrollmentImages)
		fmt.Fprintf(out, "  Cache Profiles:  %t\n", cfg.Verification.CacheProfiles)
		if cfg.Verification.CacheProfiles {
			fmt.Fprintf(out, "  Cache TTL:       %s\n", cfg.Verification.CacheTTL)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[Storage]")
		fmt.Fprintf(out, "  Data Dir:        %s\n", cfg.Storage.DataDir)
		fmt.Fprintf(out, "  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[Ledger]")
		fmt.Fprintf(out, "  Driver:          %s\n", cfg.Ledger.Driver)
		if cfg.Ledger.Driver == "postgres" {
			fmt.Fprintln(out, "  DSN:             (set)")
		} else {
			fmt.Fprintf(out, "  Path:            %s\n", cfg.Ledger.Path)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "[Logging]")
		fmt.Fprintf(out, "  Level:           %s\n", cfg.Logging.Level)
		fmt.Fprintf(out, "  Format:          %s\n", cfg.Logging.Format)
		fmt.Fprintf(out, "  File:            %s\n", cfg.Logging.File)

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "\nWarning: %v\n", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "facecheck v%s\n", version)
		fmt.Fprintln(out, "Face verification for remote exams")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Build Information:")
		fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(configCmd, versionCmd)
}
