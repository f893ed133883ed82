package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <student-id> <image>...",
	Short: "Enroll a student from reference images",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID := args[0]

		payloads, err := readImageFiles(args[1:], false)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		profile, err := a.profiles.Enroll(cmd.Context(), studentID, payloads)
		if err != nil {
			return fmt.Errorf("enrollment failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Enrolled %s from %d images (%d embeddings)\n", studentID, len(payloads), profile.Samples)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
}
