package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/storage"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage enrolled students",
}

func openStore() (*storage.ReferenceStore, error) {
	return storage.NewReferenceStore(cfg.ReferenceDir(), cfg.Storage.EncryptionEnabled)
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		students, err := store.List()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(students) == 0 {
			fmt.Fprintln(out, "No students enrolled.")
			return nil
		}
		fmt.Fprintln(out, "Enrolled students:")
		for _, id := range students {
			fmt.Fprintf(out, "  - %s\n", id)
		}
		fmt.Fprintf(out, "\nTotal: %d student(s)\n", len(students))
		return nil
	},
}

var studentsRemoveCmd = &cobra.Command{
	Use:   "remove <student-id>",
	Short: "Remove a student's reference images",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed reference images for %s\n", args[0])
		return nil
	},
}

func init() {
	studentsCmd.AddCommand(studentsListCmd, studentsRemoveCmd)
	rootCmd.AddCommand(studentsCmd)
}
