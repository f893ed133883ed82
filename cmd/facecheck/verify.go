package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/verification"
)

var verifyJSON bool

var verifyCmd = &cobra.Command{
	Use:   "verify <student-id> <frame>...",
	Short: "Verify a batch of frames against a student's reference",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID := args[0]

		frames, err := readImageFiles(args[1:], len(args) > 10)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		verdict, err := a.orchestrator.VerifyBatch(cmd.Context(), studentID, frames)
		if err != nil {
			return err
		}

		if verifyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(verdict)
		}
		printVerdict(cmd.OutOrStdout(), args[1:], verdict)
		return nil
	},
}

func printVerdict(out io.Writer, names []string, v *verification.Verdict) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FRAME\tSTATUS\tMESSAGE\tDISTANCE")
	for _, o := range v.Results {
		distance := "-"
		if o.Distance != nil {
			distance = fmt.Sprintf("%.4f", *o.Distance)
		}
		name := fmt.Sprintf("#%d", o.Index)
		if o.Index < len(names) {
			name = names[o.Index]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, o.Status, o.Message, distance)
	}
	_ = w.Flush()

	successes, failures := v.Counts()
	fmt.Fprintf(out, "\nVerdict: %s", v.Status)
	if v.Message != "" {
		fmt.Fprintf(out, " (%s)", v.Message)
	}
	fmt.Fprintf(out, " - %d passed, %d failed\n", successes, failures)
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the verdict as JSON")
	rootCmd.AddCommand(verifyCmd)
}
