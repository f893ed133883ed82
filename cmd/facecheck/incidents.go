package main

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/incident"
)

var (
	incidentStudent string
	incidentType    string
	incidentLimit   int
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents",
	Short: "List recorded incidents",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := incident.Filter{
			StudentID: incidentStudent,
			Type:      incident.Type(incidentType),
			Limit:     incidentLimit,
		}
		if filter.Type != "" && !filter.Type.Valid() {
			return fmt.Errorf("unknown incident type %q", incidentType)
		}

		ledger, err := incident.Open(cmd.Context(), cfg.Ledger.Driver, cfg.Ledger.Path, cfg.Ledger.DSN)
		if err != nil {
			return fmt.Errorf("failed to open incident ledger: %w", err)
		}
		defer ledger.Close()

		incidents, err := ledger.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		printIncidents(cmd.OutOrStdout(), incidents)
		return nil
	},
}

func printIncidents(out io.Writer, incidents []incident.Incident) {
	if len(incidents) == 0 {
		fmt.Fprintln(out, "No incidents recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTUDENT\tTYPE\tIMAGE")
	for _, inc := range incidents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			inc.Timestamp.Local().Format(time.DateTime), inc.StudentID, inc.Type, filepath.Base(inc.ImagePath))
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\nTotal: %d incident(s)\n", len(incidents))
}

func init() {
	incidentsCmd.Flags().StringVar(&incidentStudent, "student", "", "Only show incidents of this student")
	incidentsCmd.Flags().StringVar(&incidentType, "type", "", "Only show incidents of this type (no_face, face_mismatch, processing_error)")
	incidentsCmd.Flags().IntVar(&incidentLimit, "limit", incident.DefaultListLimit, "Maximum number of incidents")
	rootCmd.AddCommand(incidentsCmd)
}
