package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/api"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.Server.Address = serveAddr
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		server := api.NewServer(api.ServerConfig{
			Address:          cfg.Server.Address,
			MaxRequestBytes:  int64(cfg.Server.MaxRequestMB) << 20,
			EnrollmentImages: cfg.Verification.EnrollmentImages,
			Enroller:         a.profiles,
			Verifier:         a.orchestrator,
			References:       a.store,
			Ledger:           a.ledger,
			IncidentDir:      cfg.IncidentDir(),
			StartTime:        time.Now(),
			Version:          version,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		// In-flight batches run to completion before the pool is closed.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logging.WithError(err).Warnf("Server shutdown incomplete")
		}
		return <-errCh
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.address)")
	rootCmd.AddCommand(serveCmd)
}
