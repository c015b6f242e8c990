package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/org/vaultcreds/internal/vaulttest"
)

// devServerCmd runs the in-memory store as a local HTTP server, for
// development and demos without a real deployment.
func devServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run a local in-memory secret store",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("listen")
			token, _ := cmd.Flags().GetString("root-token")

			store := vaulttest.NewServer()
			store.AddToken(token, 24*time.Hour, true)
			store.SetOIDC("http://127.0.0.1/dev-idp", "dev-state", "dev-code", token, 24*time.Hour)
			store.PutSecret("netbox/device/1/database",
				map[string]string{"password": "dev-password"},
				map[string]string{"label": "Database", "username": "admin"})

			r := chi.NewRouter()
			r.Mount("/", store.Handler())
			r.Handle("/metrics", promhttp.Handler())

			srv := &http.Server{Addr: addr, Handler: r}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("dev server failed")
				}
			}()

			log.Info().Str("addr", addr).Str("root_token", token).Msg("dev server started")
			<-quit

			log.Info().Msg("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("shutdown error")
			}
			return nil
		},
	}
	cmd.Flags().String("listen", "127.0.0.1:8200", "Listen address")
	cmd.Flags().String("root-token", "dev-root", "Root token to seed")
	return cmd
}
