package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"casedocs/internal/api"
)

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, indexing workers and orphan sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(flagConfig, flagDB)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.withIndexing(ctx); err != nil {
			return err
		}

		handlers := api.NewHandler(api.Options{
			Catalog:        a.catalog,
			Ingest:         a.ingest,
			Query:          a.query,
			Stores:         a.manager,
			Blobs:          a.blobs,
			Verifier:       a.blobs,
			Auth:           a.auth,
			Dispatcher:     a.dispatcher,
			MaxUploadBytes: a.cfg.Ingest.MaxUploadBytes,
			URLTTL:         a.cfg.Storage.URLTTL(),
		})
		router := gin.Default()
		handlers.RegisterRoutes(router)

		srv := &http.Server{
			Addr:              a.cfg.BasicConfig.ServerAddress,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			log.Printf("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stopped: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			interval := time.Duration(a.cfg.BasicConfig.OrphanSweep) * time.Minute
			return a.sweeper().Run(gctx, interval)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored blobs that no document references",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(flagConfig, flagDB)
		if err != nil {
			return err
		}
		defer a.close()

		removed, err := a.sweeper().Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d orphan blob(s)\n", removed)
		return nil
	},
}

// --- reindex ---

var reindexCmd = &cobra.Command{
	Use:   "reindex <matter-id> <document-id>",
	Short: "Index a stored document again and wait for the outcome",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(flagConfig, flagDB)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.withIndexing(cmd.Context()); err != nil {
			return err
		}

		doc, outcome, err := a.ingest.Reindex(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s after %d check(s)", doc.FileName, outcome.State, outcome.Attempts)
		if outcome.Message != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " (%s)", outcome.Message)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}
