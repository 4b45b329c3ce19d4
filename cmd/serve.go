package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl/dataset"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync trigger server",
	Long:  "Serves a small HTTP API for triggering sync runs and inspecting the sync log.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := etl.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "serve: migrate")
		}

		engine, err := buildEngine(pool)
		if err != nil {
			return err
		}
		syncLog := etl.NewSyncLog(pool)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(ctx, engine, syncLog),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the HTTP API. Sync runs are serialized: a trigger while a
// run is in flight returns 409 rather than queueing.
func newRouter(runCtx context.Context, engine *dataset.Engine, syncLog *etl.SyncLog) http.Handler {
	var running atomic.Bool

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/sync", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Datasets    []string `json:"datasets"`
			StopOnError bool     `json:"stop_on_error"`
		}
		if req.Body != nil && req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}

		if !running.CompareAndSwap(false, true) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a sync run is already in progress"})
			return
		}

		// The run outlives the request; it is bound to the server's
		// lifetime, not the caller's.
		go func() {
			defer running.Store(false)

			report, err := engine.Run(runCtx, dataset.RunOpts{
				Datasets:    body.Datasets,
				StopOnError: body.StopOnError,
			})
			if err != nil {
				zap.L().Error("triggered sync failed", zap.Error(err))
				return
			}
			zap.L().Info("triggered sync complete", zap.String("summary", report.Message()))
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Get("/v1/status", func(w http.ResponseWriter, req *http.Request) {
		entries, err := syncLog.Recent(req.Context(), 20)
		if err != nil {
			zap.L().Error("status query failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sync log unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
