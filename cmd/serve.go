package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/model"
	"github.com/brokerdesk/callpipe/internal/state"
	"github.com/brokerdesk/callpipe/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for stats and run launches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		router := newRouter(serverDeps{
			ledger: env.Ledger,
			store:  env.Store,
			run:    env.Pipeline.Run,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// serverDeps narrows what the HTTP handlers need, so tests can supply a
// ledger and store without building vendor clients.
type serverDeps struct {
	ledger *state.Store
	store  store.Store
	run    func(ctx context.Context, fromDate, toDate string) (*model.Run, error)
}

func newRouter(deps serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.ledger.Stats())
	})

	r.Get("/api/failed", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.ledger.FailedItems())
	})

	r.Get("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				limit = n
			}
		}
		runs, err := deps.store.ListRuns(r.Context(), store.RunFilter{
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Limit:  limit,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
			return
		}
		if runs == nil {
			runs = []model.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Post("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FromDate string `json:"from_date"`
			ToDate   string `json:"to_date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if req.FromDate == "" || req.ToDate == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from_date and to_date are required"})
			return
		}

		// The run outlives the request.
		go func() {
			run, err := deps.run(context.Background(), req.FromDate, req.ToDate)
			if err != nil {
				zap.L().Error("api run failed",
					zap.String("from", req.FromDate),
					zap.String("to", req.ToDate),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("api run finished",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"from":   req.FromDate,
			"to":     req.ToDate,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
