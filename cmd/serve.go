package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/rankings-cli/internal/alert"
	"github.com/sells-group/rankings-cli/internal/pull"
)

var servePort int

// pullRequest is the webhook body. All fields are optional: an empty body
// pulls every market over the configured default window.
type pullRequest struct {
	Markets []string `json:"markets"`
	Days    int      `json:"days"`
	DryRun  bool     `json:"dry_run"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start webhook server for ranking pulls",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := initPortal()
		if err != nil {
			return eris.Wrap(err, "init portal client")
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner := pull.NewRunner(client, st, alert.New(cfg.Alert.WebhookURL))
		runner.InterMarketDelay = cfg.Pull.InterMarketDelay()

		trigger := func(req pullRequest) {
			days := req.Days
			if days == 0 {
				days = cfg.Pull.Days
			}
			fromDate, toDate, err := dateRange(days, "", "", time.Now().UTC())
			if err != nil {
				zap.L().Error("webhook pull rejected", zap.Error(err))
				return
			}

			registry, err := loadMarkets()
			if err != nil {
				zap.L().Error("webhook pull rejected", zap.Error(err))
				return
			}
			markets, err := registry.Select(req.Markets)
			if err != nil {
				zap.L().Error("webhook pull rejected", zap.Error(err))
				return
			}

			runner.DryRun = req.DryRun
			if _, err := runner.Run(ctx, markets, fromDate, toDate); err != nil {
				zap.L().Error("webhook pull failed", zap.Error(err))
			}
		}

		router := newServeRouter(st.Ping, trigger)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newServeRouter builds the HTTP surface. Pulls run asynchronously: the
// webhook replies 202 as soon as the request parses.
func newServeRouter(ping func(ctx context.Context) error, trigger func(pullRequest)) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Post("/webhook/pull", func(w http.ResponseWriter, req *http.Request) {
		var body pullRequest
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
		}

		go trigger(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "accepted",
			"markets": body.Markets,
		})
	})

	return r
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
