package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-sync/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deals API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		client, err := initHubSpot()
		if err != nil {
			return err
		}
		syncer, err := initSyncer(client, nil)
		if err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		if cfg.Monitoring.Enabled {
			go checker.Run(ctx)
		}

		a := &api{
			store:    st,
			client:   client,
			syncer:   syncer,
			monitor:  checker,
			pipeline: cfg.Sync.PipelineID,
		}
		return startServer(ctx, buildRouter(a, cfg.Server.AllowedOrigins), resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the flag value over config.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// buildRouter mounts the API routes behind request-id, recovery, logging
// and CORS middleware.
func buildRouter(a *api, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", a.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/pipelines", a.handlePipelines)

		r.Route("/deals", func(r chi.Router) {
			r.Get("/", a.handleListDeals)
			r.Delete("/", a.handleClearDeals)
			r.Post("/sync", a.handleSync)
			r.Get("/stats", a.handleStats)
			r.Get("/pipelines", a.handleDealPipelines)
			r.Get("/config", a.handleGetConfig)
			r.Put("/config", a.handleSaveConfig)
			r.Get("/hubspot/{hubspotID}", a.handleDealByHubSpotID)
			r.Get("/{id}", a.handleGetDeal)
			r.Get("/{id}/engagements", a.handleDealEngagements)
		})

		r.Get("/sync/runs", a.handleSyncRuns)
		r.Get("/sync/health", a.handleSyncHealth)

		r.Route("/hubspot", func(r chi.Router) {
			r.Get("/contacts/{hubspotID}", a.handleContact)
			r.Get("/companies/{hubspotID}", a.handleCompany)
			r.Post("/tasks", a.handleCreateTask)
			r.Post("/notes", a.handleCreateNote)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
