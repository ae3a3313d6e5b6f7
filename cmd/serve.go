package main

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/DieRekT/trove-research/internal/model"
	"github.com/DieRekT/trove-research/internal/store"
	"github.com/DieRekT/trove-research/internal/synthesis"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the research API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/api/research", env.handleSubmit)
		r.Get("/api/research/{id}", env.handleStatus)
		r.Get("/api/research/{id}/report", env.handleReport)
		r.Get("/api/research/{id}/export", env.handleExport)
		r.Get("/api/research/{id}/events", env.handleEvents)
		r.Post("/api/query", env.handleQuery)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			drainServer(srv)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

const shutdownTimeout = 10 * time.Second

// drainServer shuts the server down on a fresh timeout context. The signal
// context is already cancelled by the time we get here, so passing it to
// Shutdown would abort in-flight requests instead of draining them.
func drainServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

type submitRequest struct {
	Query      string `json:"query"`
	YearsFrom  *int   `json:"years_from,omitempty"`
	YearsTo    *int   `json:"years_to,omitempty"`
	RegionHint string `json:"region_hint,omitempty"`
	MaxPages   int    `json:"max_pages,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
}

func (req submitRequest) params() model.JobParams {
	return model.JobParams{
		Query:      req.Query,
		YearsFrom:  req.YearsFrom,
		YearsTo:    req.YearsTo,
		RegionHint: req.RegionHint,
		MaxPages:   req.MaxPages,
		PageSize:   req.PageSize,
	}
}

func (e *env) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	jobID, err := e.Orch.Submit(r.Context(), req.params())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (e *env) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := e.Orch.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        job.Status,
		"progress":      job.Progress,
		"error_message": job.ErrorMessage,
	})
}

func (e *env) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := e.Orch.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (e *env) handleExport(w http.ResponseWriter, r *http.Request) {
	report, err := e.Orch.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out, err := renderReport(report, r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, out)
}

// handleEvents streams the job's progress as server-sent events. Closing the
// connection only detaches this subscriber; the job runs to completion
// server-side and its report stays retrievable by id.
func (e *env) handleEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if _, err := e.Orch.Status(r.Context(), jobID); err != nil {
		writeStoreError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := e.Orch.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Stage, raw)
			flusher.Flush()
		}
	}
}

func (e *env) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	report, err := e.Orch.RunImmediate(r.Context(), req.params())
	if err != nil {
		var noEvidence *synthesis.NoEvidenceError
		if errors.As(err, &noEvidence) {
			writeError(w, http.StatusNotFound, noEvidence.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrReportNotReady):
		writeError(w, http.StatusConflict, "report not ready")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
