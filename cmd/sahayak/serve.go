package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sahayak-ai/sahayak/internal/observability"
	"github.com/sahayak-ai/sahayak/internal/retrieval"
	"github.com/sahayak-ai/sahayak/pkg/sahayak"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant behind an HTTP/JSON endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			metrics := observability.NewMetrics(nil)

			rt, err := buildRuntime(cfg, logger, metrics)
			if err != nil {
				return err
			}
			defer rt.close()

			mux := http.NewServeMux()
			mux.HandleFunc("POST /v1/process", rt.handleProcess)
			mux.HandleFunc("POST /v1/process/stream", rt.handleProcessStream)
			mux.HandleFunc("GET /v1/context/{session}", rt.handleGetContext)
			mux.HandleFunc("DELETE /v1/context/{session}", rt.handleClearContext)
			mux.HandleFunc("POST /v1/feedback", rt.handleFeedback)
			mux.HandleFunc("POST /v1/ask", rt.handleAsk)
			mux.Handle("GET /metrics", promhttp.Handler())
			mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				fmt.Fprintln(w, "ok")
			})

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info(ctx, "listening", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			logger.Info(shutdownCtx, "shutting down")
			return server.Shutdown(shutdownCtx)
		},
	}
}

// processRequest is the wire shape of POST /v1/process.
type processRequest struct {
	Text              string         `json:"text"`
	SessionID         string         `json:"session_id,omitempty"`
	StructuredContext map[string]any `json:"structured_context,omitempty"`
}

func (rt *runtime) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := rt.engine.Process(r.Context(), sahayak.Utterance{
		Text:              req.Text,
		SessionID:         req.SessionID,
		StructuredContext: req.StructuredContext,
		CaptureTime:       time.Now().UTC(),
	})
	if err != nil {
		// Only cancellation reaches here; the client is gone.
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProcessStream streams stage events as newline-delimited JSON.
func (rt *runtime) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for ev := range rt.engine.ProcessStreaming(r.Context(), sahayak.Utterance{
		Text:              req.Text,
		SessionID:         req.SessionID,
		StructuredContext: req.StructuredContext,
		CaptureTime:       time.Now().UTC(),
	}) {
		if err := enc.Encode(ev); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (rt *runtime) handleGetContext(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	session, messages, ok := rt.engine.GetContext(sessionID)
	if !ok {
		httpError(w, http.StatusNotFound, "session not in hot cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  session,
		"messages": messages,
	})
}

func (rt *runtime) handleClearContext(w http.ResponseWriter, r *http.Request) {
	cleared := rt.engine.ClearContext(r.PathValue("session"))
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

type feedbackRequest struct {
	Transcript string `json:"transcript"`
	Topic      string `json:"topic,omitempty"`
	Grade      string `json:"grade,omitempty"`
}

func (rt *runtime) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	card, err := rt.engine.Feedback(r.Context(), sahayak.FeedbackRequest{
		Transcript: req.Transcript,
		Topic:      req.Topic,
		Grade:      req.Grade,
	})
	if err != nil {
		httpError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, card)
}

type askRequest struct {
	Question string `json:"question"`
	Class    string `json:"class,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Language string `json:"language,omitempty"`
}

func (rt *runtime) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	answer, err := rt.engine.Ask(r.Context(), req.Question, retrieval.Filter{
		Class:    req.Class,
		Subject:  req.Subject,
		Language: req.Language,
	})
	if err != nil {
		httpError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	citations := make([]string, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		citations = append(citations, retrieval.FormatSource(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"answer":    answer.Text,
		"citations": citations,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
