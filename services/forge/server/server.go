// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes a running batch over HTTP: health, Prometheus
// metrics and per-case progress.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Buycar-arb/ToolForge/services/forge/runner"
)

// StatusSource reports live case progress.
type StatusSource interface {
	Status() []runner.CaseStatus
}

// ProgressResponse is the body of GET /v1/progress.
type ProgressResponse struct {
	Cases    []runner.CaseStatus `json:"cases"`
	Accepted int                 `json:"accepted"`
	Target   int                 `json:"target"`
	Done     bool                `json:"done"`
}

// Handlers serves the status endpoints.
type Handlers struct {
	source  StatusSource
	started time.Time
}

// NewHandlers creates Handlers over source.
func NewHandlers(source StatusSource) *Handlers {
	return &Handlers{source: source, started: time.Now()}
}

// HandleHealth reports liveness and uptime.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleProgress reports per-case counters and run totals.
func (h *Handlers) HandleProgress(c *gin.Context) {
	statuses := h.source.Status()
	resp := ProgressResponse{Cases: statuses, Done: len(statuses) > 0}
	for _, s := range statuses {
		resp.Accepted += s.Accepted
		resp.Target += s.Target
		if !s.Done {
			resp.Done = false
		}
	}
	if resp.Cases == nil {
		resp.Cases = []runner.CaseStatus{}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleCaseProgress reports one case by key, e.g. /v1/progress/case_C4.
func (h *Handlers) HandleCaseProgress(c *gin.Context) {
	key := c.Param("case")
	for _, s := range h.source.Status() {
		if s.Case == key {
			c.JSON(http.StatusOK, s)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "case not scheduled", "case": key})
}

// RegisterRoutes registers the status endpoints.
//
// Endpoints:
//
//	GET /healthz - Liveness
//	GET /metrics - Prometheus exposition
//	GET /v1/progress - All cases
//	GET /v1/progress/:case - One case
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	r.GET("/healthz", h.HandleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/progress", h.HandleProgress)
		v1.GET("/progress/:case", h.HandleCaseProgress)
	}
}

// NewRouter builds the gin engine with recovery and tracing middleware.
func NewRouter(h *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	RegisterRoutes(router, h)
	return router
}

// Server is the status HTTP server.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New creates a Server listening on addr.
func New(addr, serviceName string, source StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(NewHandlers(source), serviceName),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Serve listens until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", slog.String("address", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("status server shutdown", slog.String("error", err.Error()))
			return err
		}
		return nil
	}
}
