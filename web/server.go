/***************************************************************
 *
 * Copyright (C) 2025, Packship Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// Package web exposes the intake HTTP API: job submission and read-only
// projections over the job store's records.  All pipeline state lives in
// the store; this layer never mutates a job past enqueueing it.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	ginprometheus "github.com/zsais/go-gin-prometheus"

	"github.com/packshipproject/packship/jobstore"
)

const shutdownTimeout = 10 * time.Second

// Server is the intake HTTP server.
type Server struct {
	addr       string
	apiKey     string
	store      *jobstore.Store
	router     *gin.Engine
	httpServer *http.Server
}

// ServerConfig holds the knobs for the intake server.
type ServerConfig struct {
	Address string
	Port    int
	// ApiKey, when non-empty, must match the "auth" field of every job
	// submission.
	ApiKey string
}

// NewServer wires up the gin router and returns a server ready to run.
func NewServer(cfg ServerConfig, store *jobstore.Store) *Server {
	if log.GetLevel() != log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())

	prometheusMonitor := ginprometheus.NewPrometheus("gin")
	prometheusMonitor.Use(router)

	s := &Server{
		addr:   fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		apiKey: cfg.ApiKey,
		store:  store,
		router: router,
	}

	api := router.Group("/api/v1.0")
	{
		api.POST("/jobs", s.SubmitJobHandler)
		api.GET("/jobs", s.ListJobsHandler)
		api.GET("/jobs/:job_id", s.GetJobStatusHandler)
		api.GET("/health", s.HealthHandler)
	}

	return s
}

// Router exposes the underlying gin engine (used by tests).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Intake server listening on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "intake server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "intake server shutdown failed")
	}
	log.Info("Intake server stopped")
	return nil
}
