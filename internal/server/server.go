// Package server exposes the operational HTTP surface: health, metrics and an
// on-demand reconstruction trigger.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Aidin1998/salesflow/internal/infrastructure/messaging"
	"github.com/Aidin1998/salesflow/internal/ingest"
	"github.com/Aidin1998/salesflow/internal/snapshot/store"
	"github.com/Aidin1998/salesflow/pkg/problem"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ConsumerStatus is implemented by *messaging.ConsumerLoop.
type ConsumerStatus interface {
	State() messaging.ConsumerState
	Breaker() *messaging.CircuitBreaker
}

// Reconstructor is implemented by *ingest.Job.
type Reconstructor interface {
	Run(ctx context.Context, productIDs []int64) (ingest.JobReport, error)
	RunAll(ctx context.Context) (ingest.JobReport, error)
}

// Server represents the ops HTTP server
type Server struct {
	logger   *zap.Logger
	consumer ConsumerStatus
	job      Reconstructor
	http     *http.Server
}

// NewServer creates a new ops server. consumer and job may be nil.
func NewServer(addr string, logger *zap.Logger, consumer ConsumerStatus, job Reconstructor) *Server {
	s := &Server{logger: logger, consumer: consumer, job: job}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router creates the HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reconstruct", s.handleReconstructAll)
		v1.POST("/reconstruct/:product_id", s.handleReconstructProduct)
	}
	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ops server listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Ops server stopped")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.consumer == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	state := s.consumer.State()
	body := gin.H{"status": "ok", "consumer": state.String()}
	status := http.StatusOK
	if cb := s.consumer.Breaker(); cb != nil {
		body["circuit_breaker"] = cb.State().String()
		if cb.State() == messaging.CircuitBreakerOpen {
			body["status"] = "degraded"
		}
	}
	if state == messaging.StateShutdown {
		body["status"] = "stopped"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (s *Server) handleReconstructAll(c *gin.Context) {
	if s.job == nil {
		problem.Write(c, problem.NotConfigured("reconstruction is not configured", c.Request.URL.Path))
		return
	}
	report, err := s.job.RunAll(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleReconstructProduct(c *gin.Context) {
	if s.job == nil {
		problem.Write(c, problem.NotConfigured("reconstruction is not configured", c.Request.URL.Path))
		return
	}
	id, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil || id <= 0 {
		problem.Write(c, problem.Validation("invalid product id", c.Request.URL.Path))
		return
	}
	report, err := s.job.Run(c.Request.Context(), []int64{id})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if report.Products == 0 {
		problem.Write(c, problem.NotFound("product has no snapshots", c.Request.URL.Path).WithExtra("product_id", id))
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) writeError(c *gin.Context, err error) {
	path := c.Request.URL.Path
	s.logger.Error("Request failed", zap.String("path", path), zap.Error(err))
	switch {
	case errors.Is(err, store.ErrNotFound):
		problem.Write(c, problem.NotFound(err.Error(), path))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		problem.Write(c, problem.Unavailable(err.Error(), path))
	default:
		problem.Write(c, problem.Internal(err.Error(), path))
	}
}
