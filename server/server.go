package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "storeflow/config"
	"storeflow/intake"
	"storeflow/logger"
	"storeflow/models"
	"storeflow/usage"
)

// Ingester accepts one batch of order submissions.
type Ingester interface {
	Ingest(ctx context.Context, req models.IngestRequest) (models.IngestResult, error)
}

// UsageReader serves the daily usage series.
type UsageReader interface {
	DailyUsage(ctx context.Context, start, end time.Time) (models.UsageReport, error)
}

// Server hosts the HTTP surface over intake and the usage reader.
type Server struct {
	cfg        appconfig.ServerConfig
	rangeDays  int
	ingester   Ingester
	reader     UsageReader
	log        *logger.Log
	httpServer *http.Server
	now        func() time.Time
}

func New(cfg *appconfig.Config, ingester Ingester, reader UsageReader) *Server {
	return &Server{
		cfg:       cfg.Server,
		rangeDays: cfg.Usage.DefaultRangeDays,
		ingester:  ingester,
		reader:    reader,
		log:       logger.GetLogger(),
		now:       time.Now,
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	log := s.log.WithComponent("server")
	log.WithFields(logger.Fields{"address": s.cfg.Address}).Info("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info("http server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/orders", s.handleIngest)
	api.GET("/usage/daily", s.handleDailyUsage)

	return router
}

func (s *Server) handleIngest(c *gin.Context) {
	var req models.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	result, err := s.ingester.Ingest(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, intake.ErrNoOrders) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		s.log.WithComponent("server").WithError(err).Error("ingestion call failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "ingestion failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"saved":         result.Saved,
		"updated":       result.Updated,
		"duplicates":    result.Duplicates,
		"stats_updated": result.StatsUpdated,
	})
}

func (s *Server) handleDailyUsage(c *gin.Context) {
	end := s.now().UTC()
	if v := c.Query("end_date"); v != "" {
		parsed, err := time.Parse(models.DateLayout, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid end_date"})
			return
		}
		end = parsed
	}

	// The default start anchors to the effective end, not to today, so an
	// end_date-only query still yields a full default-length window.
	start := end.AddDate(0, 0, -s.rangeDays)
	if v := c.Query("start_date"); v != "" {
		parsed, err := time.Parse(models.DateLayout, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid start_date"})
			return
		}
		start = parsed
	}

	report, err := s.reader.DailyUsage(c.Request.Context(), start, end)
	if err != nil {
		if errors.Is(err, usage.ErrInvalidRange) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		s.log.WithComponent("server").WithError(err).Error("usage call failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "usage aggregation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": report})
}
