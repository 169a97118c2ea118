package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"paragon/pkg/auth"
	"paragon/pkg/config"
	"paragon/pkg/metrics"
	"paragon/pkg/ocr"
	"paragon/pkg/pdfpage"
	"paragon/pkg/pipeline"
	"paragon/pkg/report"
)

type server struct {
	cfg     *config.Config
	rec     ocr.Recognizer
	workers int
	logger  *zap.Logger
	metrics *metrics.Recorder
	openDoc func(path string) (pdfpage.File, error)

	// documents run one at a time; the recognition pool is shared
	runMu sync.Mutex
}

func newServer(cfg *config.Config, rec ocr.Recognizer, workers int, logger *zap.Logger, m *metrics.Recorder) *server {
	s := &server{cfg: cfg, rec: rec, workers: workers, logger: logger, metrics: m}
	s.openDoc = func(path string) (pdfpage.File, error) {
		return pdfpage.OpenFile(path, pdfpage.WithPdftoppm(cfg.Render.Pdftoppm), pdfpage.WithLogger(logger))
	}
	return s
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.GET("/healthz", s.healthHandler)
	api := r.Group("/v1")
	if s.cfg.Server.JWTSecret != "" {
		api.Use(auth.Middleware([]byte(s.cfg.Server.JWTSecret)))
	}
	api.POST("/documents", s.documentHandler)
}

func (s *server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "workers": s.workers})
}

// documentHandler runs the SUMA pipeline over an uploaded PDF or image and returns
// per-receipt amounts with the document totals.
func (s *server) documentHandler(c *gin.Context) {
	limit := int64(s.cfg.Server.MaxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if file.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	if !pdfpage.IsPDF(file.Filename) && !pdfpage.IsImage(file.Filename) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "expected a PDF or an image"})
		return
	}

	dir, err := os.MkdirTemp("", "paragon-upload-*")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temp dir failed"})
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "upload"+strings.ToLower(filepath.Ext(file.Filename)))
	if err := c.SaveUploadedFile(file, path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	doc, err := s.openDoc(path)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	defer doc.Close()

	// RUN_TIMEOUT covers the run itself, not the wait behind another upload.
	s.runMu.Lock()
	defer s.runMu.Unlock()
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.Server.RunTimeout)
	defer cancel()

	log := s.logger.With(zap.String("file", file.Filename))
	collector := report.NewCollector()
	opts := append(s.cfg.PipelineOptions(),
		pipeline.WithSink(pipeline.MultiSink(collector, report.NewLogSink(log))),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(s.metrics))
	sum, err := pipeline.New(s.rec, opts...).Run(ctx, doc)
	res := collector.Result(sum)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "result": res})
		return
	}
	if sum.Cancelled && sum.PagesDone == 0 {
		status := http.StatusServiceUnavailable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": "run cancelled before any page was processed", "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}
