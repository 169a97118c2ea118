package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paragon/pkg/config"
	"paragon/pkg/metrics"
	"paragon/pkg/ocr/tesseract"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// `paragon check` verifies pdftoppm and the tesseract languages, then exits.
	if len(os.Args) > 1 && os.Args[1] == "check" {
		if err := runCheck(cfg, logger); err != nil {
			logger.Fatal("check failed", zap.Error(err))
		}
		fmt.Println("environment ok")
		return
	}

	if err := serve(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.NewRecorder()
	done := rec.Start("workers:init")
	pool, err := tesseract.StartPool(ctx, cfg.OCR.Workers, cfg.OCR.Languages, logger)
	done()
	if err != nil {
		return fmt.Errorf("start ocr pool: %w", err)
	}
	defer func() {
		done := rec.Start("workers:terminate")
		pool.Shutdown()
		done()
		for _, line := range rec.SummaryLines() {
			logger.Info("perf", zap.String("stat", line))
		}
	}()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	newServer(cfg, pool, pool.Size(), logger, rec).setupRoutes(r)

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.Bool("auth", cfg.Server.JWTSecret != ""))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func runCheck(cfg *config.Config, logger *zap.Logger) error {
	bin, err := exec.LookPath(cfg.Render.Pdftoppm)
	if err != nil {
		return fmt.Errorf("pdftoppm: %w", err)
	}
	logger.Info("pdftoppm", zap.String("path", bin))
	logger.Info("tesseract",
		zap.String("version", tesseract.Version()),
		zap.String("tessdata", cfg.OCR.TessdataDir),
		zap.String("languages", cfg.OCR.Languages))

	pool, err := tesseract.StartPool(context.Background(), 1, cfg.OCR.Languages, logger)
	if err != nil {
		return err
	}
	pool.Shutdown()
	return nil
}
