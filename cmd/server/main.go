package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/ticket-escrow/internal/adapter/handler"
	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/config"
	"github.com/rl1809/ticket-escrow/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := pflag.String("config", "", "path to a YAML config file")
	httpAddr := pflag.String("http-addr", "", "HTTP listen address (overrides config)")
	grpcAddr := pflag.String("grpc-addr", "", "gRPC listen address (overrides config)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.GRPCAddr = *grpcAddr
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer func() {
		a.Close()
		logger.Info("connections closed")
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	httpHandler := handler.NewHTTPHandler(a.listings, a.escrow, a.approvals, logger)
	if a.memCatalog != nil {
		httpHandler.WithEventStore(a.memCatalog)
	}
	httpHandler.Register(e)

	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(a.escrow, logger).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		return scheduler.New(a.escrow, cfg.Sweep.Interval, logger).Run(gctx)
	})

	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})

	return g.Wait()
}
