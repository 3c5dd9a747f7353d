package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"quotehub.com/internal/quotes/app"
	"quotehub.com/pkg/logger"
)

const serviceName = "quote-gateway"

func main() {
	// Ctrl+C / kubernetes 停止信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := app.New(serviceName)
	if err != nil {
		log.Fatalf("init %s: %v", serviceName, err)
	}
	defer gw.Close()

	if err := gw.Setup(ctx); err != nil {
		logger.Error(ctx, "setup failed", zap.Error(err))
		return
	}
	if err := gw.Run(ctx); err != nil {
		logger.Error(ctx, "gateway exited with error", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "gateway exit")
}
