package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"footprint/config"
	"footprint/internal/app"
	"footprint/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor := app.New(cfg, log)
	if err := processor.Start(context.Background()); err != nil {
		log.Fatal("processor failed to start", zap.Error(err))
	}

	<-ctx.Done()
	stop()
	processor.Shutdown()
}
