package main

// preorder serves the admin API and runs the invoice pollers.

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gitshopapp/preorder/app"
	"github.com/gitshopapp/preorder/server"
)

func main() {
	fallbackLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	application, err := app.New()
	if err != nil {
		fallbackLogger.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}
	srv, err := server.New(application.Config.Port, application.Logger, application.Handlers)
	if err != nil {
		fallbackLogger.Error("failed to initialize server", "error", err)
		application.Close()
		os.Exit(1)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	err = application.Start(startCtx)
	startCancel()
	if err != nil {
		application.Logger.Error("failed to start app", "error", err)
		application.Close()
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	exitCode := 0
	select {
	case err := <-serverErr:
		if err != nil {
			application.Logger.Error("server failed", "error", err)
			exitCode = 1
		}
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Close(ctx); err != nil {
		application.Logger.Error("server forced to shutdown", "error", err)
		exitCode = 1
	}
	if err := application.Shutdown(ctx); err != nil {
		application.Logger.Error("pollers did not stop cleanly", "error", err)
		exitCode = 1
	}

	application.Close()
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
