/*
Package main is the entry point for the codechat service.

This package initializes and starts the codechat server, which lets users
converse with an AI assistant that can execute code in an isolated sandbox
mid-conversation. The server is built using the Echo web framework and
includes configuration loading, structured logging, graceful shutdown, and
error handling.

The application follows these initialization steps:
1. Load configuration from environment variables
2. Initialize structured logging
3. Create the core server instance with dependencies
4. Set up HTTP middleware (logging, recovery, CORS)
5. Register API routes
6. Start the server with graceful shutdown support
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codechat/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// main initializes and starts the codechat server, handling the complete
// lifecycle of the application including configuration loading, dependency
// initialization, HTTP server setup, and graceful shutdown on interrupt.
func main() {
	// Load configuration from environment variables
	config := core.LoadConfig()

	// Initialize structured logger with the loaded configuration
	logger := core.InitializeLogger(config)
	logger.Info("Starting codechat server")

	// Create the core server instance with all dependencies
	server, err := core.NewServer(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	// Create Echo web framework instance
	e := echo.New()

	// Configure middleware stack for request processing
	e.Use(middleware.Logger())  // HTTP request logging
	e.Use(middleware.Recover()) // Panic recovery
	e.Use(middleware.CORS())    // Cross-Origin Resource Sharing

	// Register all API routes and handlers
	server.RegisterRoutes(e)

	// Start the HTTP server in a separate goroutine to allow for graceful shutdown
	go func() {
		logger.WithField("port", config.Port).Info("Starting server")
		if err := e.Start(fmt.Sprintf(":%s", config.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Block until an interrupt signal is received
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Give the server 30 seconds to finish processing ongoing turns
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Failed to gracefully shutdown server")
	} else {
		logger.Info("Server shutdown complete")
	}

	// Release sandbox resources after the HTTP surface is drained
	if err := server.Close(); err != nil {
		logger.WithError(err).Error("Failed to close sandbox backend")
	}
}
