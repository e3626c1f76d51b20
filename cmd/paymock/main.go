package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupRouter mounts the fake PayPal and Creem endpoints on the paths the gateways call.
func SetupRouter(p *Provider) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	paypal := router.Group("")
	{
		paypal.POST("/v1/oauth2/token", p.Token)
		paypal.POST("/v2/checkout/orders", p.CreateOrder)
		paypal.GET("/v2/checkout/orders/:id", p.GetOrder)
		paypal.POST("/v2/checkout/orders/:id/capture", p.CaptureOrder)
	}

	creem := router.Group("/v1")
	{
		creem.POST("/checkouts", p.CreateCheckout)
		creem.GET("/checkouts", p.GetCheckout)
		creem.GET("/checkouts/:id", p.GetCheckout)
		creem.POST("/checkouts/:id/complete", p.CompleteCheckout)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8082")
	failRate := getEnvFloat("CAPTURE_FAIL_RATE", 0)
	publicURL := getEnv("PUBLIC_URL", "http://localhost:"+port)

	log.Info().
		Str("port", port).
		Float64("capture_fail_rate", failRate).
		Str("webhook_url", os.Getenv("WEBHOOK_URL")).
		Msg("Starting payment provider mock")

	provider := NewProvider(failRate, os.Getenv("CREEM_API_KEY"), os.Getenv("WEBHOOK_URL"), os.Getenv("CREEM_WEBHOOK_SECRET"), publicURL)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(provider),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
