package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrisense/config"
	"agrisense/log"
	"agrisense/models"
	"agrisense/rest"
	"agrisense/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize storage. The service cannot run without its database.
	storage, err := services.NewStorageService(cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	// Seed the configured device so the dashboard has a row before the
	// first report arrives. An existing row only has last_seen refreshed.
	deviceName := "Field temperature sensor"
	deviceType := "ESP32_RS485_Sensor"
	serviceID := "ESP32_TH"
	location := "Experimental field A"
	if err := storage.RegisterOrTouchDevice(cfg.DeviceID, &models.DeviceMetadata{
		DeviceName: &deviceName,
		DeviceType: &deviceType,
		ServiceID:  &serviceID,
		Location:   &location,
	}); err != nil {
		logger.Warn("Failed to seed default device", zap.Error(err))
	}

	aggregates := services.NewAggregateService(storage, logger)
	anomalyDetector := services.NewAnomalyDetector(cfg)
	tokens := rest.NewTokenStore(time.Hour)

	// Telegram alerting is optional; the pipeline runs without it.
	var telegramService *services.TelegramService
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegramService, err = services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Warn("Telegram service unavailable, continuing without alerts", zap.Error(err))
			telegramService = nil
		} else if err := telegramService.SendStartupMessage(); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	var webhookService *services.WebhookAlertService
	if cfg.WebhookAlertURL != "" {
		webhookService = services.NewWebhookAlertService(logger, cfg.WebhookAlertURL)
		logger.Info("Webhook alert service initialized", zap.String("url", cfg.WebhookAlertURL))
	}

	logger.Info("AgriSense ingestion service starting",
		zap.String("broker", cfg.BrokerAddress()),
		zap.String("topic", cfg.ReportTopic()),
		zap.Float64("temp_min", cfg.TemperatureMin),
		zap.Float64("temp_max", cfg.TemperatureMax),
		zap.Float64("humidity_min", cfg.HumidityMin),
		zap.Float64("humidity_max", cfg.HumidityMax),
		zap.Float64("pm25_max", cfg.PM25Max),
		zap.Float64("light_max", cfg.LightMax),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device silence monitoring
	monitor := services.NewStatusMonitor(cfg, storage, telegramService, logger)
	go monitor.Start(ctx)

	// MQTT ingestion
	ingest := services.NewIngestService(cfg, storage, logger)
	ingest.OnReading(func(deviceID, timestamp string, r *models.NormalizedReading) {
		monitor.Touch(deviceID)

		anomalies := anomalyDetector.DetectAnomalies(deviceID, timestamp, r)
		if len(anomalies) == 0 {
			return
		}

		logger.Warn("Anomalies detected",
			zap.String("device_id", deviceID),
			zap.Int("anomaly_count", len(anomalies)),
		)

		if telegramService != nil {
			if err := telegramService.SendAnomalyAlert(anomalies, deviceID); err != nil {
				logger.Error("Failed to send Telegram alert",
					zap.String("device_id", deviceID),
					zap.Error(err),
				)
			}
		}

		if webhookService != nil {
			if err := webhookService.SendAlert(anomalies, deviceID); err != nil {
				logger.Error("Failed to send webhook alert",
					zap.String("device_id", deviceID),
					zap.Error(err),
				)
			}
		}
	})

	go func() {
		if err := ingest.Start(); err != nil {
			// The API stays up so stored data remains queryable even
			// when the broker is unreachable or rejects credentials.
			switch {
			case errors.Is(err, models.ErrAuthFailed):
				logger.Error("MQTT authentication failed, ingestion disabled", zap.Error(err))
			case errors.Is(err, models.ErrBrokerUnavailable):
				logger.Error("MQTT broker unavailable, ingestion disabled", zap.Error(err))
			default:
				logger.Error("MQTT ingestion failed to start", zap.Error(err))
			}
		}
	}()

	// HTTP API
	app := fiber.New(fiber.Config{
		AppName:               "AgriSense",
		DisableStartupMessage: true,
	})
	rest.RegisterRoutes(app, &rest.Handler{
		Storage:         storage,
		Aggregates:      aggregates,
		Ingest:          ingest,
		Tokens:          tokens,
		Logger:          logger,
		DefaultDeviceID: cfg.DeviceID,
	})

	go func() {
		logger.Info("HTTP API listening", zap.String("port", cfg.HTTPPort))
		if err := app.Listen(":" + cfg.HTTPPort); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping services")
	case err := <-ingest.Fatal():
		logger.Error("Fatal ingestion error, shutting down", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		ingest.Stop()
		if err := app.Shutdown(); err != nil {
			logger.Error("Error shutting down HTTP server", zap.Error(err))
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Cleanup completed successfully")
	case <-time.After(5 * time.Second):
		logger.Warn("Cleanup timeout, forcing exit")
	}

	if err := storage.Close(); err != nil {
		logger.Error("Error closing storage", zap.Error(err))
	}

	logger.Info("AgriSense ingestion service stopped")
}
