package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"agrisense/config"
	"agrisense/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

type TelegramService struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	config         *config.Config
	lastAlertTimes map[string]time.Time // Track last alert time per device
	logger         *zap.Logger
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %v", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %v", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramService{
		bot:            bot,
		chatID:         chatID,
		config:         cfg,
		lastAlertTimes: make(map[string]time.Time),
		logger:         logger,
	}

	// Test Telegram connection with retry
	if err := ts.testConnection(); err != nil {
		logger.Error("Telegram connection test failed", zap.Error(err))
		return nil, fmt.Errorf("telegram connection test failed: %v", err)
	}

	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ts.logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		// Try to get bot info to test connection
		_, err := ts.bot.GetMe()

		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// SendAnomalyAlert sends a formatted out-of-range alert to Telegram with
// per-device throttling.
func (ts *TelegramService) SendAnomalyAlert(anomalies []*models.Anomaly, deviceID string) error {
	if len(anomalies) == 0 {
		return nil
	}

	if ts.shouldThrottleAlert(deviceID) {
		ts.logger.Debug("Throttling alert", zap.String("device_id", deviceID))
		return nil
	}

	message := ts.formatAnomalyMessage(anomalies, deviceID)

	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("error sending telegram message: %v", err)
	}

	ts.lastAlertTimes[deviceID] = time.Now()

	ts.logger.Info("Sent anomaly alert",
		zap.String("device_id", deviceID),
		zap.Int("anomaly_count", len(anomalies)))
	return nil
}

// shouldThrottleAlert checks if we should throttle alerts for a device (within 15 seconds)
func (ts *TelegramService) shouldThrottleAlert(deviceID string) bool {
	lastAlertTime, exists := ts.lastAlertTimes[deviceID]
	if !exists {
		return false // No previous alert, don't throttle
	}

	timeSinceLastAlert := time.Since(lastAlertTime)
	return timeSinceLastAlert < 15*time.Second
}

// formatAnomalyMessage creates a mobile-friendly, formatted message
func (ts *TelegramService) formatAnomalyMessage(anomalies []*models.Anomaly, deviceID string) string {
	var sb strings.Builder

	// Header with alert emoji
	sb.WriteString("🚨 <b>AGRISENSE SENSOR ALERT</b> 🚨\n\n")

	// Device info
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", deviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", time.Now().Format(models.TimeLayout)))

	// Anomalies section
	sb.WriteString("⚠️ <b>Detected Issues:</b>\n")
	for i, anomaly := range anomalies {
		sb.WriteString(fmt.Sprintf("• <b>%s</b> (%s)\n", ts.getAnomalyTitle(anomaly), anomaly.Severity()))
		sb.WriteString(fmt.Sprintf("   └ %s\n", anomaly.Description))

		if i < len(anomalies)-1 {
			sb.WriteString("\n")
		}
	}

	// Footer with action recommendation
	sb.WriteString("\n💡 <b>Recommended Action:</b>\n")
	sb.WriteString("Please check the field conditions and the sensor installation.\n\n")

	// Status indicator
	sb.WriteString("🔴 <b>Status:</b> ATTENTION REQUIRED")

	return sb.String()
}

// getAnomalyTitle returns a user-friendly title for the anomaly
func (ts *TelegramService) getAnomalyTitle(anomaly *models.Anomaly) string {
	switch anomaly.Type {
	case models.TemperatureTooHigh:
		return "High Temperature Alert"
	case models.TemperatureTooLow:
		return "Low Temperature Alert"
	case models.HumidityTooHigh:
		return "High Humidity Alert"
	case models.HumidityTooLow:
		return "Low Humidity Alert"
	case models.PM25TooHigh:
		return "High Particulate Alert"
	case models.LightTooHigh:
		return "High Light Level Alert"
	default:
		return "Sensor Alert"
	}
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	msg := tgbotapi.NewMessage(ts.chatID, message)
	msg.ParseMode = "HTML"

	_, err := ts.bot.Send(msg)
	return err
}

// SendStartupMessage sends a message when the service starts
func (ts *TelegramService) SendStartupMessage() error {
	message := "🟢 <b>AgriSense Monitoring Service Started</b>\n\n" +
		"📡 Subscribed to the device report topic\n" +
		"🤖 Telegram notifications active\n" +
		"👀 Monitoring sensor readings for out-of-range values...\n\n" +
		"✅ System is ready and operational!"

	return ts.SendStatusMessage(message)
}

// SendSilenceAlert sends an alert when a device stops delivering messages
func (ts *TelegramService) SendSilenceAlert(deviceID string, lastSeen time.Time, silentFor time.Duration) error {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>DEVICE SILENT</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", deviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", lastSeen.Format(models.TimeLayout)))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Silent For:</b> %s\n\n", formatDuration(silentFor)))
	sb.WriteString("💡 <b>Action Required:</b>\n")
	sb.WriteString("Device may be offline or experiencing connectivity issues. Please check the device status.\n\n")
	sb.WriteString("🔴 <b>Status:</b> NO DATA")

	msg := tgbotapi.NewMessage(ts.chatID, sb.String())
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("error sending silence alert: %v", err)
	}

	ts.logger.Info("Sent silence alert",
		zap.String("device_id", deviceID),
		zap.Duration("silent_for", silentFor))

	return nil
}

// SendRecoveryAlert sends an alert when a silent device starts reporting again
func (ts *TelegramService) SendRecoveryAlert(deviceID string, downDuration time.Duration) error {
	var sb strings.Builder

	sb.WriteString("✅ <b>DEVICE RECOVERED</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", deviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", time.Now().Format(models.TimeLayout)))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downDuration)))
	sb.WriteString("🟢 <b>Status:</b> DEVICE ONLINE")

	msg := tgbotapi.NewMessage(ts.chatID, sb.String())
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := ts.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("error sending recovery alert: %v", err)
	}

	ts.logger.Info("Sent recovery alert",
		zap.String("device_id", deviceID),
		zap.Duration("down_duration", downDuration))

	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
