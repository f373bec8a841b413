package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// Storage
	DatabasePath string

	// MQTT ingestion channel
	MQTTBrokerHost string
	MQTTBrokerPort int
	DeviceID       string
	MQTTUsername   string
	MQTTPassword   string

	// HTTP query API
	HTTPPort string

	// Alerting (optional)
	TelegramBotToken string
	TelegramChatID   string
	WebhookAlertURL  string

	// Thresholds for out-of-range alerts
	TemperatureMin float64
	TemperatureMax float64
	HumidityMin    float64
	HumidityMax    float64
	PM25Max        float64
	LightMax       float64

	// Device silence monitoring
	DeviceSilenceTimeout int // seconds without a message before a device counts as offline
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		DatabasePath: getEnv("DATABASE_PATH", "data/agrisense.db"),

		MQTTBrokerHost: getEnv("MQTT_BROKER_HOST", "127.0.0.1"),
		MQTTBrokerPort: getEnvInt("MQTT_BROKER_PORT", 1883),
		DeviceID:       getEnv("DEVICE_ID", "SmartAgriculture_thermometer"),
		MQTTUsername:   getEnv("MQTT_USERNAME", "SmartAgriculture_thermometer"),
		MQTTPassword:   getEnv("MQTT_PASSWORD", ""),

		HTTPPort: getEnv("HTTP_PORT", "8080"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookAlertURL:  getEnv("WEBHOOK_ALERT_URL", ""),

		// Default thresholds - can be overridden by env vars
		TemperatureMin: getEnvFloat("TEMPERATURE_MIN", -20.0),
		TemperatureMax: getEnvFloat("TEMPERATURE_MAX", 60.0),
		HumidityMin:    getEnvFloat("HUMIDITY_MIN", 0.0),
		HumidityMax:    getEnvFloat("HUMIDITY_MAX", 100.0),
		PM25Max:        getEnvFloat("PM25_MAX", 1000.0),
		LightMax:       getEnvFloat("LIGHT_MAX", 100000.0),

		DeviceSilenceTimeout: getEnvInt("DEVICE_SILENCE_TIMEOUT", 120),
	}

	return config, nil
}

// ReportTopic returns the properties-report topic for the configured device.
func (c *Config) ReportTopic() string {
	return fmt.Sprintf("$oc/devices/%s/sys/properties/report", c.DeviceID)
}

// BrokerAddress returns host:port of the MQTT broker.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTTBrokerHost, c.MQTTBrokerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		// Simple conversion - in production you might want better error handling
		if f, err := parseFloat(value); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}

func parseFloat(s string) (float64, error) {
	// Simple float parsing
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
