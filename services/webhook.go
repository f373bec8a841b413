package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agrisense/models"

	"go.uber.org/zap"
)

// WebhookAlertService forwards out-of-range alerts to an external HTTP
// endpoint, for integrations that cannot consume Telegram.
type WebhookAlertService struct {
	logger     *zap.Logger
	apiURL     string
	httpClient *http.Client
}

// WebhookAlertPayload represents the payload sent to the webhook endpoint
type WebhookAlertPayload struct {
	DeviceID  string            `json:"device_id"`
	Timestamp string            `json:"timestamp"`
	Severity  string            `json:"severity"`
	AlertType string            `json:"alert_type"`
	Anomalies []*models.Anomaly `json:"anomalies"`
}

// NewWebhookAlertService creates a new webhook alert service
func NewWebhookAlertService(logger *zap.Logger, apiURL string) *WebhookAlertService {
	return &WebhookAlertService{
		logger: logger,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendAlert posts the anomalies of one reading to the webhook endpoint
func (w *WebhookAlertService) SendAlert(anomalies []*models.Anomaly, deviceID string) error {
	if len(anomalies) == 0 {
		return nil
	}

	payload := WebhookAlertPayload{
		DeviceID:  deviceID,
		Timestamp: time.Now().Format(models.TimeLayout),
		Severity:  w.determineSeverity(anomalies),
		AlertType: "sensor_out_of_range",
		Anomalies: anomalies,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		w.logger.Error("Failed to marshal webhook alert payload",
			zap.Error(err),
			zap.String("device_id", deviceID),
		)
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/sensor-alert", w.apiURL)

	req, err := http.NewRequest("POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		w.logger.Error("Failed to create HTTP request",
			zap.Error(err),
			zap.String("url", endpoint),
		)
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "AgriSense-IoT-Service/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Error("Failed to send webhook alert",
			zap.Error(err),
			zap.String("device_id", deviceID),
			zap.String("url", endpoint),
		)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info("Webhook alert sent successfully",
			zap.String("device_id", deviceID),
			zap.Int("anomaly_count", len(anomalies)),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil
	}

	w.logger.Error("Webhook alert endpoint returned error",
		zap.String("device_id", deviceID),
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", resp.Status),
	)
	return fmt.Errorf("webhook alert endpoint error: %s", resp.Status)
}

// determineSeverity picks the highest severity among the anomalies
func (w *WebhookAlertService) determineSeverity(anomalies []*models.Anomaly) string {
	severity := "medium"
	for _, anomaly := range anomalies {
		switch anomaly.Severity() {
		case "critical":
			return "critical"
		case "high":
			severity = "high"
		}
	}
	return severity
}
