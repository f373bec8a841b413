package services

import (
	"fmt"

	"agrisense/config"
	"agrisense/models"
)

type AnomalyDetector struct {
	config *config.Config
}

func NewAnomalyDetector(cfg *config.Config) *AnomalyDetector {
	return &AnomalyDetector{
		config: cfg,
	}
}

// DetectAnomalies analyzes a normalized reading and returns any detected
// out-of-range values. Fields the device did not report are skipped.
func (ad *AnomalyDetector) DetectAnomalies(deviceID, timestamp string, r *models.NormalizedReading) []*models.Anomaly {
	var anomalies []*models.Anomaly

	// Check temperature anomalies
	if r.Temperature != nil && *r.Temperature > ad.config.TemperatureMax {
		anomalies = append(anomalies, &models.Anomaly{
			Type:        models.TemperatureTooHigh,
			Value:       *r.Temperature,
			Threshold:   ad.config.TemperatureMax,
			DeviceID:    deviceID,
			Timestamp:   timestamp,
			Description: fmt.Sprintf("Temperature %.1f°C exceeds maximum threshold of %.1f°C", *r.Temperature, ad.config.TemperatureMax),
		})
	}

	if r.Temperature != nil && *r.Temperature < ad.config.TemperatureMin {
		anomalies = append(anomalies, &models.Anomaly{
			Type:        models.TemperatureTooLow,
			Value:       *r.Temperature,
			Threshold:   ad.config.TemperatureMin,
			DeviceID:    deviceID,
			Timestamp:   timestamp,
			Description: fmt.Sprintf("Temperature %.1f°C is below minimum threshold of %.1f°C", *r.Temperature, ad.config.TemperatureMin),
		})
	}

	// Check humidity anomalies
	if r.Humidity != nil && *r.Humidity > ad.config.HumidityMax {
		anomalies = append(anomalies, &models.Anomaly{
			Type:        models.HumidityTooHigh,
			Value:       *r.Humidity,
			Threshold:   ad.config.HumidityMax,
			DeviceID:    deviceID,
			Timestamp:   timestamp,
			Description: fmt.Sprintf("Humidity %.1f%% exceeds maximum threshold of %.1f%%", *r.Humidity, ad.config.HumidityMax),
		})
	}

	if r.Humidity != nil && *r.Humidity < ad.config.HumidityMin {
		anomalies = append(anomalies, &models.Anomaly{
			Type:        models.HumidityTooLow,
			Value:       *r.Humidity,
			Threshold:   ad.config.HumidityMin,
			DeviceID:    deviceID,
			Timestamp:   timestamp,
			Description: fmt.Sprintf("Humidity %.1f%% is below minimum threshold of %.1f%%", *r.Humidity, ad.config.HumidityMin),
		})
	}

	// Check particulate anomalies
	if r.PM25 != nil && *r.PM25 > ad.config.PM25Max {
		anomalies = append(anomalies, &models.Anomaly{
			Type:        models.PM25TooHigh,
			Value:       *r.PM25,
			Threshold:   ad.config.PM25Max,
			DeviceID:    deviceID,
			Timestamp:   timestamp,
			Description: fmt.Sprintf("PM2.5 level %.1f μg/m³ exceeds maximum threshold of %.1f μg/m³", *r.PM25, ad.config.PM25Max),
		})
	}

	// Check light anomalies
	if r.LightLux != nil && *r.LightLux > ad.config.LightMax {
		anomalies = append(anomalies, &models.Anomaly{
			Type:        models.LightTooHigh,
			Value:       *r.LightLux,
			Threshold:   ad.config.LightMax,
			DeviceID:    deviceID,
			Timestamp:   timestamp,
			Description: fmt.Sprintf("Light level %.0f lux exceeds maximum threshold of %.0f lux", *r.LightLux, ad.config.LightMax),
		})
	}

	return anomalies
}

// IsAnomalous returns true if any anomalies are detected
func (ad *AnomalyDetector) IsAnomalous(deviceID, timestamp string, r *models.NormalizedReading) bool {
	anomalies := ad.DetectAnomalies(deviceID, timestamp, r)
	return len(anomalies) > 0
}
