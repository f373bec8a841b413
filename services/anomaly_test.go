package services

import (
	"testing"

	"agrisense/config"
	"agrisense/models"
)

func testThresholds() *config.Config {
	return &config.Config{
		TemperatureMin: -20,
		TemperatureMax: 60,
		HumidityMin:    0,
		HumidityMax:    100,
		PM25Max:        1000,
		LightMax:       100000,
	}
}

func TestDetectAnomalies(t *testing.T) {
	detector := NewAnomalyDetector(testThresholds())

	cases := []struct {
		name    string
		reading *models.NormalizedReading
		want    []models.AnomalyType
	}{
		{
			name:    "all in range",
			reading: &models.NormalizedReading{Temperature: fptr(25), Humidity: fptr(60), PM25: fptr(30), LightLux: fptr(8000)},
			want:    nil,
		},
		{
			name:    "temperature too high",
			reading: &models.NormalizedReading{Temperature: fptr(65)},
			want:    []models.AnomalyType{models.TemperatureTooHigh},
		},
		{
			name:    "temperature too low",
			reading: &models.NormalizedReading{Temperature: fptr(-30)},
			want:    []models.AnomalyType{models.TemperatureTooLow},
		},
		{
			name:    "humidity too high",
			reading: &models.NormalizedReading{Humidity: fptr(105)},
			want:    []models.AnomalyType{models.HumidityTooHigh},
		},
		{
			name:    "pm25 too high",
			reading: &models.NormalizedReading{PM25: fptr(1500)},
			want:    []models.AnomalyType{models.PM25TooHigh},
		},
		{
			name:    "light too high",
			reading: &models.NormalizedReading{LightLux: fptr(150000)},
			want:    []models.AnomalyType{models.LightTooHigh},
		},
		{
			name:    "multiple anomalies",
			reading: &models.NormalizedReading{Temperature: fptr(70), PM25: fptr(1200)},
			want:    []models.AnomalyType{models.TemperatureTooHigh, models.PM25TooHigh},
		},
		{
			name:    "missing fields are skipped",
			reading: &models.NormalizedReading{},
			want:    nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			anomalies := detector.DetectAnomalies("dev-1", "2025-06-01 10:00:00", tc.reading)
			if len(anomalies) != len(tc.want) {
				t.Fatalf("expected %d anomalies, got %d: %+v", len(tc.want), len(anomalies), anomalies)
			}
			for i, a := range anomalies {
				if a.Type != tc.want[i] {
					t.Errorf("anomaly %d: got %s, want %s", i, a.Type, tc.want[i])
				}
				if a.DeviceID != "dev-1" {
					t.Errorf("anomaly must carry the device id, got %q", a.DeviceID)
				}
			}
		})
	}
}

func TestAnomalySeverity(t *testing.T) {
	cases := []struct {
		anomalyType models.AnomalyType
		want        string
	}{
		{models.PM25TooHigh, "critical"},
		{models.TemperatureTooHigh, "high"},
		{models.TemperatureTooLow, "high"},
		{models.HumidityTooHigh, "medium"},
		{models.LightTooHigh, "medium"},
	}

	for _, tc := range cases {
		a := &models.Anomaly{Type: tc.anomalyType}
		if got := a.Severity(); got != tc.want {
			t.Errorf("%s: got severity %q, want %q", tc.anomalyType, got, tc.want)
		}
	}
}
