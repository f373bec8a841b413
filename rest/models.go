package rest

import (
	"agrisense/models"
)

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	CreatedAt string `json:"created_at"`
}

type DevicesResponse struct {
	Devices []models.Device `json:"devices"`
	Count   int             `json:"count"`
}

type LatestDataResponse struct {
	Data  []models.Reading `json:"data"`
	Count int              `json:"count"`
}

// HistoryResponse carries either raw series points or bucketed points,
// depending on how dense the window turned out to be.
type HistoryResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
	Count  int         `json:"count"`
	NoData bool        `json:"no_data"`
	Bucket int         `json:"bucket_seconds,omitempty"`
}

type SystemStatusResponse struct {
	System        string                  `json:"system"`
	Database      string                  `json:"database"`
	Timestamp     string                  `json:"timestamp"`
	TotalDevices  int64                   `json:"total_devices"`
	ActiveDevices int64                   `json:"active_devices"`
	TodayReadings int64                   `json:"today_readings"`
	Integrity     *models.FieldFractions  `json:"integrity"`
	Quality       *models.FieldFractions  `json:"quality"`
	MQTT          models.ConnectionStatus `json:"mqtt"`
}

type CSVExportResponse struct {
	CSVData  string `json:"csv_data"`
	RowCount int    `json:"row_count"`
	Filename string `json:"filename"`
}
