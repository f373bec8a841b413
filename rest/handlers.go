package rest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"agrisense/models"
	"agrisense/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Raw point count above which the history endpoint switches to bucketed
// aggregation for charting.
const maxRawChartPoints = 100

// GenerateTokenHandler issues a new API access token.
func (h *Handler) GenerateTokenHandler(c *fiber.Ctx) error {
	token, expiry := h.Tokens.Issue()

	return c.JSON(TokenResponse{
		Token:     token,
		ExpiresIn: int(time.Until(expiry).Seconds()),
		CreatedAt: time.Now().Format(models.TimeLayout),
	})
}

// GetDevicesHandler lists all devices with aggregate reading counts.
func (h *Handler) GetDevicesHandler(c *fiber.Ctx) error {
	devices, err := h.Storage.ListDevices()
	if err != nil {
		h.Logger.Error("Failed to list devices", zap.Error(err))
		return ReturnInternalError(c, "Failed to list devices")
	}
	if devices == nil {
		devices = []models.Device{}
	}

	return c.JSON(DevicesResponse{Devices: devices, Count: len(devices)})
}

// GetLatestDataHandler returns the newest readings, either for one device
// or one-per-device across the fleet.
func (h *Handler) GetLatestDataHandler(c *fiber.Ctx) error {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return ReturnBadRequest(c, "limit must be an integer")
		}
		limit = n
	}

	var data []models.Reading
	var err error
	if deviceID := c.Query("device_id"); deviceID != "" {
		data, err = h.Storage.LatestReadings(deviceID, limit)
	} else {
		data, err = h.Storage.LatestReadingPerDevice(limit)
	}
	if err != nil {
		h.Logger.Error("Failed to fetch latest data", zap.Error(err))
		return ReturnInternalError(c, "Failed to fetch latest data")
	}
	if data == nil {
		data = []models.Reading{}
	}

	return c.JSON(LatestDataResponse{Data: data, Count: len(data)})
}

// bucketSecondsFor picks the aggregation step for a window: 5 minutes up
// to 4 hours, 15 minutes up to a day, 2 hours beyond that.
func bucketSecondsFor(hours float64) int {
	switch {
	case hours <= 4:
		return 300
	case hours <= 24:
		return 900
	default:
		return 7200
	}
}

// GetHistoryHandler serves the chart series for one device over a trailing
// window. Dense windows are served bucketed.
func (h *Handler) GetHistoryHandler(c *fiber.Ctx) error {
	deviceID := c.Query("device_id", h.DefaultDeviceID)

	hours := 1.0
	if raw := c.Query("hours"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			hours = v
		}
	}

	series, err := h.Aggregates.HistorySeries(deviceID, hours)
	if err != nil {
		h.Logger.Error("History query failed",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return ReturnInternalError(c, "History query failed")
	}

	if len(series.Points) > maxRawChartPoints {
		bucket := bucketSecondsFor(hours)
		points, err := h.Aggregates.BucketedHistory(deviceID, hours, bucket)
		if err != nil {
			h.Logger.Error("Bucketed history query failed",
				zap.String("device_id", deviceID),
				zap.Error(err))
			return ReturnInternalError(c, "History query failed")
		}
		return c.JSON(HistoryResponse{
			Status: "success",
			Data:   points,
			Count:  len(points),
			Bucket: bucket,
		})
	}

	return c.JSON(HistoryResponse{
		Status: "success",
		Data:   series.Points,
		Count:  len(series.Points),
		NoData: series.NoData,
	})
}

// GetDeviceStatisticsHandler returns per-device summary statistics with
// every time field re-rendered in the canonical layout.
func (h *Handler) GetDeviceStatisticsHandler(c *fiber.Ctx) error {
	deviceID := c.Params("device_id")
	if deviceID == "" {
		return ReturnBadRequest(c, "device_id is required")
	}

	stats, err := h.Storage.DeviceStatistics(deviceID)
	if err != nil {
		h.Logger.Error("Failed to compute device statistics",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return ReturnInternalError(c, "Failed to compute device statistics")
	}

	for _, field := range []**string{&stats.FirstRecord, &stats.LastRecord} {
		if *field != nil {
			formatted := services.FormatStoredTime(**field)
			*field = &formatted
		}
	}

	return c.JSON(stats)
}

// GetSystemStatusHandler reports store totals, data integrity and quality
// scores, and ingestion channel health.
func (h *Handler) GetSystemStatusHandler(c *fiber.Ctx) error {
	counts, err := h.Storage.SystemCounts()
	if err != nil {
		h.Logger.Error("Failed to read system counts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"system": "error",
			"error":  "Failed to read system counts",
		})
	}

	integrity, err := h.Aggregates.SystemIntegrity()
	if err != nil {
		h.Logger.Error("Failed to compute integrity", zap.Error(err))
		return ReturnInternalError(c, "Failed to compute integrity")
	}

	quality, err := h.Aggregates.SystemQuality(24 * time.Hour)
	if err != nil {
		h.Logger.Error("Failed to compute quality", zap.Error(err))
		return ReturnInternalError(c, "Failed to compute quality")
	}

	return c.JSON(SystemStatusResponse{
		System:        "running",
		Database:      "connected",
		Timestamp:     time.Now().Format(models.TimeLayout),
		TotalDevices:  counts.TotalDevices,
		ActiveDevices: counts.ActiveDevices,
		TodayReadings: counts.TodayReadings,
		Integrity:     integrity,
		Quality:       quality,
		MQTT:          h.Ingest.ConnectionStatus(),
	})
}

// ExportCSVHandler exports raw reading rows for a device and time range.
// No aggregation is applied.
func (h *Handler) ExportCSVHandler(c *fiber.Ctx) error {
	deviceID := c.Query("device_id")
	startTime := c.Query("start_time")
	endTime := c.Query("end_time", time.Now().Format(models.TimeLayout))

	rows, err := h.Storage.ReadingsBetween(deviceID, startTime, endTime)
	if err != nil {
		h.Logger.Error("CSV export query failed", zap.Error(err))
		return ReturnInternalError(c, "CSV export failed")
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	writer.Write([]string{"timestamp", "device_id", "temperature_c", "humidity_pct",
		"noise_db", "pm25_ugm3", "pm10_ugm3", "pressure_hpa", "light_lux"})

	for _, r := range rows {
		writer.Write([]string{
			r.Timestamp,
			r.DeviceID,
			formatMeasurement(r.Temperature),
			formatMeasurement(r.Humidity),
			formatMeasurement(r.Noise),
			formatMeasurement(r.PM25),
			formatMeasurement(r.PM10),
			formatMeasurement(r.AtmosphericPressure),
			formatMeasurement(r.LightLux),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.Logger.Error("CSV encoding failed", zap.Error(err))
		return ReturnInternalError(c, "CSV export failed")
	}

	return c.JSON(CSVExportResponse{
		CSVData:  buf.String(),
		RowCount: len(rows),
		Filename: fmt.Sprintf("sensor_data_%s.csv", time.Now().Format("20060102_150405")),
	})
}

func formatMeasurement(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}
