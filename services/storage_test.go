package services

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"agrisense/models"

	"go.uber.org/zap"
)

func newTestStorage(t *testing.T) *StorageService {
	t.Helper()
	s, err := NewStorageService(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewStorageService failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fptr(v float64) *float64 { return &v }

// insertReadingAt writes a sensor_data row with an explicit timestamp so
// tests control ordering and window placement.
func insertReadingAt(t *testing.T, s *StorageService, deviceID, ts string, temp, hum *float64) {
	t.Helper()
	if err := s.RegisterOrTouchDevice(deviceID, nil); err != nil {
		t.Fatalf("RegisterOrTouchDevice failed: %v", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO sensor_data (device_id, timestamp, crop_area_id, temperature, humidity, raw_json)
		VALUES (?, ?, 1, ?, ?, '{}')`, deviceID, ts, temp, hum)
	if err != nil {
		t.Fatalf("insert test reading: %v", err)
	}
}

func TestRegisterOrTouchDeviceIsIdempotent(t *testing.T) {
	s := newTestStorage(t)

	name := "greenhouse-1"
	if err := s.RegisterOrTouchDevice("dev-1", &models.DeviceMetadata{DeviceName: &name}); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := s.RegisterOrTouchDevice("dev-1", nil); err != nil {
		t.Fatalf("second registration failed: %v", err)
	}

	devices, err := s.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if devices[0].DeviceID != "dev-1" {
		t.Errorf("unexpected device id %q", devices[0].DeviceID)
	}
	if devices[0].DeviceName == nil || *devices[0].DeviceName != "greenhouse-1" {
		t.Errorf("metadata from first registration must survive the touch: %v", devices[0].DeviceName)
	}
	if devices[0].LastSeen == nil {
		t.Error("last_seen must be set after touch")
	}
}

func TestInsertReadingRoundtrip(t *testing.T) {
	s := newTestStorage(t)

	raw := `{"services":[{"properties":{"temperature":21.5}}]}`
	reading := &models.NormalizedReading{
		CropAreaID:  2,
		Temperature: fptr(21.5),
		PM25:        fptr(30),
		RawJSON:     raw,
	}

	id, err := s.InsertReading("dev-1", reading)
	if err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}
	if id < 1 {
		t.Errorf("expected positive reading id, got %d", id)
	}

	rows, err := s.LatestReadings("dev-1", 5)
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 reading, got %d", len(rows))
	}

	got := rows[0]
	if got.CropAreaID != 2 {
		t.Errorf("expected crop area 2, got %d", got.CropAreaID)
	}
	if got.Temperature == nil || *got.Temperature != 21.5 {
		t.Errorf("unexpected temperature: %v", got.Temperature)
	}
	if got.Humidity != nil {
		t.Errorf("unreported humidity must stay NULL, got %v", *got.Humidity)
	}
	if got.RawJSON != raw {
		t.Errorf("raw json mismatch: %q", got.RawJSON)
	}

	// The reading transaction also registers the device.
	devices, err := s.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].DataCount != 1 {
		t.Errorf("expected 1 device with 1 reading, got %+v", devices)
	}
}

func TestLatestReadingsOrderAndLimit(t *testing.T) {
	s := newTestStorage(t)

	insertReadingAt(t, s, "dev-1", "2025-06-01 10:00:00", fptr(20), nil)
	insertReadingAt(t, s, "dev-1", "2025-06-01 12:00:00", fptr(22), nil)
	insertReadingAt(t, s, "dev-1", "2025-06-01 11:00:00", fptr(21), nil)

	rows, err := s.LatestReadings("dev-1", 2)
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(rows))
	}
	if rows[0].Timestamp != "2025-06-01 12:00:00" || rows[1].Timestamp != "2025-06-01 11:00:00" {
		t.Errorf("readings must come newest first, got %s then %s", rows[0].Timestamp, rows[1].Timestamp)
	}

	// A non-positive limit is clamped, not an error.
	rows, err = s.LatestReadings("dev-1", 0)
	if err != nil {
		t.Fatalf("LatestReadings with zero limit failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("clamped limit should yield 1 reading, got %d", len(rows))
	}
}

func TestLatestReadingPerDevice(t *testing.T) {
	s := newTestStorage(t)

	insertReadingAt(t, s, "dev-a", "2025-06-01 10:00:00", fptr(20), nil)
	insertReadingAt(t, s, "dev-a", "2025-06-01 11:00:00", fptr(21), nil)
	insertReadingAt(t, s, "dev-b", "2025-06-01 12:00:00", fptr(25), nil)

	rows, err := s.LatestReadingPerDevice(10)
	if err != nil {
		t.Fatalf("LatestReadingPerDevice failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one reading per device, got %d", len(rows))
	}
	if rows[0].DeviceID != "dev-b" {
		t.Errorf("newest overall must come first, got %s", rows[0].DeviceID)
	}
	if rows[1].DeviceID != "dev-a" || rows[1].Timestamp != "2025-06-01 11:00:00" {
		t.Errorf("dev-a must contribute only its newest reading, got %+v", rows[1])
	}
}

func TestLatestTimestamp(t *testing.T) {
	s := newTestStorage(t)

	ts, err := s.LatestTimestamp("dev-1")
	if err != nil {
		t.Fatalf("LatestTimestamp failed: %v", err)
	}
	if ts != nil {
		t.Errorf("expected nil for unknown device, got %q", *ts)
	}

	insertReadingAt(t, s, "dev-1", "2025-06-01 10:00:00", fptr(20), nil)
	insertReadingAt(t, s, "dev-1", "2025-06-01 14:30:00", fptr(23), nil)

	ts, err = s.LatestTimestamp("dev-1")
	if err != nil {
		t.Fatalf("LatestTimestamp failed: %v", err)
	}
	if ts == nil || *ts != "2025-06-01 14:30:00" {
		t.Errorf("unexpected latest timestamp: %v", ts)
	}
}

func TestDeviceStatisticsNoData(t *testing.T) {
	s := newTestStorage(t)

	stats, err := s.DeviceStatistics("ghost")
	if err != nil {
		t.Fatalf("DeviceStatistics failed: %v", err)
	}
	if stats.TotalRecords != 0 {
		t.Errorf("expected 0 records, got %d", stats.TotalRecords)
	}
	if stats.FirstRecord != nil || stats.LastRecord != nil || stats.AvgTemperature != nil {
		t.Errorf("no-data statistics must be nil, got %+v", stats)
	}
}

func TestDeviceStatistics(t *testing.T) {
	s := newTestStorage(t)

	insertReadingAt(t, s, "dev-1", "2025-06-01 10:00:00", fptr(20), fptr(50))
	insertReadingAt(t, s, "dev-1", "2025-06-01 11:00:00", fptr(24), nil)

	stats, err := s.DeviceStatistics("dev-1")
	if err != nil {
		t.Fatalf("DeviceStatistics failed: %v", err)
	}
	if stats.TotalRecords != 2 {
		t.Errorf("expected 2 records, got %d", stats.TotalRecords)
	}
	if stats.FirstRecord == nil || *stats.FirstRecord != "2025-06-01 10:00:00" {
		t.Errorf("unexpected first record: %v", stats.FirstRecord)
	}
	if stats.AvgTemperature == nil || *stats.AvgTemperature != 22 {
		t.Errorf("unexpected average temperature: %v", stats.AvgTemperature)
	}
	// SQL AVG ignores NULLs, so humidity averages over the single sample.
	if stats.AvgHumidity == nil || *stats.AvgHumidity != 50 {
		t.Errorf("unexpected average humidity: %v", stats.AvgHumidity)
	}
}

func TestInsertDeviceStatus(t *testing.T) {
	s := newTestStorage(t)

	if err := s.RegisterOrTouchDevice("dev-1", nil); err != nil {
		t.Fatalf("RegisterOrTouchDevice failed: %v", err)
	}

	lastError := "connection reset"
	err := s.InsertDeviceStatus(&models.DeviceStatus{
		DeviceID:  "dev-1",
		LastError: &lastError,
		IsOnline:  false,
	})
	if err != nil {
		t.Fatalf("InsertDeviceStatus failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM device_status WHERE device_id = 'dev-1'").Scan(&count); err != nil {
		t.Fatalf("count statuses: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 status row, got %d", count)
	}
}

func TestSystemCounts(t *testing.T) {
	s := newTestStorage(t)

	counts, err := s.SystemCounts()
	if err != nil {
		t.Fatalf("SystemCounts failed: %v", err)
	}
	if counts.TotalDevices != 0 || counts.TodayReadings != 0 {
		t.Errorf("empty store must count zero, got %+v", counts)
	}

	today := time.Now().Format(models.TimeLayout)
	insertReadingAt(t, s, "dev-1", today, fptr(20), nil)
	insertReadingAt(t, s, "dev-2", "2020-01-01 00:00:00", fptr(20), nil)

	counts, err = s.SystemCounts()
	if err != nil {
		t.Fatalf("SystemCounts failed: %v", err)
	}
	if counts.TotalDevices != 2 {
		t.Errorf("expected 2 devices, got %d", counts.TotalDevices)
	}
	if counts.ActiveDevices != 2 {
		t.Errorf("expected 2 active devices, got %d", counts.ActiveDevices)
	}
	if counts.TodayReadings != 1 {
		t.Errorf("only today's readings count, got %d", counts.TodayReadings)
	}
}

func TestStorageErrorsAreSentinelWrapped(t *testing.T) {
	s := newTestStorage(t)
	s.db.Close()

	_, err := s.LatestReadings("dev-1", 1)
	if !errors.Is(err, models.ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
}
