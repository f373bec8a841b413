package services

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agrisense/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// StorageService owns the SQLite store for devices, readings and device
// status snapshots. The embedded *sql.DB hands each logical caller its own
// pooled connection, so the ingestion goroutine and concurrent query
// requests never share a handle.
type StorageService struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStorageService opens (creating if needed) the SQLite database at path
// and ensures the schema exists. Schema creation is idempotent.
func NewStorageService(path string, logger *zap.Logger) (*StorageService, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create data directory: %v", models.ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", models.ErrStorage, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", models.ErrStorage, err)
	}

	// SQLite allows one writer at a time; a busy timeout lets readers and
	// the single ingestion writer coexist without spurious SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set busy timeout: %v", models.ErrStorage, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable foreign keys: %v", models.ErrStorage, err)
	}

	s := &StorageService{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Storage initialized", zap.String("path", path))
	return s, nil
}

func (s *StorageService) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id TEXT PRIMARY KEY,
			device_name TEXT,
			device_type TEXT,
			client_id TEXT,
			username TEXT,
			service_id TEXT,
			location TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen TIMESTAMP,
			is_active BOOLEAN DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS sensor_data (
			data_id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			crop_area_id INTEGER DEFAULT 1,
			temperature REAL,
			humidity REAL,
			noise REAL,
			pm25 INTEGER,
			pm10 INTEGER,
			atmospheric_pressure REAL,
			light_lux INTEGER,
			soil_temperature REAL,
			soil_humidity REAL,
			soil_conductivity REAL,
			raw_json TEXT,
			FOREIGN KEY (device_id) REFERENCES devices (device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS device_status (
			status_id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			wifi_strength INTEGER,
			battery_level REAL,
			uptime_seconds INTEGER,
			last_error TEXT,
			is_online BOOLEAN,
			FOREIGN KEY (device_id) REFERENCES devices (device_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sensor_data_device_time
			ON sensor_data(device_id, timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: init schema: %v", models.ErrStorage, err)
		}
	}
	return nil
}

// Close releases the store handle.
func (s *StorageService) Close() error {
	return s.db.Close()
}

// Ping reports whether the store is still reachable. The ingestion
// coordinator uses it to tell a per-message failure from a store-wide one.
func (s *StorageService) Ping() error {
	return s.db.Ping()
}

// now formats the current wall-clock time in the canonical storage layout.
func now() string {
	return time.Now().Format(models.TimeLayout)
}

const touchDeviceSQL = `
	INSERT INTO devices (device_id, device_name, device_type, client_id, username, service_id, location, created_at, last_seen, is_active)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	ON CONFLICT(device_id) DO UPDATE SET last_seen = excluded.last_seen`

// RegisterOrTouchDevice inserts the device on first sight and updates
// last_seen otherwise. The upsert keeps concurrent calls from ever
// duplicating the row; created_at and metadata are written only once.
func (s *StorageService) RegisterOrTouchDevice(deviceID string, meta *models.DeviceMetadata) error {
	if meta == nil {
		meta = &models.DeviceMetadata{}
	}
	ts := now()
	_, err := s.db.Exec(touchDeviceSQL,
		deviceID, meta.DeviceName, meta.DeviceType, meta.ClientID,
		meta.Username, meta.ServiceID, meta.Location, ts, ts)
	if err != nil {
		return fmt.Errorf("%w: register device %s: %v", models.ErrStorage, deviceID, err)
	}
	return nil
}

// InsertReading stores one normalized reading and touches the owning
// device in the same transaction, so referential integrity cannot be
// violated by ingestion order. Returns the new reading id.
func (s *StorageService) InsertReading(deviceID string, r *models.NormalizedReading) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: begin insert: %v", models.ErrStorage, err)
	}
	defer tx.Rollback()

	ts := now()
	if _, err := tx.Exec(touchDeviceSQL,
		deviceID, nil, nil, nil, nil, nil, nil, ts, ts); err != nil {
		return 0, fmt.Errorf("%w: touch device %s: %v", models.ErrStorage, deviceID, err)
	}

	res, err := tx.Exec(`
		INSERT INTO sensor_data (
			device_id, timestamp, crop_area_id, temperature, humidity, noise,
			pm25, pm10, atmospheric_pressure, light_lux,
			soil_temperature, soil_humidity, soil_conductivity, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceID, ts, r.CropAreaID, r.Temperature, r.Humidity, r.Noise,
		r.PM25, r.PM10, r.AtmosphericPressure, r.LightLux,
		r.SoilTemperature, r.SoilHumidity, r.SoilConductivity, r.RawJSON)
	if err != nil {
		return 0, fmt.Errorf("%w: insert reading for %s: %v", models.ErrStorage, deviceID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: reading id: %v", models.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit reading for %s: %v", models.ErrStorage, deviceID, err)
	}
	return id, nil
}

const readingColumns = `data_id, device_id, timestamp, crop_area_id, temperature, humidity, noise,
	pm25, pm10, atmospheric_pressure, light_lux, soil_temperature, soil_humidity, soil_conductivity, raw_json`

func scanReading(rows *sql.Rows) (models.Reading, error) {
	var r models.Reading
	var deviceID sql.NullString
	err := rows.Scan(&r.DataID, &deviceID, &r.Timestamp, &r.CropAreaID,
		&r.Temperature, &r.Humidity, &r.Noise, &r.PM25, &r.PM10,
		&r.AtmosphericPressure, &r.LightLux, &r.SoilTemperature,
		&r.SoilHumidity, &r.SoilConductivity, &r.RawJSON)
	r.DeviceID = deviceID.String
	return r, err
}

func collectReadings(rows *sql.Rows) ([]models.Reading, error) {
	defer rows.Close()
	var readings []models.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan reading: %v", models.ErrStorage, err)
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate readings: %v", models.ErrStorage, err)
	}
	return readings, nil
}

// LatestReadings returns up to limit readings for one device, newest
// first. Non-positive limits are clamped to 1.
func (s *StorageService) LatestReadings(deviceID string, limit int) ([]models.Reading, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.Query(`
		SELECT `+readingColumns+`
		FROM sensor_data
		WHERE device_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: latest readings for %s: %v", models.ErrStorage, deviceID, err)
	}
	return collectReadings(rows)
}

// LatestReadingPerDevice returns the newest reading of each distinct
// device, newest overall first, bounded by limit.
func (s *StorageService) LatestReadingPerDevice(limit int) ([]models.Reading, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.Query(`
		SELECT `+readingColumns+`
		FROM sensor_data
		WHERE data_id IN (SELECT MAX(data_id) FROM sensor_data GROUP BY device_id)
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: latest reading per device: %v", models.ErrStorage, err)
	}
	return collectReadings(rows)
}

// ReadingsSince returns readings at or after start (canonical layout text)
// in ascending timestamp order. Empty deviceID means all devices; empty
// start means no lower bound.
func (s *StorageService) ReadingsSince(deviceID, start string) ([]models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM sensor_data WHERE 1=1`
	var args []interface{}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}
	if start != "" {
		query += " AND timestamp >= ?"
		args = append(args, start)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: readings since %q: %v", models.ErrStorage, start, err)
	}
	return collectReadings(rows)
}

// ReadingsBetween returns readings inside [start, end], newest first, for
// CSV export. Empty deviceID exports across all devices.
func (s *StorageService) ReadingsBetween(deviceID, start, end string) ([]models.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM sensor_data WHERE 1=1`
	var args []interface{}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}
	if start != "" {
		query += " AND timestamp >= ?"
		args = append(args, start)
	}
	query += " AND timestamp <= ? ORDER BY timestamp DESC"
	args = append(args, end)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: readings between: %v", models.ErrStorage, err)
	}
	return collectReadings(rows)
}

// LatestTimestamp returns the newest stored timestamp for a device, or nil
// when the device has no readings.
func (s *StorageService) LatestTimestamp(deviceID string) (*string, error) {
	var ts sql.NullString
	err := s.db.QueryRow(
		"SELECT MAX(timestamp) FROM sensor_data WHERE device_id = ?", deviceID).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("%w: latest timestamp for %s: %v", models.ErrStorage, deviceID, err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.String, nil
}

// DeviceStatistics summarizes the stored history of one device. A device
// with zero readings yields an explicit no-data result, not an error.
func (s *StorageService) DeviceStatistics(deviceID string) (*models.DeviceStats, error) {
	stats := &models.DeviceStats{DeviceID: deviceID}
	var first, last sql.NullString
	var avgTemp, avgHum, avgNoise, avgPM25, avgPM10, avgPressure, avgLight sql.NullFloat64

	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			MIN(timestamp),
			MAX(timestamp),
			AVG(temperature),
			AVG(humidity),
			AVG(noise),
			AVG(pm25),
			AVG(pm10),
			AVG(atmospheric_pressure),
			AVG(light_lux)
		FROM sensor_data
		WHERE device_id = ?`, deviceID).Scan(
		&stats.TotalRecords, &first, &last, &avgTemp, &avgHum,
		&avgNoise, &avgPM25, &avgPM10, &avgPressure, &avgLight)
	if err != nil {
		return nil, fmt.Errorf("%w: statistics for %s: %v", models.ErrStorage, deviceID, err)
	}

	stats.FirstRecord = nullString(first)
	stats.LastRecord = nullString(last)
	stats.AvgTemperature = nullFloat(avgTemp)
	stats.AvgHumidity = nullFloat(avgHum)
	stats.AvgNoise = nullFloat(avgNoise)
	stats.AvgPM25 = nullFloat(avgPM25)
	stats.AvgPM10 = nullFloat(avgPM10)
	stats.AvgPressure = nullFloat(avgPressure)
	stats.AvgLight = nullFloat(avgLight)
	return stats, nil
}

// ListDevices returns all devices with their reading counts and newest
// reading time, newest registrations first.
func (s *StorageService) ListDevices() ([]models.Device, error) {
	rows, err := s.db.Query(`
		SELECT d.device_id, d.device_name, d.device_type, d.client_id, d.username,
			d.service_id, d.location, d.created_at, d.last_seen, d.is_active,
			COUNT(sd.data_id) AS data_count,
			MAX(sd.timestamp) AS latest_data_time
		FROM devices d
		LEFT JOIN sensor_data sd ON d.device_id = sd.device_id
		GROUP BY d.device_id
		ORDER BY d.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", models.ErrStorage, err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		var lastSeen, latest sql.NullString
		if err := rows.Scan(&d.DeviceID, &d.DeviceName, &d.DeviceType, &d.ClientID,
			&d.Username, &d.ServiceID, &d.Location, &d.CreatedAt, &lastSeen,
			&d.IsActive, &d.DataCount, &latest); err != nil {
			return nil, fmt.Errorf("%w: scan device: %v", models.ErrStorage, err)
		}
		d.LastSeen = nullString(lastSeen)
		d.LatestDataTime = nullString(latest)
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate devices: %v", models.ErrStorage, err)
	}
	return devices, nil
}

// InsertDeviceStatus records one connection-health snapshot. Statuses have
// their own lifecycle and are never written on ordinary data messages.
func (s *StorageService) InsertDeviceStatus(st *models.DeviceStatus) error {
	ts := st.Timestamp
	if ts == "" {
		ts = now()
	}
	_, err := s.db.Exec(`
		INSERT INTO device_status (device_id, timestamp, wifi_strength, battery_level, uptime_seconds, last_error, is_online)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.DeviceID, ts, st.WifiStrength, st.BatteryLevel, st.UptimeSeconds, st.LastError, st.IsOnline)
	if err != nil {
		return fmt.Errorf("%w: insert device status for %s: %v", models.ErrStorage, st.DeviceID, err)
	}
	return nil
}

// SystemCounts returns store-wide totals for the dashboard status view.
func (s *StorageService) SystemCounts() (*models.SystemCounts, error) {
	counts := &models.SystemCounts{}
	var total, active sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*), SUM(CASE WHEN is_active = 1 THEN 1 ELSE 0 END)
		FROM devices`).Scan(&total, &active)
	if err != nil {
		return nil, fmt.Errorf("%w: device counts: %v", models.ErrStorage, err)
	}
	counts.TotalDevices = total.Int64
	counts.ActiveDevices = active.Int64

	y, m, d := time.Now().Date()
	todayStart := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM sensor_data WHERE timestamp >= ?",
		todayStart.Format(models.TimeLayout)).Scan(&counts.TodayReadings)
	if err != nil {
		return nil, fmt.Errorf("%w: today reading count: %v", models.ErrStorage, err)
	}
	return counts, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
